package tools

import (
	"context"
	"fmt"

	"github.com/malbeclabs/funnel-agent/pkg/agent/react"
)

// MultiToolClient presents several tool clients to the agent as one. Tools
// are listed in the order the clients were given.
type MultiToolClient struct {
	catalog []react.Tool
	owners  map[string]react.ToolClient
}

var _ react.ToolClient = (*MultiToolClient)(nil)

// NewMultiToolClient fails when two clients expose the same tool name.
func NewMultiToolClient(ctx context.Context, clients ...react.ToolClient) (*MultiToolClient, error) {
	m := &MultiToolClient{owners: map[string]react.ToolClient{}}
	for i, client := range clients {
		listed, err := client.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list tools of client %d: %w", i, err)
		}
		if err := m.register(client, listed); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MultiToolClient) register(client react.ToolClient, listed []react.Tool) error {
	for _, tool := range listed {
		if _, taken := m.owners[tool.Name]; taken {
			return fmt.Errorf("duplicate tool name %q: tool exists in multiple clients", tool.Name)
		}
		m.owners[tool.Name] = client
		m.catalog = append(m.catalog, tool)
	}
	return nil
}

func (m *MultiToolClient) ListTools(context.Context) ([]react.Tool, error) {
	return m.catalog, nil
}

// CallToolText dispatches to the client owning name. A name no client owns is
// handed back to the model as a tool error so it can pick a listed tool.
func (m *MultiToolClient) CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	owner, ok := m.owners[name]
	if !ok {
		return toolError("unknown tool: %s", name)
	}
	return owner.CallToolText(ctx, name, args)
}
