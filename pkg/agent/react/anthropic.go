package react

import (
	"context"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
)

// AnthropicAgent implements LLMClient over the Anthropic Messages API.
type AnthropicAgent struct {
	client          anthropic.Client
	model           anthropic.Model
	maxOutputTokens int64
	system          []anthropic.TextBlockParam
}

func NewAnthropicAgent(client anthropic.Client, model anthropic.Model, maxOutputTokens int64, system string) LLMClient {
	a := &AnthropicAgent{
		client:          client,
		model:           model,
		maxOutputTokens: maxOutputTokens,
	}
	if system != "" {
		// The system message never changes within a session; cache it.
		a.system = []anthropic.TextBlockParam{{
			Text:         system,
			CacheControl: anthropic.NewCacheControlEphemeralParam(),
		}}
	}
	return a
}

func (a *AnthropicAgent) Call(ctx context.Context, messages []Message, tools []Tool) (Response, error) {
	params, err := a.buildParams(messages, tools)
	if err != nil {
		return nil, err
	}
	reply, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get response: %w", err)
	}
	return anthropicResponse{resp: reply}, nil
}

func (a *AnthropicAgent) buildParams(messages []Message, tools []Tool) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:       a.model,
		MaxTokens:   a.maxOutputTokens,
		System:      a.system,
		Messages:    make([]anthropic.MessageParam, 0, len(messages)),
		Temperature: anthropic.Float(0),
	}
	for _, msg := range messages {
		p, ok := msg.ToParam().(anthropic.MessageParam)
		if !ok {
			return params, fmt.Errorf("expected anthropic.MessageParam, got %T", msg.ToParam())
		}
		params.Messages = append(params.Messages, p)
	}
	for _, t := range tools {
		params.Tools = append(params.Tools, anthropicTool(t))
	}
	return params, nil
}

// ConvertToolResults packs every result into one user message, as the API
// requires all results of a turn to arrive together.
func (a *AnthropicAgent) ConvertToolResults(_ []ToolUse, results []ToolResult) ([]Message, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, len(results))
	for i, r := range results {
		blocks[i] = anthropic.NewToolResultBlock(r.ID, r.Content, r.IsError)
	}
	return []Message{AnthropicMessage{Msg: anthropic.NewUserMessage(blocks...)}}, nil
}

func (a *AnthropicAgent) CreateUserMessage(content string) Message {
	return AnthropicMessage{Msg: anthropic.NewUserMessage(anthropic.NewTextBlock(content))}
}

type AnthropicMessage struct {
	Msg anthropic.MessageParam
}

func (m AnthropicMessage) ToParam() any { return m.Msg }

type anthropicResponse struct {
	resp *anthropic.Message
}

func (r anthropicResponse) Content() []ContentBlock {
	out := make([]ContentBlock, 0, len(r.resp.Content))
	for _, blk := range r.resp.Content {
		out = append(out, anthropicBlock{blk})
	}
	return out
}

func (r anthropicResponse) ToMessage() Message {
	return AnthropicMessage{Msg: r.resp.ToParam()}
}

type anthropicBlock struct {
	u anthropic.ContentBlockUnion
}

func (b anthropicBlock) AsText() (string, bool) {
	if b.u.Type != "text" || b.u.Text == "" {
		return "", false
	}
	return b.u.Text, true
}

func (b anthropicBlock) AsToolUse() (string, string, []byte, bool) {
	if b.u.Type != "tool_use" || b.u.ID == "" || b.u.Name == "" {
		return "", "", nil, false
	}
	return b.u.ID, b.u.Name, b.u.Input, true
}

// Raw reports blocks the loop does not act on. Thinking is never shown.
func (b anthropicBlock) Raw() string {
	switch b.u.Type {
	case "text", "tool_use", "thinking", "redacted_thinking":
		return ""
	default:
		return fmt.Sprintf("[%s] %s", b.u.Type, b.u.RawJSON())
	}
}

func anthropicTool(t Tool) anthropic.ToolUnionParam {
	props, _ := t.InputSchema["properties"].(map[string]any)
	var required []string
	switch r := t.InputSchema["required"].(type) {
	case []string:
		required = r
	case []any:
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	return anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
		Name:        t.Name,
		Description: anthropic.String(t.Description),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: props,
			Required:   required,
		},
	}}
}
