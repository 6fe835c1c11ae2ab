// Package tools exposes an olap.DB to the agent loop as the four sql_db_*
// tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/malbeclabs/funnel-agent/pkg/olap"
)

const (
	ListTablesToolName   = "sql_db_list_tables"
	SchemaToolName       = "sql_db_schema"
	QueryCheckerToolName = "sql_db_query_checker"
	QueryToolName        = "sql_db_query"
)

// NewToolkit returns the four tools over db behind one client.
func NewToolkit(ctx context.Context, log *slog.Logger, db olap.DB, rules LintRules) (*MultiToolClient, error) {
	schemaTools, err := NewSchemaToolClient(&SchemaToolConfig{Logger: log, DB: db})
	if err != nil {
		return nil, err
	}
	queryTools, err := NewQueryToolClient(&QueryToolConfig{Logger: log, DB: db, Rules: rules})
	if err != nil {
		return nil, err
	}
	return NewMultiToolClient(ctx, schemaTools, queryTools)
}

// ListTablesInput is the input of sql_db_list_tables.
type ListTablesInput struct{}

// SchemaInput is the input of sql_db_schema.
type SchemaInput struct {
	TableNames string `json:"table_names" jsonschema:"A comma-separated list of the table names for which to return the schema. Example input: 'table1, table2, table3'"`
}

// QueryInput is the input of sql_db_query and sql_db_query_checker.
type QueryInput struct {
	Query string `json:"query" jsonschema:"A detailed and correct SQL query."`
}

// inputSchema derives the JSON schema of T as the generic map the agent loop
// hands to LLM providers.
func inputSchema[T any]() (map[string]any, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create input schema: %w", err)
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input schema: %w", err)
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out, nil
}

// stringArg returns a required string argument.
func stringArg(args map[string]any, name string) (string, bool) {
	v, ok := args[name].(string)
	return v, ok
}

// toolError formats a failure the model is expected to recover from.
func toolError(format string, args ...any) (string, bool, error) {
	return "Error: " + fmt.Sprintf(format, args...), true, nil
}
