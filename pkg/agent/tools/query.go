package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/malbeclabs/funnel-agent/pkg/agent/react"
	"github.com/malbeclabs/funnel-agent/pkg/olap"
)

// QueryToolConfig configures a QueryToolClient.
type QueryToolConfig struct {
	Logger *slog.Logger
	DB     olap.DB
	Rules  LintRules
}

func (cfg *QueryToolConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("database is required")
	}
	return nil
}

// QueryToolClient serves sql_db_query_checker and sql_db_query.
type QueryToolClient struct {
	log   *slog.Logger
	cfg   *QueryToolConfig
	db    olap.DB
	tools []react.Tool
}

var _ react.ToolClient = (*QueryToolClient)(nil)

func NewQueryToolClient(cfg *QueryToolConfig) (*QueryToolClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate query tool config: %w", err)
	}

	schema, err := inputSchema[QueryInput]()
	if err != nil {
		return nil, err
	}

	return &QueryToolClient{
		log: cfg.Logger,
		cfg: cfg,
		db:  cfg.DB,
		tools: []react.Tool{
			{
				Name: QueryCheckerToolName,
				Description: "Use this tool to double check if your query is correct before executing it. " +
					"Always use this tool before executing a query with " + QueryToolName + "!",
				InputSchema: schema,
			},
			{
				Name: QueryToolName,
				Description: "Input to this tool is a detailed and correct SQL query, output is a result from the database. " +
					"If the query is not correct, an error message will be returned. " +
					"If an error is returned, rewrite the query, check the query, and try again. " +
					"If you encounter an issue with Unknown column 'xxxx' in 'field list', use " + SchemaToolName + " to query the correct table fields.",
				InputSchema: schema,
			},
		},
	}, nil
}

func (c *QueryToolClient) ListTools(_ context.Context) ([]react.Tool, error) {
	return c.tools, nil
}

func (c *QueryToolClient) CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	if name != QueryCheckerToolName && name != QueryToolName {
		return toolError("unknown tool: %s", name)
	}

	query, ok := stringArg(args, "query")
	if !ok || strings.TrimSpace(query) == "" {
		return toolError("query parameter is required and must be a non-empty string")
	}

	if name == QueryCheckerToolName {
		return c.check(ctx, query)
	}
	return c.run(ctx, query)
}

// check lints the query and then asks the engine to plan it without running
// it.
func (c *QueryToolClient) check(ctx context.Context, query string) (string, bool, error) {
	c.log.Debug("tools: checking query", "sql", query)

	if problems := Lint(query, c.cfg.Rules); len(problems) > 0 {
		return "Query check failed:\n- " + strings.Join(problems, "\n- "), true, nil
	}

	plan, err := c.db.Explain(ctx, query)
	if err != nil {
		return c.dbError(err)
	}
	out := "The query is valid."
	if plan != "" {
		out += "\n\nExecution plan:\n" + plan
	}
	return out, false, nil
}

func (c *QueryToolClient) run(ctx context.Context, query string) (string, bool, error) {
	c.log.Debug("tools: executing query", "sql", query)

	res, err := c.db.Query(ctx, query)
	if err != nil {
		return c.dbError(err)
	}
	c.log.Debug("tools: query returned", "rows", res.Count(), "columns", len(res.Columns))
	return formatResult(res), false, nil
}

func (c *QueryToolClient) dbError(err error) (string, bool, error) {
	if olap.IsQueryError(err) {
		c.log.Info("tools: query rejected", "error", err)
		return "Error: " + err.Error(), true, nil
	}
	return "", true, fmt.Errorf("database request failed: %w", err)
}
