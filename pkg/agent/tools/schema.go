package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/malbeclabs/funnel-agent/pkg/agent/react"
	"github.com/malbeclabs/funnel-agent/pkg/olap"
)

const (
	defaultSchemaCacheTTL = 10 * time.Minute
	defaultSampleRows     = 3

	tablesCacheKey = "\x00tables"
)

// SchemaToolConfig configures a SchemaToolClient.
type SchemaToolConfig struct {
	Logger *slog.Logger
	DB     olap.DB
	// CacheTTL bounds how long table lists and schemas are reused.
	CacheTTL time.Duration
	// SampleRows is the number of example rows appended to each schema.
	// Zero means the default; a negative value appends none.
	SampleRows int
}

func (cfg *SchemaToolConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("database is required")
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultSchemaCacheTTL
	}
	if cfg.SampleRows == 0 {
		cfg.SampleRows = defaultSampleRows
	}
	return nil
}

// SchemaToolClient serves sql_db_list_tables and sql_db_schema.
type SchemaToolClient struct {
	log   *slog.Logger
	cfg   *SchemaToolConfig
	db    olap.DB
	cache *ttlcache.Cache[string, string]
	tools []react.Tool
}

var _ react.ToolClient = (*SchemaToolClient)(nil)

func NewSchemaToolClient(cfg *SchemaToolConfig) (*SchemaToolClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate schema tool config: %w", err)
	}

	listSchema, err := inputSchema[ListTablesInput]()
	if err != nil {
		return nil, err
	}
	schemaSchema, err := inputSchema[SchemaInput]()
	if err != nil {
		return nil, err
	}

	return &SchemaToolClient{
		log: cfg.Logger,
		cfg: cfg,
		db:  cfg.DB,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, string](cfg.CacheTTL),
		),
		tools: []react.Tool{
			{
				Name:        ListTablesToolName,
				Description: "Input is an empty string, output is a comma-separated list of tables in the database.",
				InputSchema: listSchema,
			},
			{
				Name: SchemaToolName,
				Description: "Input to this tool is a comma-separated list of tables, output is the schema and sample rows for those tables. " +
					"Be sure that the tables actually exist by calling " + ListTablesToolName + " first! Example Input: table1, table2, table3",
				InputSchema: schemaSchema,
			},
		},
	}, nil
}

func (c *SchemaToolClient) ListTools(_ context.Context) ([]react.Tool, error) {
	return c.tools, nil
}

func (c *SchemaToolClient) CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	switch name {
	case ListTablesToolName:
		tables, err := c.tables(ctx)
		if err != nil {
			return c.dbError(err)
		}
		return strings.Join(tables, ", "), false, nil

	case SchemaToolName:
		raw, ok := stringArg(args, "table_names")
		if !ok {
			return toolError("table_names parameter is required and must be a string")
		}
		return c.describe(ctx, raw)

	default:
		return toolError("unknown tool: %s", name)
	}
}

// tables returns the cached table list, refreshing it from the database when
// it has expired.
func (c *SchemaToolClient) tables(ctx context.Context) ([]string, error) {
	if item := c.cache.Get(tablesCacheKey); item != nil {
		return strings.Split(item.Value(), "\x00"), nil
	}
	tables, err := c.db.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	if len(tables) > 0 {
		c.cache.Set(tablesCacheKey, strings.Join(tables, "\x00"), ttlcache.DefaultTTL)
	}
	return tables, nil
}

func (c *SchemaToolClient) describe(ctx context.Context, raw string) (string, bool, error) {
	var names []string
	for _, n := range strings.Split(raw, ",") {
		n = strings.Trim(strings.TrimSpace(n), "`\"'")
		if n != "" && !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return toolError("table_names must name at least one table")
	}

	known, err := c.tables(ctx)
	if err != nil {
		return c.dbError(err)
	}
	var missing []string
	for _, n := range names {
		if !slices.Contains(known, n) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return toolError("table_names {%s} not found in database", strings.Join(missing, ", "))
	}

	blocks := make([]string, 0, len(names))
	for _, n := range names {
		if item := c.cache.Get(n); item != nil {
			blocks = append(blocks, item.Value())
			continue
		}
		block, err := c.describeTable(ctx, n)
		if err != nil {
			return c.dbError(err)
		}
		c.cache.Set(n, block, ttlcache.DefaultTTL)
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n\n"), false, nil
}

func (c *SchemaToolClient) describeTable(ctx context.Context, table string) (string, error) {
	c.log.Debug("tools: describing table", "table", table)

	schema, err := c.db.TableSchema(ctx, table)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE %s (\n", table)
	for i, col := range schema.Columns {
		fmt.Fprintf(&sb, "\t%s %s", col.Name, col.Type)
		if col.Kind != "" {
			fmt.Fprintf(&sb, " /* %s */", col.Kind)
		}
		if i < len(schema.Columns)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(")")

	if c.cfg.SampleRows < 0 {
		return sb.String(), nil
	}

	sample, err := c.db.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", table, c.cfg.SampleRows))
	switch {
	case olap.IsQueryError(err):
		c.log.Warn("tools: failed to fetch sample rows", "table", table, "error", err)
		return sb.String(), nil
	case err != nil:
		return "", err
	}

	fmt.Fprintf(&sb, "\n\n/*\n%d rows from %s table:\n", c.cfg.SampleRows, table)
	sb.WriteString(strings.Join(sample.Columns, "\t"))
	for _, row := range sample.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatValue(v)
		}
		sb.WriteString("\n")
		sb.WriteString(strings.Join(cells, "\t"))
	}
	sb.WriteString("\n*/")
	return sb.String(), nil
}

// dbError turns a query-level failure into a tool error the model can act on
// and passes anything else through as fatal.
func (c *SchemaToolClient) dbError(err error) (string, bool, error) {
	if olap.IsQueryError(err) {
		return "Error: " + err.Error(), true, nil
	}
	return "", true, fmt.Errorf("database request failed: %w", err)
}
