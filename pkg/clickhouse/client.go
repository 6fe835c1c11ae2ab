package clickhouse

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/malbeclabs/funnel-agent/pkg/olap"
)

// Dialect is the dialect name the agent prompt is formatted with.
const Dialect = "ClickHouse SQL"

// Config is the configuration for a ClickHouse client.
type Config struct {
	Logger      *slog.Logger
	Addr        string
	Database    string
	Username    string
	Password    string
	Secure      bool
	DialTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Addr == "" {
		return errors.New("addr is required")
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return nil
}

// Client implements olap.DB against ClickHouse.
type Client struct {
	log  *slog.Logger
	cfg  *Config
	conn driver.Conn
}

var _ olap.DB = (*Client)(nil)

// NewClient opens and pings a ClickHouse connection.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.Secure {
		options.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	cfg.Logger.Info("clickhouse client initialized", "addr", cfg.Addr, "database", cfg.Database)

	return &Client{
		log:  cfg.Logger,
		cfg:  cfg,
		conn: conn,
	}, nil
}

func (c *Client) Dialect() string  { return Dialect }
func (c *Client) Database() string { return c.cfg.Database }
func (c *Client) Close() error     { return c.conn.Close() }

// Conn exposes the underlying driver connection for fixtures and migrations.
func (c *Client) Conn() driver.Conn { return c.conn }

func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	res, err := c.query(ctx, "SELECT name FROM system.tables WHERE database = ? ORDER BY name", c.cfg.Database)
	if err != nil {
		return nil, err
	}
	tables := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		tables = append(tables, fmt.Sprint(row[0]))
	}
	return tables, nil
}

func (c *Client) TableSchema(ctx context.Context, table string) (*olap.TableSchema, error) {
	res, err := c.query(ctx, `
		SELECT name, type, comment
		FROM system.columns
		WHERE database = ? AND table = ?
		ORDER BY position`, c.cfg.Database, table)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, olap.NewQueryError("", 60, "table %s.%s does not exist", c.cfg.Database, table)
	}

	schema := &olap.TableSchema{Name: table}
	for _, row := range res.Rows {
		schema.Columns = append(schema.Columns, olap.Column{
			Name: fmt.Sprint(row[0]),
			Type: fmt.Sprint(row[1]),
			Kind: fmt.Sprint(row[2]),
		})
	}
	return schema, nil
}

func (c *Client) Explain(ctx context.Context, query string) (string, error) {
	res, err := c.readonly(ctx, "EXPLAIN "+trimQuery(query), query)
	if err != nil {
		return "", err
	}
	lines := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) > 0 {
			lines = append(lines, fmt.Sprint(row[0]))
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Client) Query(ctx context.Context, query string) (*olap.Result, error) {
	return c.readonly(ctx, trimQuery(query), query)
}

// readonly runs sql with writes disabled. Engine exceptions become olap.QueryError.
func (c *Client) readonly(ctx context.Context, sql, original string) (*olap.Result, error) {
	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"readonly": 2,
	}))
	res, err := c.query(ctx, sql)
	if err != nil {
		var ex *clickhouse.Exception
		if errors.As(err, &ex) {
			return nil, olap.NewQueryError(original, int(ex.Code), "%s", ex.Message)
		}
		return nil, err
	}
	return res, nil
}

func (c *Client) query(ctx context.Context, sql string, args ...any) (*olap.Result, error) {
	c.log.Debug("clickhouse: executing query", "sql", sql)

	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	colTypes := rows.ColumnTypes()
	res := &olap.Result{
		Columns:     rows.Columns(),
		ColumnTypes: make([]string, len(colTypes)),
	}
	for i, ct := range colTypes {
		res.ColumnTypes[i] = ct.DatabaseTypeName()
	}

	for rows.Next() {
		dest := make([]any, len(colTypes))
		for i, ct := range colTypes {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make([]any, len(dest))
		for i, d := range dest {
			row[i] = reflect.ValueOf(d).Elem().Interface()
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return res, nil
}

func trimQuery(q string) string {
	return strings.TrimSuffix(strings.TrimSpace(q), ";")
}
