package pinot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/malbeclabs/funnel-agent/pkg/olap"
	pinot "github.com/startreedata/pinot-client-go/pinot"
)

const (
	// Dialect is the dialect name the agent prompt is formatted with.
	Dialect = "Apache Pinot MYSQL_ANSI dialect"

	defaultHTTPTimeout = 60 * time.Second
	defaultPingTries   = 3
)

// Config is the configuration for a Pinot client.
type Config struct {
	Logger        *slog.Logger
	BrokerURL     string
	ControllerURL string
	Database      string
	Username      string
	Password      string
	Token         string
	HTTPClient    *http.Client
	PingTries     uint
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	if cfg.ControllerURL == "" {
		return errors.New("controller url is required")
	}
	if cfg.Token != "" && cfg.Username != "" {
		return errors.New("token and username are mutually exclusive")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if cfg.PingTries == 0 {
		cfg.PingTries = defaultPingTries
	}
	cfg.BrokerURL = strings.TrimRight(cfg.BrokerURL, "/")
	cfg.ControllerURL = strings.TrimRight(cfg.ControllerURL, "/")
	return nil
}

// headers returns the auth and database headers sent to both broker and controller.
func (cfg *Config) headers() map[string]string {
	h := map[string]string{}
	switch {
	case cfg.Token != "":
		h["Authorization"] = "Bearer " + cfg.Token
	case cfg.Username != "":
		creds := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		h["Authorization"] = "Basic " + creds
	}
	if cfg.Database != "" {
		h["database"] = cfg.Database
	}
	return h
}

// Client implements olap.DB against a Pinot broker and controller.
type Client struct {
	log    *slog.Logger
	cfg    *Config
	broker *pinot.Connection
}

var _ olap.DB = (*Client)(nil)

// NewClient creates a Pinot client and checks that the controller is reachable.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	broker, err := pinot.NewWithConfigAndClient(&pinot.ClientConfig{
		BrokerList:      []string{cfg.BrokerURL},
		ExtraHTTPHeader: cfg.headers(),
	}, cfg.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create pinot broker connection: %w", err)
	}

	c := &Client{
		log:    cfg.Logger,
		cfg:    cfg,
		broker: broker,
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		_, err := c.ListTables(ctx)
		if olap.IsQueryError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(cfg.PingTries))
	if err != nil {
		return nil, fmt.Errorf("failed to reach pinot controller: %w", err)
	}

	c.log.Info("pinot client initialized", "broker", cfg.BrokerURL, "controller", cfg.ControllerURL, "database", cfg.Database)
	return c, nil
}

func (c *Client) Dialect() string  { return Dialect }
func (c *Client) Database() string { return c.cfg.Database }
func (c *Client) Close() error     { return nil }

// ListTables lists the tables registered with the controller.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	var resp struct {
		Tables []string `json:"tables"`
	}
	if err := c.controllerGet(ctx, "/tables", &resp); err != nil {
		return nil, err
	}
	sort.Strings(resp.Tables)
	return resp.Tables, nil
}

// TableSchema returns the controller's schema for table. Dimension, metric
// and dateTime field specs are flattened into columns in that order.
func (c *Client) TableSchema(ctx context.Context, table string) (*olap.TableSchema, error) {
	var resp schemaResponse
	if err := c.controllerGet(ctx, "/tables/"+url.PathEscape(table)+"/schema", &resp); err != nil {
		return nil, err
	}

	schema := &olap.TableSchema{Name: table}
	appendSpecs := func(specs []fieldSpec, kind string) {
		for _, s := range specs {
			typ := s.DataType
			if s.SingleValueField != nil && !*s.SingleValueField {
				typ += "[]"
			}
			schema.Columns = append(schema.Columns, olap.Column{Name: s.Name, Type: typ, Kind: kind})
		}
	}
	appendSpecs(resp.DimensionFieldSpecs, "dimension")
	appendSpecs(resp.MetricFieldSpecs, "metric")
	appendSpecs(resp.DateTimeFieldSpecs, "dateTime")
	return schema, nil
}

// Explain returns the broker's plan for query without executing it.
func (c *Client) Explain(ctx context.Context, query string) (string, error) {
	res, err := c.execute(ctx, "EXPLAIN PLAN FOR "+strings.TrimSuffix(strings.TrimSpace(query), ";"), query)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, row := range res.Rows {
		if len(row) > 0 {
			sb.WriteString(fmt.Sprint(row[0]))
			sb.WriteString("\n")
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// Query runs query on the broker.
func (c *Client) Query(ctx context.Context, query string) (*olap.Result, error) {
	return c.execute(ctx, strings.TrimSuffix(strings.TrimSpace(query), ";"), query)
}

func (c *Client) execute(ctx context.Context, sql, original string) (*olap.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.log.Debug("pinot: executing query", "sql", sql)
	resp, err := c.executeSQL(ctx, sql)
	if err != nil {
		return nil, err
	}
	if len(resp.Exceptions) > 0 {
		msgs := make([]string, 0, len(resp.Exceptions))
		for _, e := range resp.Exceptions {
			msgs = append(msgs, e.Message)
		}
		return nil, olap.NewQueryError(original, resp.Exceptions[0].ErrorCode, "%s", strings.Join(msgs, "; "))
	}

	res := &olap.Result{}
	if resp.ResultTable == nil {
		return res, nil
	}
	res.Columns = resp.ResultTable.DataSchema.ColumnNames
	res.ColumnTypes = resp.ResultTable.DataSchema.ColumnDataTypes
	res.Rows = make([][]any, 0, len(resp.ResultTable.Rows))
	for _, row := range resp.ResultTable.Rows {
		out := make([]any, len(row))
		for i, v := range row {
			out[i] = normalize(v)
		}
		res.Rows = append(res.Rows, out)
	}
	return res, nil
}

// executeSQL runs sql on the broker until it answers or ctx is done. The
// broker client takes no context, so an abandoned request runs on until the
// HTTP client's timeout.
func (c *Client) executeSQL(ctx context.Context, sql string) (*pinot.BrokerResponse, error) {
	type reply struct {
		resp *pinot.BrokerResponse
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		resp, err := c.broker.ExecuteSQL("", sql)
		done <- reply{resp, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("pinot broker request abandoned: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("pinot broker request failed: %w", r.err)
		}
		return r.resp, nil
	}
}

func (c *Client) controllerGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ControllerURL+path, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.cfg.headers() {
		req.Header.Set(k, v)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("pinot controller request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("failed to read pinot controller response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return olap.NewQueryError("", resp.StatusCode, "not found: %s", controllerMessage(body, path))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("pinot controller http %d: %s", resp.StatusCode, controllerMessage(body, path))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode pinot controller response: %w", err)
	}
	return nil
}

// controllerMessage extracts the "error" field the controller returns on failures.
func controllerMessage(body []byte, fallback string) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return fallback
}

// normalize converts json.Number values into int64 or float64.
func normalize(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

type fieldSpec struct {
	Name             string `json:"name"`
	DataType         string `json:"dataType"`
	SingleValueField *bool  `json:"singleValueField,omitempty"`
}

type schemaResponse struct {
	SchemaName          string      `json:"schemaName"`
	DimensionFieldSpecs []fieldSpec `json:"dimensionFieldSpecs"`
	MetricFieldSpecs    []fieldSpec `json:"metricFieldSpecs"`
	DateTimeFieldSpecs  []fieldSpec `json:"dateTimeFieldSpecs"`
}
