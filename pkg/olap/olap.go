// Package olap defines the engine-neutral surface the SQL tools run against.
package olap

import (
	"context"
	"errors"
	"fmt"
)

// DB is an analytics database that can list tables, describe them, check a
// query without running it, and run a read-only query.
type DB interface {
	// Dialect is the SQL dialect name handed to the prompt assembler.
	Dialect() string
	// Database is the database or namespace prefix used for qualified names.
	Database() string
	ListTables(ctx context.Context) ([]string, error)
	TableSchema(ctx context.Context, table string) (*TableSchema, error)
	// Explain asks the engine to plan the query without executing it.
	Explain(ctx context.Context, query string) (string, error)
	Query(ctx context.Context, query string) (*Result, error)
	Close() error
}

// Column describes one column of a table.
type Column struct {
	Name string
	Type string
	// Kind is the engine's role for the column (dimension, metric, dateTime)
	// when it has one.
	Kind string
}

// TableSchema describes a table.
type TableSchema struct {
	Name    string
	Columns []Column
}

// Result is the tabular result of a query.
type Result struct {
	Columns     []string
	ColumnTypes []string
	Rows        [][]any
}

// Count returns the number of rows.
func (r *Result) Count() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// QueryError is returned when the engine rejects a query. It is the query's
// fault, not the connection's, and the caller can revise the query and retry.
type QueryError struct {
	Code    int
	Message string
	Query   string
}

func (e *QueryError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("QueryExecutionError (code %d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("QueryExecutionError: %s", e.Message)
}

// NewQueryError returns a QueryError for the given query.
func NewQueryError(query string, code int, format string, args ...any) *QueryError {
	return &QueryError{Code: code, Message: fmt.Sprintf(format, args...), Query: query}
}

// IsQueryError reports whether err wraps a QueryError.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}
