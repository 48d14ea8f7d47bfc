package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/strata/dialect"
)

// escapeStringValue escapes a string value for safe use in SQL.
// It escapes both single quotes (by doubling) and backslashes (for MySQL compatibility).
func escapeStringValue(s string) string {
	if !strings.ContainsAny(s, `'\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", "''")
	return s
}

// Connector is a dialect.Connector over a database/sql pool. Each Connect
// call checks out one dedicated *sql.Conn; closing it returns the session
// to database/sql, which closes it because idle sessions are not kept.
type Connector struct {
	db      *sql.DB
	dialect string
}

// OpenConnector wraps database/sql.Open and returns a Connector for the dialect.
func OpenConnector(driverName, dsn, dialectName string) (*Connector, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: open %s: %w", driverName, err)
	}
	return OpenDB(dialectName, db), nil
}

// OpenDB wraps the given database/sql.DB with a Connector. The strata pool
// owns session lifetimes, so the database/sql idle pool is disabled.
func OpenDB(dialectName string, db *sql.DB) *Connector {
	db.SetMaxIdleConns(0)
	return NewConnector(dialectName, db)
}

// NewConnector returns a Connector that uses db as is.
func NewConnector(dialectName string, db *sql.DB) *Connector {
	return &Connector{db: db, dialect: dialect.Normalize(dialectName)}
}

// DB returns the underlying *sql.DB instance.
func (c *Connector) DB() *sql.DB { return c.db }

// Dialect returns the dialect name of the connector.
func (c *Connector) Dialect() string { return c.dialect }

// Connect implements dialect.Connector.
func (c *Connector) Connect(ctx context.Context) (dialect.Conn, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: connect: %w", err)
	}
	return NewConn(c.dialect, conn), nil
}

// Close closes the underlying database.
func (c *Connector) Close() error { return c.db.Close() }

// ExecQuerier wraps the standard Exec and Query methods.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn implements dialect.Conn given an ExecQuerier. Statements are
// rebound to the driver's placeholder style before they are sent.
type Conn struct {
	ExecQuerier
	dialect string
}

// NewConn returns a Conn for the dialect.
func NewConn(dialectName string, ex ExecQuerier) *Conn {
	return &Conn{ExecQuerier: ex, dialect: dialect.Normalize(dialectName)}
}

// Exec implements the dialect.Conn Exec method.
func (c *Conn) Exec(ctx context.Context, query string, args []any) (*dialect.DriverResult, error) {
	res, err := c.ExecContext(ctx, Rebind(c.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: exec: %w", err)
	}
	out := &dialect.DriverResult{}
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	// lib/pq reports an error here; the id is simply absent.
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID, out.HasLastInsertID = id, true
	}
	return out, nil
}

// Query implements the dialect.Conn Query method.
func (c *Conn) Query(ctx context.Context, query string, args []any) (_ *dialect.DriverResult, rerr error) {
	rows, err := c.QueryContext(ctx, Rebind(c.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: query: %w", err)
	}
	defer func() { rerr = errors.Join(rerr, rows.Close()) }()
	out, err := c.scan(rows)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: query: %w", err)
	}
	return out, nil
}

func (c *Conn) scan(rows *sql.Rows) (*dialect.DriverResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	text, err := c.textColumns(rows, len(columns))
	if err != nil {
		return nil, err
	}
	out := &dialect.DriverResult{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok && text[i] {
				values[i] = string(b)
			}
		}
		out.Rows = append(out.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out.RowsAffected = int64(len(out.Rows))
	return out, nil
}

// textColumns reports which columns hold text that the driver delivers as
// bytes. Only the MySQL driver does that; binary columns stay []byte.
func (c *Conn) textColumns(rows *sql.Rows, n int) ([]bool, error) {
	text := make([]bool, n)
	if c.dialect != dialect.MySQL {
		return text, nil
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	for i, t := range types {
		text[i] = !isBinaryType(t.DatabaseTypeName())
	}
	return text, nil
}

func isBinaryType(name string) bool {
	name = strings.ToUpper(name)
	return strings.Contains(name, "BLOB") || strings.Contains(name, "BINARY") || name == "BYTEA" || name == "GEOMETRY"
}

// Ping implements the dialect.Conn Ping method.
func (c *Conn) Ping(ctx context.Context) error {
	if p, ok := c.ExecQuerier.(interface{ PingContext(context.Context) error }); ok {
		return p.PingContext(ctx)
	}
	_, err := c.ExecContext(ctx, "select 1")
	return err
}

// Close implements the dialect.Conn Close method.
func (c *Conn) Close() error {
	if cl, ok := c.ExecQuerier.(interface{ Close() error }); ok {
		return cl.Close()
	}
	return nil
}

var (
	_ dialect.Connector = (*Connector)(nil)
	_ dialect.Conn      = (*Conn)(nil)
)

type (
	// NullBool is an alias to sql.NullBool.
	NullBool = sql.NullBool
	// NullInt64 is an alias to sql.NullInt64.
	NullInt64 = sql.NullInt64
	// NullString is an alias to sql.NullString.
	NullString = sql.NullString
	// NullFloat64 is an alias to sql.NullFloat64.
	NullFloat64 = sql.NullFloat64
	// NullTime represents a time.Time that may be null.
	NullTime = sql.NullTime
)
