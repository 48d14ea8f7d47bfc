// Package client runs compiled plans against a pooled database.
//
// A Client owns a connection pool and a dialect compiler. Builders returned
// by Table, Select, Raw and Schema are bound to it and run with Run:
//
//	db, err := client.Open(cfg)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	rows, err := db.Table("users").Where("id", 1).Run(ctx)
//
//	err = db.Transaction(ctx, func(tx *client.Tx) error {
//	    _, err := tx.Table("accounts").Where("id", 1).Decrement("balance", 10).Run(ctx)
//	    return err
//	})
package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/pool"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	log         *slog.Logger
	observers   sql.Observers
	poolOpts    []pool.Option
	compileOpts []sql.CompilerOption
}

// WithLogger sets the logger of the client and its pool.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithObserver registers an observer notified around every statement.
func WithObserver(obs ...sql.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs...) }
}

// WithPoolOptions passes options to the connection pool.
func WithPoolOptions(opts ...pool.Option) Option {
	return func(o *options) { o.poolOpts = append(o.poolOpts, opts...) }
}

// WithCompilerOptions passes options to the dialect compiler, in addition
// to those derived from the configuration.
func WithCompilerOptions(opts ...sql.CompilerOption) Option {
	return func(o *options) { o.compileOpts = append(o.compileOpts, opts...) }
}

// Client runs queries and transactions on a connection pool.
type Client struct {
	*sql.DialectBuilder
	cfg      *strata.Config
	compiler sql.Compiler
	pool     *pool.Pool
	log      *slog.Logger
	observer sql.Observer
	// closer releases resources owned by the client besides the pool.
	closer func() error
}

// New returns a client that opens connections with connector.
func New(connector dialect.Connector, cfg *strata.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, strata.NewValidationError("config", "config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Debug {
		o.observers = append(o.observers, sql.NewLogObserver(sql.LogWith(func(ctx context.Context, v ...any) {
			o.log.DebugContext(ctx, fmt.Sprint(v...))
		})))
	}
	p, err := pool.New(connector, pool.ConfigFrom(cfg.Pool), append([]pool.Option{pool.WithLogger(o.log)}, o.poolOpts...)...)
	if err != nil {
		return nil, err
	}
	var copts []sql.CompilerOption
	if cfg.UseNullAsDefault {
		copts = append(copts, sql.WithNullAsDefault())
	}
	if cfg.ReturningFallback {
		copts = append(copts, sql.WithReturningFallback())
	}
	if cfg.MaxBindings > 0 {
		copts = append(copts, sql.WithMaxBindings(cfg.MaxBindings))
	}
	c := &Client{
		cfg:      cfg,
		compiler: sql.NewCompiler(cfg.Dialect(), append(copts, o.compileOpts...)...),
		pool:     p,
		log:      o.log,
		observer: o.observers,
	}
	c.DialectBuilder = sql.NewDialectBuilder(c.compiler, c)
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() *strata.Config { return c.cfg }

// Pool returns the connection pool of the client.
func (c *Client) Pool() *pool.Pool { return c.pool }

// Warm opens the minimum number of pool connections.
func (c *Client) Warm(ctx context.Context) error { return c.pool.Warm(ctx) }

// Destroy closes the pool, waiting up to the destroy timeout for
// connections in use.
func (c *Client) Destroy(ctx context.Context) error {
	err := c.pool.Destroy(ctx)
	if c.closer != nil {
		closer := c.closer
		c.closer = nil
		if cerr := closer(); err == nil {
			err = cerr
		}
	}
	return err
}

// Close is Destroy with a background context.
func (c *Client) Close() error { return c.Destroy(context.Background()) }

// HasTable reports whether the table exists.
func (c *Client) HasTable(ctx context.Context, table string) (bool, error) {
	res, err := c.Schema().HasTable(table).Run(ctx)
	if err != nil {
		return false, err
	}
	return res.RowCount > 0, nil
}

// HasColumn reports whether the table has the column.
func (c *Client) HasColumn(ctx context.Context, table, column string) (bool, error) {
	res, err := c.Schema().HasColumn(table, column).Run(ctx)
	if err != nil {
		return false, err
	}
	return res.RowCount > 0, nil
}

// RunPlan implements sql.Runner. It acquires a connection for the plan and
// releases it on every exit path.
func (c *Client) RunPlan(ctx context.Context, p *sql.Plan) (*dialect.Result, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(conn)
	e := &executor{client: c, conn: conn}
	return e.run(ctx, p)
}

var _ sql.Runner = (*Client)(nil)
