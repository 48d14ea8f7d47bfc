package client

import (
	"errors"

	// Drivers for the dialects Open supports.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql"
)

// Open returns a client for cfg that connects through the registered
// database/sql driver of its dialect.
func Open(cfg *strata.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, strata.NewValidationError("config", "config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	driverName, dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	conn, err := sql.OpenConnector(driverName, dsn, cfg.Dialect())
	if err != nil {
		return nil, err
	}
	c, err := New(conn, cfg, opts...)
	if err != nil {
		return nil, errors.Join(err, conn.Close())
	}
	c.closer = conn.Close
	return c, nil
}
