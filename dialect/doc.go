// Package dialect provides the dialect names and the raw connection
// capability that strata executes statements through.
//
// # Supported Dialects
//
//   - Postgres: PostgreSQL
//   - MySQL: MySQL/MariaDB
//   - SQLite: SQLite
//   - MSSQL: Microsoft SQL Server (compile only, bring your own Connector)
//   - Redshift: Amazon Redshift (PostgreSQL wire protocol, no returning)
//
// Client names from configuration files are normalized with Normalize:
//
//	dialect.Normalize("pg")      // "postgres"
//	dialect.Normalize("sqlite3") // "sqlite"
//
// # Raw Connection Capability
//
// A Connector opens connections. A Conn runs one statement at a time:
//
//	type Connector interface {
//	    Connect(ctx context.Context) (Conn, error)
//	}
//
//	type Conn interface {
//	    Exec(ctx context.Context, query string, args []any) (*DriverResult, error)
//	    Query(ctx context.Context, query string, args []any) (*DriverResult, error)
//	    Ping(ctx context.Context) error
//	    Close() error
//	}
//
// The database/sql backed implementation lives in dialect/sql.
//
// # Sub-packages
//
//   - dialect/sql: query and schema builders, compilers, formatters and the database/sql adapter
//   - dialect/sql/sqlerr: constraint error classification
package dialect
