package dialect

import "context"

// Connector opens raw connections. It is implemented by driver adapters.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context) (Conn, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context) (Conn, error) { return f(ctx) }

// Conn is a live database session. A Conn is used by one statement at a time.
type Conn interface {
	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, query string, args []any) (*DriverResult, error)
	// Query runs a statement that returns rows.
	Query(ctx context.Context, query string, args []any) (*DriverResult, error)
	// Ping verifies the session is still usable.
	Ping(ctx context.Context) error
	// Close ends the session.
	Close() error
}

// DriverResult is the raw result of one statement as reported by the driver.
type DriverResult struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
	LastInsertID int64
	// HasLastInsertID is false when the driver does not report insert ids.
	HasLastInsertID bool
}

// Row is one result row keyed by column name.
type Row map[string]any

// Result is the normalized result of running a statement or plan.
type Result struct {
	// Rows holds the rows of read statements.
	Rows []Row
	// RowCount is the number of rows read, or the number of rows affected by a write.
	RowCount int64
	// Returning holds rows produced by returning clauses or their follow-up reads.
	Returning []Row
	// LastInsertID is the last id reported by the driver, when available.
	LastInsertID int64
}

// RowsFrom converts a DriverResult to rows keyed by column name.
func RowsFrom(r *DriverResult) []Row {
	if r == nil || len(r.Rows) == 0 {
		return nil
	}
	rows := make([]Row, len(r.Rows))
	for i, values := range r.Rows {
		row := make(Row, len(r.Columns))
		for j, c := range r.Columns {
			if j < len(values) {
				row[c] = values[j]
			}
		}
		rows[i] = row
	}
	return rows
}
