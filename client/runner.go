package client

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/dialect/sql/sqlerr"
	"github.com/syssam/strata/pool"
)

// executor runs the steps of a plan on one connection, optionally inside
// a transaction.
type executor struct {
	client *Client
	conn   *pool.Conn
	tx     *Tx
}

// run executes p. The foreign key guard of p is applied outside the
// transaction that p may open, since enforcement cannot change inside one.
func (e *executor) run(ctx context.Context, p *sql.Plan) (res *dialect.Result, err error) {
	if g := p.ForeignKeys; g != nil {
		restore, err := e.suspendForeignKeys(ctx, g)
		if err != nil {
			return nil, err
		}
		defer func() {
			if rerr := restore(); rerr != nil && err == nil {
				res, err = nil, rerr
			}
		}()
	}
	if !p.Transactional {
		return e.steps(ctx, p.Steps)
	}
	var tx *Tx
	if e.tx != nil {
		tx, err = e.tx.Begin(ctx)
	} else {
		tx, err = e.client.begin(ctx, e.conn, false)
	}
	if err != nil {
		return nil, err
	}
	var out *dialect.Result
	err = transaction(ctx, begun{tx}, func(tx *Tx) error {
		inner := &executor{client: e.client, conn: e.conn, tx: tx}
		r, err := inner.steps(ctx, p.Steps)
		out = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// begun hands out a transaction that was already begun.
type begun struct{ tx *Tx }

func (b begun) Begin(context.Context) (*Tx, error) { return b.tx, nil }

// suspendForeignKeys disables foreign key enforcement when it is enabled
// and returns the function that restores it exactly once.
func (e *executor) suspendForeignKeys(ctx context.Context, g *sql.ForeignKeyGuard) (func() error, error) {
	res, err := e.statement(ctx, g.Check)
	if err != nil {
		return nil, err
	}
	if !enabled(res) {
		return func() error { return nil }, nil
	}
	if _, err := e.statement(ctx, g.Disable); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() (err error) {
		once.Do(func() {
			_, err = e.statement(context.WithoutCancel(ctx), g.Enable)
		})
		return err
	}, nil
}

// enabled reports whether the first column of the first row is truthy.
func enabled(res *dialect.Result) bool {
	if res == nil || len(res.Rows) == 0 {
		return false
	}
	for _, v := range res.Rows[0] {
		switch v := v.(type) {
		case bool:
			return v
		case int64:
			return v != 0
		case string:
			return v == "1" || v == "true"
		case []byte:
			return string(v) == "1"
		}
	}
	return false
}

// steps runs the steps in order and merges their results.
func (e *executor) steps(ctx context.Context, steps []sql.Step) (*dialect.Result, error) {
	if len(steps) == 1 {
		return e.step(ctx, steps[0])
	}
	out := &dialect.Result{}
	for _, s := range steps {
		r, err := e.step(ctx, s)
		if err != nil {
			return nil, err
		}
		merge(out, r)
	}
	return out, nil
}

func (e *executor) step(ctx context.Context, s sql.Step) (*dialect.Result, error) {
	switch s := s.(type) {
	case *sql.Statement:
		return e.statement(ctx, s)
	case *sql.Plan:
		return e.run(ctx, s)
	case *sql.Introspection:
		return e.introspect(ctx, s)
	default:
		return nil, fmt.Errorf("strata: unknown plan step %T", s)
	}
}

// merge adds the counts of r to out and appends its rows.
func merge(out, r *dialect.Result) {
	if r == nil {
		return
	}
	out.Rows = append(out.Rows, r.Rows...)
	out.Returning = append(out.Returning, r.Returning...)
	out.RowCount += r.RowCount
	if r.LastInsertID != 0 {
		out.LastInsertID = r.LastInsertID
	}
}

// introspect runs the queries of in and then the plan built from their
// results.
func (e *executor) introspect(ctx context.Context, in *sql.Introspection) (*dialect.Result, error) {
	results := make([]*dialect.Result, len(in.Queries))
	for i, q := range in.Queries {
		r, err := e.statement(ctx, q)
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	p, err := in.Build(results)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, p)
}

// statement runs one compiled statement with its follow-up reads and
// normalizes the outcome.
func (e *executor) statement(ctx context.Context, s *sql.Statement) (*dialect.Result, error) {
	var (
		res   = &dialect.Result{}
		keyed = s.After != nil && s.After.Binds(sql.BeforeKeys)
		keys  []any
	)
	if s.Before != nil {
		b, err := e.dispatch(ctx, s.Before, s.Before.Args)
		if err != nil {
			return nil, err
		}
		if keyed {
			for _, r := range b.Rows {
				if len(r) > 0 {
					keys = append(keys, r[0])
				}
			}
		} else {
			res.Returning = dialect.RowsFrom(b)
		}
	}
	var (
		dr  *dialect.DriverResult
		err error
	)
	if s.BatchSize > 0 {
		dr, err = e.batches(ctx, s)
	} else {
		dr, err = e.dispatch(ctx, s, s.Args)
	}
	if err != nil {
		return nil, err
	}
	switch {
	case s.RowCountFromResult:
		if len(dr.Rows) > 0 && len(dr.Rows[0]) > 0 {
			res.RowCount = toInt64(dr.Rows[0][0])
		}
	case s.Rows && len(s.Returning) > 0:
		res.Returning = dialect.RowsFrom(dr)
		res.RowCount = int64(len(dr.Rows))
	case s.Rows:
		res.Rows = dialect.RowsFrom(dr)
		res.RowCount = int64(len(dr.Rows))
	default:
		res.RowCount = dr.RowsAffected
	}
	if dr.HasLastInsertID {
		res.LastInsertID = dr.LastInsertID
	}
	switch {
	case s.After == nil:
	case keyed:
		if res.Returning, err = e.keyedRead(ctx, s.After, keys); err != nil {
			return nil, err
		}
	default:
		args := make([]any, len(s.After.Args))
		for i, a := range s.After.Args {
			if a == sql.LastInsertID {
				if !dr.HasLastInsertID {
					return nil, strata.NewCompileError(e.client.compiler.Dialect(), "returning cannot be emulated, the driver reported no insert id")
				}
				a = dr.LastInsertID
			}
			args[i] = a
		}
		a, err := e.dispatch(ctx, s.After, args)
		if err != nil {
			return nil, err
		}
		res.Returning = dialect.RowsFrom(a)
	}
	return res, nil
}

// keyReadSize bounds the keys bound by one keyed follow-up read.
const keyReadSize = 1000

// keyedRead runs the follow-up read s for keys, in chunks of keyReadSize.
func (e *executor) keyedRead(ctx context.Context, s *sql.Statement, keys []any) ([]dialect.Row, error) {
	var rows []dialect.Row
	for chunk := range slices.Chunk(keys, keyReadSize) {
		st := s.BindKeys(chunk)
		dr, err := e.dispatch(ctx, st, st.Args)
		if err != nil {
			return nil, err
		}
		rows = append(rows, dialect.RowsFrom(dr)...)
	}
	return rows, nil
}

// batches repeats s with its last argument, an offset, advanced by
// BatchSize until a run affects fewer than BatchSize rows. It relies on
// the driver reporting affected rows; plans that batch follow the loop
// with a check that fails the transaction when rows were skipped.
func (e *executor) batches(ctx context.Context, s *sql.Statement) (*dialect.DriverResult, error) {
	args := append([]any(nil), s.Args...)
	if len(args) == 0 {
		return nil, strata.NewCompileError(e.client.compiler.Dialect(), "batched statement without an offset argument")
	}
	total := &dialect.DriverResult{}
	offset := toInt64(args[len(args)-1])
	for {
		args[len(args)-1] = offset
		dr, err := e.dispatch(ctx, s, args)
		if err != nil {
			return nil, err
		}
		total.RowsAffected += dr.RowsAffected
		if dr.RowsAffected < int64(s.BatchSize) {
			return total, nil
		}
		offset += int64(s.BatchSize)
	}
}

// dispatch sends a statement on the executor connection. Inside a
// transaction the statement is serialized with the other statements of
// the transaction, and a failure rolls the transaction back.
func (e *executor) dispatch(ctx context.Context, s *sql.Statement, args []any) (*dialect.DriverResult, error) {
	if e.tx == nil {
		return e.client.send(ctx, e.conn, "", s, args)
	}
	t := e.tx
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txActive {
		return nil, strata.NewTransactionStateError(t.id, "query", t.state.String())
	}
	dr, err := e.client.send(ctx, e.conn, t.id, s, args)
	if err != nil {
		t.err = err
		return nil, t.rollbackLocked(ctx, err)
	}
	return dr, nil
}

// send runs s on conn, notifies the observers and wraps failures in a
// QueryError.
func (c *Client) send(ctx context.Context, conn *pool.Conn, txID string, s *sql.Statement, args []any) (*dialect.DriverResult, error) {
	ev := &sql.QueryEvent{
		QueryID: uuid.NewString(),
		ConnID:  conn.ID(),
		TxID:    txID,
		SQL:     s.SQL,
		Args:    args,
		Method:  s.Method,
	}
	c.observer.QueryStart(ctx, ev)
	start := time.Now()
	var (
		dr  *dialect.DriverResult
		err error
	)
	if s.Rows {
		dr, err = conn.Query(ctx, s.SQL, args)
	} else {
		dr, err = conn.Exec(ctx, s.SQL, args)
	}
	ev.Duration = time.Since(start)
	if err != nil {
		qe := &strata.QueryError{
			SQL:          s.SQL,
			Args:         args,
			Interpolated: sql.Interpolate(s.SQL, args, c.compiler.Formatter()),
			Constraint:   sqlerr.Kind(err),
			Err:          err,
		}
		ev.Err = qe
		c.observer.QueryError(ctx, ev)
		return nil, qe
	}
	if dr == nil {
		dr = &dialect.DriverResult{}
	}
	ev.RowCount = dr.RowsAffected
	c.observer.QueryResponse(ctx, ev)
	return dr, nil
}

func toInt64(v any) int64 {
	switch v := v.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	}
	return 0
}
