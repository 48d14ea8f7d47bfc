package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/pool"
)

type txState uint8

const (
	txActive txState = iota
	txCommitted
	txRolledBack
)

func (s txState) String() string {
	switch s {
	case txActive:
		return "active"
	case txCommitted:
		return "committed"
	default:
		return "rolled back"
	}
}

// Tx is a transaction bound to one pooled connection. A Tx begun from
// another Tx is a savepoint on the same connection.
//
// Statements issued on a Tx, or on any savepoint of it, are serialized. A
// statement that fails rolls the Tx back before the error is returned.
type Tx struct {
	*sql.DialectBuilder
	id     string
	client *Client
	conn   *pool.Conn
	// ownsConn releases conn when the top-level transaction concludes.
	ownsConn bool
	parent   *Tx
	depth    int

	// mu is shared by the whole savepoint chain and guards the fields
	// below as well as the connection.
	mu    *sync.Mutex
	state txState
	child *Tx
	// err is the query error that rolled the transaction back.
	err error
}

// Beginner starts transactions. It is implemented by *Client, which begins
// top-level transactions, and by *Tx, which begins savepoints.
type Beginner interface {
	Begin(ctx context.Context) (*Tx, error)
}

// Begin starts a top-level transaction on a newly acquired connection.
// The connection returns to the pool when the transaction concludes.
func (c *Client) Begin(ctx context.Context) (*Tx, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := c.begin(ctx, conn, true)
	if err != nil {
		c.pool.Release(conn)
		return nil, err
	}
	return tx, nil
}

// begin starts a top-level transaction on conn.
func (c *Client) begin(ctx context.Context, conn *pool.Conn, ownsConn bool) (*Tx, error) {
	tx := &Tx{
		id:       uuid.NewString(),
		client:   c,
		conn:     conn,
		ownsConn: ownsConn,
		mu:       &sync.Mutex{},
	}
	if err := tx.control(ctx, c.compiler.BeginSQL(0)); err != nil {
		return nil, err
	}
	tx.DialectBuilder = sql.NewDialectBuilder(c.compiler, tx)
	return tx, nil
}

// Begin starts a savepoint inside the transaction. Only one savepoint of a
// transaction may be active at a time.
func (t *Tx) Begin(ctx context.Context) (*Tx, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txActive {
		return nil, strata.NewTransactionStateError(t.id, "begin a savepoint in", t.state.String())
	}
	if t.child != nil {
		return nil, strata.NewTransactionStateError(t.id, "begin a savepoint in", "waiting on an active savepoint")
	}
	child := &Tx{
		id:     uuid.NewString(),
		client: t.client,
		conn:   t.conn,
		parent: t,
		depth:  t.depth + 1,
		mu:     t.mu,
	}
	if err := child.control(ctx, t.client.compiler.BeginSQL(child.depth)); err != nil {
		return nil, err
	}
	child.DialectBuilder = sql.NewDialectBuilder(t.client.compiler, child)
	t.child = child
	return child, nil
}

// ID returns the transaction id.
func (t *Tx) ID() string { return t.id }

// Depth returns 0 for a top-level transaction and the savepoint level
// otherwise.
func (t *Tx) Depth() int { return t.depth }

// Err returns the query error that rolled the transaction back, if any.
func (t *Tx) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Active reports whether the transaction can still run statements.
func (t *Tx) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == txActive
}

// Commit commits the transaction, or releases the savepoint. It fails with
// a TransactionStateError when the transaction already concluded or has
// an active savepoint.
func (t *Tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txActive {
		return strata.NewTransactionStateError(t.id, "commit", t.state.String())
	}
	if t.child != nil {
		return strata.NewTransactionStateError(t.id, "commit", "waiting on an active savepoint")
	}
	if err := t.control(ctx, t.client.compiler.CommitSQL(t.depth)); err != nil {
		return t.rollbackLocked(ctx, err)
	}
	t.conclude(txCommitted)
	return nil
}

// Rollback rolls the transaction back, or rolls back to the savepoint.
// Active savepoints of the transaction are discarded with it.
func (t *Tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txActive {
		return strata.NewTransactionStateError(t.id, "roll back", t.state.String())
	}
	if err := t.control(context.WithoutCancel(ctx), t.client.compiler.RollbackSQL(t.depth)); err != nil {
		t.conclude(txRolledBack)
		return err
	}
	t.conclude(txRolledBack)
	return nil
}

// rollbackLocked rolls the transaction back after cause. It returns cause,
// or a RollbackError when the rollback failed too. t.mu must be held.
func (t *Tx) rollbackLocked(ctx context.Context, cause error) error {
	if t.state != txActive {
		return cause
	}
	err := t.control(context.WithoutCancel(ctx), t.client.compiler.RollbackSQL(t.depth))
	t.conclude(txRolledBack)
	if err != nil {
		t.client.log.Warn("strata: rollback failed", "tx", t.id, "depth", t.depth, "cause", cause, "error", err)
		return &strata.RollbackError{Cause: cause, Err: err}
	}
	return cause
}

// conclude records the final state of t and of its active savepoints, and
// releases the connection of a top-level transaction. t.mu must be held.
func (t *Tx) conclude(s txState) {
	for c := t.child; c != nil; c = c.child {
		if c.state == txActive {
			c.state = txRolledBack
		}
	}
	t.child = nil
	t.state = s
	if t.parent != nil {
		if t.parent.child == t {
			t.parent.child = nil
		}
		return
	}
	if t.ownsConn {
		t.client.pool.Release(t.conn)
	}
}

// control sends a transaction control statement. An empty statement is not
// sent. t.mu must be held, or t not yet shared.
func (t *Tx) control(ctx context.Context, query string) error {
	if query == "" {
		return nil
	}
	s := &sql.Statement{SQL: query, Method: sql.MethodTransaction}
	_, err := t.client.send(ctx, t.conn, t.id, s, nil)
	return err
}

// RunPlan implements sql.Runner. A transactional plan runs in a savepoint.
func (t *Tx) RunPlan(ctx context.Context, p *sql.Plan) (*dialect.Result, error) {
	e := &executor{client: t.client, conn: t.conn, tx: t}
	return e.run(ctx, p)
}

// Transaction runs fn in a savepoint of the transaction.
func (t *Tx) Transaction(ctx context.Context, fn func(*Tx) error) error {
	return transaction(ctx, t, fn)
}

// Transaction runs fn in a transaction. The transaction is committed when
// fn returns nil and rolled back when fn returns an error or panics. The
// error of fn is returned as is; a query error that rolled the
// transaction back is returned even when fn swallowed it.
func (c *Client) Transaction(ctx context.Context, fn func(*Tx) error) error {
	return transaction(ctx, c, fn)
}

// InTx runs fn in a transaction begun from b and returns its value.
//
//	id, err := client.InTx(ctx, db, func(tx *client.Tx) (int64, error) {
//	    res, err := tx.Table("users").Insert(sql.R("name", "a8m")).Run(ctx)
//	    if err != nil {
//	        return 0, err
//	    }
//	    return res.LastInsertID, nil
//	})
func InTx[T any](ctx context.Context, b Beginner, fn func(*Tx) (T, error)) (T, error) {
	var v T
	err := transaction(ctx, b, func(tx *Tx) error {
		var err error
		v, err = fn(tx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

func transaction(ctx context.Context, b Beginner, fn func(*Tx) error) (err error) {
	tx, err := b.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if v := recover(); v != nil {
			tx.mu.Lock()
			_ = tx.rollbackLocked(ctx, fmt.Errorf("panic: %v", v))
			tx.mu.Unlock()
			panic(v)
		}
	}()
	if ferr := fn(tx); ferr != nil {
		tx.mu.Lock()
		defer tx.mu.Unlock()
		return tx.rollbackLocked(ctx, ferr)
	}
	tx.mu.Lock()
	qerr, state := tx.err, tx.state
	tx.mu.Unlock()
	switch {
	case qerr != nil:
		return qerr
	case state != txActive:
		// fn concluded the transaction itself.
		return nil
	}
	if err := tx.Commit(ctx); err != nil {
		// A savepoint left open by fn blocks the commit; the transaction
		// must still conclude so the connection goes back to the pool.
		tx.mu.Lock()
		defer tx.mu.Unlock()
		return tx.rollbackLocked(ctx, err)
	}
	return nil
}

var (
	_ sql.Runner = (*Tx)(nil)
	_ Beginner   = (*Tx)(nil)
	_ Beginner   = (*Client)(nil)
)
