// Package pool manages raw database connections for the client.
//
// A Pool hands out at most Max connections at a time. Callers that find
// the pool exhausted wait in FIFO order for a release, bounded by the
// acquire timeout. Idle connections are validated before they are handed
// out, and connections that fail validation are replaced silently.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
)

// Config holds pool sizing and timing.
type Config struct {
	Min int
	Max int
	// AcquireTimeout bounds the wait for a connection. Zero waits until the
	// context is done.
	AcquireTimeout time.Duration
	// IdleTimeout closes idle connections above Min after this long. Zero
	// keeps idle connections forever.
	IdleTimeout time.Duration
	// DestroyTimeout is the grace period Destroy gives in-use connections.
	DestroyTimeout time.Duration
	// CreateRetries is the number of retries after a failed connect.
	CreateRetries int
	// CreateBackoff is the initial delay between connect attempts.
	CreateBackoff time.Duration
	// ReapInterval is how often idle connections are checked. It defaults
	// to half of IdleTimeout.
	ReapInterval time.Duration
}

// ConfigFrom converts the pool section of a strata configuration.
func ConfigFrom(pc strata.PoolConfig) Config {
	return Config{
		Min:            pc.Min,
		Max:            pc.Max,
		AcquireTimeout: pc.AcquireTimeout(),
		IdleTimeout:    pc.IdleTimeout(),
		DestroyTimeout: pc.DestroyTimeout(),
		CreateRetries:  pc.CreateRetries,
	}
}

func (c Config) validate() error {
	switch {
	case c.Max < 1:
		return strata.NewValidationError("pool", "max must be at least 1, got %d", c.Max)
	case c.Min < 0 || c.Min > c.Max:
		return strata.NewValidationError("pool", "min must be between 0 and max (%d), got %d", c.Max, c.Min)
	case c.AcquireTimeout < 0, c.IdleTimeout < 0, c.DestroyTimeout < 0:
		return strata.NewValidationError("pool", "timeouts must not be negative")
	case c.CreateRetries < 0:
		return strata.NewValidationError("pool", "create retries must not be negative")
	}
	return nil
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// WithValidate sets the hook that checks a connection before it is handed
// out and when it is released. The default pings the connection.
func WithValidate(fn func(context.Context, dialect.Conn) error) Option {
	return func(p *Pool) { p.validate = fn }
}

// WithAfterCreate sets a hook that runs on every new connection, e.g. to
// set session variables. A failing hook counts as a failed connect.
func WithAfterCreate(fn func(context.Context, dialect.Conn) error) Option {
	return func(p *Pool) { p.afterCreate = fn }
}

// Conn is a pooled connection.
type Conn struct {
	dialect.Conn
	id        string
	pool      *Pool
	createdAt time.Time
	idleSince time.Time
	// acquired is guarded by pool.mu.
	acquired bool
}

// ID returns the unique id of the connection.
func (c *Conn) ID() string { return c.id }

// CreatedAt returns the time the connection was opened.
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// Release returns the connection to its pool.
func (c *Conn) Release() { c.pool.Release(c) }

// Stats is a snapshot of pool counters.
type Stats struct {
	Max       int
	Idle      int
	InUse     int
	Waiting   int
	Created   int64
	Destroyed int64
	Timeouts  int64
}

// Pool is a bounded set of raw connections.
type Pool struct {
	connector   dialect.Connector
	cfg         Config
	log         *slog.Logger
	validate    func(context.Context, dialect.Conn) error
	afterCreate func(context.Context, dialect.Conn) error

	// sem holds one token per connection that may be in use. Its waiter
	// list is the FIFO wait queue.
	sem *semaphore.Weighted

	mu      sync.Mutex
	idle    []*Conn
	inUse   map[*Conn]struct{}
	opening int // creates in flight, each holding a semaphore token
	closed  bool

	waiting   atomic.Int64
	created   atomic.Int64
	destroyed atomic.Int64
	timeouts  atomic.Int64

	// ctx is canceled by Destroy and wakes all waiters.
	ctx        context.Context
	cancel     context.CancelFunc
	reaperDone chan struct{}
}

// New returns a pool that opens connections with connector. The pool
// starts empty; call Warm to open Min connections up front.
func New(connector dialect.Connector, cfg Config, opts ...Option) (*Pool, error) {
	if connector == nil {
		return nil, strata.NewValidationError("pool", "connector is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.CreateBackoff <= 0 {
		cfg.CreateBackoff = 100 * time.Millisecond
	}
	if cfg.ReapInterval <= 0 && cfg.IdleTimeout > 0 {
		cfg.ReapInterval = max(cfg.IdleTimeout/2, 10*time.Millisecond)
	}
	p := &Pool{
		connector: connector,
		cfg:       cfg,
		log:       slog.Default(),
		validate: func(ctx context.Context, c dialect.Conn) error {
			return c.Ping(ctx)
		},
		sem:        semaphore.NewWeighted(int64(cfg.Max)),
		inUse:      make(map[*Conn]struct{}),
		reaperDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	if cfg.IdleTimeout > 0 {
		go p.reap()
	} else {
		close(p.reaperDone)
	}
	return p, nil
}

// Config returns the pool configuration.
func (p *Pool) Config() Config { return p.cfg }

// Acquire returns a connection, waiting for a release when Max connections
// are in use. It fails with *strata.AcquireTimeoutError when the wait
// exceeds the acquire timeout and with strata.ErrPoolClosed once the pool
// is destroyed.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	if p.ctx.Err() != nil {
		return nil, strata.ErrPoolClosed
	}
	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	if p.cfg.AcquireTimeout > 0 {
		actx, cancel = context.WithTimeout(actx, p.cfg.AcquireTimeout)
		defer cancel()
	}
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	p.waiting.Add(1)
	err := p.sem.Acquire(actx, 1)
	waiting := p.waiting.Add(-1)
	if err != nil {
		switch {
		case p.ctx.Err() != nil:
			return nil, strata.ErrPoolClosed
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			p.timeouts.Add(1)
			return nil, &strata.AcquireTimeoutError{Timeout: p.cfg.AcquireTimeout, Waiting: int(waiting) + 1}
		}
	}
	if p.ctx.Err() != nil {
		p.sem.Release(1)
		return nil, strata.ErrPoolClosed
	}
	c, err := p.take(actx)
	if err != nil {
		p.sem.Release(1)
		if p.ctx.Err() != nil {
			return nil, strata.ErrPoolClosed
		}
		return nil, err
	}
	return c, nil
}

// take returns a validated idle connection, or a new one. The caller
// holds a semaphore token.
func (p *Pool) take(ctx context.Context) (*Conn, error) {
	for {
		c := p.popIdle()
		if c == nil {
			break
		}
		if err := p.validate(ctx, c.Conn); err != nil {
			p.log.Debug("pool: idle connection failed validation", "conn", c.id, "error", err)
			p.destroyConn(c)
			continue
		}
		if !p.markInUse(c) {
			p.destroyConn(c)
			return nil, strata.ErrPoolClosed
		}
		return c, nil
	}
	p.mu.Lock()
	p.opening++
	p.mu.Unlock()
	c, err := p.create(ctx)
	if !p.settle(c, false) {
		if err != nil {
			return nil, err
		}
		p.destroyConn(c)
		return nil, strata.ErrPoolClosed
	}
	return c, nil
}

// settle ends a create counted in p.opening. A created connection is
// marked in use, or added to the idle set when idle is set. It reports
// false when c is nil or the pool was closed meanwhile.
func (p *Pool) settle(c *Conn, idle bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opening--
	if c == nil || p.closed {
		return false
	}
	if idle {
		p.idle = append(p.idle, c)
	} else {
		c.acquired = true
		p.inUse[c] = struct{}{}
	}
	return true
}

func (p *Pool) popIdle() *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	c := p.idle[n-1]
	p.idle = p.idle[:n-1]
	return c
}

// markInUse records c as acquired. It fails when the pool was closed.
func (p *Pool) markInUse(c *Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	c.acquired = true
	p.inUse[c] = struct{}{}
	return true
}

// create opens a connection with bounded, exponentially spaced retries.
func (p *Pool) create(ctx context.Context) (*Conn, error) {
	var (
		attempts int
		conn     dialect.Conn
	)
	op := func() error {
		attempts++
		c, err := p.connector.Connect(ctx)
		if err == nil && p.afterCreate != nil {
			if herr := p.afterCreate(ctx, c); herr != nil {
				err = errors.Join(fmt.Errorf("after create: %w", herr), c.Close())
			}
		}
		if err != nil {
			p.log.Debug("pool: connect failed", "attempt", attempts, "error", err)
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.cfg.CreateBackoff
	eb.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.cfg.CreateRetries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, &strata.ConnectionError{Attempts: attempts, Err: err}
	}
	now := time.Now()
	c := &Conn{Conn: conn, id: uuid.NewString(), pool: p, createdAt: now, idleSince: now}
	p.created.Add(1)
	p.log.Debug("pool: connection created", "conn", c.id)
	return c, nil
}

// Release returns c to the pool. A connection that fails validation is
// destroyed instead. Releasing a connection twice is a no-op.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}
	p.mu.Lock()
	if !c.acquired {
		p.mu.Unlock()
		p.log.Debug("pool: connection already released", "conn", c.id)
		return
	}
	c.acquired = false
	delete(p.inUse, c)
	closed := p.closed
	p.mu.Unlock()
	defer p.sem.Release(1)

	if closed {
		p.destroyConn(c)
		return
	}
	ctx, cancel := context.WithTimeout(p.ctx, releaseValidateTimeout)
	err := p.validate(ctx, c.Conn)
	cancel()
	if err != nil {
		p.log.Debug("pool: released connection failed validation", "conn", c.id, "error", err)
		p.destroyConn(c)
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.destroyConn(c)
		return
	}
	c.idleSince = time.Now()
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

const releaseValidateTimeout = 5 * time.Second

func (p *Pool) destroyConn(c *Conn) {
	p.destroyed.Add(1)
	if err := c.Conn.Close(); err != nil {
		p.log.Debug("pool: closing connection failed", "conn", c.id, "error", err)
		return
	}
	p.log.Debug("pool: connection destroyed", "conn", c.id)
}

// Warm opens connections until Min are open. Each create holds a
// semaphore token until its connection is idle, so Warm never opens more
// than Max connections together with concurrent acquires. Connections
// that cannot get a token right away are left to later acquires.
func (p *Pool) Warm(ctx context.Context) error {
	if p.Closed() {
		return strata.ErrPoolClosed
	}
	g, gctx := errgroup.WithContext(ctx)
	for p.sem.TryAcquire(1) {
		p.mu.Lock()
		if p.closed || len(p.idle)+len(p.inUse)+p.opening >= p.cfg.Min {
			p.mu.Unlock()
			p.sem.Release(1)
			break
		}
		p.opening++
		p.mu.Unlock()
		g.Go(func() error {
			defer p.sem.Release(1)
			c, err := p.create(gctx)
			if !p.settle(c, true) {
				if err != nil {
					return err
				}
				p.destroyConn(c)
				return strata.ErrPoolClosed
			}
			return nil
		})
	}
	return g.Wait()
}

// reap closes connections idle for longer than IdleTimeout, keeping Min open.
func (p *Pool) reap() {
	defer close(p.reaperDone)
	t := time.NewTicker(p.cfg.ReapInterval)
	defer t.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case now := <-t.C:
			for _, c := range p.expired(now) {
				p.log.Debug("pool: reaping idle connection", "conn", c.id, "idle", now.Sub(c.idleSince))
				p.destroyConn(c)
			}
		}
	}
}

func (p *Pool) expired(now time.Time) []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	var (
		out   []*Conn
		total = len(p.idle) + len(p.inUse)
		keep  = p.idle[:0]
	)
	// Oldest first, so the most recently used connections survive.
	for _, c := range p.idle {
		if total > p.cfg.Min && now.Sub(c.idleSince) >= p.cfg.IdleTimeout {
			out = append(out, c)
			total--
			continue
		}
		keep = append(keep, c)
	}
	clear(p.idle[len(keep):])
	p.idle = keep
	return out
}

// Destroy closes the pool. Waiters fail with strata.ErrPoolClosed and idle
// connections are closed. Connections in use get DestroyTimeout to be
// released before they are closed. Calling Destroy again returns nil.
func (p *Pool) Destroy(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	p.cancel()
	<-p.reaperDone

	var g errgroup.Group
	for _, c := range idle {
		g.Go(func() error {
			p.destroyed.Add(1)
			return c.Conn.Close()
		})
	}
	err := g.Wait()

	gctx := ctx
	if p.cfg.DestroyTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, p.cfg.DestroyTimeout)
		defer cancel()
	}
	if aerr := p.sem.Acquire(gctx, int64(p.cfg.Max)); aerr == nil {
		return err
	}
	p.mu.Lock()
	stragglers := make([]*Conn, 0, len(p.inUse))
	for c := range p.inUse {
		c.acquired = false
		stragglers = append(stragglers, c)
	}
	clear(p.inUse)
	p.mu.Unlock()
	for _, c := range stragglers {
		p.log.Debug("pool: force closing connection after grace period", "conn", c.id)
		p.destroyed.Add(1)
		err = errors.Join(err, c.Conn.Close())
	}
	return err
}

// Closed reports whether Destroy was called.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	idle, inUse := len(p.idle), len(p.inUse)
	p.mu.Unlock()
	return Stats{
		Max:       p.cfg.Max,
		Idle:      idle,
		InUse:     inUse,
		Waiting:   int(p.waiting.Load()),
		Created:   p.created.Load(),
		Destroyed: p.destroyed.Load(),
		Timeouts:  p.timeouts.Load(),
	}
}
