package sql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// QueryEvent describes one statement sent to the database.
type QueryEvent struct {
	// QueryID is unique per dispatched statement.
	QueryID string
	// ConnID identifies the pooled connection.
	ConnID string
	// TxID is set when the statement runs inside a transaction.
	TxID   string
	SQL    string
	Args   []any
	Method Method
	// Duration, RowCount and Err are set for responses and errors.
	Duration time.Duration
	RowCount int64
	Err      error
}

// Observer is notified around every statement the client dispatches.
// Implementations must be safe for concurrent use.
type Observer interface {
	QueryStart(ctx context.Context, e *QueryEvent)
	QueryResponse(ctx context.Context, e *QueryEvent)
	QueryError(ctx context.Context, e *QueryEvent)
}

// Observers fans events out to each observer in order.
type Observers []Observer

// QueryStart implements Observer.
func (o Observers) QueryStart(ctx context.Context, e *QueryEvent) {
	for _, ob := range o {
		ob.QueryStart(ctx, e)
	}
}

// QueryResponse implements Observer.
func (o Observers) QueryResponse(ctx context.Context, e *QueryEvent) {
	for _, ob := range o {
		ob.QueryResponse(ctx, e)
	}
}

// QueryError implements Observer.
func (o Observers) QueryError(ctx context.Context, e *QueryEvent) {
	for _, ob := range o {
		ob.QueryError(ctx, e)
	}
}

// MethodStats aggregates the finished statements of one Method.
type MethodStats struct {
	Count    int64
	Errors   int64
	Slow     int64
	Rows     int64
	Duration time.Duration
}

// Mean returns the average duration of the statements.
func (m MethodStats) Mean() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.Duration / time.Duration(m.Count)
}

func (m *MethodStats) merge(o MethodStats) {
	m.Count += o.Count
	m.Errors += o.Errors
	m.Slow += o.Slow
	m.Rows += o.Rows
	m.Duration += o.Duration
}

// Stats is a snapshot of a StatsObserver.
type Stats struct {
	// InFlight counts statements started but not yet finished.
	InFlight int64
	// Methods holds an entry for every method that finished a statement.
	Methods map[Method]MethodStats
}

// Total sums the statistics of all methods.
func (s Stats) Total() MethodStats {
	var t MethodStats
	for _, m := range s.Methods {
		t.merge(m)
	}
	return t
}

// String returns one "method=count/errors/slow avg" entry per method,
// ordered by method.
func (s Stats) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "in_flight=%d", s.InFlight)
	for m := range Method(len(methodNames)) {
		st, ok := s.Methods[m]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, " %s=%d/%d/%d avg=%s", m, st.Count, st.Errors, st.Slow, st.Mean())
	}
	return sb.String()
}

// SlowQueryHook is a function called when a slow statement is detected.
type SlowQueryHook func(ctx context.Context, e *QueryEvent)

// StatsObserver is an Observer that aggregates finished statements by Method.
type StatsObserver struct {
	mu            sync.Mutex
	inFlight      int64
	methods       map[Method]*MethodStats
	slowThreshold time.Duration
	slowHook      SlowQueryHook
}

// StatsOption configures the StatsObserver.
type StatsOption func(*StatsObserver)

// WithSlowThreshold sets the threshold for slow query detection.
// Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsObserver) {
		s.slowThreshold = d
	}
}

// WithSlowQueryHook sets a callback for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsObserver) {
		s.slowHook = hook
	}
}

// WithSlowQueryLog logs slow statements to the default logger.
func WithSlowQueryLog() StatsOption {
	return WithSlowQueryHook(func(_ context.Context, e *QueryEvent) {
		slog.Warn("slow query detected", "method", e.Method, "duration", e.Duration, "query", e.SQL, "args", e.Args)
	})
}

// NewStatsObserver returns an observer that collects statistics.
//
//	stats := sql.NewStatsObserver(
//	    sql.WithSlowThreshold(200*time.Millisecond),
//	    sql.WithSlowQueryLog(),
//	)
//	db, err := client.Open(cfg, client.WithObserver(stats))
//	...
//	fmt.Println(stats.Snapshot())
func NewStatsObserver(opts ...StatsOption) *StatsObserver {
	s := &StatsObserver{
		methods:       make(map[Method]*MethodStats),
		slowThreshold: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a copy of the current statistics.
func (o *StatsObserver) Snapshot() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Drain returns the current statistics and clears the per-method counters.
// Statements still in flight stay counted.
func (o *StatsObserver) Drain() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.snapshotLocked()
	clear(o.methods)
	return s
}

func (o *StatsObserver) snapshotLocked() Stats {
	s := Stats{InFlight: o.inFlight, Methods: make(map[Method]MethodStats, len(o.methods))}
	for m, st := range o.methods {
		s.Methods[m] = *st
	}
	return s
}

// SlowThreshold returns the current slow query threshold.
func (o *StatsObserver) SlowThreshold() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.slowThreshold
}

// SetSlowThreshold updates the slow query threshold.
func (o *StatsObserver) SetSlowThreshold(threshold time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.slowThreshold = threshold
}

// QueryStart implements Observer.
func (o *StatsObserver) QueryStart(context.Context, *QueryEvent) {
	o.mu.Lock()
	o.inFlight++
	o.mu.Unlock()
}

// QueryResponse implements Observer.
func (o *StatsObserver) QueryResponse(ctx context.Context, e *QueryEvent) { o.finish(ctx, e) }

// QueryError implements Observer.
func (o *StatsObserver) QueryError(ctx context.Context, e *QueryEvent) { o.finish(ctx, e) }

func (o *StatsObserver) finish(ctx context.Context, e *QueryEvent) {
	o.mu.Lock()
	if o.inFlight > 0 {
		o.inFlight--
	}
	st, ok := o.methods[e.Method]
	if !ok {
		st = &MethodStats{}
		o.methods[e.Method] = st
	}
	st.Count++
	st.Rows += e.RowCount
	st.Duration += e.Duration
	if e.Err != nil {
		st.Errors++
	}
	slow := e.Duration > o.slowThreshold
	if slow {
		st.Slow++
	}
	hook := o.slowHook
	o.mu.Unlock()

	if slow && hook != nil {
		hook(ctx, e)
	}
}

// LogObserver is an Observer that logs every statement.
type LogObserver struct {
	log func(context.Context, ...any)
}

// LogOption configures the LogObserver.
type LogOption func(*LogObserver)

// LogWith sets a custom log function.
func LogWith(logFunc func(context.Context, ...any)) LogOption {
	return func(o *LogObserver) {
		o.log = logFunc
	}
}

// NewLogObserver returns an observer that logs statements with slog.Info,
// or with the function given by LogWith.
func NewLogObserver(opts ...LogOption) *LogObserver {
	o := &LogObserver{
		log: func(_ context.Context, v ...any) {
			slog.Info(fmt.Sprint(v...))
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// QueryStart implements Observer.
func (o *LogObserver) QueryStart(ctx context.Context, e *QueryEvent) {
	if e.TxID != "" {
		o.log(ctx, fmt.Sprintf("tx %s %s: %s args: %v", e.TxID, e.Method, e.SQL, e.Args))
		return
	}
	o.log(ctx, fmt.Sprintf("%s: %s args: %v", e.Method, e.SQL, e.Args))
}

// QueryResponse implements Observer.
func (*LogObserver) QueryResponse(context.Context, *QueryEvent) {}

// QueryError implements Observer.
func (o *LogObserver) QueryError(ctx context.Context, e *QueryEvent) {
	o.log(ctx, fmt.Sprintf("%s failed after %s: %v", e.Method, e.Duration, e.Err))
}

var (
	_ Observer = Observers(nil)
	_ Observer = (*StatsObserver)(nil)
	_ Observer = (*LogObserver)(nil)
)
