package sql

import (
	"context"
	"slices"
	"strings"

	"github.com/syssam/strata/dialect"
)

// Statement is one compiled SQL statement. It is never mutated after the
// compiler returns it.
type Statement struct {
	// SQL uses ? as the placeholder and \? for a literal question mark.
	SQL  string
	Args []any
	// Method is the method of the query the statement was compiled from.
	Method Method
	// Rows reports whether the statement produces rows and must be
	// dispatched as a query.
	Rows bool
	// Returning lists the columns the caller asked to get back.
	Returning []string
	// Before and After are reads that stand in for a returning clause on
	// dialects without one. The runner puts their rows in Result.Returning.
	Before *Statement
	After  *Statement
	// BatchSize, when positive, makes the runner repeat the statement with
	// the last argument (an offset) advanced by BatchSize until fewer rows
	// than BatchSize are affected.
	BatchSize int
	// RowCountFromResult takes the row count from the first column of the
	// first returned row.
	RowCountFromResult bool
}

// String returns the statement with its arguments inlined, for logs.
func (s *Statement) String() string {
	return Interpolate(s.SQL, s.Args, nil)
}

func (*Statement) isStep() {}

// LastInsertID is an argument marker in follow-up reads. The runner
// replaces it with the id reported by the preceding insert.
var LastInsertID any = lastInsertID{}

type lastInsertID struct{}

func (lastInsertID) String() string { return "last_insert_id" }

// BeforeKeys is an argument marker in follow-up reads. The runner replaces
// it with the key values read by the Before statement.
var BeforeKeys any = beforeKeys{}

type beforeKeys struct{}

func (beforeKeys) String() string { return "before_keys" }

// Binds reports whether marker is one of the arguments of s.
func (s *Statement) Binds(marker any) bool {
	return slices.Index(s.Args, marker) >= 0
}

// BindKeys returns a copy of s with the BeforeKeys argument replaced by
// one binding per key.
func (s *Statement) BindKeys(keys []any) *Statement {
	idx := slices.Index(s.Args, BeforeKeys)
	if idx < 0 || len(keys) == 0 {
		return s
	}
	var (
		b strings.Builder
		n int
	)
	for i := 0; i < len(s.SQL); i++ {
		switch c := s.SQL[i]; {
		case c == '\\' && i+1 < len(s.SQL) && s.SQL[i+1] == '?':
			b.WriteString(`\?`)
			i++
		case c == '?':
			if n == idx {
				b.WriteString(strings.Repeat("?, ", len(keys)-1))
			}
			b.WriteByte('?')
			n++
		default:
			b.WriteByte(c)
		}
	}
	out := *s
	out.SQL = b.String()
	out.Args = slices.Concat(s.Args[:idx:idx], keys, s.Args[idx+1:])
	return &out
}

// Step is one unit of a Plan: a *Statement, a nested *Plan or an *Introspection.
type Step interface {
	isStep()
}

// Plan is the compiled form of a query or schema request.
type Plan struct {
	Steps []Step
	// Transactional runs the steps inside one transaction, or inside a
	// savepoint when a transaction is already active.
	Transactional bool
	// ForeignKeys suspends foreign key enforcement around the plan.
	ForeignKeys *ForeignKeyGuard
}

func (*Plan) isStep() {}

// Statements returns the statements of the plan in execution order.
// Introspection steps contribute their queries only.
func (p *Plan) Statements() []*Statement {
	var out []*Statement
	for _, s := range p.Steps {
		switch s := s.(type) {
		case *Statement:
			out = append(out, s)
		case *Plan:
			out = append(out, s.Statements()...)
		case *Introspection:
			out = append(out, s.Queries...)
		}
	}
	return out
}

// ForeignKeyGuard holds the statements that read, disable and restore
// foreign key enforcement. The runner disables enforcement only when Check
// reports it enabled, and then restores it exactly once.
type ForeignKeyGuard struct {
	Check   *Statement
	Disable *Statement
	Enable  *Statement
}

// Introspection is a step whose plan depends on the current database
// schema. The runner executes Queries, then runs the plan returned by Build.
type Introspection struct {
	Queries []*Statement
	Build   func(results []*dialect.Result) (*Plan, error)
}

func (*Introspection) isStep() {}

// Runner executes compiled plans. It is implemented by the client and by
// transactions.
type Runner interface {
	RunPlan(ctx context.Context, p *Plan) (*dialect.Result, error)
}
