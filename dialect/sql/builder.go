package sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
)

// Builder is a fluent, mutable statement builder. Every method appends to
// the builder and returns it for chaining. Terminal methods take a snapshot
// with Freeze, so mutating the builder afterwards never changes a statement
// that was already compiled.
//
//	b := sql.Dialect(dialect.Postgres).Table("accounts").
//		Where("id", 1).
//		Update(sql.R("first_name", "User", "last_name", "Test"))
//	stmt, err := b.ToSQL()
type Builder struct {
	q        Query
	err      error
	compiler Compiler
	runner   Runner
}

// Table returns an unbound builder selecting from table.
func Table(table any) *Builder {
	b := &Builder{}
	return b.From(table)
}

// DialectBuilder creates builders bound to one dialect compiler.
type DialectBuilder struct {
	compiler Compiler
	runner   Runner
}

// Dialect returns a DialectBuilder for the dialect name.
//
//	sql.Dialect(dialect.MySQL).Table("users").Where("id", 1).ToSQL()
func Dialect(name string, opts ...CompilerOption) *DialectBuilder {
	return &DialectBuilder{compiler: NewCompiler(name, opts...)}
}

// NewDialectBuilder returns a DialectBuilder that compiles with c and runs
// plans with r. Either may be nil.
func NewDialectBuilder(c Compiler, r Runner) *DialectBuilder {
	return &DialectBuilder{compiler: c, runner: r}
}

// Compiler returns the compiler used by the builders.
func (d *DialectBuilder) Compiler() Compiler { return d.compiler }

// Table returns a builder for the table.
func (d *DialectBuilder) Table(table any) *Builder {
	return Table(table).bind(d.compiler, d.runner)
}

// Select returns a builder selecting the columns.
func (d *DialectBuilder) Select(columns ...any) *Builder {
	b := (&Builder{}).bind(d.compiler, d.runner)
	return b.Select(columns...)
}

// Raw returns a builder for a raw statement.
func (d *DialectBuilder) Raw(sql string, args ...any) *Builder {
	b := (&Builder{}).bind(d.compiler, d.runner)
	b.q.method = MethodRaw
	b.q.raw = NewRaw(sql, args...)
	return b
}

// Schema returns a schema builder.
func (d *DialectBuilder) Schema() *SchemaBuilder {
	return (&SchemaBuilder{}).bind(d.compiler, d.runner)
}

func (b *Builder) bind(c Compiler, r Runner) *Builder {
	b.compiler, b.runner = c, r
	return b
}

// Err returns the first validation error recorded by the builder.
func (b *Builder) Err() error { return b.err }

func (b *Builder) fail(op, format string, args ...any) *Builder {
	if b.err == nil {
		b.err = strata.NewValidationError(op, format, args...)
	}
	return b
}

// From sets the table. It must be a non-empty identifier or a *Raw.
func (b *Builder) From(table any) *Builder {
	switch t := table.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return b.fail("table", "table name must not be empty")
		}
		b.q.table = t
	case *Raw:
		b.q.table = t
	default:
		return b.fail("table", "table must be a string or *Raw, got %T", table)
	}
	return b
}

// Into is an alias of From for inserts.
func (b *Builder) Into(table any) *Builder { return b.From(table) }

// Select appends columns to select. Columns are strings ("users.id as uid"),
// *Raw fragments or sub-builders.
func (b *Builder) Select(columns ...any) *Builder {
	b.q.method = MethodSelect
	for _, c := range columns {
		switch c := c.(type) {
		case string:
			if c == "" {
				return b.fail("select", "empty column name")
			}
			b.q.columns = append(b.q.columns, c)
		case *Raw:
			b.q.columns = append(b.q.columns, c)
		case *Builder:
			if c.err != nil {
				return b.fail("select", "%v", c.err)
			}
			b.q.columns = append(b.q.columns, c.Freeze())
		case []string:
			for _, s := range c {
				b.q.columns = append(b.q.columns, s)
			}
		default:
			return b.fail("select", "unsupported column type %T", c)
		}
	}
	return b
}

// Column is an alias of Select.
func (b *Builder) Column(columns ...any) *Builder { return b.Select(columns...) }

// Distinct selects distinct rows, optionally appending columns.
func (b *Builder) Distinct(columns ...any) *Builder {
	b.q.distinct = true
	return b.Select(columns...)
}

// Count selects count(column). With no columns it counts all rows.
// Columns accept an alias: "id as total".
func (b *Builder) Count(columns ...any) *Builder { return b.aggregate("count", false, columns) }

// CountDistinct selects count(distinct column).
func (b *Builder) CountDistinct(columns ...any) *Builder {
	return b.aggregate("count", true, columns)
}

// Min selects min(column).
func (b *Builder) Min(column any) *Builder { return b.aggregate("min", false, []any{column}) }

// Max selects max(column).
func (b *Builder) Max(column any) *Builder { return b.aggregate("max", false, []any{column}) }

// Sum selects sum(column).
func (b *Builder) Sum(column any) *Builder { return b.aggregate("sum", false, []any{column}) }

// Avg selects avg(column).
func (b *Builder) Avg(column any) *Builder { return b.aggregate("avg", false, []any{column}) }

func (b *Builder) aggregate(fn string, distinct bool, columns []any) *Builder {
	b.q.method = MethodSelect
	if len(columns) == 0 {
		columns = []any{"*"}
	}
	for _, c := range columns {
		a := aggregate{fn: fn, distinct: distinct}
		switch c := c.(type) {
		case string:
			if i := aliasIndex(c); i >= 0 {
				a.column, a.alias = strings.TrimSpace(c[:i]), strings.TrimSpace(c[i+4:])
			} else {
				a.column = c
			}
		case *Raw:
			a.column = c
		default:
			return b.fail(fn, "unsupported column type %T", c)
		}
		b.q.columns = append(b.q.columns, a)
	}
	return b
}

// Where adds a predicate joined with and. It accepts:
//
//	Where("id", 1)                    // "id" = ?
//	Where("age", ">", 18)             // "age" > ?
//	Where(sql.NewRaw("a = ?", 1))     // raw fragment
//	Where(func(b *sql.Builder) {...}) // nested group
//	Where(map[string]any{"a": 1})     // and-ed equalities, sorted by column
func (b *Builder) Where(args ...any) *Builder { return b.where(and, false, "where", args) }

// AndWhere is an alias of Where.
func (b *Builder) AndWhere(args ...any) *Builder { return b.Where(args...) }

// OrWhere adds a predicate joined with or.
func (b *Builder) OrWhere(args ...any) *Builder { return b.where(or, false, "orWhere", args) }

// WhereNot adds a negated predicate joined with and.
func (b *Builder) WhereNot(args ...any) *Builder { return b.where(and, true, "whereNot", args) }

// OrWhereNot adds a negated predicate joined with or.
func (b *Builder) OrWhereNot(args ...any) *Builder { return b.where(or, true, "orWhereNot", args) }

func (b *Builder) where(bool string, not bool, op string, args []any) *Builder {
	w, err := b.predicate(bool, not, op, args)
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return b
	}
	if w != nil {
		b.q.wheres = append(b.q.wheres, w...)
	}
	return b
}

// predicate parses the variadic forms accepted by Where and Having.
func (b *Builder) predicate(bool string, not bool, op string, args []any) ([]where, error) {
	switch len(args) {
	case 1:
		switch a := args[0].(type) {
		case *Raw:
			return []where{{kind: whereRaw, bool: bool, not: not, raw: a}}, nil
		case func(*Builder):
			group, err := subGroup(a)
			if err != nil {
				return nil, err
			}
			return []where{{kind: whereGroup, bool: bool, not: not, group: group}}, nil
		case map[string]any:
			return b.predicate(bool, not, op, []any{recordFromMap(a)})
		case Record:
			group := make([]where, 0, len(a))
			for _, p := range a {
				ws, err := b.predicate(and, false, op, []any{p.Column, p.Value})
				if err != nil {
					return nil, err
				}
				group = append(group, ws...)
			}
			if len(group) == 1 {
				group[0].bool, group[0].not = bool, not
				return group, nil
			}
			return []where{{kind: whereGroup, bool: bool, not: not, group: group}}, nil
		}
		return nil, strata.NewValidationError(op, "unsupported predicate type %T", args[0])
	case 2:
		return b.predicate(bool, not, op, []any{args[0], "=", args[1]})
	case 3:
		col, err := columnArg(op, args[0])
		if err != nil {
			return nil, err
		}
		opText, ok := args[1].(string)
		if !ok {
			return nil, strata.NewValidationError(op, "operator must be a string, got %T", args[1])
		}
		sqlOp, ok := normalizeOperator(opText)
		if !ok {
			return nil, strata.NewValidationError(op, "the operator %q is not permitted", opText)
		}
		value, err := valueArg(op, col, args[2])
		if err != nil {
			return nil, err
		}
		w := where{kind: whereBasic, bool: bool, not: not, column: col, op: sqlOp, value: value}
		switch {
		case value == nil && (sqlOp == "=" || sqlOp == "is"):
			w.kind = whereNull
		case value == nil && (sqlOp == "!=" || sqlOp == "<>" || sqlOp == "is not"):
			w.kind, w.not = whereNull, !not
		case sqlOp == "in" || sqlOp == "not in":
			return b.in(bool, not != (sqlOp == "not in"), op, col, value)
		case sqlOp == "between" || sqlOp == "not between":
			vs, ok := expandable(value)
			if !ok || len(vs) != 2 {
				return nil, strata.NewValidationError(op, "between requires exactly two values")
			}
			w.kind, w.values, w.not = whereBetween, vs, not != (sqlOp == "not between")
		}
		return []where{w}, nil
	}
	return nil, strata.NewValidationError(op, "expected 1 to 3 arguments, got %d", len(args))
}

func subGroup(fn func(*Builder)) ([]where, error) {
	child := &Builder{}
	fn(child)
	if child.err != nil {
		return nil, child.err
	}
	return child.q.wheres, nil
}

func columnArg(op string, v any) (any, error) {
	switch c := v.(type) {
	case string:
		if strings.TrimSpace(c) == "" {
			return nil, strata.NewValidationError(op, "empty column name")
		}
		return c, nil
	case *Raw:
		return c, nil
	}
	return nil, strata.NewValidationError(op, "column must be a string or *Raw, got %T", v)
}

// valueArg freezes sub-builders and rejects undefined values.
func valueArg(op string, col, v any) (any, error) {
	switch v := v.(type) {
	case undefined:
		return nil, strata.NewValidationError(op, "undefined binding detected for column %v", col)
	case *Builder:
		if v.err != nil {
			return nil, v.err
		}
		return v.Freeze(), nil
	case func(*Builder):
		sub := &Builder{}
		v(sub)
		if sub.err != nil {
			return nil, sub.err
		}
		return sub.Freeze(), nil
	}
	return v, nil
}

func (b *Builder) in(bool string, not bool, op string, col, values any) ([]where, error) {
	w := where{kind: whereIn, bool: bool, not: not, column: col}
	switch v := values.(type) {
	case *Query:
		w.sub = v
	case *Raw:
		w.raw = v
	default:
		vs, ok := expandable(values)
		if !ok {
			return nil, strata.NewValidationError(op, "in requires a slice, a sub-query or a raw fragment, got %T", values)
		}
		for _, e := range vs {
			if IsUndefined(e) {
				return nil, strata.NewValidationError(op, "undefined binding detected for column %v", col)
			}
		}
		w.values = vs
	}
	return []where{w}, nil
}

// WhereIn adds "column in (...)". Values is a slice, a sub-builder or a *Raw.
func (b *Builder) WhereIn(column any, values any) *Builder {
	return b.whereIn(and, false, "whereIn", column, values)
}

// OrWhereIn adds "column in (...)" joined with or.
func (b *Builder) OrWhereIn(column any, values any) *Builder {
	return b.whereIn(or, false, "orWhereIn", column, values)
}

// WhereNotIn adds "column not in (...)".
func (b *Builder) WhereNotIn(column any, values any) *Builder {
	return b.whereIn(and, true, "whereNotIn", column, values)
}

// OrWhereNotIn adds "column not in (...)" joined with or.
func (b *Builder) OrWhereNotIn(column any, values any) *Builder {
	return b.whereIn(or, true, "orWhereNotIn", column, values)
}

func (b *Builder) whereIn(bool string, not bool, op string, column, values any) *Builder {
	col, err := columnArg(op, column)
	if err == nil {
		values, err = valueArg(op, col, values)
	}
	var ws []where
	if err == nil {
		ws, err = b.in(bool, not, op, col, values)
	}
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return b
	}
	b.q.wheres = append(b.q.wheres, ws...)
	return b
}

// WhereNull adds "column is null".
func (b *Builder) WhereNull(column any) *Builder {
	return b.whereNull(and, false, "whereNull", column)
}

// OrWhereNull adds "column is null" joined with or.
func (b *Builder) OrWhereNull(column any) *Builder {
	return b.whereNull(or, false, "orWhereNull", column)
}

// WhereNotNull adds "column is not null".
func (b *Builder) WhereNotNull(column any) *Builder {
	return b.whereNull(and, true, "whereNotNull", column)
}

// OrWhereNotNull adds "column is not null" joined with or.
func (b *Builder) OrWhereNotNull(column any) *Builder {
	return b.whereNull(or, true, "orWhereNotNull", column)
}

func (b *Builder) whereNull(bool string, not bool, op string, column any) *Builder {
	col, err := columnArg(op, column)
	if err != nil {
		return b.fail(op, "%v", err)
	}
	b.q.wheres = append(b.q.wheres, where{kind: whereNull, bool: bool, not: not, column: col})
	return b
}

// WhereBetween adds "column between ? and ?".
func (b *Builder) WhereBetween(column any, low, high any) *Builder {
	return b.whereBetween(and, false, "whereBetween", column, low, high)
}

// OrWhereBetween adds "column between ? and ?" joined with or.
func (b *Builder) OrWhereBetween(column any, low, high any) *Builder {
	return b.whereBetween(or, false, "orWhereBetween", column, low, high)
}

// WhereNotBetween adds "column not between ? and ?".
func (b *Builder) WhereNotBetween(column any, low, high any) *Builder {
	return b.whereBetween(and, true, "whereNotBetween", column, low, high)
}

func (b *Builder) whereBetween(bool string, not bool, op string, column, low, high any) *Builder {
	ws, err := b.predicate(bool, not, op, []any{column, "between", []any{low, high}})
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return b
	}
	if IsUndefined(low) || IsUndefined(high) {
		return b.fail(op, "undefined binding detected for column %v", column)
	}
	b.q.wheres = append(b.q.wheres, ws...)
	return b
}

// WhereRaw adds a raw predicate.
func (b *Builder) WhereRaw(sql string, args ...any) *Builder {
	return b.Where(NewRaw(sql, args...))
}

// OrWhereRaw adds a raw predicate joined with or.
func (b *Builder) OrWhereRaw(sql string, args ...any) *Builder {
	return b.OrWhere(NewRaw(sql, args...))
}

// WhereExists adds "exists (sub-query)". The argument is a *Builder or a
// func(*Builder) that fills a new one.
func (b *Builder) WhereExists(sub any) *Builder {
	return b.whereExists(and, false, "whereExists", sub)
}

// WhereNotExists adds "not exists (sub-query)".
func (b *Builder) WhereNotExists(sub any) *Builder {
	return b.whereExists(and, true, "whereNotExists", sub)
}

// OrWhereExists adds "exists (sub-query)" joined with or.
func (b *Builder) OrWhereExists(sub any) *Builder {
	return b.whereExists(or, false, "orWhereExists", sub)
}

func (b *Builder) whereExists(bool string, not bool, op string, sub any) *Builder {
	v, err := valueArg(op, "exists", sub)
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return b
	}
	q, ok := v.(*Query)
	if !ok {
		return b.fail(op, "exists requires a sub-query, got %T", sub)
	}
	b.q.wheres = append(b.q.wheres, where{kind: whereExists, bool: bool, not: not, sub: q})
	return b
}

// WhereColumn compares two columns: WhereColumn("a", "b") or
// WhereColumn("a", ">", "b").
func (b *Builder) WhereColumn(first string, args ...string) *Builder {
	return b.whereColumn(and, "whereColumn", first, args)
}

// OrWhereColumn compares two columns joined with or.
func (b *Builder) OrWhereColumn(first string, args ...string) *Builder {
	return b.whereColumn(or, "orWhereColumn", first, args)
}

func (b *Builder) whereColumn(bool, op, first string, args []string) *Builder {
	var opText, second string
	switch len(args) {
	case 1:
		opText, second = "=", args[0]
	case 2:
		opText, second = args[0], args[1]
	default:
		return b.fail(op, "expected 2 or 3 arguments, got %d", len(args)+1)
	}
	sqlOp, ok := normalizeOperator(opText)
	if !ok {
		return b.fail(op, "the operator %q is not permitted", opText)
	}
	if first == "" || second == "" {
		return b.fail(op, "empty column name")
	}
	b.q.wheres = append(b.q.wheres, where{kind: whereColumn, bool: bool, column: first, op: sqlOp, value: second})
	return b
}

// WhereLike adds a case-sensitive like predicate.
func (b *Builder) WhereLike(column any, value any) *Builder {
	return b.whereLike(and, false, "whereLike", column, value)
}

// WhereILike adds a case-insensitive like predicate.
func (b *Builder) WhereILike(column any, value any) *Builder {
	return b.whereLike(and, true, "whereILike", column, value)
}

// OrWhereLike adds a case-sensitive like predicate joined with or.
func (b *Builder) OrWhereLike(column any, value any) *Builder {
	return b.whereLike(or, false, "orWhereLike", column, value)
}

// OrWhereILike adds a case-insensitive like predicate joined with or.
func (b *Builder) OrWhereILike(column any, value any) *Builder {
	return b.whereLike(or, true, "orWhereILike", column, value)
}

func (b *Builder) whereLike(bool string, ci bool, op string, column, value any) *Builder {
	col, err := columnArg(op, column)
	if err == nil {
		value, err = valueArg(op, col, value)
	}
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return b
	}
	b.q.wheres = append(b.q.wheres, where{kind: whereLike, bool: bool, column: col, value: value, ci: ci})
	return b
}

// Join adds an inner join. It accepts:
//
//	Join("contacts", "users.id", "contacts.user_id")
//	Join("contacts", "users.id", "=", "contacts.user_id")
//	Join("contacts", func(j *sql.JoinClause) { j.On("users.id", "contacts.user_id").OrOn(...) })
func (b *Builder) Join(table any, args ...any) *Builder { return b.join(innerJoin, table, args) }

// InnerJoin is an alias of Join.
func (b *Builder) InnerJoin(table any, args ...any) *Builder { return b.join(innerJoin, table, args) }

// LeftJoin adds a left join.
func (b *Builder) LeftJoin(table any, args ...any) *Builder { return b.join(leftJoin, table, args) }

// LeftOuterJoin adds a left outer join.
func (b *Builder) LeftOuterJoin(table any, args ...any) *Builder {
	return b.join(leftOuterJoin, table, args)
}

// RightJoin adds a right join.
func (b *Builder) RightJoin(table any, args ...any) *Builder { return b.join(rightJoin, table, args) }

// RightOuterJoin adds a right outer join.
func (b *Builder) RightOuterJoin(table any, args ...any) *Builder {
	return b.join(rightOuterJoin, table, args)
}

// FullOuterJoin adds a full outer join.
func (b *Builder) FullOuterJoin(table any, args ...any) *Builder {
	return b.join(fullOuterJoin, table, args)
}

// CrossJoin adds a cross join. Conditions are optional.
func (b *Builder) CrossJoin(table any, args ...any) *Builder { return b.join(crossJoin, table, args) }

// JoinRaw adds a raw join clause.
func (b *Builder) JoinRaw(sql string, args ...any) *Builder {
	b.q.joins = append(b.q.joins, join{raw: NewRaw(sql, args...)})
	return b
}

func (b *Builder) join(kind string, table any, args []any) *Builder {
	j := join{kind: kind}
	switch t := table.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return b.fail("join", "table name must not be empty")
		}
		j.table = t
	case *Raw:
		j.table = t
	default:
		return b.fail("join", "table must be a string or *Raw, got %T", table)
	}
	jc := &JoinClause{}
	switch len(args) {
	case 0:
		if kind != crossJoin {
			return b.fail("join", "%s requires a condition", kind)
		}
	case 1:
		fn, ok := args[0].(func(*JoinClause))
		if !ok {
			return b.fail("join", "expected func(*JoinClause), got %T", args[0])
		}
		fn(jc)
	case 2, 3:
		strs := make([]string, len(args))
		for i, a := range args {
			s, ok := a.(string)
			if !ok {
				return b.fail("join", "join columns must be strings, got %T", a)
			}
			strs[i] = s
		}
		jc.On(strs[0], strs[1:]...)
	default:
		return b.fail("join", "expected at most 3 condition arguments, got %d", len(args))
	}
	if jc.err != nil {
		if b.err == nil {
			b.err = jc.err
		}
		return b
	}
	j.on = jc.on
	b.q.joins = append(b.q.joins, j)
	return b
}

// JoinClause collects the conditions of a join.
type JoinClause struct {
	on  []joinOn
	err error
}

func (j *JoinClause) cond(bool, first string, args []string) *JoinClause {
	var opText, second string
	switch len(args) {
	case 1:
		opText, second = "=", args[0]
	case 2:
		opText, second = args[0], args[1]
	default:
		j.setErr(strata.NewValidationError("on", "expected 2 or 3 arguments, got %d", len(args)+1))
		return j
	}
	op, ok := normalizeOperator(opText)
	if !ok {
		j.setErr(strata.NewValidationError("on", "the operator %q is not permitted", opText))
		return j
	}
	j.on = append(j.on, joinOn{bool: bool, first: first, op: op, second: second})
	return j
}

func (j *JoinClause) setErr(err error) {
	if j.err == nil {
		j.err = err
	}
}

// On adds a column comparison: On("a.id", "b.a_id") or On("a.id", "=", "b.a_id").
func (j *JoinClause) On(first string, args ...string) *JoinClause { return j.cond(and, first, args) }

// AndOn is an alias of On.
func (j *JoinClause) AndOn(first string, args ...string) *JoinClause {
	return j.cond(and, first, args)
}

// OrOn adds a column comparison joined with or.
func (j *JoinClause) OrOn(first string, args ...string) *JoinClause { return j.cond(or, first, args) }

// OnVal compares a column with a bound value: OnVal("a.kind", "x") or
// OnVal("a.n", ">", 1).
func (j *JoinClause) OnVal(column string, args ...any) *JoinClause {
	return j.val(and, column, args)
}

// OrOnVal compares a column with a bound value, joined with or.
func (j *JoinClause) OrOnVal(column string, args ...any) *JoinClause {
	return j.val(or, column, args)
}

func (j *JoinClause) val(bool, column string, args []any) *JoinClause {
	var (
		opText = "="
		value  any
	)
	switch len(args) {
	case 1:
		value = args[0]
	case 2:
		s, ok := args[0].(string)
		if !ok {
			j.setErr(strata.NewValidationError("onVal", "operator must be a string, got %T", args[0]))
			return j
		}
		opText, value = s, args[1]
	default:
		j.setErr(strata.NewValidationError("onVal", "expected 2 or 3 arguments, got %d", len(args)+1))
		return j
	}
	op, ok := normalizeOperator(opText)
	if !ok {
		j.setErr(strata.NewValidationError("onVal", "the operator %q is not permitted", opText))
		return j
	}
	if IsUndefined(value) {
		j.setErr(strata.NewValidationError("onVal", "undefined binding detected for column %s", column))
		return j
	}
	j.on = append(j.on, joinOn{bool: bool, first: column, op: op, value: value, isVal: true})
	return j
}

// OnIn adds "column in (...)" to the join.
func (j *JoinClause) OnIn(column string, values any) *JoinClause {
	vs, ok := expandable(values)
	if !ok {
		j.setErr(strata.NewValidationError("onIn", "values must be a slice, got %T", values))
		return j
	}
	j.on = append(j.on, joinOn{bool: and, first: column, values: vs, isIn: true})
	return j
}

// OnNull adds "column is null" to the join.
func (j *JoinClause) OnNull(column string) *JoinClause {
	j.on = append(j.on, joinOn{bool: and, first: column, isNull: true})
	return j
}

// OnNotNull adds "column is not null" to the join.
func (j *JoinClause) OnNotNull(column string) *JoinClause {
	j.on = append(j.on, joinOn{bool: and, first: column, isNull: true, not: true})
	return j
}

// GroupBy appends group by columns.
func (b *Builder) GroupBy(columns ...string) *Builder {
	for _, c := range columns {
		if c == "" {
			return b.fail("groupBy", "empty column name")
		}
		b.q.groups = append(b.q.groups, c)
	}
	return b
}

// GroupByRaw appends a raw group by term.
func (b *Builder) GroupByRaw(sql string, args ...any) *Builder {
	b.q.groups = append(b.q.groups, NewRaw(sql, args...))
	return b
}

// Having adds a having predicate. It accepts the same forms as Where.
func (b *Builder) Having(args ...any) *Builder { return b.having(and, "having", args) }

// OrHaving adds a having predicate joined with or.
func (b *Builder) OrHaving(args ...any) *Builder { return b.having(or, "orHaving", args) }

// HavingRaw adds a raw having predicate.
func (b *Builder) HavingRaw(sql string, args ...any) *Builder {
	return b.Having(NewRaw(sql, args...))
}

// HavingIn adds "column in (...)" to the having clause.
func (b *Builder) HavingIn(column string, values any) *Builder {
	return b.having(and, "havingIn", []any{column, "in", values})
}

func (b *Builder) having(bool, op string, args []any) *Builder {
	ws, err := b.predicate(bool, false, op, args)
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return b
	}
	b.q.havings = append(b.q.havings, ws...)
	return b
}

// OrderBy appends an order by term. The direction is "asc" (default) or "desc".
func (b *Builder) OrderBy(column any, dir ...string) *Builder {
	d := "asc"
	if len(dir) > 0 {
		d = strings.ToLower(strings.TrimSpace(dir[0]))
	}
	if d != "asc" && d != "desc" {
		return b.fail("orderBy", "invalid direction %q", dir[0])
	}
	switch c := column.(type) {
	case string:
		if c == "" {
			return b.fail("orderBy", "empty column name")
		}
	case *Raw:
	default:
		return b.fail("orderBy", "column must be a string or *Raw, got %T", column)
	}
	b.q.orders = append(b.q.orders, order{column: column, dir: d})
	return b
}

// OrderByRaw appends a raw order by term.
func (b *Builder) OrderByRaw(sql string, args ...any) *Builder {
	b.q.orders = append(b.q.orders, order{column: NewRaw(sql, args...)})
	return b
}

// Limit sets the maximum number of rows.
func (b *Builder) Limit(n int) *Builder {
	if n < 0 {
		return b.fail("limit", "limit must not be negative, got %d", n)
	}
	b.q.limit, b.q.hasLimit = n, true
	return b
}

// Offset sets the number of rows to skip.
func (b *Builder) Offset(n int) *Builder {
	if n < 0 {
		return b.fail("offset", "offset must not be negative, got %d", n)
	}
	b.q.offset, b.q.hasOffset = n, true
	return b
}

// ForUpdate locks the selected rows for update.
func (b *Builder) ForUpdate() *Builder {
	b.q.lock = lockForUpdate
	return b
}

// ForShare locks the selected rows in share mode.
func (b *Builder) ForShare() *Builder {
	b.q.lock = lockForShare
	return b
}

// Insert sets the insert payload. Data is a map[string]any, a Record, or a
// slice of either for multi-row inserts.
func (b *Builder) Insert(data any) *Builder {
	b.q.method = MethodInsert
	switch d := data.(type) {
	case map[string]any:
		b.q.rows, b.q.sortColumns = []Record{recordFromMap(d)}, true
	case Record:
		b.q.rows = []Record{d}
	case []map[string]any:
		b.q.rows, b.q.sortColumns = make([]Record, len(d)), true
		for i, m := range d {
			b.q.rows[i] = recordFromMap(m)
		}
	case []Record:
		b.q.rows = d
	default:
		return b.fail("insert", "unsupported insert payload %T", data)
	}
	for _, r := range b.q.rows {
		for _, p := range r {
			if p.Column == "" {
				return b.fail("insert", "empty column name")
			}
		}
	}
	return b
}

// Update sets the update payload. Data is a map[string]any or a Record;
// a Record keeps its column order.
func (b *Builder) Update(data any) *Builder {
	b.q.method = MethodUpdate
	switch d := data.(type) {
	case map[string]any:
		b.q.sets = append(b.q.sets, recordFromMap(d)...)
	case Record:
		b.q.sets = append(b.q.sets, d...)
	default:
		return b.fail("update", "unsupported update payload %T", data)
	}
	for _, p := range b.q.sets {
		if p.Column == "" {
			return b.fail("update", "empty column name")
		}
	}
	return b
}

// Set appends one column assignment to the update payload.
func (b *Builder) Set(column string, value any) *Builder {
	return b.Update(Record{{Column: column, Value: value}})
}

// Increment adds "column = column + amount" to the update payload.
func (b *Builder) Increment(column string, amount any) *Builder {
	return b.Set(column, NewRaw("?? + ?", column, amount))
}

// Decrement adds "column = column - amount" to the update payload.
func (b *Builder) Decrement(column string, amount any) *Builder {
	return b.Set(column, NewRaw("?? - ?", column, amount))
}

// Delete turns the builder into a delete statement.
func (b *Builder) Delete() *Builder {
	b.q.method = MethodDelete
	return b
}

// Truncate turns the builder into a truncate statement.
func (b *Builder) Truncate() *Builder {
	b.q.method = MethodTruncate
	return b
}

// Returning sets the columns returned by insert, update and delete.
func (b *Builder) Returning(columns ...string) *Builder {
	for _, c := range columns {
		if c == "" {
			return b.fail("returning", "empty column name")
		}
	}
	b.q.returning = append(b.q.returning, columns...)
	return b
}

// Clone returns an independent copy of the builder.
func (b *Builder) Clone() *Builder {
	return &Builder{q: *b.q.clone(), err: b.err, compiler: b.compiler, runner: b.runner}
}

// Freeze returns an immutable snapshot of the builder state.
func (b *Builder) Freeze() *Query {
	return b.q.clone()
}

// Plan compiles the builder with its dialect compiler.
func (b *Builder) Plan() (*Plan, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.compiler == nil {
		return nil, strata.NewValidationError("compile", "builder is not bound to a dialect")
	}
	return b.compiler.Compile(b.Freeze())
}

// ToSQL compiles the builder to a single statement. Plans with more than
// one statement, such as chunked inserts, must use Plan.
func (b *Builder) ToSQL() (*Statement, error) {
	p, err := b.Plan()
	if err != nil {
		return nil, err
	}
	if len(p.Steps) != 1 {
		return nil, &strata.CompileError{Dialect: b.compiler.Dialect(), Message: fmt.Sprintf("query compiles to %d statements, use Plan", len(p.Steps))}
	}
	s, ok := p.Steps[0].(*Statement)
	if !ok {
		return nil, &strata.CompileError{Dialect: b.compiler.Dialect(), Message: "query compiles to a multi-step plan, use Plan"}
	}
	return s, nil
}

// String returns the compiled statement with its arguments inlined, or the
// error text.
func (b *Builder) String() string {
	s, err := b.ToSQL()
	if err != nil {
		return err.Error()
	}
	return Interpolate(s.SQL, s.Args, b.compiler.Formatter())
}

// Run compiles the builder and runs it with the bound runner.
func (b *Builder) Run(ctx context.Context) (*dialect.Result, error) {
	p, err := b.Plan()
	if err != nil {
		return nil, err
	}
	if b.runner == nil {
		return nil, strata.NewValidationError("run", "builder is not bound to a client or transaction")
	}
	return b.runner.RunPlan(ctx, p)
}

// First limits the select to one row and runs it. It returns nil when no
// row matches.
func (b *Builder) First(ctx context.Context) (dialect.Row, error) {
	res, err := b.Limit(1).Run(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, nil
	}
	return res.Rows[0], nil
}
