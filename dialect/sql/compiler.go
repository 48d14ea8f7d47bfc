package sql

import (
	"slices"
	"strconv"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
)

// Compiler turns frozen queries and schema requests into plans of dialect
// SQL. Compilation is pure: the same input always yields the same SQL and
// arguments.
type Compiler interface {
	// Dialect returns the dialect name.
	Dialect() string
	// Formatter returns the dialect formatter.
	Formatter() Formatter
	// Compile compiles a query.
	Compile(q *Query) (*Plan, error)
	// CompileSchema compiles a schema request.
	CompileSchema(q *SchemaQuery) (*Plan, error)
	// BeginSQL, CommitSQL and RollbackSQL return the transaction control
	// statements for a transaction at the given depth. Depth 0 is the top
	// level, deeper levels are savepoints. An empty statement sends nothing.
	BeginSQL(depth int) string
	CommitSQL(depth int) string
	RollbackSQL(depth int) string
}

// CompilerOption configures a Compiler.
type CompilerOption func(*compilerConfig)

type compilerConfig struct {
	nullAsDefault     bool
	returningFallback bool
	maxBindings       int
	insertKey         string
}

// WithNullAsDefault compiles undefined payload values to null instead of
// the default keyword.
func WithNullAsDefault() CompilerOption {
	return func(c *compilerConfig) { c.nullAsDefault = true }
}

// WithReturningFallback emulates returning on dialects without it by
// planning follow-up reads.
func WithReturningFallback() CompilerOption {
	return func(c *compilerConfig) { c.returningFallback = true }
}

// WithMaxBindings overrides the dialect limit of bindings per statement.
func WithMaxBindings(n int) CompilerOption {
	return func(c *compilerConfig) {
		if n > 0 {
			c.maxBindings = n
		}
	}
}

// WithInsertKey sets the key column used to read back inserted rows when
// returning is emulated. It defaults to "id".
func WithInsertKey(column string) CompilerOption {
	return func(c *compilerConfig) {
		if column != "" {
			c.insertKey = column
		}
	}
}

// NewCompiler returns the compiler of the dialect. Client aliases such as
// "pg" or "sqlite3" are accepted. Compiling with an unknown dialect fails
// with a CompileError.
func NewCompiler(name string, opts ...CompilerOption) Compiler {
	name = dialect.Normalize(name)
	cfg := compilerConfig{insertKey: "id"}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &compiler{name: name, f: NewFormatter(name).(formatter), cfg: cfg}
	base := baseRules{f: c.f}
	switch name {
	case dialect.Postgres:
		c.r = postgresRules{base}
	case dialect.MySQL:
		c.r = mysqlRules{base}
	case dialect.SQLite:
		c.r = sqliteRules{base}
	case dialect.MSSQL:
		c.r = mssqlRules{base}
	case dialect.Redshift:
		c.r = redshiftRules{postgresRules{base}}
	default:
		c.err = strata.NewCompileError(name, "unsupported dialect")
		c.r = postgresRules{base}
	}
	return c
}

type compiler struct {
	name string
	f    formatter
	cfg  compilerConfig
	r    dialectRules
	err  error
}

func (c *compiler) Dialect() string      { return c.name }
func (c *compiler) Formatter() Formatter { return c.f }

func (c *compiler) BeginSQL(depth int) string    { return c.r.tx().begin(depth) }
func (c *compiler) CommitSQL(depth int) string   { return c.r.tx().commit(depth) }
func (c *compiler) RollbackSQL(depth int) string { return c.r.tx().rollback(depth) }

// maxBindings returns the binding limit per statement.
func (c *compiler) maxBindings() int {
	if c.cfg.maxBindings > 0 {
		return c.cfg.maxBindings
	}
	return c.r.maxBindings()
}

func (c *compiler) compileErr(format string, args ...any) error {
	return strata.NewCompileError(c.name, format, args...)
}

// Compile implements Compiler.
func (c *compiler) Compile(q *Query) (*Plan, error) {
	if c.err != nil {
		return nil, c.err
	}
	if q == nil {
		return nil, strata.NewValidationError("compile", "nil query")
	}
	if q.method != MethodRaw && q.method != MethodSelect && q.table == nil {
		return nil, strata.NewValidationError(q.method.String(), "table name is required")
	}
	switch q.method {
	case MethodSelect:
		return c.one(c.selectStmt(q))
	case MethodInsert:
		return c.insert(q)
	case MethodUpdate:
		return c.one(c.update(q))
	case MethodDelete:
		return c.one(c.delete(q))
	case MethodTruncate:
		return c.one(c.truncate(q))
	case MethodRaw:
		return c.one(c.raw(q))
	}
	return nil, c.compileErr("unsupported method %s", q.method)
}

func (c *compiler) one(s *Statement, err error) (*Plan, error) {
	if err != nil {
		return nil, err
	}
	return &Plan{Steps: []Step{s}}, nil
}

// state holds the output of one compilation.
type state struct {
	*compiler
	sb   strings.Builder
	args []any
	err  error
}

func (c *compiler) newState() *state {
	return &state{compiler: c}
}

func (s *state) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

func (s *state) write(strs ...string) {
	for _, str := range strs {
		s.sb.WriteString(str)
	}
}

func (s *state) bind(v any) {
	s.sb.WriteByte('?')
	s.args = append(s.args, v)
}

// statement returns the compiled statement, or the first recorded error.
func (s *state) statement(m Method, rows bool) (*Statement, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &Statement{SQL: s.sb.String(), Args: s.args, Method: m, Rows: rows}, nil
}

// ident writes a column or table reference.
func (s *state) ident(v any) {
	switch v := v.(type) {
	case string:
		s.write(s.f.Wrap(v))
	case *Raw:
		s.splice(v)
	case *Query:
		s.sub(v)
	default:
		s.fail(strata.NewValidationError("compile", "unsupported identifier type %T", v))
	}
}

func (s *state) idents(vs []string) {
	for i, v := range vs {
		if i > 0 {
			s.write(", ")
		}
		s.write(s.f.Wrap(v))
	}
}

// value writes one binding, or splices raw fragments and sub-queries.
func (s *state) value(v any) {
	switch v := v.(type) {
	case *Raw:
		s.splice(v)
	case *Query:
		s.sub(v)
	case undefined:
		s.fail(strata.NewValidationError("compile", "undefined binding"))
	default:
		s.bind(v)
	}
}

// list writes comma separated bindings.
func (s *state) list(vs []any) {
	for i, v := range vs {
		if i > 0 {
			s.write(", ")
		}
		s.value(v)
	}
}

// splice writes a raw fragment, resolving its identifier bindings and
// expanding slice bindings.
func (s *state) splice(r *Raw) {
	if err := rawArgError(r); err != nil {
		s.fail(strata.NewValidationError("raw", "%s", err.Error()))
		return
	}
	n := 0
	for i := 0; i < len(r.SQL); i++ {
		ch := r.SQL[i]
		switch {
		case ch == '\\' && i+1 < len(r.SQL) && r.SQL[i+1] == '?':
			s.write(`\?`)
			i++
		case ch == '?' && i+1 < len(r.SQL) && r.SQL[i+1] == '?':
			switch id := r.Args[n].(type) {
			case string:
				s.write(s.f.Wrap(id))
			case *Raw:
				s.splice(id)
			default:
				s.fail(strata.NewValidationError("raw", "identifier binding must be a string, got %T", id))
			}
			n++
			i++
		case ch == '?':
			arg := r.Args[n]
			if vs, ok := expandable(arg); ok {
				s.list(vs)
			} else {
				s.value(arg)
			}
			n++
		default:
			s.sb.WriteByte(ch)
		}
	}
}

// sub writes a parenthesized sub-query.
func (s *state) sub(q *Query) {
	s.write("(")
	switch q.method {
	case MethodRaw:
		s.splice(q.raw)
	case MethodSelect:
		s.selectInto(q)
	default:
		s.fail(s.compileErr("sub-query must be a select, got %s", q.method))
	}
	s.write(")")
}

func (s *state) table(q *Query) {
	s.ident(q.table)
}

func (c *compiler) selectStmt(q *Query) (*Statement, error) {
	s := c.newState()
	s.selectInto(q)
	return s.statement(MethodSelect, true)
}

// selectInto writes a select statement.
func (s *state) selectInto(q *Query) {
	s.write("select ")
	if q.distinct {
		s.write("distinct ")
	}
	s.r.top(s, q)
	s.columns(q)
	if q.table != nil {
		s.write(" from ")
		s.table(q)
		s.r.tableHint(s, q)
	}
	s.joins(q)
	s.wheres(" where ", q.wheres)
	s.groupBy(q)
	s.wheres(" having ", q.havings)
	s.orderBy(q)
	s.r.limitOffset(s, q)
	s.r.lock(s, q)
}

func (s *state) columns(q *Query) {
	if len(q.columns) == 0 {
		s.write("*")
		return
	}
	for i, col := range q.columns {
		if i > 0 {
			s.write(", ")
		}
		switch col := col.(type) {
		case aggregate:
			s.write(col.fn, "(")
			if col.distinct {
				s.write("distinct ")
			}
			s.ident(col.column)
			s.write(")")
			if col.alias != "" {
				s.write(" as ", s.f.Quote(col.alias))
			}
		default:
			s.ident(col)
		}
	}
}

func (s *state) joins(q *Query) {
	for _, j := range q.joins {
		s.write(" ")
		if j.raw != nil {
			s.splice(j.raw)
			continue
		}
		if !s.r.supportsJoin(j.kind) {
			s.fail(s.compileErr("%s is not supported", j.kind))
			return
		}
		s.write(j.kind, " ")
		s.ident(j.table)
		for i, on := range j.on {
			if i == 0 {
				s.write(" on ")
			} else {
				s.write(" ", on.bool, " ")
			}
			s.joinOn(on)
		}
	}
}

func (s *state) joinOn(on joinOn) {
	if on.isIn && len(on.values) == 0 {
		s.write("1 = 0")
		return
	}
	s.write(s.f.Wrap(on.first))
	switch {
	case on.isNull && on.not:
		s.write(" is not null")
	case on.isNull:
		s.write(" is null")
	case on.isIn:
		s.write(" in (")
		s.list(on.values)
		s.write(")")
	case on.isVal:
		s.write(" ", on.op, " ")
		s.value(on.value)
	default:
		s.write(" ", on.op, " ", s.f.Wrap(on.second))
	}
}

// wheres writes the predicates prefixed with the clause keyword. Empty
// groups are skipped.
func (s *state) wheres(keyword string, ws []where) {
	first := true
	for _, w := range ws {
		if w.kind == whereGroup && !hasPredicates(w.group) {
			continue
		}
		if first {
			s.write(keyword)
			first = false
		} else {
			s.write(" ", w.bool, " ")
		}
		s.predicate(w)
	}
}

func hasPredicates(ws []where) bool {
	for _, w := range ws {
		if w.kind != whereGroup || hasPredicates(w.group) {
			return true
		}
	}
	return false
}

func (s *state) predicate(w where) {
	switch w.kind {
	case whereBasic:
		if w.not {
			s.write("not ")
		}
		s.ident(w.column)
		s.write(" ", w.op, " ")
		s.value(w.value)
	case whereRaw:
		if w.not {
			s.write("not (")
			s.splice(w.raw)
			s.write(")")
			return
		}
		s.splice(w.raw)
	case whereIn:
		s.in(w)
	case whereNull:
		s.ident(w.column)
		if w.not {
			s.write(" is not null")
		} else {
			s.write(" is null")
		}
	case whereBetween:
		s.ident(w.column)
		if w.not {
			s.write(" not")
		}
		s.write(" between ")
		s.value(w.values[0])
		s.write(" and ")
		s.value(w.values[1])
	case whereGroup:
		if w.not {
			s.write("not ")
		}
		s.write("(")
		s.wheres("", w.group)
		s.write(")")
	case whereExists:
		if w.not {
			s.write("not ")
		}
		s.write("exists ")
		s.sub(w.sub)
	case whereColumn:
		s.ident(w.column)
		s.write(" ", w.op, " ")
		s.ident(w.value)
	case whereLike:
		s.r.like(s, w)
	}
}

func (s *state) in(w where) {
	switch {
	case w.sub != nil:
		s.ident(w.column)
		s.write(inKeyword(w.not))
		s.sub(w.sub)
	case w.raw != nil:
		s.ident(w.column)
		s.write(inKeyword(w.not), "(")
		s.splice(w.raw)
		s.write(")")
	case len(w.values) == 0 && w.not:
		s.write("1 = 1")
	case len(w.values) == 0:
		s.write("1 = 0")
	default:
		s.ident(w.column)
		s.write(inKeyword(w.not), "(")
		s.list(w.values)
		s.write(")")
	}
}

func inKeyword(not bool) string {
	if not {
		return " not in "
	}
	return " in "
}

func (s *state) groupBy(q *Query) {
	for i, g := range q.groups {
		if i == 0 {
			s.write(" group by ")
		} else {
			s.write(", ")
		}
		s.ident(g)
	}
}

func (s *state) orderBy(q *Query) {
	for i, o := range q.orders {
		if i == 0 {
			s.write(" order by ")
		} else {
			s.write(", ")
		}
		s.ident(o.column)
		if o.dir != "" {
			s.write(" ", o.dir)
		}
	}
}

// returning writes a native returning clause.
func (s *state) returning(cols []string) {
	if len(cols) == 0 {
		return
	}
	s.write(" returning ")
	s.idents(cols)
}

// output writes an mssql output clause for the pseudo table.
func (s *state) output(pseudo string, cols []string) {
	if len(cols) == 0 {
		return
	}
	s.write(" output ")
	for i, col := range cols {
		if i > 0 {
			s.write(", ")
		}
		s.write(pseudo, ".", s.f.Wrap(col))
	}
}

// payload writes an insert or update value, substituting undefined values.
func (s *state) payload(v any) {
	if !IsUndefined(v) {
		s.value(v)
		return
	}
	switch {
	case s.cfg.nullAsDefault:
		s.bind(nil)
	case !s.r.supportsDefault():
		s.fail(s.compileErr("default values are not supported, set UseNullAsDefault to insert null for undefined values"))
	default:
		s.write("default")
	}
}

// insert compiles an insert, chunked to the dialect binding limits.
func (c *compiler) insert(q *Query) (*Plan, error) {
	if len(q.returning) > 0 && c.r.returning() == returningNone && !c.cfg.returningFallback {
		return nil, c.compileErr("returning is not supported, enable ReturningFallback to emulate it")
	}
	if len(q.returning) > 0 && c.r.returning() == returningNone && len(q.rows) > 1 {
		return nil, c.compileErr("returning can only be emulated for single row inserts")
	}
	if len(q.returning) > 0 && c.r.returning() == returningNone && !c.r.insertIDs() {
		return nil, c.compileErr("returning cannot be emulated for inserts, the driver reports no insert ids")
	}
	if len(q.rows) == 0 {
		// An empty list of rows inserts nothing.
		return &Plan{}, nil
	}
	cols := insertColumns(q)
	if len(cols) == 0 {
		n := len(q.rows)
		plan := &Plan{Steps: make([]Step, 0, n), Transactional: n > 1}
		for range n {
			st, err := c.emptyInsert(q)
			if err != nil {
				return nil, err
			}
			plan.Steps = append(plan.Steps, st)
		}
		return plan, nil
	}
	limit := c.maxBindings()
	if len(cols) > limit {
		return nil, c.compileErr("a row of %d values exceeds the limit of %d bindings per statement", len(cols), limit)
	}
	per := limit / len(cols)
	if m := c.r.maxRows(); m > 0 && per > m {
		per = m
	}
	plan := &Plan{}
	for chunk := range slices.Chunk(q.rows, per) {
		st, err := c.insertChunk(q, cols, chunk)
		if err != nil {
			return nil, err
		}
		plan.Steps = append(plan.Steps, st)
	}
	plan.Transactional = len(plan.Steps) > 1
	return plan, nil
}

// insertColumns returns the union of the row columns, sorted when every row
// came from a map and in first-seen order otherwise.
func insertColumns(q *Query) []string {
	var (
		cols []string
		seen = make(map[string]bool)
	)
	for _, r := range q.rows {
		for _, p := range r {
			if !seen[p.Column] {
				seen[p.Column] = true
				cols = append(cols, p.Column)
			}
		}
	}
	if q.sortColumns {
		slices.Sort(cols)
	}
	return cols
}

func (c *compiler) emptyInsert(q *Query) (*Statement, error) {
	s := c.newState()
	s.write("insert into ")
	s.table(q)
	native := s.insertReturning(q)
	s.r.emptyInsert(s)
	if native && c.r.returning() == returningClause {
		s.returning(q.returning)
	}
	return s.insertStatement(q, native)
}

func (c *compiler) insertChunk(q *Query, cols []string, rows []Record) (*Statement, error) {
	s := c.newState()
	s.write("insert into ")
	s.table(q)
	s.write(" (")
	s.idents(cols)
	s.write(")")
	native := s.insertReturning(q)
	s.write(" values ")
	for i, r := range rows {
		if i > 0 {
			s.write(", ")
		}
		s.write("(")
		for j, col := range cols {
			if j > 0 {
				s.write(", ")
			}
			v, ok := r.Get(col)
			if !ok {
				v = Undefined
			}
			s.payload(v)
		}
		s.write(")")
	}
	if native && c.r.returning() == returningClause {
		s.returning(q.returning)
	}
	return s.insertStatement(q, native)
}

// insertReturning writes an output clause where the dialect places it
// before the values and reports whether returning is native.
func (s *state) insertReturning(q *Query) bool {
	if len(q.returning) == 0 {
		return false
	}
	switch s.r.returning() {
	case returningOutput:
		s.output("inserted", q.returning)
		return true
	case returningClause:
		return true
	}
	return false
}

func (s *state) insertStatement(q *Query, native bool) (*Statement, error) {
	st, err := s.statement(MethodInsert, native)
	if err != nil {
		return nil, err
	}
	st.Returning = q.returning
	if len(q.returning) > 0 && !native {
		r := s.newState()
		r.write("select ")
		r.idents(q.returning)
		r.write(" from ")
		r.table(q)
		r.write(" where ", s.f.Wrap(s.cfg.insertKey), " = ")
		r.bind(LastInsertID)
		if st.After, err = r.statement(MethodSelect, true); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// fallbackRead returns a select of cols over the rows q writes, used to
// emulate returning.
func (c *compiler) fallbackRead(q *Query, cols []string) (*Statement, error) {
	s := c.newState()
	s.write("select ")
	s.idents(cols)
	s.write(" from ")
	s.table(q)
	s.wheres(" where ", q.wheres)
	s.r.writeOrderLimit(s, q)
	return s.statement(MethodSelect, true)
}

// keyedRead returns a select of the returning columns of the rows whose
// key was read before the write. The runner expands BeforeKeys.
func (c *compiler) keyedRead(q *Query) (*Statement, error) {
	s := c.newState()
	s.write("select ")
	s.idents(q.returning)
	s.write(" from ")
	s.table(q)
	s.write(" where ", s.f.Wrap(c.cfg.insertKey), " in (")
	s.bind(BeforeKeys)
	s.write(")")
	return s.statement(MethodSelect, true)
}

func (c *compiler) checkReturning(q *Query) error {
	if len(q.returning) > 0 && c.r.returning() == returningNone && !c.cfg.returningFallback {
		return c.compileErr("returning is not supported, enable ReturningFallback to emulate it")
	}
	return nil
}

func (c *compiler) update(q *Query) (*Statement, error) {
	if len(q.sets) == 0 {
		return nil, strata.NewValidationError("update", "empty update payload")
	}
	if len(q.joins) > 0 {
		return nil, c.compileErr("update with joins is not supported")
	}
	if err := c.checkReturning(q); err != nil {
		return nil, err
	}
	s := c.newState()
	s.write("update ")
	s.table(q)
	s.write(" set ")
	for i, p := range q.sets {
		if i > 0 {
			s.write(", ")
		}
		s.write(s.f.Wrap(p.Column), " = ")
		s.payload(p.Value)
	}
	rows := s.writeReturningHead("inserted", q)
	s.wheres(" where ", q.wheres)
	s.r.writeOrderLimit(s, q)
	rows = s.writeReturningTail(q) || rows
	st, err := s.statement(MethodUpdate, rows)
	if err != nil {
		return nil, err
	}
	return c.finishWrite(st, q)
}

func (c *compiler) delete(q *Query) (*Statement, error) {
	if len(q.joins) > 0 {
		return nil, c.compileErr("delete with joins is not supported")
	}
	if err := c.checkReturning(q); err != nil {
		return nil, err
	}
	s := c.newState()
	s.write("delete from ")
	s.table(q)
	rows := s.writeReturningHead("deleted", q)
	s.wheres(" where ", q.wheres)
	s.r.writeOrderLimit(s, q)
	rows = s.writeReturningTail(q) || rows
	st, err := s.statement(MethodDelete, rows)
	if err != nil {
		return nil, err
	}
	return c.finishWrite(st, q)
}

// writeReturningHead writes an mssql output clause, which precedes the
// where clause.
func (s *state) writeReturningHead(pseudo string, q *Query) bool {
	if len(q.returning) > 0 && s.r.returning() == returningOutput {
		s.output(pseudo, q.returning)
		return true
	}
	return false
}

// writeReturningTail writes a trailing returning clause, or the row count
// select of dialects whose affected count is unreliable.
func (s *state) writeReturningTail(q *Query) bool {
	switch s.r.returning() {
	case returningClause:
		if len(q.returning) > 0 {
			s.returning(q.returning)
			return true
		}
	case returningOutput:
		if len(q.returning) == 0 {
			s.write(";select @@rowcount")
			return true
		}
	}
	return false
}

// finishWrite attaches the returning metadata and follow-up reads of an
// update or delete.
func (c *compiler) finishWrite(st *Statement, q *Query) (*Statement, error) {
	st.Returning = q.returning
	st.RowCountFromResult = c.r.returning() == returningOutput && len(q.returning) == 0
	if len(q.returning) == 0 || c.r.returning() != returningNone {
		return st, nil
	}
	if q.method == MethodDelete {
		read, err := c.fallbackRead(q, q.returning)
		if err != nil {
			return nil, err
		}
		st.Before = read
		return st, nil
	}
	// The update may change the columns its where clause matches on, so
	// the keys of the matched rows are read first.
	keys, err := c.fallbackRead(q, []string{c.cfg.insertKey})
	if err != nil {
		return nil, err
	}
	read, err := c.keyedRead(q)
	if err != nil {
		return nil, err
	}
	st.Before, st.After = keys, read
	return st, nil
}

func (c *compiler) truncate(q *Query) (*Statement, error) {
	if len(q.returning) > 0 {
		return nil, c.compileErr("truncate does not support returning")
	}
	s := c.newState()
	s.r.truncate(s, q)
	return s.statement(MethodTruncate, false)
}

func (c *compiler) raw(q *Query) (*Statement, error) {
	if q.raw == nil {
		return nil, strata.NewValidationError("raw", "empty raw statement")
	}
	s := c.newState()
	s.splice(q.raw)
	return s.statement(MethodRaw, rawReturnsRows(q.raw.SQL))
}

// rawReturnsRows reports whether a raw statement produces rows.
func rawReturnsRows(sql string) bool {
	t := strings.ToLower(strings.TrimSpace(sql))
	for _, prefix := range []string{"select", "with", "pragma", "show", "values", "explain", "exec", "describe", "desc "} {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return strings.Contains(t, " returning ") || strings.Contains(t, " output ")
}

// savepoint returns the savepoint name of a nested transaction.
func savepoint(depth int) string {
	return "sp_" + strconv.Itoa(depth)
}
