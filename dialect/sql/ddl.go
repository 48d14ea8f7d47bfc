package sql

import (
	"fmt"
	"strings"

	"github.com/syssam/strata"
)

// ddlRules renders the schema statements of a dialect.
type ddlRules interface {
	columnType(c *ColumnDef) string
	// modifiers returns the column modifiers with a leading space.
	modifiers(c *ColumnDef) string
	createTable(table string, ifNotExists bool, body string) string
	createTableSuffix(t *TableDef) string
	tableComment(table, comment string, create bool) *Statement
	columnComment(table string, c *ColumnDef) *Statement
	inlineForeignKeys() bool
	addColumns(table string, defs []string) []*Statement
	alterColumn(table string, c *ColumnDef, typ string) []*Statement
	dropColumns(table string, columns []string) []*Statement
	renameColumn(table, from, to string) *Statement
	index(table, name string, columns []string) *Statement
	unique(table, name string, columns []string) *Statement
	primary(table, name string, columns []string) *Statement
	foreign(table string, fk *ForeignDef) *Statement
	dropIndex(table, name string) *Statement
	dropUnique(table, name string) *Statement
	dropPrimary(table, name string) *Statement
	dropForeign(table, name string) *Statement
	dropTable(table string, ifExists bool) *Statement
	renameTable(from, to string) *Statement
	hasTable(table string) *Statement
	hasColumn(table, column string) *Statement
	// rebuilds reports whether the command needs a table rebuild.
	rebuilds(kind commandKind) bool
}

// ddl returns a schema statement.
func ddl(sql string, args ...any) *Statement {
	return &Statement{SQL: sql, Args: args, Method: MethodSchema}
}

// ddlQuery returns a schema statement that reads rows.
func ddlQuery(sql string, args ...any) *Statement {
	s := ddl(sql, args...)
	s.Rows = true
	return s
}

// indexName returns the default name of an index or constraint.
func indexName(table string, columns []string, typ string) string {
	name := table + "_" + strings.Join(columns, "_") + "_" + typ
	return strings.NewReplacer(".", "_", "-", "_").Replace(strings.ToLower(name))
}

func primaryName(table string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(strings.ToLower(table)) + "_pkey"
}

// CompileSchema implements Compiler.
func (c *compiler) CompileSchema(q *SchemaQuery) (*Plan, error) {
	if c.err != nil {
		return nil, c.err
	}
	if q == nil {
		return nil, strata.NewValidationError("compile", "nil schema query")
	}
	plan := &Plan{}
	for _, op := range q.ops {
		st, err := c.schemaOp(op)
		if err != nil {
			return nil, err
		}
		plan.Steps = append(plan.Steps, st...)
	}
	return plan, nil
}

func (c *compiler) schemaOp(op schemaOp) ([]Step, error) {
	switch op.kind {
	case schemaCreate, schemaCreateIfNotExists:
		return c.createTable(op.def, op.kind == schemaCreateIfNotExists)
	case schemaAlter:
		return c.alterTable(op.def)
	case schemaDrop, schemaDropIfExists:
		return steps(c.r.dropTable(op.table, op.kind == schemaDropIfExists)), nil
	case schemaRename:
		return steps(c.r.renameTable(op.table, op.to)), nil
	case schemaHasTable:
		return steps(c.r.hasTable(op.table)), nil
	case schemaHasColumn:
		return steps(c.r.hasColumn(op.table, op.column)), nil
	case schemaRaw:
		s := c.newState()
		s.splice(op.raw)
		st, err := s.statement(MethodSchema, rawReturnsRows(op.raw.SQL))
		if err != nil {
			return nil, err
		}
		return steps(st), nil
	}
	return nil, c.compileErr("unsupported schema operation %d", op.kind)
}

// steps converts statements to plan steps, skipping nil statements.
func steps(sts ...*Statement) []Step {
	out := make([]Step, 0, len(sts))
	for _, s := range sts {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// columnDef renders a column definition.
func (c *compiler) columnDef(col *ColumnDef) string {
	return c.f.Wrap(col.Name) + " " + c.r.columnType(col) + c.r.modifiers(col)
}

func (c *compiler) createTable(t *TableDef, ifNotExists bool) ([]Step, error) {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, col := range t.Columns {
		defs = append(defs, c.columnDef(col))
	}
	var (
		pk   *tableCommand
		rest []tableCommand
	)
	for i, cmd := range t.commands {
		switch {
		case cmd.kind == cmdPrimary:
			pk = &t.commands[i]
		case cmd.kind == cmdForeign && c.r.inlineForeignKeys():
			defs = append(defs, c.foreignClause(t.Name, cmd.foreign))
		default:
			rest = append(rest, cmd)
		}
	}
	if pk != nil && !c.inlinePrimary(t, pk.columns) {
		name := pk.name
		if name == "" {
			name = primaryName(t.Name)
		}
		defs = append(defs, "constraint "+c.f.Quote(name)+" primary key ("+c.quoteList(pk.columns)+")")
	}
	sql := c.r.createTable(t.Name, ifNotExists, strings.Join(defs, ", ")) + c.r.createTableSuffix(t)
	out := steps(ddl(sql))
	if t.Comment != nil {
		out = append(out, steps(c.r.tableComment(t.Name, *t.Comment, true))...)
	}
	for _, col := range t.Columns {
		if col.Comment != "" {
			out = append(out, steps(c.r.columnComment(t.Name, col))...)
		}
	}
	for _, cmd := range rest {
		st, err := c.command(t.Name, cmd)
		if err != nil {
			return nil, err
		}
		out = append(out, st...)
	}
	return out, nil
}

// inlinePrimary reports whether the primary key is the single incrementing
// column, whose type already declares it.
func (c *compiler) inlinePrimary(t *TableDef, columns []string) bool {
	if len(columns) != 1 {
		return false
	}
	for _, col := range t.Columns {
		if col.Name == columns[0] {
			return col.incrementing()
		}
	}
	return false
}

func (c *compiler) alterTable(t *TableDef) ([]Step, error) {
	var (
		out     []Step
		added   []string
		altered []*ColumnDef
	)
	for _, col := range t.Columns {
		if col.Alter {
			altered = append(altered, col)
			continue
		}
		added = append(added, c.columnDef(col))
	}
	if len(added) > 0 {
		out = append(out, steps(c.r.addColumns(t.Name, added)...)...)
		for _, col := range t.Columns {
			if !col.Alter && col.Comment != "" {
				out = append(out, steps(c.r.columnComment(t.Name, col))...)
			}
		}
	}
	if len(altered) > 0 {
		if c.r.rebuilds(cmdAlterColumn) {
			out = append(out, c.rebuild(t.Name, rebuildChange{altered: altered}))
		} else {
			for _, col := range altered {
				out = append(out, steps(c.r.alterColumn(t.Name, col, c.r.columnType(col))...)...)
			}
		}
	}
	if t.Comment != nil {
		out = append(out, steps(c.r.tableComment(t.Name, *t.Comment, false))...)
	}
	for _, cmd := range t.commands {
		if c.r.rebuilds(cmd.kind) {
			out = append(out, c.rebuild(t.Name, rebuildChange{command: cmd}))
			continue
		}
		st, err := c.command(t.Name, cmd)
		if err != nil {
			return nil, err
		}
		out = append(out, st...)
	}
	return out, nil
}

// command compiles one table command without a rebuild.
func (c *compiler) command(table string, cmd tableCommand) ([]Step, error) {
	name := func(typ string) string {
		if cmd.name != "" {
			return cmd.name
		}
		return indexName(table, cmd.columns, typ)
	}
	switch cmd.kind {
	case cmdDropColumn:
		return steps(c.r.dropColumns(table, cmd.columns)...), nil
	case cmdRenameColumn:
		return steps(c.r.renameColumn(table, cmd.columns[0], cmd.to)), nil
	case cmdIndex:
		return steps(c.r.index(table, name("index"), cmd.columns)), nil
	case cmdUnique:
		return steps(c.r.unique(table, name("unique"), cmd.columns)), nil
	case cmdPrimary:
		pk := cmd.name
		if pk == "" {
			pk = primaryName(table)
		}
		return steps(c.r.primary(table, pk, cmd.columns)), nil
	case cmdForeign:
		fk := *cmd.foreign
		if fk.Name == "" {
			fk.Name = indexName(table, fk.Columns, "foreign")
		}
		return steps(c.r.foreign(table, &fk)), nil
	case cmdDropIndex:
		return steps(c.r.dropIndex(table, name("index"))), nil
	case cmdDropUnique:
		return steps(c.r.dropUnique(table, name("unique"))), nil
	case cmdDropPrimary:
		pk := cmd.name
		if pk == "" {
			pk = primaryName(table)
		}
		return steps(c.r.dropPrimary(table, pk)), nil
	case cmdDropForeign:
		return steps(c.r.dropForeign(table, name("foreign"))), nil
	}
	return nil, c.compileErr("unsupported table command %d", cmd.kind)
}

func (c *compiler) quoteList(columns []string) string {
	return quoteList(c.f, columns)
}

func quoteList(f formatter, columns []string) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = f.Wrap(col)
	}
	return strings.Join(parts, ", ")
}

// foreignClause renders an inline foreign key constraint.
func (c *compiler) foreignClause(table string, fk *ForeignDef) string {
	name := fk.Name
	if name == "" {
		name = indexName(table, fk.Columns, "foreign")
	}
	return "constraint " + c.f.Quote(name) + " " + references(c.f, fk)
}

// references renders "foreign key (a) references t (b)" with its actions.
func references(f formatter, fk *ForeignDef) string {
	var b strings.Builder
	b.WriteString("foreign key (")
	b.WriteString(quoteList(f, fk.Columns))
	b.WriteString(") references ")
	b.WriteString(f.WrapTable(fk.RefTable))
	b.WriteString(" (")
	b.WriteString(quoteList(f, fk.RefColumns))
	b.WriteString(")")
	if fk.OnDelete != "" {
		b.WriteString(" on delete " + string(fk.OnDelete))
	}
	if fk.OnUpdate != "" {
		b.WriteString(" on update " + string(fk.OnUpdate))
	}
	return b.String()
}

// defaultLiteral renders a column default. Raw defaults are emitted with
// their bindings inlined.
func defaultLiteral(f formatter, v any) string {
	if r, ok := v.(*Raw); ok {
		return strings.ReplaceAll(Interpolate(r.SQL, r.Args, f), "?", `\?`)
	}
	return f.Literal(v)
}

// The base schema rules follow postgres.

func (r baseRules) columnType(c *ColumnDef) string {
	switch c.Kind {
	case KindIncrements:
		return "serial primary key"
	case KindBigIncrements:
		return "bigserial primary key"
	case KindInteger:
		return "integer"
	case KindBigInteger:
		return "bigint"
	case KindString:
		return fmt.Sprintf("varchar(%d)", c.Length)
	case KindText:
		return "text"
	case KindBoolean:
		return "boolean"
	case KindDate:
		return "date"
	case KindDateTime, KindTimestamp:
		return "timestamptz"
	case KindDecimal:
		return fmt.Sprintf("decimal(%d, %d)", c.Precision, c.Scale)
	case KindFloat:
		return "real"
	case KindJSON:
		return "json"
	case KindUUID:
		return "uuid"
	case KindBinary:
		return "bytea"
	case KindSpecific:
		return c.Type
	}
	return "text"
}

func (r baseRules) modifiers(c *ColumnDef) string {
	if c.incrementing() {
		return ""
	}
	return nullable(c) + r.defaultTo(c)
}

func nullable(c *ColumnDef) string {
	switch {
	case c.Nullable == nil:
		return ""
	case *c.Nullable:
		return " null"
	default:
		return " not null"
	}
}

func (r baseRules) defaultTo(c *ColumnDef) string {
	if !c.HasDefault {
		return ""
	}
	return " default " + defaultLiteral(r.f, c.Default)
}

func (r baseRules) createTable(table string, ifNotExists bool, body string) string {
	sql := "create table "
	if ifNotExists {
		sql += "if not exists "
	}
	return sql + r.f.WrapTable(table) + " (" + body + ")"
}

func (baseRules) createTableSuffix(*TableDef) string { return "" }

func (r baseRules) tableComment(table, comment string, _ bool) *Statement {
	return ddl("comment on table " + r.f.WrapTable(table) + " is " + r.f.Literal(comment))
}

func (r baseRules) columnComment(table string, c *ColumnDef) *Statement {
	return ddl("comment on column " + r.f.WrapTable(table) + "." + r.f.Quote(c.Name) + " is " + r.f.Literal(c.Comment))
}

func (baseRules) inlineForeignKeys() bool { return false }

func (r baseRules) alterPrefix(table string) string {
	return "alter table " + r.f.WrapTable(table) + " "
}

func (r baseRules) addColumns(table string, defs []string) []*Statement {
	return []*Statement{ddl(r.alterPrefix(table) + "add column " + strings.Join(defs, ", add column "))}
}

// alterColumn changes type, nullability and default in separate steps so
// each can fail independently.
func (r baseRules) alterColumn(table string, c *ColumnDef, typ string) []*Statement {
	prefix := r.alterPrefix(table) + "alter column " + r.f.Quote(c.Name) + " "
	out := []*Statement{
		ddl(prefix + "drop default"),
		ddl(prefix + "drop not null"),
		ddl(prefix + "type " + typ + " using (" + r.f.Quote(c.Name) + "::" + typ + ")"),
	}
	if c.HasDefault {
		out = append(out, ddl(prefix+"set default "+defaultLiteral(r.f, c.Default)))
	}
	if c.notNull() {
		out = append(out, ddl(prefix+"set not null"))
	}
	return out
}

func (r baseRules) dropColumns(table string, columns []string) []*Statement {
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = "drop column " + r.f.Wrap(col)
	}
	return []*Statement{ddl(r.alterPrefix(table) + strings.Join(parts, ", "))}
}

func (r baseRules) renameColumn(table, from, to string) *Statement {
	return ddl(r.alterPrefix(table) + "rename " + r.f.Wrap(from) + " to " + r.f.Wrap(to))
}

func (r baseRules) index(table, name string, columns []string) *Statement {
	return ddl("create index " + r.f.Quote(name) + " on " + r.f.WrapTable(table) + " (" + quoteList(r.f, columns) + ")")
}

func (r baseRules) unique(table, name string, columns []string) *Statement {
	return ddl(r.alterPrefix(table) + "add constraint " + r.f.Quote(name) + " unique (" + quoteList(r.f, columns) + ")")
}

func (r baseRules) primary(table, name string, columns []string) *Statement {
	return ddl(r.alterPrefix(table) + "add constraint " + r.f.Quote(name) + " primary key (" + quoteList(r.f, columns) + ")")
}

func (r baseRules) foreign(table string, fk *ForeignDef) *Statement {
	return ddl(r.alterPrefix(table) + "add constraint " + r.f.Quote(fk.Name) + " " + references(r.f, fk))
}

func (r baseRules) dropIndex(_, name string) *Statement {
	return ddl("drop index " + r.f.Quote(name))
}

func (r baseRules) dropConstraint(table, name string) *Statement {
	return ddl(r.alterPrefix(table) + "drop constraint " + r.f.Quote(name))
}

func (r baseRules) dropUnique(table, name string) *Statement  { return r.dropConstraint(table, name) }
func (r baseRules) dropPrimary(table, name string) *Statement { return r.dropConstraint(table, name) }
func (r baseRules) dropForeign(table, name string) *Statement { return r.dropConstraint(table, name) }

func (r baseRules) dropTable(table string, ifExists bool) *Statement {
	if ifExists {
		return ddl("drop table if exists " + r.f.WrapTable(table))
	}
	return ddl("drop table " + r.f.WrapTable(table))
}

func (r baseRules) renameTable(from, to string) *Statement {
	return ddl(r.alterPrefix(from) + "rename to " + r.f.Wrap(to))
}

func (baseRules) hasTable(table string) *Statement {
	return ddlQuery("select * from information_schema.tables where table_name = ? and table_schema = current_schema()", table)
}

func (baseRules) hasColumn(table, column string) *Statement {
	return ddlQuery("select * from information_schema.columns where table_name = ? and column_name = ? and table_schema = current_schema()", table, column)
}

func (baseRules) rebuilds(commandKind) bool { return false }
