package sql

import (
	"context"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
)

// ReferenceOption is a foreign key action for on delete and on update.
type ReferenceOption string

// Foreign key actions.
const (
	Cascade    ReferenceOption = "cascade"
	SetNull    ReferenceOption = "set null"
	Restrict   ReferenceOption = "restrict"
	SetDefault ReferenceOption = "set default"
	NoAction   ReferenceOption = "no action"
)

func (o ReferenceOption) valid() bool {
	switch o {
	case "", Cascade, SetNull, Restrict, SetDefault, NoAction:
		return true
	}
	return false
}

// ColumnKind is the abstract type of a column.
type ColumnKind uint8

// Column kinds.
const (
	KindIncrements ColumnKind = iota + 1
	KindBigIncrements
	KindInteger
	KindBigInteger
	KindString
	KindText
	KindBoolean
	KindDate
	KindDateTime
	KindTimestamp
	KindDecimal
	KindFloat
	KindJSON
	KindUUID
	KindBinary
	KindSpecific
)

// ColumnDef is the definition of a column in a schema request.
type ColumnDef struct {
	Name      string
	Kind      ColumnKind
	Length    int
	Precision int
	Scale     int
	// Type is the database type of KindSpecific columns.
	Type     string
	Nullable *bool
	Default  any
	// HasDefault distinguishes a nil default (default null) from no default.
	HasDefault bool
	Unsigned   bool
	Comment    string
	// Alter changes an existing column instead of adding one.
	Alter bool
}

// incrementing reports whether the column is an auto-incrementing primary key.
func (c *ColumnDef) incrementing() bool {
	return c.Kind == KindIncrements || c.Kind == KindBigIncrements
}

// notNull reports whether the column was declared not nullable.
func (c *ColumnDef) notNull() bool {
	return c.Nullable != nil && !*c.Nullable
}

// ForeignDef is a foreign key constraint.
type ForeignDef struct {
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
	OnDelete   ReferenceOption
	OnUpdate   ReferenceOption
}

type commandKind uint8

const (
	cmdDropColumn commandKind = iota + 1
	cmdRenameColumn
	cmdIndex
	cmdUnique
	cmdPrimary
	cmdForeign
	cmdDropIndex
	cmdDropUnique
	cmdDropPrimary
	cmdDropForeign
	cmdAlterColumn
)

// tableCommand is a table level operation of a create or alter request.
type tableCommand struct {
	kind    commandKind
	columns []string
	name    string
	to      string
	foreign *ForeignDef
}

// TableDef is the body of a create or alter table request.
type TableDef struct {
	Name     string
	Columns  []*ColumnDef
	Comment  *string
	commands []tableCommand
}

type schemaKind uint8

const (
	schemaCreate schemaKind = iota + 1
	schemaCreateIfNotExists
	schemaAlter
	schemaDrop
	schemaDropIfExists
	schemaRename
	schemaHasTable
	schemaHasColumn
	schemaRaw
)

type schemaOp struct {
	kind   schemaKind
	table  string
	to     string
	column string
	def    *TableDef
	raw    *Raw
}

// SchemaQuery is an immutable snapshot of a schema builder.
type SchemaQuery struct {
	ops []schemaOp
}

// SchemaBuilder builds schema requests. Like Builder, it records the first
// invalid input and reports it from the terminal call.
//
//	sql.Dialect(dialect.Postgres).Schema().
//		CreateTable("users", func(t *sql.TableBuilder) {
//			t.Increments("id")
//			t.String("email").NotNullable().Unique()
//		})
type SchemaBuilder struct {
	q        SchemaQuery
	err      error
	compiler Compiler
	runner   Runner
}

func (b *SchemaBuilder) bind(c Compiler, r Runner) *SchemaBuilder {
	b.compiler, b.runner = c, r
	return b
}

// Err returns the first validation error recorded by the builder.
func (b *SchemaBuilder) Err() error { return b.err }

func (b *SchemaBuilder) fail(err error) *SchemaBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

func (b *SchemaBuilder) table(op, name string, kind schemaKind, fn func(*TableBuilder)) *SchemaBuilder {
	if strings.TrimSpace(name) == "" {
		return b.fail(strata.NewValidationError(op, "table name must not be empty"))
	}
	t := &TableBuilder{def: &TableDef{Name: name}, alter: kind == schemaAlter}
	if fn != nil {
		fn(t)
	}
	if t.err != nil {
		return b.fail(t.err)
	}
	if err := validateTable(t.def, kind != schemaAlter); err != nil {
		return b.fail(err)
	}
	b.q.ops = append(b.q.ops, schemaOp{kind: kind, table: name, def: t.def})
	return b
}

// CreateTable creates a table.
func (b *SchemaBuilder) CreateTable(name string, fn func(*TableBuilder)) *SchemaBuilder {
	return b.table("createTable", name, schemaCreate, fn)
}

// CreateTableIfNotExists creates a table unless it exists.
func (b *SchemaBuilder) CreateTableIfNotExists(name string, fn func(*TableBuilder)) *SchemaBuilder {
	return b.table("createTableIfNotExists", name, schemaCreateIfNotExists, fn)
}

// AlterTable changes an existing table.
func (b *SchemaBuilder) AlterTable(name string, fn func(*TableBuilder)) *SchemaBuilder {
	return b.table("alterTable", name, schemaAlter, fn)
}

// Table is an alias of AlterTable.
func (b *SchemaBuilder) Table(name string, fn func(*TableBuilder)) *SchemaBuilder {
	return b.AlterTable(name, fn)
}

func (b *SchemaBuilder) simple(op string, kind schemaKind, table, other string) *SchemaBuilder {
	if strings.TrimSpace(table) == "" {
		return b.fail(strata.NewValidationError(op, "table name must not be empty"))
	}
	o := schemaOp{kind: kind, table: table}
	switch kind {
	case schemaRename:
		if strings.TrimSpace(other) == "" {
			return b.fail(strata.NewValidationError(op, "new table name must not be empty"))
		}
		o.to = other
	case schemaHasColumn:
		if strings.TrimSpace(other) == "" {
			return b.fail(strata.NewValidationError(op, "column name must not be empty"))
		}
		o.column = other
	}
	b.q.ops = append(b.q.ops, o)
	return b
}

// DropTable drops a table.
func (b *SchemaBuilder) DropTable(name string) *SchemaBuilder {
	return b.simple("dropTable", schemaDrop, name, "")
}

// DropTableIfExists drops a table if it exists.
func (b *SchemaBuilder) DropTableIfExists(name string) *SchemaBuilder {
	return b.simple("dropTableIfExists", schemaDropIfExists, name, "")
}

// RenameTable renames a table.
func (b *SchemaBuilder) RenameTable(from, to string) *SchemaBuilder {
	return b.simple("renameTable", schemaRename, from, to)
}

// HasTable checks whether a table exists. The check returns one row per
// match.
func (b *SchemaBuilder) HasTable(name string) *SchemaBuilder {
	return b.simple("hasTable", schemaHasTable, name, "")
}

// HasColumn checks whether a table has a column. The check returns one row
// per match.
func (b *SchemaBuilder) HasColumn(table, column string) *SchemaBuilder {
	return b.simple("hasColumn", schemaHasColumn, table, column)
}

// Raw appends a raw schema statement.
func (b *SchemaBuilder) Raw(sql string, args ...any) *SchemaBuilder {
	b.q.ops = append(b.q.ops, schemaOp{kind: schemaRaw, raw: NewRaw(sql, args...)})
	return b
}

// Freeze returns an immutable snapshot of the builder state.
func (b *SchemaBuilder) Freeze() *SchemaQuery {
	ops := make([]schemaOp, len(b.q.ops))
	for i, o := range b.q.ops {
		o.def = o.def.clone()
		o.raw = o.raw.clone()
		ops[i] = o
	}
	return &SchemaQuery{ops: ops}
}

// Plan compiles the schema request.
func (b *SchemaBuilder) Plan() (*Plan, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.compiler == nil {
		return nil, strata.NewValidationError("compile", "schema builder is not bound to a dialect")
	}
	return b.compiler.CompileSchema(b.Freeze())
}

// Statements compiles the schema request and returns its statements. The
// statements of a table rebuild are only known at run time, so only their
// introspection queries are listed.
func (b *SchemaBuilder) Statements() ([]*Statement, error) {
	p, err := b.Plan()
	if err != nil {
		return nil, err
	}
	return p.Statements(), nil
}

// Run compiles the schema request and runs it with the bound runner.
func (b *SchemaBuilder) Run(ctx context.Context) (*dialect.Result, error) {
	p, err := b.Plan()
	if err != nil {
		return nil, err
	}
	if b.runner == nil {
		return nil, strata.NewValidationError("run", "schema builder is not bound to a client or transaction")
	}
	return b.runner.RunPlan(ctx, p)
}

func (t *TableDef) clone() *TableDef {
	if t == nil {
		return nil
	}
	c := *t
	c.Columns = make([]*ColumnDef, len(t.Columns))
	for i, col := range t.Columns {
		cc := *col
		c.Columns[i] = &cc
	}
	c.commands = make([]tableCommand, len(t.commands))
	for i, cmd := range t.commands {
		cmd.columns = append([]string(nil), cmd.columns...)
		if cmd.foreign != nil {
			f := *cmd.foreign
			f.Columns = append([]string(nil), f.Columns...)
			f.RefColumns = append([]string(nil), f.RefColumns...)
			cmd.foreign = &f
		}
		c.commands[i] = cmd
	}
	return &c
}

// validateTable checks foreign keys for a target and, for new tables,
// rejects duplicate columns and commands over unknown columns.
func validateTable(t *TableDef, create bool) error {
	cols := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if cols[c.Name] {
			return strata.NewValidationError("column", "duplicate column %q in table %q", c.Name, t.Name)
		}
		cols[c.Name] = true
	}
	for _, cmd := range t.commands {
		if fk := cmd.foreign; fk != nil {
			if fk.RefTable == "" || len(fk.RefColumns) == 0 {
				return strata.NewValidationError("foreign", "foreign key on %q has no referenced table or columns", t.Name)
			}
			if len(fk.Columns) != len(fk.RefColumns) {
				return strata.NewValidationError("foreign", "foreign key on %q has %d columns but references %d", t.Name, len(fk.Columns), len(fk.RefColumns))
			}
		}
		if !create || cmd.kind == cmdDropColumn {
			continue
		}
		for _, c := range cmd.columns {
			if !cols[c] {
				return strata.NewValidationError("createTable", "table %q has no column %q", t.Name, c)
			}
		}
	}
	return nil
}

// TableBuilder collects the columns and commands of a create or alter
// table request.
type TableBuilder struct {
	def   *TableDef
	alter bool
	err   error
}

func (t *TableBuilder) fail(op, format string, args ...any) {
	if t.err == nil {
		t.err = strata.NewValidationError(op, format, args...)
	}
}

func (t *TableBuilder) column(name string, kind ColumnKind) *ColumnBuilder {
	c := &ColumnDef{Name: name, Kind: kind}
	if strings.TrimSpace(name) == "" {
		t.fail("column", "column name must not be empty")
	}
	t.def.Columns = append(t.def.Columns, c)
	return &ColumnBuilder{t: t, c: c}
}

// Increments adds an auto-incrementing integer primary key.
func (t *TableBuilder) Increments(name string) *ColumnBuilder {
	return t.column(name, KindIncrements)
}

// BigIncrements adds an auto-incrementing bigint primary key.
func (t *TableBuilder) BigIncrements(name string) *ColumnBuilder {
	return t.column(name, KindBigIncrements)
}

// Integer adds an integer column.
func (t *TableBuilder) Integer(name string) *ColumnBuilder { return t.column(name, KindInteger) }

// BigInteger adds a bigint column.
func (t *TableBuilder) BigInteger(name string) *ColumnBuilder {
	return t.column(name, KindBigInteger)
}

// String adds a varchar column. The length defaults to 255.
func (t *TableBuilder) String(name string, length ...int) *ColumnBuilder {
	c := t.column(name, KindString)
	c.c.Length = 255
	if len(length) > 0 && length[0] > 0 {
		c.c.Length = length[0]
	}
	return c
}

// Text adds a text column.
func (t *TableBuilder) Text(name string) *ColumnBuilder { return t.column(name, KindText) }

// Boolean adds a boolean column.
func (t *TableBuilder) Boolean(name string) *ColumnBuilder { return t.column(name, KindBoolean) }

// Date adds a date column.
func (t *TableBuilder) Date(name string) *ColumnBuilder { return t.column(name, KindDate) }

// DateTime adds a datetime column.
func (t *TableBuilder) DateTime(name string) *ColumnBuilder { return t.column(name, KindDateTime) }

// Timestamp adds a timestamp column.
func (t *TableBuilder) Timestamp(name string) *ColumnBuilder {
	return t.column(name, KindTimestamp)
}

// Decimal adds a decimal column. Precision and scale default to 8 and 2.
func (t *TableBuilder) Decimal(name string, precisionScale ...int) *ColumnBuilder {
	c := t.column(name, KindDecimal)
	c.c.Precision, c.c.Scale = 8, 2
	if len(precisionScale) > 0 {
		c.c.Precision = precisionScale[0]
	}
	if len(precisionScale) > 1 {
		c.c.Scale = precisionScale[1]
	}
	return c
}

// Float adds a floating point column. Precision and scale default to 8 and 2.
func (t *TableBuilder) Float(name string, precisionScale ...int) *ColumnBuilder {
	c := t.column(name, KindFloat)
	c.c.Precision, c.c.Scale = 8, 2
	if len(precisionScale) > 0 {
		c.c.Precision = precisionScale[0]
	}
	if len(precisionScale) > 1 {
		c.c.Scale = precisionScale[1]
	}
	return c
}

// JSON adds a json column.
func (t *TableBuilder) JSON(name string) *ColumnBuilder { return t.column(name, KindJSON) }

// UUID adds a uuid column.
func (t *TableBuilder) UUID(name string) *ColumnBuilder { return t.column(name, KindUUID) }

// Binary adds a binary column.
func (t *TableBuilder) Binary(name string) *ColumnBuilder { return t.column(name, KindBinary) }

// SpecificType adds a column of a database specific type.
func (t *TableBuilder) SpecificType(name, typ string) *ColumnBuilder {
	c := t.column(name, KindSpecific)
	c.c.Type = typ
	if strings.TrimSpace(typ) == "" {
		t.fail("specificType", "type of column %q must not be empty", name)
	}
	return c
}

// Timestamps adds nullable created_at and updated_at timestamp columns.
func (t *TableBuilder) Timestamps() {
	t.Timestamp("created_at").Nullable()
	t.Timestamp("updated_at").Nullable()
}

// DropTimestamps drops the created_at and updated_at columns.
func (t *TableBuilder) DropTimestamps() {
	t.DropColumn("created_at", "updated_at")
}

// Comment sets the table comment.
func (t *TableBuilder) Comment(text string) {
	t.def.Comment = &text
}

func (t *TableBuilder) command(op string, cmd tableCommand) {
	if len(cmd.columns) == 0 && cmd.kind != cmdDropPrimary && cmd.name == "" {
		t.fail(op, "at least one column is required")
		return
	}
	for _, c := range cmd.columns {
		if strings.TrimSpace(c) == "" {
			t.fail(op, "column name must not be empty")
			return
		}
	}
	t.def.commands = append(t.def.commands, cmd)
}

func optName(name []string) string {
	if len(name) > 0 {
		return name[0]
	}
	return ""
}

// DropColumn drops columns.
func (t *TableBuilder) DropColumn(columns ...string) {
	t.command("dropColumn", tableCommand{kind: cmdDropColumn, columns: columns})
}

// RenameColumn renames a column.
func (t *TableBuilder) RenameColumn(from, to string) {
	if strings.TrimSpace(to) == "" {
		t.fail("renameColumn", "new column name must not be empty")
		return
	}
	t.command("renameColumn", tableCommand{kind: cmdRenameColumn, columns: []string{from}, to: to})
}

// Index adds an index over the columns. The name defaults to
// <table>_<columns>_index.
func (t *TableBuilder) Index(columns []string, name ...string) {
	t.command("index", tableCommand{kind: cmdIndex, columns: columns, name: optName(name)})
}

// Unique adds a unique constraint over the columns.
func (t *TableBuilder) Unique(columns []string, name ...string) {
	t.command("unique", tableCommand{kind: cmdUnique, columns: columns, name: optName(name)})
}

// Primary sets the primary key.
func (t *TableBuilder) Primary(columns []string, name ...string) {
	t.command("primary", tableCommand{kind: cmdPrimary, columns: columns, name: optName(name)})
}

// Foreign adds a foreign key over the columns.
func (t *TableBuilder) Foreign(columns ...string) *ForeignBuilder {
	fk := &ForeignDef{Columns: columns}
	t.command("foreign", tableCommand{kind: cmdForeign, columns: columns, foreign: fk})
	return &ForeignBuilder{t: t, fk: fk}
}

// DropIndex drops an index by columns or by name.
func (t *TableBuilder) DropIndex(columns []string, name ...string) {
	t.command("dropIndex", tableCommand{kind: cmdDropIndex, columns: columns, name: optName(name)})
}

// DropUnique drops a unique constraint by columns or by name.
func (t *TableBuilder) DropUnique(columns []string, name ...string) {
	t.command("dropUnique", tableCommand{kind: cmdDropUnique, columns: columns, name: optName(name)})
}

// DropPrimary drops the primary key.
func (t *TableBuilder) DropPrimary(name ...string) {
	t.command("dropPrimary", tableCommand{kind: cmdDropPrimary, name: optName(name)})
}

// DropForeign drops a foreign key by columns or by name.
func (t *TableBuilder) DropForeign(columns []string, name ...string) {
	t.command("dropForeign", tableCommand{kind: cmdDropForeign, columns: columns, name: optName(name)})
}

// ColumnBuilder sets the modifiers of a column.
type ColumnBuilder struct {
	t *TableBuilder
	c *ColumnDef
}

// Nullable allows null values.
func (c *ColumnBuilder) Nullable() *ColumnBuilder {
	v := true
	c.c.Nullable = &v
	return c
}

// NotNullable rejects null values.
func (c *ColumnBuilder) NotNullable() *ColumnBuilder {
	v := false
	c.c.Nullable = &v
	return c
}

// DefaultTo sets the default value. A *Raw is emitted as is.
func (c *ColumnBuilder) DefaultTo(v any) *ColumnBuilder {
	c.c.Default, c.c.HasDefault = v, true
	return c
}

// Unsigned marks an integer column unsigned where the dialect supports it.
func (c *ColumnBuilder) Unsigned() *ColumnBuilder {
	c.c.Unsigned = true
	return c
}

// Comment sets the column comment.
func (c *ColumnBuilder) Comment(text string) *ColumnBuilder {
	c.c.Comment = text
	return c
}

// Alter changes the existing column to this definition.
func (c *ColumnBuilder) Alter() *ColumnBuilder {
	if !c.t.alter {
		c.t.fail("alter", "column %q can only be altered in an alter table request", c.c.Name)
	}
	c.c.Alter = true
	return c
}

// Unique adds a unique constraint on the column.
func (c *ColumnBuilder) Unique(name ...string) *ColumnBuilder {
	c.t.Unique([]string{c.c.Name}, name...)
	return c
}

// Primary makes the column the primary key.
func (c *ColumnBuilder) Primary(name ...string) *ColumnBuilder {
	c.t.Primary([]string{c.c.Name}, name...)
	return c
}

// Index adds an index on the column.
func (c *ColumnBuilder) Index(name ...string) *ColumnBuilder {
	c.t.Index([]string{c.c.Name}, name...)
	return c
}

// References adds a foreign key on the column. The reference is "table.column",
// or a column completed by InTable.
func (c *ColumnBuilder) References(ref string) *ForeignBuilder {
	return c.t.Foreign(c.c.Name).References(ref)
}

// ForeignBuilder sets the target and actions of a foreign key.
type ForeignBuilder struct {
	t  *TableBuilder
	fk *ForeignDef
}

// References sets the referenced columns. A single "table.column" reference
// also sets the table.
func (f *ForeignBuilder) References(columns ...string) *ForeignBuilder {
	if len(columns) == 1 {
		if i := strings.LastIndexByte(columns[0], '.'); i > 0 {
			f.fk.RefTable = columns[0][:i]
			columns = []string{columns[0][i+1:]}
		}
	}
	f.fk.RefColumns = columns
	return f
}

// InTable sets the referenced table.
func (f *ForeignBuilder) InTable(table string) *ForeignBuilder {
	f.fk.RefTable = table
	return f
}

// OnDelete sets the on delete action.
func (f *ForeignBuilder) OnDelete(o ReferenceOption) *ForeignBuilder {
	if !o.valid() {
		f.t.fail("onDelete", "invalid reference option %q", o)
	}
	f.fk.OnDelete = o
	return f
}

// OnUpdate sets the on update action.
func (f *ForeignBuilder) OnUpdate(o ReferenceOption) *ForeignBuilder {
	if !o.valid() {
		f.t.fail("onUpdate", "invalid reference option %q", o)
	}
	f.fk.OnUpdate = o
	return f
}

// Name sets the constraint name. It defaults to <table>_<columns>_foreign.
func (f *ForeignBuilder) Name(name string) *ForeignBuilder {
	f.fk.Name = name
	return f
}
