package sql

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
)

// RebuildBatchSize is the number of rows copied per statement while
// rebuilding a sqlite table.
const RebuildBatchSize = 1000

const (
	rebuildPrefix     = "_strata_tmp_"
	violationsTable   = "_strata_fk_violations"
	violationsTrigger = "_strata_fk_violation_check"
	copyCheckTable    = "_strata_copy_check"
	copyCheckTrigger  = "_strata_copy_check_abort"
)

// rebuildChange is the change applied by one table rebuild.
type rebuildChange struct {
	altered []*ColumnDef
	command tableCommand
}

// rebuildQueries are the introspection queries of a table rebuild, in the
// order Build expects their results.
func rebuildQueries(table string) []*Statement {
	return []*Statement{
		ddlQuery("select type, name, tbl_name, sql from sqlite_master where type = 'table' and name = ?", table),
		ddlQuery("select * from pragma_table_info(?)", table),
		ddlQuery("select * from pragma_foreign_key_list(?)", table),
		ddlQuery("select name, sql from sqlite_master where type = 'index' and tbl_name = ? and sql is not null", table),
		ddlQuery(`select il.name as index_name, il."unique" as is_unique, il.origin as origin, ii.name as column_name from pragma_index_list(?) as il, pragma_index_info(il.name) as ii order by il.seq, ii.seqno`, table),
	}
}

// rebuild returns the introspection step that rebuilds a sqlite table with
// the change applied: the table is copied into a shadow table with the new
// definition, which then replaces it.
func (c *compiler) rebuild(table string, ch rebuildChange) *Introspection {
	return &Introspection{
		Queries: rebuildQueries(table),
		Build: func(results []*dialect.Result) (*Plan, error) {
			t, err := parseSQLiteTable(table, results)
			if err != nil {
				return nil, err
			}
			if err := t.apply(c, ch); err != nil {
				return nil, err
			}
			return c.rebuildPlan(t), nil
		},
	}
}

type sqliteColumn struct {
	name    string
	typ     string
	notNull bool
	dflt    string // rendered default expression, empty for none
}

type sqliteIndex struct {
	name    string
	sql     string
	unique  bool
	origin  string // c: create index, u: unique constraint, pk: primary key
	columns []string
}

// sqliteTable is the introspected definition of a sqlite table.
type sqliteTable struct {
	name          string
	columns       []*sqliteColumn
	primary       []string
	autoincrement bool
	foreigns      []*ForeignDef
	indexes       []*sqliteIndex
}

func parseSQLiteTable(table string, results []*dialect.Result) (*sqliteTable, error) {
	if len(results) != 5 {
		return nil, fmt.Errorf("sqlite rebuild: expected 5 introspection results, got %d", len(results))
	}
	if len(results[0].Rows) == 0 {
		return nil, strata.NewValidationError("alterTable", "table %q does not exist", table)
	}
	t := &sqliteTable{name: table}
	createSQL := strings.ToLower(asString(results[0].Rows[0]["sql"]))
	t.autoincrement = strings.Contains(createSQL, "autoincrement")

	type pkPart struct {
		name string
		pos  int64
	}
	var pk []pkPart
	for _, r := range results[1].Rows {
		col := &sqliteColumn{
			name:    asString(r["name"]),
			typ:     asString(r["type"]),
			notNull: asInt(r["notnull"]) != 0,
		}
		if d := r["dflt_value"]; d != nil {
			col.dflt = strings.ReplaceAll(asString(d), "?", `\?`)
		}
		if p := asInt(r["pk"]); p > 0 {
			pk = append(pk, pkPart{name: col.name, pos: p})
		}
		t.columns = append(t.columns, col)
	}
	slices.SortFunc(pk, func(a, b pkPart) int { return int(a.pos - b.pos) })
	for _, p := range pk {
		t.primary = append(t.primary, p.name)
	}
	if len(t.primary) != 1 {
		t.autoincrement = false
	}

	byID := make(map[int64]*ForeignDef)
	var ids []int64
	for _, r := range results[2].Rows {
		id := asInt(r["id"])
		fk, ok := byID[id]
		if !ok {
			fk = &ForeignDef{
				RefTable: asString(r["table"]),
				OnDelete: referenceOption(r["on_delete"]),
				OnUpdate: referenceOption(r["on_update"]),
			}
			byID[id] = fk
			ids = append(ids, id)
		}
		fk.Columns = append(fk.Columns, asString(r["from"]))
		fk.RefColumns = append(fk.RefColumns, asString(r["to"]))
	}
	// pragma_foreign_key_list lists constraints in reverse declaration order.
	slices.Sort(ids)
	for i := len(ids) - 1; i >= 0; i-- {
		fk := byID[ids[i]]
		fk.Name = indexName(table, fk.Columns, "foreign")
		t.foreigns = append(t.foreigns, fk)
	}

	sqls := make(map[string]string)
	for _, r := range results[3].Rows {
		sqls[asString(r["name"])] = strings.ReplaceAll(asString(r["sql"]), "?", `\?`)
	}
	byName := make(map[string]*sqliteIndex)
	for _, r := range results[4].Rows {
		name := asString(r["index_name"])
		idx, ok := byName[name]
		if !ok {
			idx = &sqliteIndex{
				name:   name,
				sql:    sqls[name],
				unique: asInt(r["is_unique"]) != 0,
				origin: asString(r["origin"]),
			}
			byName[name] = idx
			t.indexes = append(t.indexes, idx)
		}
		idx.columns = append(idx.columns, asString(r["column_name"]))
	}
	return t, nil
}

func referenceOption(v any) ReferenceOption {
	o := ReferenceOption(strings.ToLower(asString(v)))
	if o == NoAction {
		return ""
	}
	return o
}

func (t *sqliteTable) column(name string) *sqliteColumn {
	for _, c := range t.columns {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (t *sqliteTable) missing(columns []string) error {
	for _, name := range columns {
		if t.column(name) == nil {
			return strata.NewValidationError("alterTable", "table %q has no column %q", t.name, name)
		}
	}
	return nil
}

// apply changes the introspected definition.
func (t *sqliteTable) apply(c *compiler, ch rebuildChange) error {
	for _, def := range ch.altered {
		col := t.column(def.Name)
		if col == nil {
			return strata.NewValidationError("alter", "table %q has no column %q", t.name, def.Name)
		}
		col.notNull, col.dflt = def.notNull(), ""
		if def.HasDefault {
			col.dflt = defaultLiteral(c.f, def.Default)
		}
		if def.incrementing() {
			col.typ, col.notNull = "integer", true
			t.primary, t.autoincrement = []string{def.Name}, true
			continue
		}
		col.typ = c.r.columnType(def)
	}
	if len(ch.altered) > 0 {
		return nil
	}
	cmd := ch.command
	switch cmd.kind {
	case cmdDropColumn:
		if err := t.missing(cmd.columns); err != nil {
			return err
		}
		t.dropColumns(cmd.columns)
		if len(t.columns) == 0 {
			return strata.NewValidationError("dropColumn", "cannot drop every column of table %q", t.name)
		}
	case cmdPrimary:
		if err := t.missing(cmd.columns); err != nil {
			return err
		}
		t.primary = cmd.columns
		t.autoincrement = false
	case cmdDropPrimary:
		t.primary, t.autoincrement = nil, false
	case cmdForeign:
		if err := t.missing(cmd.foreign.Columns); err != nil {
			return err
		}
		fk := *cmd.foreign
		if fk.Name == "" {
			fk.Name = indexName(t.name, fk.Columns, "foreign")
		}
		t.foreigns = append(t.foreigns, &fk)
	case cmdDropForeign:
		name := cmd.name
		if name == "" {
			name = indexName(t.name, cmd.columns, "foreign")
		}
		i := slices.IndexFunc(t.foreigns, func(fk *ForeignDef) bool { return fk.Name == name })
		if i < 0 {
			return strata.NewValidationError("dropForeign", "table %q has no foreign key %q", t.name, name)
		}
		t.foreigns = slices.Delete(t.foreigns, i, i+1)
	default:
		return c.compileErr("table command %d does not need a rebuild", cmd.kind)
	}
	return nil
}

// dropColumns removes the columns and every key and index over them.
func (t *sqliteTable) dropColumns(columns []string) {
	dropped := func(cols []string) bool {
		return slices.ContainsFunc(cols, func(c string) bool { return slices.Contains(columns, c) })
	}
	t.columns = slices.DeleteFunc(t.columns, func(c *sqliteColumn) bool { return slices.Contains(columns, c.name) })
	if dropped(t.primary) {
		t.primary, t.autoincrement = nil, false
	}
	t.foreigns = slices.DeleteFunc(t.foreigns, func(fk *ForeignDef) bool { return dropped(fk.Columns) })
	t.indexes = slices.DeleteFunc(t.indexes, func(idx *sqliteIndex) bool { return dropped(idx.columns) })
}

// createSQL renders the table definition under another name.
func (t *sqliteTable) createSQL(f formatter, name string) string {
	defs := make([]string, 0, len(t.columns)+len(t.foreigns)+2)
	for _, col := range t.columns {
		var b strings.Builder
		b.WriteString(f.Quote(col.name))
		if col.typ != "" {
			b.WriteString(" " + col.typ)
		}
		if t.autoincrement && t.primary[0] == col.name {
			b.WriteString(" primary key autoincrement")
		}
		if col.notNull {
			b.WriteString(" not null")
		}
		if col.dflt != "" {
			b.WriteString(" default " + col.dflt)
		}
		defs = append(defs, b.String())
	}
	if len(t.primary) > 0 && !t.autoincrement {
		defs = append(defs, "primary key ("+quoteList(f, t.primary)+")")
	}
	for _, idx := range t.indexes {
		if idx.origin == "u" {
			defs = append(defs, "unique ("+quoteList(f, idx.columns)+")")
		}
	}
	for _, fk := range t.foreigns {
		defs = append(defs, references(f, fk))
	}
	return "create table " + f.Quote(name) + " (" + strings.Join(defs, ", ") + ")"
}

// rebuildPlan returns the statements that replace the table with its new
// definition. Foreign key enforcement is suspended around the plan, and a
// temporary trigger aborts the transaction when the new table breaks a
// foreign key.
func (c *compiler) rebuildPlan(t *sqliteTable) *Plan {
	f := c.f
	shadow := rebuildPrefix + t.name
	cols := make([]string, len(t.columns))
	for i, col := range t.columns {
		cols[i] = col.name
	}
	colList := quoteList(f, cols)
	plan := &Plan{
		Transactional: true,
		ForeignKeys: &ForeignKeyGuard{
			Check:   ddlQuery("PRAGMA foreign_keys"),
			Disable: ddl("PRAGMA foreign_keys = OFF"),
			Enable:  ddl("PRAGMA foreign_keys = ON"),
		},
	}
	add := func(s *Statement) { plan.Steps = append(plan.Steps, s) }
	add(ddl("create temp table " + f.Quote(violationsTable) + " (" + f.Quote("count") + " integer)"))
	add(ddl("create temp trigger " + f.Quote(violationsTrigger) + " after insert on " + f.Quote(violationsTable) +
		" when new." + f.Quote("count") + " > 0 begin select raise(abort, " +
		f.Literal("foreign key violation after rebuilding table "+t.name) + "); end"))
	add(ddl(t.createSQL(f, shadow)))
	copyRows := ddl("insert into "+f.Quote(shadow)+" ("+colList+") select "+colList+" from "+f.Wrap(t.name)+
		" order by rowid limit ? offset ?", RebuildBatchSize, 0)
	copyRows.BatchSize = RebuildBatchSize
	add(copyRows)
	// The copy stops at the first short batch, so the row counts are
	// compared before the original table is dropped.
	add(ddl("create temp table " + f.Quote(copyCheckTable) + " (" + f.Quote("missing") + " integer)"))
	add(ddl("create temp trigger " + f.Quote(copyCheckTrigger) + " after insert on " + f.Quote(copyCheckTable) +
		" when new." + f.Quote("missing") + " <> 0 begin select raise(abort, " +
		f.Literal("rows lost while copying table "+t.name) + "); end"))
	add(ddl("insert into " + f.Quote(copyCheckTable) + " select (select count(*) from " + f.Wrap(t.name) +
		") - (select count(*) from " + f.Quote(shadow) + ")"))
	add(ddl("drop trigger " + f.Quote(copyCheckTrigger)))
	add(ddl("drop table " + f.Quote(copyCheckTable)))
	add(ddl("drop table " + f.Wrap(t.name)))
	add(ddl("alter table " + f.Quote(shadow) + " rename to " + f.Quote(t.name)))
	for _, idx := range t.indexes {
		if idx.origin == "c" && idx.sql != "" {
			add(ddl(idx.sql))
		}
	}
	add(ddl("insert into "+f.Quote(violationsTable)+" select count(*) from pragma_foreign_key_check(?)", t.name))
	add(ddl("drop trigger " + f.Quote(violationsTrigger)))
	add(ddl("drop table " + f.Quote(violationsTable)))
	return plan
}

func asString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	}
	return fmt.Sprint(v)
}

func asInt(v any) int64 {
	switch v := v.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string, []byte:
		n, _ := strconv.ParseInt(asString(v), 10, 64)
		return n
	}
	return 0
}
