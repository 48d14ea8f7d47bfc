package sql

import "fmt"

// sqliteRules compiles for SQLite. Column and key changes that SQLite
// cannot alter in place go through a table rebuild.
type sqliteRules struct {
	baseRules
}

func (sqliteRules) maxBindings() int { return 32766 }

func (sqliteRules) supportsDefault() bool { return false }

func (sqliteRules) supportsJoin(kind string) bool { return kind != fullOuterJoin }

func (sqliteRules) limitOffset(s *state, q *Query) {
	switch {
	case q.hasLimit:
		s.write(" limit ")
		s.bind(q.limit)
	case q.hasOffset:
		s.write(" limit ")
		s.bind(-1)
	}
	if q.hasOffset {
		s.write(" offset ")
		s.bind(q.offset)
	}
}

func (sqliteRules) lock(*state, *Query) {}

// like uses like for both cases; sqlite like is case-insensitive for ASCII.
func (sqliteRules) like(s *state, w where) {
	s.ident(w.column)
	s.write(" like ")
	s.value(w.value)
}

func (sqliteRules) truncate(s *state, q *Query) {
	s.write("delete from ")
	s.table(q)
}

func (sqliteRules) columnType(c *ColumnDef) string {
	switch c.Kind {
	case KindIncrements, KindBigIncrements:
		return "integer not null primary key autoincrement"
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
		return "datetime"
	case KindDecimal:
		return fmt.Sprintf("decimal(%d, %d)", c.Precision, c.Scale)
	case KindFloat:
		return "float"
	case KindJSON:
		return "json"
	case KindUUID:
		return "char(36)"
	case KindBinary:
		return "blob"
	case KindSpecific:
		return c.Type
	}
	return "text"
}

func (sqliteRules) tableComment(string, string, bool) *Statement { return nil }

func (sqliteRules) columnComment(string, *ColumnDef) *Statement { return nil }

func (sqliteRules) inlineForeignKeys() bool { return true }

func (r sqliteRules) addColumns(table string, defs []string) []*Statement {
	out := make([]*Statement, len(defs))
	for i, def := range defs {
		out[i] = ddl(r.alterPrefix(table) + "add column " + def)
	}
	return out
}

func (r sqliteRules) renameColumn(table, from, to string) *Statement {
	return ddl(r.alterPrefix(table) + "rename column " + r.f.Wrap(from) + " to " + r.f.Wrap(to))
}

func (r sqliteRules) unique(table, name string, columns []string) *Statement {
	return ddl("create unique index " + r.f.Quote(name) + " on " + r.f.WrapTable(table) + " (" + quoteList(r.f, columns) + ")")
}

func (r sqliteRules) dropUnique(table, name string) *Statement { return r.dropIndex(table, name) }

func (sqliteRules) hasTable(table string) *Statement {
	return ddlQuery("select * from sqlite_master where type = 'table' and name = ?", table)
}

func (sqliteRules) hasColumn(table, column string) *Statement {
	return ddlQuery("select * from pragma_table_info(?) where name = ?", table, column)
}

func (sqliteRules) rebuilds(kind commandKind) bool {
	switch kind {
	case cmdDropColumn, cmdAlterColumn, cmdPrimary, cmdDropPrimary, cmdForeign, cmdDropForeign:
		return true
	}
	return false
}
