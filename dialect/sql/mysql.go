package sql

import (
	"fmt"
	"strings"
)

// mysqlRules compiles for MySQL and MariaDB.
type mysqlRules struct {
	baseRules
}

func (mysqlRules) returning() returningStyle { return returningNone }

func (mysqlRules) supportsJoin(kind string) bool { return kind != fullOuterJoin }

func (mysqlRules) limitOffset(s *state, q *Query) {
	switch {
	case q.hasLimit:
		s.write(" limit ")
		s.bind(q.limit)
	case q.hasOffset:
		// An offset requires a limit; this is the largest unsigned bigint.
		s.write(" limit 18446744073709551615")
	}
	if q.hasOffset {
		s.write(" offset ")
		s.bind(q.offset)
	}
}

func (mysqlRules) lock(s *state, q *Query) {
	switch q.lock {
	case lockForUpdate:
		s.write(" for update")
	case lockForShare:
		s.write(" lock in share mode")
	}
}

func (mysqlRules) like(s *state, w where) {
	s.ident(w.column)
	s.write(" like ")
	s.value(w.value)
	if !w.ci {
		s.write(" COLLATE utf8_bin")
	}
}

func (mysqlRules) writeOrderLimit(s *state, q *Query) {
	s.orderBy(q)
	if q.hasLimit {
		s.write(" limit ")
		s.bind(q.limit)
	}
}

func (mysqlRules) emptyInsert(s *state) {
	s.write(" () values ()")
}

func (mysqlRules) columnType(c *ColumnDef) string {
	switch c.Kind {
	case KindIncrements:
		return "int unsigned not null auto_increment primary key"
	case KindBigIncrements:
		return "bigint unsigned not null auto_increment primary key"
	case KindInteger:
		return "int"
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
	case KindDateTime:
		return "datetime"
	case KindTimestamp:
		return "timestamp"
	case KindDecimal:
		return fmt.Sprintf("decimal(%d, %d)", c.Precision, c.Scale)
	case KindFloat:
		return fmt.Sprintf("float(%d, %d)", c.Precision, c.Scale)
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

func (r mysqlRules) modifiers(c *ColumnDef) string {
	if c.incrementing() {
		return ""
	}
	var b strings.Builder
	if c.Unsigned {
		b.WriteString(" unsigned")
	}
	b.WriteString(nullable(c))
	b.WriteString(r.defaultTo(c))
	if c.Comment != "" {
		b.WriteString(" comment " + r.f.Literal(c.Comment))
	}
	return b.String()
}

func (r mysqlRules) createTableSuffix(t *TableDef) string {
	if t.Comment == nil {
		return ""
	}
	return " comment = " + r.f.Literal(*t.Comment)
}

func (r mysqlRules) tableComment(table, comment string, create bool) *Statement {
	if create {
		return nil
	}
	return ddl(r.alterPrefix(table) + "comment = " + r.f.Literal(comment))
}

func (mysqlRules) columnComment(string, *ColumnDef) *Statement { return nil }

func (r mysqlRules) addColumns(table string, defs []string) []*Statement {
	return []*Statement{ddl(r.alterPrefix(table) + "add " + strings.Join(defs, ", add "))}
}

func (r mysqlRules) alterColumn(table string, c *ColumnDef, typ string) []*Statement {
	return []*Statement{ddl(r.alterPrefix(table) + "modify " + r.f.Quote(c.Name) + " " + typ + r.modifiers(c))}
}

func (r mysqlRules) dropColumns(table string, columns []string) []*Statement {
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = "drop " + r.f.Wrap(col)
	}
	return []*Statement{ddl(r.alterPrefix(table) + strings.Join(parts, ", "))}
}

func (r mysqlRules) renameColumn(table, from, to string) *Statement {
	return ddl(r.alterPrefix(table) + "rename column " + r.f.Wrap(from) + " to " + r.f.Wrap(to))
}

func (r mysqlRules) index(table, name string, columns []string) *Statement {
	return ddl(r.alterPrefix(table) + "add index " + r.f.Quote(name) + "(" + quoteList(r.f, columns) + ")")
}

func (r mysqlRules) unique(table, name string, columns []string) *Statement {
	return ddl(r.alterPrefix(table) + "add unique " + r.f.Quote(name) + "(" + quoteList(r.f, columns) + ")")
}

func (r mysqlRules) dropIndex(table, name string) *Statement {
	return ddl(r.alterPrefix(table) + "drop index " + r.f.Quote(name))
}

func (r mysqlRules) dropUnique(table, name string) *Statement { return r.dropIndex(table, name) }

func (r mysqlRules) dropPrimary(table, _ string) *Statement {
	return ddl(r.alterPrefix(table) + "drop primary key")
}

func (r mysqlRules) dropForeign(table, name string) *Statement {
	return ddl(r.alterPrefix(table) + "drop foreign key " + r.f.Quote(name))
}

func (r mysqlRules) renameTable(from, to string) *Statement {
	return ddl("rename table " + r.f.Wrap(from) + " to " + r.f.Wrap(to))
}

func (mysqlRules) hasTable(table string) *Statement {
	return ddlQuery("select * from information_schema.tables where table_name = ? and table_schema = database()", table)
}

func (mysqlRules) hasColumn(table, column string) *Statement {
	return ddlQuery("select * from information_schema.columns where table_name = ? and column_name = ? and table_schema = database()", table, column)
}
