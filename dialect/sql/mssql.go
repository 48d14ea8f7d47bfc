package sql

import (
	"fmt"
	"strings"
)

// mssqlRules compiles for Microsoft SQL Server.
type mssqlRules struct {
	baseRules
}

var mssqlTx = txStatements{
	beginTop:    "BEGIN TRANSACTION",
	commitTop:   "COMMIT TRANSACTION",
	rollbackTop: "ROLLBACK TRANSACTION",
	savepoint:   "SAVE TRANSACTION %s",
	rollbackTo:  "ROLLBACK TRANSACTION %s",
}

func (mssqlRules) maxBindings() int { return 2100 }

func (mssqlRules) maxRows() int { return 1000 }

func (mssqlRules) returning() returningStyle { return returningOutput }

func (mssqlRules) tx() txStatements { return mssqlTx }

func (mssqlRules) top(s *state, q *Query) {
	if q.hasLimit && !q.hasOffset {
		s.write("top (")
		s.bind(q.limit)
		s.write(") ")
	}
}

func (mssqlRules) tableHint(s *state, q *Query) {
	switch q.lock {
	case lockForUpdate:
		s.write(" with (UPDLOCK)")
	case lockForShare:
		s.write(" with (HOLDLOCK)")
	}
}

func (mssqlRules) limitOffset(s *state, q *Query) {
	if !q.hasOffset {
		return
	}
	if len(q.orders) == 0 {
		s.write(" order by (select 0)")
	}
	s.write(" offset ")
	s.bind(q.offset)
	s.write(" rows")
	if q.hasLimit {
		s.write(" fetch next ")
		s.bind(q.limit)
		s.write(" rows only")
	}
}

func (mssqlRules) lock(*state, *Query) {}

func (mssqlRules) like(s *state, w where) {
	s.ident(w.column)
	if w.ci {
		s.write(" collate SQL_Latin1_General_CP1_CI_AS like ")
	} else {
		s.write(" collate SQL_Latin1_General_CP1_CS_AS like ")
	}
	s.value(w.value)
}

func (mssqlRules) truncate(s *state, q *Query) {
	s.write("truncate table ")
	s.table(q)
}

func (mssqlRules) columnType(c *ColumnDef) string {
	switch c.Kind {
	case KindIncrements:
		return "int identity(1,1) not null primary key"
	case KindBigIncrements:
		return "bigint identity(1,1) not null primary key"
	case KindInteger:
		return "int"
	case KindBigInteger:
		return "bigint"
	case KindString:
		return fmt.Sprintf("nvarchar(%d)", c.Length)
	case KindText, KindJSON:
		return "nvarchar(max)"
	case KindBoolean:
		return "bit"
	case KindDate:
		return "date"
	case KindDateTime, KindTimestamp:
		return "datetime2"
	case KindDecimal:
		return fmt.Sprintf("decimal(%d, %d)", c.Precision, c.Scale)
	case KindFloat:
		return "float"
	case KindUUID:
		return "uniqueidentifier"
	case KindBinary:
		return "varbinary(max)"
	case KindSpecific:
		return c.Type
	}
	return "nvarchar(max)"
}

func (r mssqlRules) createTable(table string, ifNotExists bool, body string) string {
	sql := "create table " + r.f.WrapTable(table) + " (" + body + ")"
	if ifNotExists {
		return "if object_id(" + r.f.Literal(table) + ", 'U') is null " + sql
	}
	return sql
}

func (mssqlRules) tableComment(string, string, bool) *Statement { return nil }

func (mssqlRules) columnComment(string, *ColumnDef) *Statement { return nil }

func (r mssqlRules) addColumns(table string, defs []string) []*Statement {
	return []*Statement{ddl(r.alterPrefix(table) + "add " + strings.Join(defs, ", "))}
}

func (r mssqlRules) alterColumn(table string, c *ColumnDef, typ string) []*Statement {
	out := []*Statement{ddl(r.alterPrefix(table) + "alter column " + r.f.Quote(c.Name) + " " + typ + nullable(c))}
	if c.HasDefault {
		out = append(out, ddl(r.alterPrefix(table)+"add default "+defaultLiteral(r.f, c.Default)+" for "+r.f.Quote(c.Name)))
	}
	return out
}

func (r mssqlRules) dropColumns(table string, columns []string) []*Statement {
	return []*Statement{ddl(r.alterPrefix(table) + "drop column " + quoteList(r.f, columns))}
}

func (mssqlRules) renameColumn(table, from, to string) *Statement {
	return ddl("exec sp_rename ?, ?, 'COLUMN'", table+"."+from, to)
}

func (r mssqlRules) unique(table, name string, columns []string) *Statement {
	return ddl("create unique index " + r.f.Quote(name) + " on " + r.f.WrapTable(table) + " (" + quoteList(r.f, columns) + ")")
}

func (r mssqlRules) dropIndex(table, name string) *Statement {
	return ddl("drop index " + r.f.Quote(name) + " on " + r.f.WrapTable(table))
}

func (r mssqlRules) dropUnique(table, name string) *Statement { return r.dropIndex(table, name) }

func (r mssqlRules) dropTable(table string, ifExists bool) *Statement {
	if ifExists {
		return ddl("if object_id(" + r.f.Literal(table) + ", 'U') is not null drop table " + r.f.WrapTable(table))
	}
	return ddl("drop table " + r.f.WrapTable(table))
}

func (mssqlRules) renameTable(from, to string) *Statement {
	return ddl("exec sp_rename ?, ?", from, to)
}

func (mssqlRules) hasTable(table string) *Statement {
	return ddlQuery("select object_id from sys.tables where object_id = object_id(?)", table)
}

func (mssqlRules) hasColumn(table, column string) *Statement {
	return ddlQuery("select object_id from sys.columns where name = ? and object_id = object_id(?)", column, table)
}
