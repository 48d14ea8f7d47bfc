package sql

// postgresRules compiles for PostgreSQL. The base rules follow postgres, so
// only truncate differs.
type postgresRules struct {
	baseRules
}

func (postgresRules) truncate(s *state, q *Query) {
	s.write("truncate ")
	s.table(q)
	s.write(" restart identity")
}

// redshiftRules compiles for Amazon Redshift, a postgres derivative without
// returning, row locks or serial columns.
type redshiftRules struct {
	postgresRules
}

func (redshiftRules) returning() returningStyle { return returningNone }

func (redshiftRules) insertIDs() bool { return false }

func (redshiftRules) lock(*state, *Query) {}

func (redshiftRules) truncate(s *state, q *Query) {
	s.write("truncate ")
	s.table(q)
}

func (r redshiftRules) columnType(c *ColumnDef) string {
	switch c.Kind {
	case KindIncrements:
		return "integer identity(1,1) primary key not null"
	case KindBigIncrements:
		return "bigint identity(1,1) primary key not null"
	case KindText, KindJSON, KindBinary:
		return "varchar(max)"
	case KindUUID:
		return "char(36)"
	case KindBoolean:
		return "boolean"
	}
	return r.postgresRules.columnType(c)
}

// alterColumn only changes the type, the one column change redshift supports.
func (r redshiftRules) alterColumn(table string, c *ColumnDef, typ string) []*Statement {
	return []*Statement{ddl(r.alterPrefix(table) + "alter column " + r.f.Quote(c.Name) + " type " + typ)}
}
