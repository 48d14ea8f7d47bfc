// Package sql builds, compiles and describes SQL statements for the
// supported dialects (PostgreSQL, MySQL, SQLite, SQL Server and Redshift).
//
// A Builder records a query as an intermediate representation. A Compiler
// turns the frozen representation into a Plan of statements that use ? as
// the placeholder and \? for a literal question mark. Compilation is pure:
// the same frozen query always yields the same SQL and arguments.
//
// # Queries
//
//	b := sql.Dialect(dialect.Postgres)
//	q := b.Table("users").
//	    Select("id", "name").
//	    Where("status", "active").
//	    WhereIn("role", []any{"admin", "owner"}).
//	    OrderBy("created_at", "desc").
//	    Limit(10)
//	stmt, err := q.ToSQL()
//	// select "id", "name" from "users" where "status" = ? and "role" in (?, ?)
//	// order by "created_at" desc limit ?
//
// Nested groups take a function:
//
//	b.Table("users").Where(func(w *sql.Builder) {
//	    w.Where("age", ">", 18).OrWhereNull("age")
//	})
//
// # Writes
//
// Insert, Update and Delete switch the builder method. On dialects that
// cannot return rows from a write, WithReturningFallback plans a follow-up
// read that stands in for the returning clause:
//
//	b.Table("users").Insert(sql.Record{{"name", "a8m"}}).Returning("id")
//
// Multi-row inserts are split into chunks that respect the bindings limit
// of the dialect, and run in one transaction.
//
// # Schema
//
//	b.Schema().CreateTable("users", func(t *sql.TableBuilder) {
//	    t.Increments("id")
//	    t.String("email").NotNullable().Unique()
//	    t.Integer("team_id").References("teams.id").OnDelete(sql.Cascade)
//	    t.Timestamps()
//	})
//
// SQLite cannot alter columns or constraints in place. Those changes
// compile to an Introspection step that reads the table definition and
// rebuilds the table inside a transaction.
//
// # Execution
//
// Plans are executed by a Runner, implemented by the client package. The
// Connector in this package adapts database/sql drivers to the raw
// connection capability the client pools.
package sql
