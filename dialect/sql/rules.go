package sql

import "fmt"

type returningStyle uint8

const (
	returningNone   returningStyle = iota
	returningClause                // trailing returning clause
	returningOutput                // output inserted/deleted clause
)

// dialectRules holds the parts of compilation that differ between dialects.
// Hooks receive already rendered fragments when they depend on other hooks,
// so embedded defaults never bypass an override.
type dialectRules interface {
	maxBindings() int
	// maxRows limits the rows of one values list, 0 means unlimited.
	maxRows() int
	returning() returningStyle
	// insertIDs reports whether the driver reports the id of an inserted row.
	insertIDs() bool
	// supportsDefault reports whether the default keyword is valid in a values list.
	supportsDefault() bool
	supportsJoin(kind string) bool
	top(s *state, q *Query)
	tableHint(s *state, q *Query)
	limitOffset(s *state, q *Query)
	lock(s *state, q *Query)
	like(s *state, w where)
	// writeOrderLimit writes order by and limit of updates and deletes.
	writeOrderLimit(s *state, q *Query)
	truncate(s *state, q *Query)
	emptyInsert(s *state)
	tx() txStatements
	ddlRules
}

// txStatements are the transaction control statements of a dialect. The
// savepoint statements take the savepoint name.
type txStatements struct {
	beginTop, commitTop, rollbackTop string
	savepoint, release, rollbackTo   string
}

func (t txStatements) begin(depth int) string {
	if depth == 0 {
		return t.beginTop
	}
	return fmt.Sprintf(t.savepoint, savepoint(depth))
}

func (t txStatements) commit(depth int) string {
	if depth == 0 {
		return t.commitTop
	}
	if t.release == "" {
		return ""
	}
	return fmt.Sprintf(t.release, savepoint(depth))
}

func (t txStatements) rollback(depth int) string {
	if depth == 0 {
		return t.rollbackTop
	}
	return fmt.Sprintf(t.rollbackTo, savepoint(depth))
}

var standardTx = txStatements{
	beginTop:    "BEGIN",
	commitTop:   "COMMIT",
	rollbackTop: "ROLLBACK",
	savepoint:   "SAVEPOINT %s",
	release:     "RELEASE SAVEPOINT %s",
	rollbackTo:  "ROLLBACK TO SAVEPOINT %s",
}

// baseRules implements the rules shared by most dialects.
type baseRules struct {
	f formatter
}

func (baseRules) maxBindings() int { return 65535 }
func (baseRules) maxRows() int { return 0 }
func (baseRules) returning() returningStyle { return returningClause }
func (baseRules) supportsDefault() bool { return true }
func (baseRules) insertIDs() bool { return true }
func (baseRules) supportsJoin(kind string) bool { return true }
func (baseRules) top(*state, *Query) {}
func (baseRules) tableHint(*state, *Query) {}
func (baseRules) writeOrderLimit(*state, *Query) {}
func (baseRules) tx() txStatements { return standardTx }

func (baseRules) limitOffset(s *state, q *Query) {
	if q.hasLimit {
		s.write(" limit ")
		s.bind(q.limit)
	}
	if q.hasOffset {
		s.write(" offset ")
		s.bind(q.offset)
	}
}

func (baseRules) lock(s *state, q *Query) {
	switch q.lock {
	case lockForUpdate:
		s.write(" for update")
	case lockForShare:
		s.write(" for share")
	}
}

func (baseRules) like(s *state, w where) {
	s.ident(w.column)
	if w.ci {
		s.write(" ilike ")
	} else {
		s.write(" like ")
	}
	s.value(w.value)
}

func (baseRules) truncate(s *state, q *Query) {
	s.write("truncate ")
	s.table(q)
}

func (baseRules) emptyInsert(s *state) {
	s.write(" default values")
}
