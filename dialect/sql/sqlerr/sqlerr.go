// Package sqlerr classifies driver errors into constraint violation kinds.
package sqlerr

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/syssam/strata"
)

// errorCoder is implemented by drivers that expose a string error code.
type errorCoder interface {
	Code() string
}

// sqlStateError is implemented by drivers that expose SQLSTATE codes.
type sqlStateError interface {
	SQLState() string
}

// sqliteCoder is implemented by modernc.org/sqlite errors. The code is
// the extended result code.
type sqliteCoder interface {
	Code() int
}

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgNotNullViolation    = "23502"
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlBadNull             = 1048
	mysqlDuplicateEntry      = 1062
	mysqlNoDefault           = 1364
	mysqlForeignKeyParent    = 1451
	mysqlForeignKeyChild     = 1452
	mysqlCheckConstraintFail = 3819
)

// SQLite extended result codes.
const (
	sqliteCheck      = 275
	sqliteForeignKey = 787
	sqliteNotNull    = 1299
	sqlitePrimaryKey = 1555
	sqliteUnique     = 2067
)

var (
	pgKinds = map[string]string{
		pgNotNullViolation:    strata.ConstraintNotNull,
		pgForeignKeyViolation: strata.ConstraintForeignKey,
		pgUniqueViolation:     strata.ConstraintUnique,
		pgCheckViolation:      strata.ConstraintCheck,
	}
	mysqlKinds = map[uint16]string{
		mysqlBadNull:             strata.ConstraintNotNull,
		mysqlNoDefault:           strata.ConstraintNotNull,
		mysqlDuplicateEntry:      strata.ConstraintUnique,
		mysqlForeignKeyParent:    strata.ConstraintForeignKey,
		mysqlForeignKeyChild:     strata.ConstraintForeignKey,
		mysqlCheckConstraintFail: strata.ConstraintCheck,
	}
	sqliteKinds = map[int]string{
		sqliteCheck:      strata.ConstraintCheck,
		sqliteForeignKey: strata.ConstraintForeignKey,
		sqliteNotNull:    strata.ConstraintNotNull,
		sqlitePrimaryKey: strata.ConstraintUnique,
		sqliteUnique:     strata.ConstraintUnique,
	}
	// messages is the fallback for drivers without typed errors, and for
	// errors that lost their type on the way.
	messages = []struct{ substr, kind string }{
		{"violates unique constraint", strata.ConstraintUnique},
		{"UNIQUE constraint failed", strata.ConstraintUnique},
		{"Error 1062", strata.ConstraintUnique},
		{"Violation of UNIQUE KEY constraint", strata.ConstraintUnique},
		{"Violation of PRIMARY KEY constraint", strata.ConstraintUnique},
		{"Cannot insert duplicate key", strata.ConstraintUnique},
		{"violates foreign key constraint", strata.ConstraintForeignKey},
		{"FOREIGN KEY constraint failed", strata.ConstraintForeignKey},
		{"Error 1451", strata.ConstraintForeignKey},
		{"Error 1452", strata.ConstraintForeignKey},
		{"conflicted with the FOREIGN KEY constraint", strata.ConstraintForeignKey},
		{"conflicted with the REFERENCE constraint", strata.ConstraintForeignKey},
		{"violates check constraint", strata.ConstraintCheck},
		{"CHECK constraint failed", strata.ConstraintCheck},
		{"Error 3819", strata.ConstraintCheck},
		{"conflicted with the CHECK constraint", strata.ConstraintCheck},
		{"violates not-null constraint", strata.ConstraintNotNull},
		{"NOT NULL constraint failed", strata.ConstraintNotNull},
		{"Error 1048", strata.ConstraintNotNull},
		{"Cannot insert the value NULL", strata.ConstraintNotNull},
	}
)

// Kind returns the constraint kind of a driver error, one of the
// strata.Constraint values, or "" when err is not a constraint violation.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if k, ok := pgKinds[string(pqErr.Code)]; ok {
			return k
		}
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if k, ok := mysqlKinds[myErr.Number]; ok {
			return k
		}
	}
	if e, ok := asError[sqlStateError](err); ok {
		if k, ok := pgKinds[e.SQLState()]; ok {
			return k
		}
	}
	if e, ok := asError[errorCoder](err); ok {
		if k, ok := pgKinds[e.Code()]; ok {
			return k
		}
	}
	if e, ok := asError[sqliteCoder](err); ok {
		if k, ok := sqliteKinds[e.Code()]; ok {
			return k
		}
	}
	msg := err.Error()
	for _, m := range messages {
		if strings.Contains(msg, m.substr) {
			return m.kind
		}
	}
	return ""
}

// IsUnique reports whether err is a uniqueness violation.
func IsUnique(err error) bool { return Kind(err) == strata.ConstraintUnique }

// IsForeignKey reports whether err is a foreign key violation.
func IsForeignKey(err error) bool { return Kind(err) == strata.ConstraintForeignKey }

// IsCheck reports whether err is a check constraint violation.
func IsCheck(err error) bool { return Kind(err) == strata.ConstraintCheck }

// IsNotNull reports whether err is a not-null violation.
func IsNotNull(err error) bool { return Kind(err) == strata.ConstraintNotNull }

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}
