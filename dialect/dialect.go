package dialect

import "strings"

// Dialect names.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite"
	MSSQL    = "mssql"
	Redshift = "redshift"
)

// aliases maps client names accepted in configuration to dialect names.
var aliases = map[string]string{
	"pg":         Postgres,
	"postgres":   Postgres,
	"postgresql": Postgres,
	"pgnative":   Postgres,
	"mysql":      MySQL,
	"mysql2":     MySQL,
	"mariadb":    MySQL,
	"sqlite":     SQLite,
	"sqlite3":    SQLite,
	"mssql":      MSSQL,
	"sqlserver":  MSSQL,
	"tedious":    MSSQL,
	"redshift":   Redshift,
}

// Normalize returns the dialect name for a client name. Unknown names are
// returned lower-cased.
func Normalize(client string) string {
	c := strings.ToLower(strings.TrimSpace(client))
	if d, ok := aliases[c]; ok {
		return d
	}
	return c
}

// Supported reports whether the dialect name is known.
func Supported(name string) bool {
	switch name {
	case Postgres, MySQL, SQLite, MSSQL, Redshift:
		return true
	}
	return false
}
