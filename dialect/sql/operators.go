package sql

import "strings"

// operators lists the comparison operators accepted in where, having and
// join clauses. Keys are normalized to lower case; values are the SQL text
// emitted for them.
var operators = map[string]string{
	"=":           "=",
	"<":           "<",
	">":           ">",
	"<=":          "<=",
	">=":          ">=",
	"<>":          "<>",
	"!=":          "!=",
	"<=>":         "<=>",
	"like":        "like",
	"not like":    "not like",
	"between":     "between",
	"not between": "not between",
	"ilike":       "ilike",
	"not ilike":   "not ilike",
	"exists":      "exists",
	"not exists":  "not exists",
	"rlike":       "rlike",
	"not rlike":   "not rlike",
	"regexp":      "regexp",
	"not regexp":  "not regexp",
	"match":       "match",
	"is":          "is",
	"is not":      "is not",
	"in":          "in",
	"not in":      "not in",
	"&":           "&",
	"|":           "|",
	"^":           "^",
	"<<":          "<<",
	">>":          ">>",
	"~":           "~",
	"~=":          "~=",
	"~*":          "~*",
	"!~":          "!~",
	"!~*":         "!~*",
	"#":           "#",
	"&&":          "&&",
	"@>":          "@>",
	"<@":          "<@",
	"||":          "||",
	"&<":          "&<",
	"&>":          "&>",
	"-|-":         "-|-",
	"@@":          "@@",
	"!!":          "!!",
	// Postgres jsonb key operators. The ? is escaped so it is not taken
	// for a placeholder.
	"?":  `\?`,
	"?|": `\?|`,
	"?&": `\?&`,
}

// normalizeOperator returns the SQL text of op and whether op is allowed.
func normalizeOperator(op string) (string, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(op), " "))
	key = strings.ReplaceAll(key, `\?`, "?")
	sql, ok := operators[key]
	return sql, ok
}

// IsOperator reports whether op is an allowed comparison operator.
func IsOperator(op string) bool {
	_, ok := normalizeOperator(op)
	return ok
}
