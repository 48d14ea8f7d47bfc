package sql

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/syssam/strata/dialect"
)

// Formatter quotes identifiers and renders literal values for one dialect.
// Implementations are stateless values.
type Formatter interface {
	// Dialect returns the dialect name.
	Dialect() string
	// Quote quotes a single identifier part. "*" is returned as is.
	Quote(part string) string
	// Wrap quotes a possibly qualified and aliased identifier,
	// e.g. "users.id as uid".
	Wrap(ident string) string
	// WrapTable quotes a possibly schema qualified table name.
	WrapTable(name string) string
	// Placeholder returns the placeholder compiled statements use.
	Placeholder() string
	// Literal renders v as a SQL literal. Question marks inside the literal
	// are escaped so they are not taken for placeholders.
	Literal(v any) string
}

// NewFormatter returns the formatter for the dialect name.
func NewFormatter(name string) Formatter {
	switch name {
	case dialect.MySQL:
		return formatter{name: name, open: '`', close: '`', backslash: true, boolWords: true}
	case dialect.SQLite:
		return formatter{name: name, open: '`', close: '`', boolWords: true}
	case dialect.MSSQL:
		return formatter{name: name, open: '[', close: ']'}
	default:
		return formatter{name: name, open: '"', close: '"', boolWords: true}
	}
}

type formatter struct {
	name        string
	open, close byte
	// backslash escapes backslashes in string literals.
	backslash bool
	// boolWords renders booleans as true/false instead of 1/0.
	boolWords bool
}

func (f formatter) Dialect() string { return f.name }

func (f formatter) Quote(part string) string {
	if part == "*" {
		return part
	}
	var b strings.Builder
	b.Grow(len(part) + 2)
	b.WriteByte(f.open)
	for i := 0; i < len(part); i++ {
		c := part[i]
		b.WriteByte(c)
		if c == f.close {
			b.WriteByte(c)
		}
	}
	b.WriteByte(f.close)
	return b.String()
}

func (f formatter) Wrap(ident string) string {
	ident = strings.TrimSpace(ident)
	if i := aliasIndex(ident); i >= 0 {
		return f.Wrap(ident[:i]) + " as " + f.Quote(strings.TrimSpace(ident[i+4:]))
	}
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = f.Quote(strings.TrimSpace(p))
	}
	return strings.Join(parts, ".")
}

func (f formatter) WrapTable(name string) string { return f.Wrap(name) }

func (formatter) Placeholder() string { return "?" }

// aliasIndex returns the index of a case-insensitive " as " in s, or -1.
func aliasIndex(s string) int {
	return strings.Index(strings.ToLower(s), " as ")
}

func (f formatter) Literal(v any) string {
	return strings.ReplaceAll(f.literal(v), "?", `\?`)
}

// literal renders v without escaping question marks.
func (f formatter) literal(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case undefined:
		return "default"
	case *Raw:
		return Interpolate(v.SQL, v.Args, f)
	case bool:
		switch {
		case f.boolWords && v:
			return "true"
		case f.boolWords:
			return "false"
		case v:
			return "1"
		default:
			return "0"
		}
	case int:
		return strconv.Itoa(v)
	case int8, int16, int32, int64:
		return fmt.Sprintf("%d", v)
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case float32:
		return f.float(float64(v), 32)
	case float64:
		return f.float(v, 64)
	case string:
		return f.str(v)
	case []byte:
		switch f.name {
		case dialect.Postgres, dialect.Redshift:
			return `'\x` + hex.EncodeToString(v) + "'"
		case dialect.MSSQL:
			return "0x" + hex.EncodeToString(v)
		default:
			return "X'" + hex.EncodeToString(v) + "'"
		}
	case time.Time:
		switch f.name {
		case dialect.Postgres, dialect.Redshift:
			return f.str(v.Format("2006-01-02 15:04:05.999999Z07:00"))
		default:
			return f.str(v.UTC().Format("2006-01-02 15:04:05.999"))
		}
	case driver.Valuer:
		dv, err := v.Value()
		if err != nil {
			return f.str(fmt.Sprint(v))
		}
		return f.literal(dv)
	case fmt.Stringer:
		return f.str(v.String())
	}
	if vs, ok := expandable(v); ok {
		parts := make([]string, len(vs))
		for i, e := range vs {
			parts[i] = f.literal(e)
		}
		return strings.Join(parts, ", ")
	}
	return f.str(fmt.Sprint(v))
}

func (f formatter) float(v float64, bits int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return f.str(strconv.FormatFloat(v, 'g', -1, bits))
	}
	return strconv.FormatFloat(v, 'g', -1, bits)
}

func (f formatter) str(s string) string {
	if f.backslash {
		s = escapeStringValue(s)
	} else {
		s = strings.ReplaceAll(s, "'", "''")
	}
	if f.name == dialect.MSSQL {
		return "N'" + s + "'"
	}
	return "'" + s + "'"
}

// Interpolate replaces each placeholder in sql with the literal form of the
// matching argument and unescapes literal question marks. The result is meant
// for diagnostics and logs; never execute it. A nil Formatter uses the
// postgres rules.
func Interpolate(sql string, args []any, f Formatter) string {
	lf, ok := f.(formatter)
	if !ok {
		if f != nil {
			lf = NewFormatter(f.Dialect()).(formatter)
		} else {
			lf = NewFormatter(dialect.Postgres).(formatter)
		}
	}
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(sql))
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '\\' && i+1 < len(sql) && sql[i+1] == '?':
			b.WriteByte('?')
			i++
		case c == '?' && i+1 < len(sql) && sql[i+1] == '?' && n < len(args):
			// Identifier binding of an uncompiled raw fragment.
			if s, ok := args[n].(string); ok {
				b.WriteString(lf.Wrap(s))
			} else {
				b.WriteString(lf.literal(args[n]))
			}
			n++
			i++
		case c == '?' && n < len(args):
			b.WriteString(lf.literal(args[n]))
			n++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Rebind rewrites the ? placeholders of a compiled statement into the
// driver's native placeholder style and unescapes literal question marks.
func Rebind(name string, sql string) string {
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(sql) + 8)
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '\\' && i+1 < len(sql) && sql[i+1] == '?':
			b.WriteByte('?')
			i++
		case c == '?':
			n++
			switch name {
			case dialect.Postgres, dialect.Redshift:
				b.WriteByte('$')
				b.WriteString(strconv.Itoa(n))
			case dialect.MSSQL:
				b.WriteString("@p")
				b.WriteString(strconv.Itoa(n))
			default:
				b.WriteByte('?')
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
