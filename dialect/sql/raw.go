package sql

import (
	"fmt"
	"reflect"
	"slices"
)

// Raw is a SQL fragment with its own positional bindings. It may be used
// anywhere a value, a column or a table is expected.
//
// In the fragment, ? is a value placeholder, ?? is an identifier placeholder
// and \? is a literal question mark.
type Raw struct {
	SQL  string
	Args []any
}

// NewRaw returns a raw SQL fragment.
//
//	sql.NewRaw("count(*) > ?", 10)
//	sql.NewRaw("?? = ?", "users.id", 1)
func NewRaw(sql string, args ...any) *Raw {
	return &Raw{SQL: sql, Args: args}
}

// String returns the fragment with its bindings inlined, for debugging.
func (r *Raw) String() string {
	return Interpolate(r.SQL, r.Args, nil)
}

// clone returns a copy of the fragment that does not alias the args slice.
func (r *Raw) clone() *Raw {
	if r == nil {
		return nil
	}
	return &Raw{SQL: r.SQL, Args: append([]any(nil), r.Args...)}
}

// Default renders the dialect's default-value keyword.
var Default = &Raw{SQL: "default"}

// undefined is the type of Undefined.
type undefined struct{}

func (undefined) String() string { return "undefined" }

// Undefined marks a payload value as not provided. In insert and update
// payloads it compiles to the default-value sentinel (the default keyword,
// or null when the client uses null as default). In predicates it is an error.
var Undefined any = undefined{}

// IsUndefined reports whether v is the Undefined marker.
func IsUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

// Pair is a column and the value assigned to it.
type Pair struct {
	Column string
	Value  any
}

// Record is an ordered set of column assignments. Unlike a map, it keeps
// the order in which columns were given.
type Record []Pair

// R builds a Record from alternating column names and values.
//
//	sql.R("first_name", "User", "last_name", "Test")
func R(kv ...any) Record {
	r := make(Record, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		col, _ := kv[i].(string)
		r = append(r, Pair{Column: col, Value: kv[i+1]})
	}
	if len(kv)%2 != 0 {
		// The dangling column keeps its name so validation can report it.
		col, _ := kv[len(kv)-1].(string)
		r = append(r, Pair{Column: col, Value: Undefined})
	}
	return r
}

// Get returns the value of the column and whether it is present.
func (r Record) Get(column string) (any, bool) {
	for _, p := range r {
		if p.Column == column {
			return p.Value, true
		}
	}
	return nil, false
}

// Columns returns the column names in order.
func (r Record) Columns() []string {
	cols := make([]string, len(r))
	for i, p := range r {
		cols[i] = p.Column
	}
	return cols
}

// recordFromMap returns the map entries as a Record in sorted key order.
func recordFromMap(m map[string]any) Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	r := make(Record, len(keys))
	for i, k := range keys {
		r[i] = Pair{Column: k, Value: m[k]}
	}
	return r
}

// expandable reports whether v is a slice whose elements expand into a
// list of placeholders. Byte slices are scalar values.
func expandable(v any) ([]any, bool) {
	switch v := v.(type) {
	case nil, []byte, string:
		return nil, false
	case []any:
		return v, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// countPlaceholders returns the number of unescaped ? markers in sql,
// treating ?? as a single identifier marker.
func countPlaceholders(sql string) (values, identifiers int) {
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\\':
			if i+1 < len(sql) && sql[i+1] == '?' {
				i++
			}
		case '?':
			if i+1 < len(sql) && sql[i+1] == '?' {
				identifiers++
				i++
				continue
			}
			values++
		}
	}
	return values, identifiers
}

// Placeholders returns the number of unescaped ? markers in a compiled statement.
func Placeholders(sql string) int {
	n := 0
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\\':
			if i+1 < len(sql) && sql[i+1] == '?' {
				i++
			}
		case '?':
			n++
		}
	}
	return n
}

func rawArgError(r *Raw) error {
	values, idents := countPlaceholders(r.SQL)
	if values+idents != len(r.Args) {
		return fmt.Errorf("expected %d bindings, saw %d", values+idents, len(r.Args))
	}
	return nil
}
