package sql

// Method is the kind of statement a builder produces.
type Method uint8

// Statement methods.
const (
	MethodSelect Method = iota
	MethodInsert
	MethodUpdate
	MethodDelete
	MethodTruncate
	MethodRaw
	MethodSchema
	// MethodTransaction marks begin, commit and rollback statements.
	MethodTransaction
)

var methodNames = [...]string{
	MethodSelect:      "select",
	MethodInsert:      "insert",
	MethodUpdate:      "update",
	MethodDelete:      "del",
	MethodTruncate:    "truncate",
	MethodRaw:         "raw",
	MethodSchema:      "schema",
	MethodTransaction: "transaction",
}

// String returns the method name.
func (m Method) String() string {
	if int(m) < len(methodNames) {
		return methodNames[m]
	}
	return "unknown"
}

// Boolean connectors between predicates.
const (
	and = "and"
	or  = "or"
)

type whereKind uint8

const (
	whereBasic whereKind = iota
	whereRaw
	whereIn
	whereNull
	whereBetween
	whereGroup
	whereExists
	whereColumn
	whereLike
)

// where is one predicate of a where or having clause.
type where struct {
	kind   whereKind
	bool   string // and | or
	not    bool
	column any // string or *Raw
	op     string
	value  any   // scalar, *Raw or *Query
	values []any // in, between
	sub    *Query
	group  []where
	raw    *Raw
	ci     bool // case-insensitive like
}

func (w where) clone() where {
	c := w
	c.values = append([]any(nil), w.values...)
	if w.group != nil {
		c.group = cloneWheres(w.group)
	}
	c.raw = w.raw.clone()
	if r, ok := w.column.(*Raw); ok {
		c.column = r.clone()
	}
	return c
}

func cloneWheres(ws []where) []where {
	if ws == nil {
		return nil
	}
	out := make([]where, len(ws))
	for i, w := range ws {
		out[i] = w.clone()
	}
	return out
}

// Join kinds.
const (
	innerJoin      = "inner join"
	leftJoin       = "left join"
	leftOuterJoin  = "left outer join"
	rightJoin      = "right join"
	rightOuterJoin = "right outer join"
	fullOuterJoin  = "full outer join"
	crossJoin      = "cross join"
)

// join is one join clause.
type join struct {
	kind  string
	table any // string or *Raw
	raw   *Raw
	on    []joinOn
}

// joinOn is one condition of a join.
type joinOn struct {
	bool   string
	first  string
	op     string
	second string
	value  any   // set for value conditions
	values []any // set for in conditions
	isVal  bool
	isIn   bool
	isNull bool
	not    bool
}

func (j join) clone() join {
	c := j
	c.raw = j.raw.clone()
	c.on = make([]joinOn, len(j.on))
	for i, o := range j.on {
		o.values = append([]any(nil), o.values...)
		c.on[i] = o
	}
	return c
}

// order is one order by term.
type order struct {
	column any // string or *Raw
	dir    string
}

// aggregate is an aggregate column such as count("id") as "total".
type aggregate struct {
	fn       string
	column   any // string or *Raw
	alias    string
	distinct bool
}

type lockMode uint8

const (
	lockNone lockMode = iota
	lockForUpdate
	lockForShare
)

// Query is an immutable snapshot of a builder. It is produced by Freeze and
// consumed by a Compiler.
type Query struct {
	method    Method
	table     any // string or *Raw
	columns   []any
	distinct  bool
	joins     []join
	wheres    []where
	groups    []any
	havings   []where
	orders    []order
	limit     int
	offset    int
	hasLimit  bool
	hasOffset bool
	lock      lockMode
	returning []string
	// insert
	rows        []Record
	sortColumns bool
	// update
	sets []Pair
	raw  *Raw
}

// Method returns the statement method.
func (q *Query) Method() Method { return q.method }

// TableName returns the table name, or empty for raw tables.
func (q *Query) TableName() string {
	s, _ := q.table.(string)
	return s
}

// clone returns a deep copy of the query. Payload values are copied by
// reference, containers are not shared.
func (q *Query) clone() *Query {
	c := *q
	if r, ok := q.table.(*Raw); ok {
		c.table = r.clone()
	}
	c.columns = cloneAny(q.columns)
	c.joins = make([]join, len(q.joins))
	for i, j := range q.joins {
		c.joins[i] = j.clone()
	}
	c.wheres = cloneWheres(q.wheres)
	c.groups = cloneAny(q.groups)
	c.havings = cloneWheres(q.havings)
	c.orders = append([]order(nil), q.orders...)
	c.returning = append([]string(nil), q.returning...)
	if q.rows != nil {
		c.rows = make([]Record, len(q.rows))
		for i, r := range q.rows {
			c.rows[i] = append(Record(nil), r...)
		}
	}
	c.sets = append([]Pair(nil), q.sets...)
	c.raw = q.raw.clone()
	return &c
}

func cloneAny(vs []any) []any {
	if vs == nil {
		return nil
	}
	out := make([]any, len(vs))
	for i, v := range vs {
		if r, ok := v.(*Raw); ok {
			v = r.clone()
		}
		out[i] = v
	}
	return out
}
