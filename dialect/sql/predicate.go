package sql

// Cond is a reusable where condition. Conditions are applied to a builder
// with Match, joined with and.
type Cond func(*Builder)

// Match applies the conditions to the builder.
//
//	var Age = sql.Column[int]("age")
//	sql.Dialect(dialect.Postgres).Table("users").Match(Age.GT(18), Age.LT(65))
func (b *Builder) Match(conds ...Cond) *Builder {
	for _, c := range conds {
		if c != nil {
			c(b)
		}
	}
	return b
}

// Or returns a condition that matches when any of the conditions matches.
// The conditions are grouped in parentheses.
func Or(conds ...Cond) Cond {
	return func(b *Builder) {
		b.Where(func(g *Builder) {
			for _, c := range conds {
				sub := (&Builder{}).Match(c)
				if sub.err != nil {
					g.err = sub.err
					return
				}
				switch ws := sub.q.wheres; len(ws) {
				case 0:
				case 1:
					ws[0].bool = or
					g.q.wheres = append(g.q.wheres, ws[0])
				default:
					g.q.wheres = append(g.q.wheres, where{kind: whereGroup, bool: or, group: ws})
				}
			}
		})
	}
}

// Not returns a condition that negates the group of conditions.
func Not(conds ...Cond) Cond {
	return func(b *Builder) {
		b.WhereNot(func(g *Builder) { g.Match(conds...) })
	}
}

// Column is a typed column that builds conditions over values of type T.
//
//	var Email = sql.Column[string]("email")
//	query.Match(Email.EQ("a8m@example.com"))
type Column[T any] string

// Name returns the column name.
func (c Column[T]) Name() string { return string(c) }

// EQ matches rows where the column equals v.
func (c Column[T]) EQ(v T) Cond { return c.op("=", v) }

// NEQ matches rows where the column does not equal v.
func (c Column[T]) NEQ(v T) Cond { return c.op("<>", v) }

// GT matches rows where the column is greater than v.
func (c Column[T]) GT(v T) Cond { return c.op(">", v) }

// GTE matches rows where the column is greater than or equal to v.
func (c Column[T]) GTE(v T) Cond { return c.op(">=", v) }

// LT matches rows where the column is less than v.
func (c Column[T]) LT(v T) Cond { return c.op("<", v) }

// LTE matches rows where the column is less than or equal to v.
func (c Column[T]) LTE(v T) Cond { return c.op("<=", v) }

// In matches rows where the column is one of vs. An empty list matches
// nothing.
func (c Column[T]) In(vs ...T) Cond {
	return func(b *Builder) { b.WhereIn(string(c), vs) }
}

// NotIn matches rows where the column is none of vs.
func (c Column[T]) NotIn(vs ...T) Cond {
	return func(b *Builder) { b.WhereNotIn(string(c), vs) }
}

// Between matches rows where the column is between low and high, inclusive.
func (c Column[T]) Between(low, high T) Cond {
	return func(b *Builder) { b.WhereBetween(string(c), low, high) }
}

// IsNull matches rows where the column is null.
func (c Column[T]) IsNull() Cond {
	return func(b *Builder) { b.WhereNull(string(c)) }
}

// NotNull matches rows where the column is not null.
func (c Column[T]) NotNull() Cond {
	return func(b *Builder) { b.WhereNotNull(string(c)) }
}

func (c Column[T]) op(op string, v T) Cond {
	return func(b *Builder) { b.Where(string(c), op, v) }
}

// StringColumn is a text column with pattern conditions. Values are used
// as is, so % and _ inside them act as wildcards.
type StringColumn struct {
	Column[string]
}

// NewStringColumn returns a StringColumn for the column name.
func NewStringColumn(name string) StringColumn {
	return StringColumn{Column[string](name)}
}

// Contains matches rows where the column contains v.
func (c StringColumn) Contains(v string) Cond { return c.like("%"+v+"%", false) }

// ContainsFold matches rows where the column contains v, ignoring case.
func (c StringColumn) ContainsFold(v string) Cond { return c.like("%"+v+"%", true) }

// HasPrefix matches rows where the column starts with v.
func (c StringColumn) HasPrefix(v string) Cond { return c.like(v+"%", false) }

// HasSuffix matches rows where the column ends with v.
func (c StringColumn) HasSuffix(v string) Cond { return c.like("%"+v, false) }

// EqualFold matches rows where the column equals v, ignoring case.
func (c StringColumn) EqualFold(v string) Cond { return c.like(v, true) }

func (c StringColumn) like(pattern string, fold bool) Cond {
	name := c.Name()
	return func(b *Builder) {
		if fold {
			b.WhereILike(name, pattern)
		} else {
			b.WhereLike(name, pattern)
		}
	}
}
