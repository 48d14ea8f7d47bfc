package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
)

func TestBuilderSelect(t *testing.T) {
	pg := Dialect(dialect.Postgres)
	tests := []struct {
		name      string
		input     *Builder
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "columns",
			input:     pg.Table("users").Select("id", "users.name as n"),
			wantQuery: `select "id", "users"."name" as "n" from "users"`,
		},
		{
			name:      "distinct",
			input:     pg.Table("users").Distinct("name"),
			wantQuery: `select distinct "name" from "users"`,
		},
		{
			name:      "schema_qualified",
			input:     pg.Table("public.users").Select("*"),
			wantQuery: `select * from "public"."users"`,
		},
		{
			name:      "aggregates",
			input:     pg.Table("users").Count().Max("age").Count("id as total"),
			wantQuery: `select count(*), max("age"), count("id") as "total" from "users"`,
		},
		{
			name:      "where_operators",
			input:     pg.Table("users").Where("age", ">", 18).OrWhere("name", "a8m").WhereNot("active", false),
			wantQuery: `select * from "users" where "age" > ? or "name" = ? and not "active" = ?`,
			wantArgs:  []any{18, "a8m", false},
		},
		{
			name: "where_group",
			input: pg.Table("users").
				Where(func(b *Builder) { b.Where("a", 1).OrWhere("b", 2) }).
				Where("c", 3),
			wantQuery: `select * from "users" where ("a" = ? or "b" = ?) and "c" = ?`,
			wantArgs:  []any{1, 2, 3},
		},
		{
			name:      "where_empty_group",
			input:     pg.Table("users").Where(func(*Builder) {}).Where("c", 3),
			wantQuery: `select * from "users" where "c" = ?`,
			wantArgs:  []any{3},
		},
		{
			name:      "where_map",
			input:     pg.Table("users").Where(map[string]any{"name": "a8m", "age": 30}),
			wantQuery: `select * from "users" where ("age" = ? and "name" = ?)`,
			wantArgs:  []any{30, "a8m"},
		},
		{
			name:      "where_null",
			input:     pg.Table("users").Where("deleted_at", nil).WhereNotNull("email").Where("phone", "!=", nil),
			wantQuery: `select * from "users" where "deleted_at" is null and "email" is not null and "phone" is not null`,
		},
		{
			name:      "where_in",
			input:     pg.Table("users").WhereIn("id", []int{1, 2, 3}).OrWhereNotIn("name", []string{"a"}),
			wantQuery: `select * from "users" where "id" in (?, ?, ?) or "name" not in (?)`,
			wantArgs:  []any{1, 2, 3, "a"},
		},
		{
			name:      "where_in_empty",
			input:     pg.Table("users").WhereIn("id", []int{}).OrWhereNotIn("id", []int{}),
			wantQuery: `select * from "users" where 1 = 0 or 1 = 1`,
		},
		{
			name:      "where_in_sub_query",
			input:     pg.Table("users").WhereIn("id", Table("posts").Select("user_id").Where("published", true)),
			wantQuery: `select * from "users" where "id" in (select "user_id" from "posts" where "published" = ?)`,
			wantArgs:  []any{true},
		},
		{
			name:      "where_between",
			input:     pg.Table("users").WhereBetween("age", 18, 30).WhereNotBetween("score", 1, 2),
			wantQuery: `select * from "users" where "age" between ? and ? and "score" not between ? and ?`,
			wantArgs:  []any{18, 30, 1, 2},
		},
		{
			name: "where_exists",
			input: pg.Table("users").WhereExists(func(b *Builder) {
				b.From("posts").WhereColumn("posts.user_id", "users.id")
			}),
			wantQuery: `select * from "users" where exists (select * from "posts" where "posts"."user_id" = "users"."id")`,
		},
		{
			name:      "where_raw",
			input:     pg.Table("users").WhereRaw("?? = any(?)", "tags", []string{"a", "b"}),
			wantQuery: `select * from "users" where "tags" = any(?, ?)`,
			wantArgs:  []any{"a", "b"},
		},
		{
			name:      "where_like",
			input:     pg.Table("users").WhereLike("name", "a%").OrWhereILike("name", "%B"),
			wantQuery: `select * from "users" where "name" like ? or "name" ilike ?`,
			wantArgs:  []any{"a%", "%B"},
		},
		{
			name:      "jsonb_operator",
			input:     pg.Table("users").Where("data", "?", "key"),
			wantQuery: `select * from "users" where "data" \? ?`,
			wantArgs:  []any{"key"},
		},
		{
			name:      "join",
			input:     pg.Table("users").Join("contacts", "users.id", "contacts.user_id").Select("users.id", "contacts.phone"),
			wantQuery: `select "users"."id", "contacts"."phone" from "users" inner join "contacts" on "users"."id" = "contacts"."user_id"`,
		},
		{
			name: "join_clause",
			input: pg.Table("users").LeftJoin("accounts", func(j *JoinClause) {
				j.On("accounts.id", "users.account_id").OrOn("accounts.owner_id", "=", "users.id").OnVal("accounts.kind", "team")
			}),
			wantQuery: `select * from "users" left join "accounts" on "accounts"."id" = "users"."account_id" or "accounts"."owner_id" = "users"."id" and "accounts"."kind" = ?`,
			wantArgs:  []any{"team"},
		},
		{
			name:      "cross_join",
			input:     pg.Table("users").CrossJoin("teams"),
			wantQuery: `select * from "users" cross join "teams"`,
		},
		{
			name:      "group_having",
			input:     pg.Table("users").Select("dept").Count("id as n").GroupBy("dept").Having("dept", "<>", "ops").OrderBy("dept", "desc"),
			wantQuery: `select "dept", count("id") as "n" from "users" group by "dept" having "dept" <> ? order by "dept" desc`,
			wantArgs:  []any{"ops"},
		},
		{
			name:      "limit_offset",
			input:     pg.Table("users").OrderBy("name").Limit(10).Offset(5),
			wantQuery: `select * from "users" order by "name" asc limit ? offset ?`,
			wantArgs:  []any{10, 5},
		},
		{
			name:      "for_update",
			input:     pg.Table("users").Where("id", 1).ForUpdate(),
			wantQuery: `select * from "users" where "id" = ? for update`,
			wantArgs:  []any{1},
		},
		{
			name:      "raw",
			input:     pg.Raw("select * from ?? where id = ? and name in (?)", "users", 1, []string{"a", "b"}),
			wantQuery: `select * from "users" where id = ? and name in (?, ?)`,
			wantArgs:  []any{1, "a", "b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := tt.input.ToSQL()
			require.NoError(t, err)
			assert.Equal(t, tt.wantQuery, s.SQL)
			assert.Equal(t, tt.wantArgs, s.Args)
			assert.Equal(t, Placeholders(s.SQL), len(s.Args))
			assert.True(t, s.Rows)
		})
	}
}

func TestBuilderDialects(t *testing.T) {
	tests := []struct {
		name      string
		dialect   string
		input     func(*DialectBuilder) *Builder
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "mysql_offset_without_limit",
			dialect:   dialect.MySQL,
			input:     func(d *DialectBuilder) *Builder { return d.Table("users").Offset(5) },
			wantQuery: "select * from `users` limit 18446744073709551615 offset ?",
			wantArgs:  []any{5},
		},
		{
			name:      "sqlite_offset_without_limit",
			dialect:   dialect.SQLite,
			input:     func(d *DialectBuilder) *Builder { return d.Table("users").Offset(5) },
			wantQuery: "select * from `users` limit ? offset ?",
			wantArgs:  []any{-1, 5},
		},
		{
			name:      "mssql_top",
			dialect:   dialect.MSSQL,
			input:     func(d *DialectBuilder) *Builder { return d.Table("users").Limit(10) },
			wantQuery: "select top (?) * from [users]",
			wantArgs:  []any{10},
		},
		{
			name:      "mssql_offset_fetch",
			dialect:   dialect.MSSQL,
			input:     func(d *DialectBuilder) *Builder { return d.Table("users").Limit(10).Offset(5) },
			wantQuery: "select * from [users] order by (select 0) offset ? rows fetch next ? rows only",
			wantArgs:  []any{5, 10},
		},
		{
			name:      "mysql_share_lock",
			dialect:   dialect.MySQL,
			input:     func(d *DialectBuilder) *Builder { return d.Table("users").ForShare() },
			wantQuery: "select * from `users` lock in share mode",
		},
		{
			name:      "mssql_update_lock",
			dialect:   dialect.MSSQL,
			input:     func(d *DialectBuilder) *Builder { return d.Table("users").ForUpdate() },
			wantQuery: "select * from [users] with (UPDLOCK)",
		},
		{
			name:      "sqlite_ignores_lock",
			dialect:   dialect.SQLite,
			input:     func(d *DialectBuilder) *Builder { return d.Table("users").ForUpdate() },
			wantQuery: "select * from `users`",
		},
		{
			name:      "mysql_like",
			dialect:   dialect.MySQL,
			input:     func(d *DialectBuilder) *Builder { return d.Table("users").WhereLike("name", "a%").OrWhereILike("name", "b%") },
			wantQuery: "select * from `users` where `name` like ? COLLATE utf8_bin or `name` like ?",
			wantArgs:  []any{"a%", "b%"},
		},
		{
			name:      "sqlite_like",
			dialect:   dialect.SQLite,
			input:     func(d *DialectBuilder) *Builder { return d.Table("users").WhereILike("name", "a%") },
			wantQuery: "select * from `users` where `name` like ?",
			wantArgs:  []any{"a%"},
		},
		{
			name:      "mssql_like",
			dialect:   dialect.MSSQL,
			input:     func(d *DialectBuilder) *Builder { return d.Table("users").WhereILike("name", "a%") },
			wantQuery: "select * from [users] where [name] collate SQL_Latin1_General_CP1_CI_AS like ?",
			wantArgs:  []any{"a%"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := tt.input(Dialect(tt.dialect)).ToSQL()
			require.NoError(t, err)
			assert.Equal(t, tt.wantQuery, s.SQL)
			assert.Equal(t, tt.wantArgs, s.Args)
		})
	}
}

func TestBuilderWrite(t *testing.T) {
	tests := []struct {
		name      string
		dialect   string
		opts      []CompilerOption
		input     func(*DialectBuilder) *Builder
		wantQuery string
		wantArgs  []any
		wantRows  bool
	}{
		{
			name:    "update_record_order",
			dialect: dialect.Postgres,
			input: func(d *DialectBuilder) *Builder {
				return d.Table("accounts").Where("id", 1).
					Update(R("first_name", "User", "last_name", "Test", "email", "test@example.com"))
			},
			wantQuery: `update "accounts" set "first_name" = ?, "last_name" = ?, "email" = ? where "id" = ?`,
			wantArgs:  []any{"User", "Test", "test@example.com", 1},
		},
		{
			name:    "update_map_sorted",
			dialect: dialect.MySQL,
			input: func(d *DialectBuilder) *Builder {
				return d.Table("accounts").Where("id", 1).Update(map[string]any{"b": 2, "a": 1})
			},
			wantQuery: "update `accounts` set `a` = ?, `b` = ? where `id` = ?",
			wantArgs:  []any{1, 2, 1},
		},
		{
			name:    "increment",
			dialect: dialect.Postgres,
			input: func(d *DialectBuilder) *Builder {
				return d.Table("accounts").Where("id", 1).Increment("balance", 10).Decrement("debt", 5)
			},
			wantQuery: `update "accounts" set "balance" = "balance" + ?, "debt" = "debt" - ? where "id" = ?`,
			wantArgs:  []any{10, 5, 1},
		},
		{
			name:    "mysql_update_order_limit",
			dialect: dialect.MySQL,
			input: func(d *DialectBuilder) *Builder {
				return d.Table("jobs").Where("done", false).OrderBy("id").Limit(10).Update(R("done", true))
			},
			wantQuery: "update `jobs` set `done` = ? where `done` = ? order by `id` asc limit ?",
			wantArgs:  []any{true, false, 10},
		},
		{
			name:    "update_returning",
			dialect: dialect.Postgres,
			input: func(d *DialectBuilder) *Builder {
				return d.Table("users").Where("id", 1).Update(R("name", "a8m")).Returning("id", "name")
			},
			wantQuery: `update "users" set "name" = ? where "id" = ? returning "id", "name"`,
			wantArgs:  []any{"a8m", 1},
			wantRows:  true,
		},
		{
			name:    "mssql_update_output",
			dialect: dialect.MSSQL,
			input: func(d *DialectBuilder) *Builder {
				return d.Table("users").Where("id", 1).Update(R("name", "a8m")).Returning("id")
			},
			wantQuery: "update [users] set [name] = ? output inserted.[id] where [id] = ?",
			wantArgs:  []any{"a8m", 1},
			wantRows:  true,
		},
		{
			name:    "insert_map",
			dialect: dialect.Postgres,
			input: func(d *DialectBuilder) *Builder {
				return d.Table("users").Insert(map[string]any{"name": "a8m", "age": 30})
			},
			wantQuery: `insert into "users" ("age", "name") values (?, ?)`,
			wantArgs:  []any{30, "a8m"},
		},
		{
			name:    "insert_missing_columns",
			dialect: dialect.Postgres,
			input: func(d *DialectBuilder) *Builder {
				return d.Table("t").Insert([]map[string]any{{"a": 1, "b": 2}, {"a": 3}})
			},
			wantQuery: `insert into "t" ("a", "b") values (?, ?), (?, default)`,
			wantArgs:  []any{1, 2, 3},
		},
		{
			name:    "insert_null_as_default",
			dialect: dialect.SQLite,
			opts:    []CompilerOption{WithNullAsDefault()},
			input: func(d *DialectBuilder) *Builder {
				return d.Table("t").Insert([]map[string]any{{"a": 1, "b": 2}, {"a": 3}})
			},
			wantQuery: "insert into `t` (`a`, `b`) values (?, ?), (?, ?)",
			wantArgs:  []any{1, 2, 3, nil},
		},
		{
			name:    "insert_undefined",
			dialect: dialect.MySQL,
			input: func(d *DialectBuilder) *Builder {
				return d.Table("t").Insert(R("a", 1, "b", Undefined))
			},
			wantQuery: "insert into `t` (`a`, `b`) values (?, default)",
			wantArgs:  []any{1},
		},
		{
			name:      "insert_empty",
			dialect:   dialect.Postgres,
			input:     func(d *DialectBuilder) *Builder { return d.Table("t").Insert(map[string]any{}) },
			wantQuery: `insert into "t" default values`,
		},
		{
			name:      "mysql_insert_empty",
			dialect:   dialect.MySQL,
			input:     func(d *DialectBuilder) *Builder { return d.Table("t").Insert(map[string]any{}) },
			wantQuery: "insert into `t` () values ()",
		},
		{
			name:    "insert_returning",
			dialect: dialect.SQLite,
			input: func(d *DialectBuilder) *Builder {
				return d.Table("users").Insert(R("name", "a8m")).Returning("id")
			},
			wantQuery: "insert into `users` (`name`) values (?) returning `id`",
			wantArgs:  []any{"a8m"},
			wantRows:  true,
		},
		{
			name:    "mssql_insert_output",
			dialect: dialect.MSSQL,
			input: func(d *DialectBuilder) *Builder {
				return d.Table("users").Insert(R("name", "a8m")).Returning("id")
			},
			wantQuery: "insert into [users] ([name]) output inserted.[id] values (?)",
			wantArgs:  []any{"a8m"},
			wantRows:  true,
		},
		{
			name:      "delete",
			dialect:   dialect.Postgres,
			input:     func(d *DialectBuilder) *Builder { return d.Table("users").Where("id", 1).Delete() },
			wantQuery: `delete from "users" where "id" = ?`,
			wantArgs:  []any{1},
		},
		{
			name:    "mssql_delete_output",
			dialect: dialect.MSSQL,
			input: func(d *DialectBuilder) *Builder {
				return d.Table("users").Where("id", 1).Delete().Returning("id")
			},
			wantQuery: "delete from [users] output deleted.[id] where [id] = ?",
			wantArgs:  []any{1},
			wantRows:  true,
		},
		{
			name:      "pg_truncate",
			dialect:   dialect.Postgres,
			input:     func(d *DialectBuilder) *Builder { return d.Table("users").Truncate() },
			wantQuery: `truncate "users" restart identity`,
		},
		{
			name:      "redshift_truncate",
			dialect:   dialect.Redshift,
			input:     func(d *DialectBuilder) *Builder { return d.Table("users").Truncate() },
			wantQuery: `truncate "users"`,
		},
		{
			name:      "mysql_truncate",
			dialect:   dialect.MySQL,
			input:     func(d *DialectBuilder) *Builder { return d.Table("users").Truncate() },
			wantQuery: "truncate `users`",
		},
		{
			name:      "sqlite_truncate",
			dialect:   dialect.SQLite,
			input:     func(d *DialectBuilder) *Builder { return d.Table("users").Truncate() },
			wantQuery: "delete from `users`",
		},
		{
			name:      "mssql_truncate",
			dialect:   dialect.MSSQL,
			input:     func(d *DialectBuilder) *Builder { return d.Table("users").Truncate() },
			wantQuery: "truncate table [users]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := tt.input(Dialect(tt.dialect, tt.opts...)).ToSQL()
			require.NoError(t, err)
			assert.Equal(t, tt.wantQuery, s.SQL)
			assert.Equal(t, tt.wantArgs, s.Args)
			assert.Equal(t, tt.wantRows, s.Rows)
			assert.Equal(t, Placeholders(s.SQL), len(s.Args))
		})
	}
}

func TestBuilderReturningFallback(t *testing.T) {
	my := Dialect(dialect.MySQL, WithReturningFallback())

	t.Run("insert", func(t *testing.T) {
		s, err := my.Table("users").Insert(R("name", "a8m")).Returning("id", "name").ToSQL()
		require.NoError(t, err)
		assert.Equal(t, "insert into `users` (`name`) values (?)", s.SQL)
		assert.False(t, s.Rows)
		require.NotNil(t, s.After)
		assert.Equal(t, "select `id`, `name` from `users` where `id` = ?", s.After.SQL)
		assert.Equal(t, []any{LastInsertID}, s.After.Args)
	})

	t.Run("insert_key", func(t *testing.T) {
		s, err := Dialect(dialect.MySQL, WithReturningFallback(), WithInsertKey("uid")).
			Table("users").Insert(R("name", "a8m")).Returning("name").ToSQL()
		require.NoError(t, err)
		require.NotNil(t, s.After)
		assert.Equal(t, "select `name` from `users` where `uid` = ?", s.After.SQL)
	})

	t.Run("update", func(t *testing.T) {
		s, err := my.Table("users").Where("id", 1).Update(R("name", "a8m")).Returning("name").ToSQL()
		require.NoError(t, err)
		require.NotNil(t, s.Before)
		assert.Equal(t, "select `id` from `users` where `id` = ?", s.Before.SQL)
		assert.Equal(t, []any{1}, s.Before.Args)
		require.NotNil(t, s.After)
		assert.Equal(t, "select `name` from `users` where `id` in (?)", s.After.SQL)
		assert.Equal(t, []any{BeforeKeys}, s.After.Args)
		assert.True(t, s.After.Binds(BeforeKeys))

		after := s.After.BindKeys([]any{int64(3), int64(5)})
		assert.Equal(t, "select `name` from `users` where `id` in (?, ?)", after.SQL)
		assert.Equal(t, []any{int64(3), int64(5)}, after.Args)
		assert.Equal(t, []any{BeforeKeys}, s.After.Args)
	})

	t.Run("update_matched_column", func(t *testing.T) {
		s, err := my.Table("tasks").
			Where("status", "new").
			Update(R("status", "done")).
			OrderBy("id").
			Limit(10).
			Returning("id", "status").
			ToSQL()
		require.NoError(t, err)
		assert.Equal(t, "update `tasks` set `status` = ? where `status` = ? order by `id` asc limit ?", s.SQL)
		require.NotNil(t, s.Before)
		assert.Equal(t, "select `id` from `tasks` where `status` = ? order by `id` asc limit ?", s.Before.SQL)
		assert.Equal(t, []any{"new", 10}, s.Before.Args)
		assert.Equal(t, "select `id`, `status` from `tasks` where `id` in (?)", s.After.SQL)
	})

	t.Run("redshift_insert", func(t *testing.T) {
		_, err := Dialect(dialect.Redshift, WithReturningFallback()).
			Table("users").Insert(R("name", "a8m")).Returning("id").ToSQL()
		require.Error(t, err)
		assert.True(t, strata.IsCompileError(err))
		assert.Contains(t, err.Error(), "no insert ids")

		s, err := Dialect(dialect.Redshift, WithReturningFallback()).
			Table("users").Where("id", 1).Update(R("name", "a8m")).Returning("name").ToSQL()
		require.NoError(t, err)
		assert.Equal(t, `select "id" from "users" where "id" = ?`, s.Before.SQL)
	})

	t.Run("delete", func(t *testing.T) {
		s, err := my.Table("users").Where("id", 1).Delete().Returning("name").ToSQL()
		require.NoError(t, err)
		assert.Nil(t, s.After)
		require.NotNil(t, s.Before)
		assert.Equal(t, "select `name` from `users` where `id` = ?", s.Before.SQL)
	})

	t.Run("multi_row_insert", func(t *testing.T) {
		_, err := my.Table("users").Insert([]Record{R("name", "a"), R("name", "b")}).Returning("id").Plan()
		assert.True(t, strata.IsCompileError(err))
	})

	t.Run("disabled", func(t *testing.T) {
		_, err := Dialect(dialect.MySQL).Table("users").Insert(R("name", "a8m")).Returning("id").ToSQL()
		assert.True(t, strata.IsCompileError(err))
		_, err = Dialect(dialect.Redshift).Table("users").Where("id", 1).Delete().Returning("id").ToSQL()
		assert.True(t, strata.IsCompileError(err))
	})
}

func TestBuilderInsertNoRows(t *testing.T) {
	for _, d := range []string{dialect.Postgres, dialect.MySQL, dialect.SQLite, dialect.MSSQL} {
		t.Run(d, func(t *testing.T) {
			for _, rows := range []any{[]map[string]any{}, []Record{}, []Record(nil)} {
				p, err := Dialect(d).Table("users").Insert(rows).Plan()
				require.NoError(t, err)
				assert.Empty(t, p.Steps)
				assert.False(t, p.Transactional)
			}
			// A single empty row still inserts defaults.
			p, err := Dialect(d, WithNullAsDefault()).Table("users").Insert(Record{}).Plan()
			require.NoError(t, err)
			assert.Len(t, p.Steps, 1)
		})
	}
}

func TestBuilderChunkedInsert(t *testing.T) {
	t.Run("max_bindings", func(t *testing.T) {
		rows := make([]Record, 5)
		for i := range rows {
			rows[i] = R("a", i, "b", i*10)
		}
		p, err := Dialect(dialect.Postgres, WithMaxBindings(4)).Table("t").Insert(rows).Plan()
		require.NoError(t, err)
		assert.True(t, p.Transactional)
		stmts := p.Statements()
		require.Len(t, stmts, 3)
		assert.Equal(t, `insert into "t" ("a", "b") values (?, ?), (?, ?)`, stmts[0].SQL)
		assert.Equal(t, []any{0, 0, 1, 10}, stmts[0].Args)
		assert.Equal(t, `insert into "t" ("a", "b") values (?, ?)`, stmts[2].SQL)
		assert.Equal(t, []any{4, 40}, stmts[2].Args)
	})

	t.Run("mssql_max_rows", func(t *testing.T) {
		rows := make([]Record, 1500)
		for i := range rows {
			rows[i] = R("n", i)
		}
		p, err := Dialect(dialect.MSSQL).Table("t").Insert(rows).Plan()
		require.NoError(t, err)
		stmts := p.Statements()
		require.Len(t, stmts, 2)
		assert.Len(t, stmts[0].Args, 1000)
		assert.Len(t, stmts[1].Args, 500)
		for _, s := range stmts {
			assert.Equal(t, Placeholders(s.SQL), len(s.Args))
		}
	})

	t.Run("single_chunk", func(t *testing.T) {
		p, err := Dialect(dialect.SQLite).Table("t").Insert([]Record{R("a", 1), R("a", 2)}).Plan()
		require.NoError(t, err)
		assert.False(t, p.Transactional)
		assert.Len(t, p.Steps, 1)
	})

	t.Run("row_too_wide", func(t *testing.T) {
		_, err := Dialect(dialect.Postgres, WithMaxBindings(1)).Table("t").Insert(R("a", 1, "b", 2)).Plan()
		assert.True(t, strata.IsCompileError(err))
	})
}

func TestBuilderErrors(t *testing.T) {
	pg := Dialect(dialect.Postgres)
	tests := []struct {
		name    string
		input   *Builder
		compile bool
	}{
		{name: "empty_table", input: pg.Table("")},
		{name: "bad_operator", input: pg.Table("users").Where("id", "<<>>", 1)},
		{name: "undefined_binding", input: pg.Table("users").Where("id", Undefined)},
		{name: "undefined_in", input: pg.Table("users").WhereIn("id", []any{1, Undefined})},
		{name: "in_scalar", input: pg.Table("users").WhereIn("id", 1)},
		{name: "between_arity", input: pg.Table("users").Where("age", "between", []int{1})},
		{name: "negative_limit", input: pg.Table("users").Limit(-1)},
		{name: "order_direction", input: pg.Table("users").OrderBy("id", "sideways")},
		{name: "join_without_condition", input: pg.Table("users").Join("teams")},
		{name: "empty_update", input: pg.Table("users").Update(map[string]any{})},
		{name: "empty_insert_column", input: pg.Table("users").Insert(R("", 1))},
		{name: "raw_arity", input: pg.Raw("select ?", 1, 2)},
		{name: "insert_without_table", input: pg.Select().Insert(R("a", 1))},
		{name: "update_with_join", input: pg.Table("users").Join("teams", "users.team_id", "teams.id").Update(R("a", 1)), compile: true},
		{name: "unsupported_join", input: Dialect(dialect.MySQL).Table("users").FullOuterJoin("teams", "users.team_id", "teams.id"), compile: true},
		{name: "sqlite_default", input: Dialect(dialect.SQLite).Table("t").Insert(R("a", Undefined)), compile: true},
		{name: "unknown_dialect", input: Dialect("oracle").Table("t"), compile: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.input.ToSQL()
			require.Error(t, err)
			if tt.compile {
				assert.True(t, strata.IsCompileError(err), "got %v", err)
			} else {
				assert.True(t, strata.IsValidationError(err), "got %v", err)
			}
		})
	}
	_, err := Table("users").ToSQL()
	assert.True(t, strata.IsValidationError(err), "unbound builder")
}

func TestBuilderPurity(t *testing.T) {
	pg := Dialect(dialect.Postgres)
	b := pg.Table("users").Where("id", 1)
	q := b.Freeze()
	c := pg.Compiler()
	first, err := c.Compile(q)
	require.NoError(t, err)

	b.Where("name", "a8m").Limit(1)
	second, err := c.Compile(q)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	s, err := b.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `select * from "users" where "id" = ? and "name" = ? limit ?`, s.SQL)

	clone := b.Clone().Where("age", ">", 18)
	s, err = b.ToSQL()
	require.NoError(t, err)
	assert.NotContains(t, s.SQL, "age")
	s, err = clone.ToSQL()
	require.NoError(t, err)
	assert.Contains(t, s.SQL, `"age" > ?`)
}

func TestBuilderString(t *testing.T) {
	tests := []struct {
		dialect string
		input   func(*DialectBuilder) *Builder
		want    string
	}{
		{
			dialect: dialect.Postgres,
			input:   func(d *DialectBuilder) *Builder { return d.Table("users").Where("name", "O'Brien").Where("active", true) },
			want:    `select * from "users" where "name" = 'O''Brien' and "active" = true`,
		},
		{
			dialect: dialect.MySQL,
			input:   func(d *DialectBuilder) *Builder { return d.Table("users").Where("path", `C:\tmp`) },
			want:    "select * from `users` where `path` = 'C:\\\\tmp'",
		},
		{
			dialect: dialect.MSSQL,
			input:   func(d *DialectBuilder) *Builder { return d.Table("users").Where("name", "a8m").Where("active", true) },
			want:    "select * from [users] where [name] = N'a8m' and [active] = 1",
		},
		{
			dialect: dialect.Postgres,
			input:   func(d *DialectBuilder) *Builder { return d.Table("users").Where("data", "?", "key") },
			want:    `select * from "users" where "data" ? 'key'`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.input(Dialect(tt.dialect)).String())
		})
	}
}

func TestTransactionStatements(t *testing.T) {
	pg := NewCompiler(dialect.Postgres)
	assert.Equal(t, "BEGIN", pg.BeginSQL(0))
	assert.Equal(t, "SAVEPOINT sp_2", pg.BeginSQL(2))
	assert.Equal(t, "RELEASE SAVEPOINT sp_1", pg.CommitSQL(1))
	assert.Equal(t, "ROLLBACK TO SAVEPOINT sp_1", pg.RollbackSQL(1))

	ms := NewCompiler(dialect.MSSQL)
	assert.Equal(t, "BEGIN TRANSACTION", ms.BeginSQL(0))
	assert.Equal(t, "SAVE TRANSACTION sp_1", ms.BeginSQL(1))
	assert.Empty(t, ms.CommitSQL(1))
	assert.Equal(t, "ROLLBACK TRANSACTION sp_1", ms.RollbackSQL(1))
}
