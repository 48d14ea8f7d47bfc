package sql

import (
	"testing"

	"github.com/syssam/strata/dialect"
)

var benchDialects = []string{dialect.SQLite, dialect.MySQL, dialect.Postgres, dialect.MSSQL}

func BenchmarkInsertBuilder_Default(b *testing.B) {
	for _, d := range benchDialects {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_, _ = Dialect(d, WithReturningFallback()).Table("users").Insert(map[string]any{}).Returning("id").Plan()
			}
		})
	}
}

func BenchmarkInsertBuilder_Small(b *testing.B) {
	for _, d := range benchDialects {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_, _ = Dialect(d).Table("users").
					Insert(R("id", 1, "age", 30, "first_name", "Ariel", "last_name", "Mashraki",
						"nickname", "a8m", "spouse_id", 2, "created_at", "2009-11-10 23:00:00")).
					ToSQL()
			}
		})
	}
}

func BenchmarkInsertBuilder_Chunked(b *testing.B) {
	rows := make([]Record, 5000)
	for i := range rows {
		rows[i] = R("id", i, "name", "user", "age", i%90)
	}
	for _, d := range benchDialects {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_, _ = Dialect(d).Table("users").Insert(rows).Plan()
			}
		})
	}
}

func BenchmarkSelectBuilder_Simple(b *testing.B) {
	for _, d := range benchDialects {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_, _ = Dialect(d).Table("users").Select("id", "name", "email").ToSQL()
			}
		})
	}
}

func BenchmarkSelectBuilder_WithJoins(b *testing.B) {
	for _, d := range benchDialects {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_, _ = Dialect(d).Table("users as u").
					Select("u.id", "u.name", "p.title").
					Join("posts as p", "u.id", "p.author_id").
					LeftJoin("groups as g", "u.group_id", "g.id").
					Where("u.active", true).
					ToSQL()
			}
		})
	}
}

func BenchmarkSelectBuilder_Complex(b *testing.B) {
	for _, d := range benchDialects {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_, _ = Dialect(d).Table("users").
					Select("id", "name").
					Where(func(w *Builder) {
						w.Where("age", ">", 18).OrWhereIn("role", []string{"admin", "owner"})
					}).
					WhereNotNull("email").
					WhereLike("name", "a%").
					GroupBy("id", "name").
					OrderBy("name", "desc").
					Limit(10).
					Offset(20).
					ToSQL()
			}
		})
	}
}

func BenchmarkUpdateBuilder_Simple(b *testing.B) {
	for _, d := range benchDialects {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_, _ = Dialect(d).Table("users").Where("id", 1).Update(R("name", "a8m")).ToSQL()
			}
		})
	}
}

func BenchmarkUpdateBuilder_Multiple(b *testing.B) {
	for _, d := range benchDialects {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_, _ = Dialect(d).Table("users").
					Where("id", 1).
					Update(R("name", "a8m", "email", "a8m@example.com", "active", true)).
					Increment("logins", 1).
					ToSQL()
			}
		})
	}
}

func BenchmarkDeleteBuilder_WithConditions(b *testing.B) {
	for _, d := range benchDialects {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_, _ = Dialect(d).Table("users").
					Where("active", false).
					WhereBetween("age", 10, 20).
					WhereIn("id", []int{1, 2, 3, 4, 5}).
					Delete().
					ToSQL()
			}
		})
	}
}

func BenchmarkInterpolate(b *testing.B) {
	s, err := Dialect(dialect.Postgres).Table("users").
		Where("name", "O'Brien").WhereIn("id", []int{1, 2, 3}).ToSQL()
	if err != nil {
		b.Fatal(err)
	}
	f := NewFormatter(dialect.Postgres)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = Interpolate(s.SQL, s.Args, f)
	}
}
