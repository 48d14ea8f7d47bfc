package client

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
)

func TestRunUpdate(t *testing.T) {
	ctx := context.Background()
	c, mock := mockClient(t, dialect.Postgres)
	mock.ExpectExec(`update "accounts" set "first_name" = $1, "last_name" = $2, "email" = $3 where "id" = $4`).
		WithArgs("User", "Test", "test@example.com", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := c.Table("accounts").
		Where("id", 1).
		Update(sql.R("first_name", "User", "last_name", "Test", "email", "test@example.com")).
		Run(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.RowCount)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, c.Pool().Stats().InUse)
}

func TestRunFirst(t *testing.T) {
	ctx := context.Background()
	c, mock := mockClient(t, dialect.Postgres)
	mock.ExpectQuery(`select "id", "name" from "users" where "id" = $1 limit $2`).
		WithArgs(1, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "a8m"))
	mock.ExpectQuery(`select "id", "name" from "users" where "id" = $1 limit $2`).
		WithArgs(2, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	row, err := c.Table("users").Select("id", "name").Where("id", 1).First(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a8m", row["name"])

	row, err = c.Table("users").Select("id", "name").Where("id", 2).First(ctx)
	require.NoError(t, err)
	assert.Nil(t, row)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunQueryError(t *testing.T) {
	ctx := context.Background()
	c, mock := mockClient(t, dialect.Postgres)
	errDriver := errors.New(`relation "users" does not exist`)
	mock.ExpectQuery(`select * from "users" where "name" = $1`).
		WithArgs("a8m").
		WillReturnError(errDriver)

	_, err := c.Table("users").Where("name", "a8m").Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errDriver)
	assert.ErrorIs(t, err, strata.ErrQuery)
	assert.False(t, strata.IsConstraintError(err))
	assert.Equal(t, `select * from "users" where "name" = 'a8m' - dialect/sql: query: relation "users" does not exist`, err.Error())
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, c.Pool().Stats().InUse)
}

func TestRunCompileError(t *testing.T) {
	ctx := context.Background()
	c, mock := mockClient(t, dialect.MySQL)
	_, err := c.Table("users").Insert(sql.R("name", "a8m")).Returning("id").Run(ctx)
	assert.True(t, strata.IsCompileError(err))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Zero(t, c.Pool().Stats().Created)
}

func TestRunChunkedInsert(t *testing.T) {
	ctx := context.Background()
	rows := []sql.Record{sql.R("name", "a"), sql.R("name", "b"), sql.R("name", "c")}

	t.Run("client", func(t *testing.T) {
		c, mock := mockClientConfig(t, dialect.Postgres, func(cfg *strata.Config) { cfg.MaxBindings = 2 })
		mock.ExpectExec("BEGIN").WillReturnResult(noResult)
		mock.ExpectExec(`insert into "users" ("name") values ($1), ($2)`).
			WithArgs("a", "b").
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`insert into "users" ("name") values ($1)`).
			WithArgs("c").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("COMMIT").WillReturnResult(noResult)

		res, err := c.Table("users").Insert(rows).Run(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, res.RowCount)
		require.NoError(t, mock.ExpectationsWereMet())
		assert.Equal(t, 0, c.Pool().Stats().InUse)
	})

	t.Run("savepoint", func(t *testing.T) {
		c, mock := mockClientConfig(t, dialect.Postgres, func(cfg *strata.Config) { cfg.MaxBindings = 2 })
		mock.ExpectExec("BEGIN").WillReturnResult(noResult)
		mock.ExpectExec("SAVEPOINT sp_1").WillReturnResult(noResult)
		mock.ExpectExec(`insert into "users" ("name") values ($1), ($2)`).
			WithArgs("a", "b").
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`insert into "users" ("name") values ($1)`).
			WithArgs("c").
			WillReturnError(errors.New("disk full"))
		mock.ExpectExec("ROLLBACK TO SAVEPOINT sp_1").WillReturnResult(noResult)
		mock.ExpectExec("ROLLBACK").WillReturnResult(noResult)

		err := c.Transaction(ctx, func(tx *Tx) error {
			_, err := tx.Table("users").Insert(rows).Run(ctx)
			return err
		})
		assert.True(t, strata.IsQueryError(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRunReturningFallback(t *testing.T) {
	ctx := context.Background()
	c, mock := mockClientConfig(t, dialect.MySQL, func(cfg *strata.Config) { cfg.ReturningFallback = true })
	mock.ExpectExec("insert into `users` (`name`) values (?)").
		WithArgs("a8m").
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectQuery("select `id`, `name` from `users` where `id` = ?").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(5), "a8m"))

	res, err := c.Table("users").Insert(sql.R("name", "a8m")).Returning("id", "name").Run(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.LastInsertID)
	assert.EqualValues(t, 1, res.RowCount)
	require.Len(t, res.Returning, 1)
	assert.Equal(t, "a8m", res.Returning[0]["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunReturningFallbackNoInsertID(t *testing.T) {
	ctx := context.Background()
	c, mock := mockClientConfig(t, dialect.MySQL, func(cfg *strata.Config) { cfg.ReturningFallback = true })
	mock.ExpectExec("insert into `users` (`name`) values (?)").
		WithArgs("a8m").
		WillReturnResult(sqlmock.NewErrorResult(errors.New("LastInsertId is not supported")))

	res, err := c.Table("users").Insert(sql.R("name", "a8m")).Returning("id").Run(ctx)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, strata.IsCompileError(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunUpdateReturningFallback(t *testing.T) {
	ctx := context.Background()
	c, mock := mockClientConfig(t, dialect.MySQL, func(cfg *strata.Config) { cfg.ReturningFallback = true })
	mock.ExpectQuery("select `id` from `tasks` where `status` = ?").
		WithArgs("new").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)).AddRow(int64(5)))
	mock.ExpectExec("update `tasks` set `status` = ? where `status` = ?").
		WithArgs("done", "new").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("select `id`, `status` from `tasks` where `id` in (?, ?)").
		WithArgs(int64(3), int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(int64(3), "done").AddRow(int64(5), "done"))

	res, err := c.Table("tasks").Where("status", "new").Update(sql.R("status", "done")).Returning("id", "status").Run(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.RowCount)
	require.Len(t, res.Returning, 2)
	assert.Equal(t, "done", res.Returning[1]["status"])
	require.NoError(t, mock.ExpectationsWereMet())

	t.Run("no_rows_matched", func(t *testing.T) {
		mock.ExpectQuery("select `id` from `tasks` where `status` = ?").
			WithArgs("new").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectExec("update `tasks` set `status` = ? where `status` = ?").
			WithArgs("done", "new").
			WillReturnResult(sqlmock.NewResult(0, 0))

		res, err := c.Table("tasks").Where("status", "new").Update(sql.R("status", "done")).Returning("id").Run(ctx)
		require.NoError(t, err)
		assert.Empty(t, res.Returning)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRunRowCountFromResult(t *testing.T) {
	ctx := context.Background()
	c, mock := mockClient(t, dialect.MSSQL)
	mock.ExpectQuery("delete from [users] where [active] = @p1;select @@rowcount").
		WithArgs(false).
		WillReturnRows(sqlmock.NewRows([]string{""}).AddRow(int64(3)))

	res, err := c.Table("users").Where("active", false).Delete().Run(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.RowCount)
	assert.Empty(t, res.Rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunPlan(t *testing.T) {
	ctx := context.Background()
	guard := &sql.ForeignKeyGuard{
		Check:   &sql.Statement{SQL: "pragma foreign_keys", Method: sql.MethodSchema, Rows: true},
		Disable: &sql.Statement{SQL: "pragma foreign_keys = off", Method: sql.MethodSchema},
		Enable:  &sql.Statement{SQL: "pragma foreign_keys = on", Method: sql.MethodSchema},
	}
	drop := &sql.Statement{SQL: `drop table "pets"`, Method: sql.MethodSchema}

	t.Run("foreign_keys_enabled", func(t *testing.T) {
		c, mock := mockClient(t, dialect.SQLite)
		mock.ExpectQuery("pragma foreign_keys").WillReturnRows(sqlmock.NewRows([]string{"foreign_keys"}).AddRow(int64(1)))
		mock.ExpectExec("pragma foreign_keys = off").WillReturnResult(noResult)
		mock.ExpectExec("BEGIN").WillReturnResult(noResult)
		mock.ExpectExec(`drop table "pets"`).WillReturnResult(noResult)
		mock.ExpectExec("COMMIT").WillReturnResult(noResult)
		mock.ExpectExec("pragma foreign_keys = on").WillReturnResult(noResult)

		_, err := c.RunPlan(ctx, &sql.Plan{Steps: []sql.Step{drop}, Transactional: true, ForeignKeys: guard})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("foreign_keys_restored_on_failure", func(t *testing.T) {
		c, mock := mockClient(t, dialect.SQLite)
		mock.ExpectQuery("pragma foreign_keys").WillReturnRows(sqlmock.NewRows([]string{"foreign_keys"}).AddRow(int64(1)))
		mock.ExpectExec("pragma foreign_keys = off").WillReturnResult(noResult)
		mock.ExpectExec("BEGIN").WillReturnResult(noResult)
		mock.ExpectExec(`drop table "pets"`).WillReturnError(errors.New("no such table: pets"))
		mock.ExpectExec("ROLLBACK").WillReturnResult(noResult)
		mock.ExpectExec("pragma foreign_keys = on").WillReturnResult(noResult)

		_, err := c.RunPlan(ctx, &sql.Plan{Steps: []sql.Step{drop}, Transactional: true, ForeignKeys: guard})
		assert.True(t, strata.IsQueryError(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("foreign_keys_disabled", func(t *testing.T) {
		c, mock := mockClient(t, dialect.SQLite)
		mock.ExpectQuery("pragma foreign_keys").WillReturnRows(sqlmock.NewRows([]string{"foreign_keys"}).AddRow(int64(0)))
		mock.ExpectExec(`drop table "pets"`).WillReturnResult(noResult)

		_, err := c.RunPlan(ctx, &sql.Plan{Steps: []sql.Step{drop}, ForeignKeys: guard})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("introspection", func(t *testing.T) {
		c, mock := mockClient(t, dialect.SQLite)
		mock.ExpectQuery("select name from sqlite_master").
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("pets").AddRow("users"))
		mock.ExpectExec(`drop table "pets"`).WillReturnResult(noResult)
		mock.ExpectExec(`drop table "users"`).WillReturnResult(noResult)

		in := &sql.Introspection{
			Queries: []*sql.Statement{{SQL: "select name from sqlite_master", Method: sql.MethodSchema, Rows: true}},
			Build: func(results []*dialect.Result) (*sql.Plan, error) {
				p := &sql.Plan{}
				for _, r := range results[0].Rows {
					p.Steps = append(p.Steps, &sql.Statement{SQL: `drop table "` + r["name"].(string) + `"`, Method: sql.MethodSchema})
				}
				return p, nil
			},
		}
		_, err := c.RunPlan(ctx, &sql.Plan{Steps: []sql.Step{in}})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("batches", func(t *testing.T) {
		c, mock := mockClient(t, dialect.SQLite)
		const query = `insert into "b" select * from "a" limit 2 offset ?`
		mock.ExpectExec(query).WithArgs(0).WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(query).WithArgs(2).WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(query).WithArgs(4).WillReturnResult(sqlmock.NewResult(0, 1))

		res, err := c.RunPlan(ctx, &sql.Plan{Steps: []sql.Step{
			&sql.Statement{SQL: query, Args: []any{0}, Method: sql.MethodSchema, BatchSize: 2},
		}})
		require.NoError(t, err)
		assert.EqualValues(t, 5, res.RowCount)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

// recorder records the events it observes.
type recorder struct {
	mu     sync.Mutex
	events []sql.QueryEvent
}

func (r *recorder) QueryStart(context.Context, *sql.QueryEvent) {}

func (r *recorder) QueryResponse(_ context.Context, e *sql.QueryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
}

func (r *recorder) QueryError(ctx context.Context, e *sql.QueryEvent) { r.QueryResponse(ctx, e) }

func TestObservers(t *testing.T) {
	ctx := context.Background()
	stats := sql.NewStatsObserver()
	rec := &recorder{}
	c, mock := mockClient(t, dialect.Postgres, WithObserver(stats, rec))
	mock.ExpectQuery(`select * from "users"`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec("BEGIN").WillReturnResult(noResult)
	mock.ExpectExec(`delete from "users"`).WillReturnError(errors.New("permission denied"))
	mock.ExpectExec("ROLLBACK").WillReturnResult(noResult)

	_, err := c.Table("users").Run(ctx)
	require.NoError(t, err)
	err = c.Transaction(ctx, func(tx *Tx) error {
		_, err := tx.Table("users").Delete().Run(ctx)
		return err
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	s := stats.Snapshot()
	assert.Zero(t, s.InFlight)
	assert.EqualValues(t, 1, s.Methods[sql.MethodSelect].Count)
	assert.EqualValues(t, 2, s.Methods[sql.MethodTransaction].Count)
	assert.EqualValues(t, 1, s.Methods[sql.MethodDelete].Errors)
	assert.EqualValues(t, 4, s.Total().Count)

	require.Len(t, rec.events, 4)
	assert.Equal(t, sql.MethodSelect, rec.events[0].Method)
	assert.Empty(t, rec.events[0].TxID)
	assert.NotEmpty(t, rec.events[0].ConnID)
	assert.Equal(t, sql.MethodTransaction, rec.events[1].Method)
	assert.NotEmpty(t, rec.events[1].TxID)
	assert.Equal(t, rec.events[1].TxID, rec.events[2].TxID)
	assert.Error(t, rec.events[2].Err)
	assert.Equal(t, sql.MethodDelete, rec.events[2].Method)
}

func TestDebugLogging(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c, mock := mockClientConfig(t, dialect.Postgres, func(cfg *strata.Config) { cfg.Debug = true }, WithLogger(log))
	mock.ExpectQuery(`select * from "users" where "id" = $1`).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := c.Table("users").Where("id", 1).Run(ctx)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "select * from")
	require.NoError(t, mock.ExpectationsWereMet())
}
