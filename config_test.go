package strata_test

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
)

func TestDefaultConfig(t *testing.T) {
	cfg := strata.DefaultConfig("pg")
	assert.Equal(t, dialect.Postgres, cfg.Dialect())
	assert.Equal(t, strata.DefaultPoolMin, cfg.Pool.Min)
	assert.Equal(t, strata.DefaultPoolMax, cfg.Pool.Max)
	assert.Equal(t, time.Minute, cfg.Pool.AcquireTimeout())
	assert.Equal(t, 30*time.Second, cfg.Pool.IdleTimeout())
	assert.Equal(t, 5*time.Second, cfg.Pool.DestroyTimeout())
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*strata.Config)
		wantErr string
	}{
		{name: "valid"},
		{name: "no_client", modify: func(c *strata.Config) { c.Client = "" }, wantErr: "client is required"},
		{name: "unknown_client", modify: func(c *strata.Config) { c.Client = "oracle" }, wantErr: `unsupported client "oracle"`},
		{name: "max", modify: func(c *strata.Config) { c.Pool.Max = 0 }, wantErr: "pool.max must be at least 1"},
		{name: "min", modify: func(c *strata.Config) { c.Pool.Min = 20 }, wantErr: "pool.min must be between"},
		{name: "timeouts", modify: func(c *strata.Config) { c.Pool.IdleTimeoutMillis = -1 }, wantErr: "must not be negative"},
		{name: "retries", modify: func(c *strata.Config) { c.Pool.CreateRetries = -1 }, wantErr: "create_retries"},
		{name: "bindings", modify: func(c *strata.Config) { c.MaxBindings = -1 }, wantErr: "max_bindings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := strata.DefaultConfig(dialect.MySQL)
			if tt.modify != nil {
				tt.modify(cfg)
			}
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strata.IsValidationError(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigDSN(t *testing.T) {
	t.Run("postgres_fields", func(t *testing.T) {
		cfg := strata.DefaultConfig(dialect.Postgres)
		cfg.Connection = strata.ConnectionConfig{
			Host:     "db",
			User:     "app",
			Password: "s3cret pass",
			Database: "app",
			Params:   map[string]string{"sslmode": "disable"},
		}
		driver, dsn, err := cfg.DSN()
		require.NoError(t, err)
		assert.Equal(t, "postgres", driver)
		assert.Equal(t, `dbname=app host=db password='s3cret pass' port=5432 sslmode=disable user=app`, dsn)
	})
	t.Run("postgres_url", func(t *testing.T) {
		cfg := strata.DefaultConfig("postgresql")
		cfg.Connection.URL = "postgres://app@db:5433/app"
		driver, dsn, err := cfg.DSN()
		require.NoError(t, err)
		assert.Equal(t, "postgres", driver)
		assert.Contains(t, dsn, "host=db")
		assert.Contains(t, dsn, "port=5433")
		assert.Contains(t, dsn, "dbname=app")
	})
	t.Run("postgres_bad_url", func(t *testing.T) {
		cfg := strata.DefaultConfig(dialect.Redshift)
		cfg.Connection.URL = "postgres://app@db:port/app"
		_, _, err := cfg.DSN()
		assert.True(t, strata.IsValidationError(err))
	})
	t.Run("mysql", func(t *testing.T) {
		cfg := strata.DefaultConfig(dialect.MySQL)
		cfg.Connection = strata.ConnectionConfig{User: "root", Password: "pw", Host: "db", Port: 3307, Database: "app"}
		driver, dsn, err := cfg.DSN()
		require.NoError(t, err)
		assert.Equal(t, "mysql", driver)
		assert.Contains(t, dsn, "root:pw@tcp(db:3307)/app")
	})
	t.Run("sqlite", func(t *testing.T) {
		cfg := strata.DefaultConfig("sqlite3")
		cfg.Connection.Filename = ":memory:"
		driver, dsn, err := cfg.DSN()
		require.NoError(t, err)
		assert.Equal(t, "sqlite", driver)
		assert.Equal(t, ":memory:", dsn)

		cfg.Connection.Filename = ""
		_, _, err = cfg.DSN()
		assert.True(t, strata.IsValidationError(err))
	})
	t.Run("mssql", func(t *testing.T) {
		_, _, err := strata.DefaultConfig(dialect.MSSQL).DSN()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "supply a connector")
	})
}

func TestConfigYAML(t *testing.T) {
	cfg := strata.DefaultConfig(dialect.Postgres)
	cfg.Connection.Password = "hunter2"
	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")

	var decoded strata.Config
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, "********", decoded.Connection.Password)
	assert.Equal(t, cfg.Pool, decoded.Pool)
	assert.Equal(t, "hunter2", cfg.Connection.Password)
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/etc/strata.yaml", []byte("client: sqlite\nconnection:\n  filename: app.db\n"), 0o644))
		cfg, err := strata.LoadConfig(strata.WithFs(fs), strata.WithConfigFile("/etc/strata.yaml"))
		require.NoError(t, err)
		assert.Equal(t, dialect.SQLite, cfg.Dialect())
		assert.Equal(t, "app.db", cfg.Connection.Filename)
		assert.Equal(t, strata.DefaultPoolMax, cfg.Pool.Max)
		assert.Equal(t, strata.DefaultAcquireTimeoutMillis, cfg.Pool.AcquireTimeoutMillis)
	})
	t.Run("environments", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		file := `
development:
  client: sqlite
  connection:
    filename: dev.db
production:
  client: postgres
  connection:
    url: postgres://app@db/app
  pool:
    max: 25
  returning_fallback: true
`
		require.NoError(t, afero.WriteFile(fs, "/strata.yml", []byte(file), 0o644))
		cfg, err := strata.LoadConfig(strata.WithFs(fs), strata.WithConfigFile("/strata.yml"), strata.WithEnvironment("production"))
		require.NoError(t, err)
		assert.Equal(t, dialect.Postgres, cfg.Dialect())
		assert.Equal(t, 25, cfg.Pool.Max)
		assert.Equal(t, strata.DefaultPoolMin, cfg.Pool.Min)
		assert.True(t, cfg.ReturningFallback)

		_, err = strata.LoadConfig(strata.WithFs(fs), strata.WithConfigFile("/strata.yml"), strata.WithEnvironment("staging"))
		assert.True(t, strata.IsValidationError(err))
	})
	t.Run("env_overrides", func(t *testing.T) {
		t.Setenv("STRATA_CLIENT", "mysql")
		t.Setenv("STRATA_POOL_MAX", "7")
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/strata.yaml", []byte("client: postgres\npool:\n  max: 3\n"), 0o644))
		cfg, err := strata.LoadConfig(strata.WithFs(fs), strata.WithConfigFile("/strata.yaml"), strata.WithDotEnv())
		require.NoError(t, err)
		assert.Equal(t, dialect.MySQL, cfg.Dialect())
		assert.Equal(t, 7, cfg.Pool.Max)
	})
	t.Run("dotenv", func(t *testing.T) {
		t.Setenv("STRATA_POOL_MIN", "1")
		t.Cleanup(func() { os.Unsetenv("STRATA_CONNECTION_FILENAME") })
		fs := afero.NewMemMapFs()
		env := "STRATA_CLIENT=sqlite\nSTRATA_CONNECTION_FILENAME=from-env.db\nSTRATA_POOL_MIN=4\n"
		require.NoError(t, afero.WriteFile(fs, "/app/.env", []byte(env), 0o644))
		t.Cleanup(func() { os.Unsetenv("STRATA_CLIENT") })
		cfg, err := strata.LoadConfig(strata.WithFs(fs), strata.WithDotEnv("/app/.env", "/app/.env.local"))
		require.NoError(t, err)
		assert.Equal(t, dialect.SQLite, cfg.Dialect())
		assert.Equal(t, "from-env.db", cfg.Connection.Filename)
		// Process environment wins over the .env file.
		assert.Equal(t, 1, cfg.Pool.Min)
	})
	t.Run("missing_file", func(t *testing.T) {
		_, err := strata.LoadConfig(strata.WithFs(afero.NewMemMapFs()), strata.WithConfigFile("/nope.yaml"), strata.WithDotEnv())
		require.Error(t, err)
	})
	t.Run("invalid", func(t *testing.T) {
		_, err := strata.LoadConfig(strata.WithFs(afero.NewMemMapFs()), strata.WithDotEnv())
		assert.True(t, strata.IsValidationError(err))
	})
}
