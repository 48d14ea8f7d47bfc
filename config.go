package strata

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/lib/pq"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/syssam/strata/dialect"
)

// Pool defaults.
const (
	DefaultPoolMin              = 2
	DefaultPoolMax              = 10
	DefaultAcquireTimeoutMillis = 60000
	DefaultIdleTimeoutMillis    = 30000
	DefaultDestroyTimeoutMillis = 5000
	DefaultCreateRetries        = 3
)

// Config is the configuration consumed by the client.
type Config struct {
	// Client names the dialect: postgres (pg), mysql, sqlite (sqlite3), mssql or redshift.
	Client     string           `mapstructure:"client" yaml:"client"`
	Connection ConnectionConfig `mapstructure:"connection" yaml:"connection"`
	Pool       PoolConfig       `mapstructure:"pool" yaml:"pool"`

	// UseNullAsDefault compiles undefined insert values as null instead of default.
	UseNullAsDefault bool `mapstructure:"use_null_as_default" yaml:"use_null_as_default"`
	// ReturningFallback plans follow-up reads for returning on dialects without it.
	ReturningFallback bool `mapstructure:"returning_fallback" yaml:"returning_fallback"`
	// MaxBindings overrides the dialect's bindings-per-statement limit used to chunk inserts.
	MaxBindings int  `mapstructure:"max_bindings" yaml:"max_bindings,omitempty"`
	Debug       bool `mapstructure:"debug" yaml:"debug"`
}

// ConnectionConfig holds connection parameters. URL takes precedence over
// the discrete fields when set.
type ConnectionConfig struct {
	URL      string            `mapstructure:"url" yaml:"url,omitempty"`
	Host     string            `mapstructure:"host" yaml:"host,omitempty"`
	Port     int               `mapstructure:"port" yaml:"port,omitempty"`
	User     string            `mapstructure:"user" yaml:"user,omitempty"`
	Password string            `mapstructure:"password" yaml:"password,omitempty"`
	Database string            `mapstructure:"database" yaml:"database,omitempty"`
	Filename string            `mapstructure:"filename" yaml:"filename,omitempty"`
	Params   map[string]string `mapstructure:"params" yaml:"params,omitempty"`
}

// PoolConfig holds pool sizing and timing. Durations are in milliseconds.
type PoolConfig struct {
	Min                  int `mapstructure:"min" yaml:"min"`
	Max                  int `mapstructure:"max" yaml:"max"`
	AcquireTimeoutMillis int `mapstructure:"acquire_timeout_ms" yaml:"acquire_timeout_ms"`
	IdleTimeoutMillis    int `mapstructure:"idle_timeout_ms" yaml:"idle_timeout_ms"`
	DestroyTimeoutMillis int `mapstructure:"destroy_timeout_ms" yaml:"destroy_timeout_ms"`
	CreateRetries        int `mapstructure:"create_retries" yaml:"create_retries"`
}

// AcquireTimeout returns the acquire timeout as a duration.
func (p PoolConfig) AcquireTimeout() time.Duration {
	return time.Duration(p.AcquireTimeoutMillis) * time.Millisecond
}

// IdleTimeout returns the idle timeout as a duration.
func (p PoolConfig) IdleTimeout() time.Duration {
	return time.Duration(p.IdleTimeoutMillis) * time.Millisecond
}

// DestroyTimeout returns the shutdown grace period as a duration.
func (p PoolConfig) DestroyTimeout() time.Duration {
	return time.Duration(p.DestroyTimeoutMillis) * time.Millisecond
}

// DefaultConfig returns a Config for the given client with default pool settings.
func DefaultConfig(client string) *Config {
	return &Config{
		Client: client,
		Pool: PoolConfig{
			Min:                  DefaultPoolMin,
			Max:                  DefaultPoolMax,
			AcquireTimeoutMillis: DefaultAcquireTimeoutMillis,
			IdleTimeoutMillis:    DefaultIdleTimeoutMillis,
			DestroyTimeoutMillis: DefaultDestroyTimeoutMillis,
			CreateRetries:        DefaultCreateRetries,
		},
	}
}

// Dialect returns the normalized dialect name of the configured client.
func (c *Config) Dialect() string {
	return dialect.Normalize(c.Client)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Client == "" {
		return &ValidationError{Op: "config", Message: "client is required"}
	}
	if !dialect.Supported(c.Dialect()) {
		return &ValidationError{Op: "config", Message: fmt.Sprintf("unsupported client %q", c.Client)}
	}
	p := c.Pool
	switch {
	case p.Max < 1:
		return &ValidationError{Op: "config", Message: fmt.Sprintf("pool.max must be at least 1, got %d", p.Max)}
	case p.Min < 0 || p.Min > p.Max:
		return &ValidationError{Op: "config", Message: fmt.Sprintf("pool.min must be between 0 and pool.max (%d), got %d", p.Max, p.Min)}
	case p.AcquireTimeoutMillis < 0, p.IdleTimeoutMillis < 0, p.DestroyTimeoutMillis < 0:
		return &ValidationError{Op: "config", Message: "pool timeouts must not be negative"}
	case p.CreateRetries < 0:
		return &ValidationError{Op: "config", Message: "pool.create_retries must not be negative"}
	case c.MaxBindings < 0:
		return &ValidationError{Op: "config", Message: "max_bindings must not be negative"}
	}
	return nil
}

// DSN returns the database/sql driver name and data source name for the
// configured connection.
func (c *Config) DSN() (driverName, dsn string, err error) {
	conn := c.Connection
	switch d := c.Dialect(); d {
	case dialect.Postgres, dialect.Redshift:
		if conn.URL != "" {
			if strings.HasPrefix(conn.URL, "postgres://") || strings.HasPrefix(conn.URL, "postgresql://") {
				dsn, err = pq.ParseURL(conn.URL)
				if err != nil {
					return "", "", &ValidationError{Op: "config", Message: "invalid connection url", Err: err}
				}
				return "postgres", dsn, nil
			}
			return "postgres", conn.URL, nil
		}
		return "postgres", pgKeyValues(conn), nil
	case dialect.MySQL:
		if conn.URL != "" {
			return "mysql", conn.URL, nil
		}
		mc := mysql.NewConfig()
		mc.User = conn.User
		mc.Passwd = conn.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(orDefault(conn.Host, "127.0.0.1"), strconv.Itoa(orDefaultInt(conn.Port, 3306)))
		mc.DBName = conn.Database
		if len(conn.Params) > 0 {
			mc.Params = make(map[string]string, len(conn.Params))
			for k, v := range conn.Params {
				mc.Params[k] = v
			}
		}
		return "mysql", mc.FormatDSN(), nil
	case dialect.SQLite:
		switch {
		case conn.URL != "":
			return "sqlite", conn.URL, nil
		case conn.Filename != "":
			return "sqlite", conn.Filename, nil
		}
		return "", "", &ValidationError{Op: "config", Message: "sqlite requires connection.filename"}
	default:
		return "", "", &ValidationError{Op: "config", Message: fmt.Sprintf("no database/sql driver is registered for %q, supply a connector", d)}
	}
}

// pgKeyValues renders the discrete connection fields as a lib/pq
// key=value connection string.
func pgKeyValues(conn ConnectionConfig) string {
	kv := map[string]string{
		"host":   orDefault(conn.Host, "localhost"),
		"port":   strconv.Itoa(orDefaultInt(conn.Port, 5432)),
		"user":   conn.User,
		"dbname": conn.Database,
	}
	if conn.Password != "" {
		kv["password"] = conn.Password
	}
	for k, v := range conn.Params {
		kv[k] = v
	}
	keys := make([]string, 0, len(kv))
	for k, v := range kv {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + pgQuoteValue(kv[k])
	}
	return strings.Join(parts, " ")
}

func pgQuoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// YAML returns the configuration as YAML with the password redacted.
func (c *Config) YAML() ([]byte, error) {
	redacted := *c
	if redacted.Connection.Password != "" {
		redacted.Connection.Password = "********"
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(redacted); err != nil {
		return nil, fmt.Errorf("strata: encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("strata: encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadOption configures LoadConfig.
type LoadOption func(*loadOptions)

type loadOptions struct {
	fs      afero.Fs
	path    string
	env     string
	dotenvs []string
}

// WithConfigFile sets the configuration file to read.
func WithConfigFile(path string) LoadOption {
	return func(o *loadOptions) { o.path = path }
}

// WithEnvironment selects the environment section of a multi-environment file.
func WithEnvironment(env string) LoadOption {
	return func(o *loadOptions) { o.env = env }
}

// WithFs sets the filesystem used to read configuration and .env files.
func WithFs(fs afero.Fs) LoadOption {
	return func(o *loadOptions) { o.fs = fs }
}

// WithDotEnv sets the .env files loaded before environment variables are read.
// Variables already present in the process environment win.
func WithDotEnv(paths ...string) LoadOption {
	return func(o *loadOptions) { o.dotenvs = paths }
}

// LoadConfig loads configuration with the precedence env > config file > defaults.
//
// A configuration file either holds a single configuration (a top-level
// "client" key) or one configuration per environment:
//
//	development:
//	  client: sqlite
//	  connection:
//	    filename: ./dev.db
//	production:
//	  client: postgres
//	  connection:
//	    url: postgres://app@db/app
//
// The environment is chosen by WithEnvironment, then STRATA_ENV, then "development".
func LoadConfig(opts ...LoadOption) (*Config, error) {
	o := loadOptions{fs: afero.NewOsFs(), dotenvs: []string{".env"}}
	for _, opt := range opts {
		opt(&o)
	}
	if err := loadDotEnv(o.fs, o.dotenvs); err != nil {
		return nil, err
	}
	if o.env == "" {
		o.env = os.Getenv("STRATA_ENV")
	}
	if o.env == "" {
		o.env = "development"
	}

	v := viper.New()
	v.SetFs(o.fs)
	if o.path != "" {
		v.SetConfigFile(o.path)
		if ext := strings.TrimPrefix(filepath.Ext(o.path), "."); ext == "" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("strata: reading config file: %w", err)
		}
		if !v.IsSet("client") {
			sub := v.Sub(o.env)
			if sub == nil {
				return nil, &ValidationError{Op: "config", Message: fmt.Sprintf("environment %q not found in %s", o.env, o.path)}
			}
			v = sub
		}
	}

	setDefaults(v)
	v.SetEnvPrefix("STRATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("strata: unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("client", "")
	for _, k := range []string{"url", "host", "user", "password", "database", "filename"} {
		v.SetDefault("connection."+k, "")
	}
	v.SetDefault("connection.port", 0)
	v.SetDefault("pool.min", DefaultPoolMin)
	v.SetDefault("pool.max", DefaultPoolMax)
	v.SetDefault("pool.acquire_timeout_ms", DefaultAcquireTimeoutMillis)
	v.SetDefault("pool.idle_timeout_ms", DefaultIdleTimeoutMillis)
	v.SetDefault("pool.destroy_timeout_ms", DefaultDestroyTimeoutMillis)
	v.SetDefault("pool.create_retries", DefaultCreateRetries)
	v.SetDefault("use_null_as_default", false)
	v.SetDefault("returning_fallback", false)
	v.SetDefault("max_bindings", 0)
	v.SetDefault("debug", false)
}

// loadDotEnv reads .env files through fs and exports variables that are
// not already set.
func loadDotEnv(fs afero.Fs, paths []string) error {
	for _, path := range paths {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("strata: reading %s: %w", path, err)
		}
		vars, err := godotenv.Parse(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("strata: parsing %s: %w", path, err)
		}
		for k, v := range vars {
			if _, ok := os.LookupEnv(k); !ok {
				if err := os.Setenv(k, v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultInt(n, def int) int {
	if n == 0 {
		return def
	}
	return n
}
