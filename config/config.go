/*
Package config loads server configuration from the environment.

SOURCES (later wins):
  1. Defaults below
  2. .env file in the working directory, if present
  3. Process environment

KEYS:
  PORT            HTTP port (default 8080)
  DB_DRIVER       sqlite | postgres (default sqlite)
  SQLITE_PATH     SQLite file, or ":memory:" (default payroll.db)
  PGSQL_URL       Postgres URL, required when DB_DRIVER=postgres
  PG_MAX_CONNS    pgx pool size, 0 keeps the pgx default
  LOG_LEVEL       debug | info | warn | error (default info)
  RATE_LIMIT      ulule limiter rate, e.g. "300-M"; empty disables limiting
  CORS_ORIGINS    comma separated allowed origins (default *)
  RULE_CATALOG    optional YAML path overriding the embedded rule catalog
  MIGRATIONS_DIR  optional directory overriding the embedded migrations
*/
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/ulule/limiter/v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds server configuration.
type Config struct {
	Port          int
	DBDriver      string
	SQLitePath    string
	PostgresURL   string
	PGMaxConns    int
	LogLevel      slog.Level
	RateLimit     string
	CORSOrigins   []string
	RuleCatalog   string
	MigrationsDir string
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("SQLITE_PATH", "payroll.db")
	v.SetDefault("PGSQL_URL", "")
	v.SetDefault("PG_MAX_CONNS", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("RATE_LIMIT", "300-M")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("RULE_CATALOG", "")
	v.SetDefault("MIGRATIONS_DIR", "")
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	cfg := &Config{
		Port:          v.GetInt("PORT"),
		DBDriver:      v.GetString("DB_DRIVER"),
		SQLitePath:    v.GetString("SQLITE_PATH"),
		PostgresURL:   v.GetString("PGSQL_URL"),
		PGMaxConns:    v.GetInt("PG_MAX_CONNS"),
		RateLimit:     v.GetString("RATE_LIMIT"),
		RuleCatalog:   v.GetString("RULE_CATALOG"),
		MigrationsDir: v.GetString("MIGRATIONS_DIR"),
	}
	for _, o := range strings.Split(v.GetString("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		return nil, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}

	if err := cfg.validateAndNormalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validateAndNormalize() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT must be in 1..65535, got %d", c.Port)
	}

	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	switch c.DBDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("config: SQLITE_PATH must be set for the sqlite driver")
		}
	case DriverPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("config: PGSQL_URL must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown DB_DRIVER %q", c.DBDriver)
	}

	if c.PGMaxConns < 0 {
		return fmt.Errorf("config: PG_MAX_CONNS must be >= 0")
	}

	c.RateLimit = strings.TrimSpace(c.RateLimit)
	if c.RateLimit != "" {
		if _, err := limiter.NewRateFromFormatted(c.RateLimit); err != nil {
			return fmt.Errorf("config: RATE_LIMIT: %w", err)
		}
	}

	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
	return nil
}

// Addr is the listen address for net/http.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
