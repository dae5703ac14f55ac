package config

import (
	"log/slog"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "payroll.db", cfg.SQLitePath)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "300-M", cfg.RateLimit)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", " Postgres ")
	t.Setenv("PGSQL_URL", "postgres://u:p@localhost:5432/payroll?sslmode=disable")
	t.Setenv("PG_MAX_CONNS", "8")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("RATE_LIMIT", "")

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, 8, cfg.PGMaxConns)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.RateLimit)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "postgres without url", env: map[string]string{"DB_DRIVER": "postgres"}, want: "PGSQL_URL must be set"},
		{name: "unknown driver", env: map[string]string{"DB_DRIVER": "mysql"}, want: "unknown DB_DRIVER"},
		{name: "bad port", env: map[string]string{"PORT": "70000"}, want: "PORT must be in"},
		{name: "bad rate", env: map[string]string{"RATE_LIMIT": "lots"}, want: "RATE_LIMIT"},
		{name: "bad level", env: map[string]string{"LOG_LEVEL": "loud"}, want: "LOG_LEVEL"},
		{name: "negative pool", env: map[string]string{"PG_MAX_CONNS": "-1"}, want: "PG_MAX_CONNS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := load(viper.New())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
