// Command migrate applies the Postgres schema migrations.
//
//	PGSQL_URL=postgres://localhost/payroll ./migrate -action up
//
// Migrations are embedded in the binary; -dir (or MIGRATIONS_DIR) points at
// a directory of .sql files instead.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/warp/rate-engine/config"
	"github.com/warp/rate-engine/store/postgres"
)

func main() {
	action := flag.String("action", "up", "up, down, drop or version")
	dir := flag.String("dir", "", "migrations directory (default: embedded)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.PostgresURL == "" {
		logger.Error("PGSQL_URL is required")
		os.Exit(1)
	}
	if *dir == "" {
		*dir = cfg.MigrationsDir
	}

	status, err := postgres.Migrate(cfg.PostgresURL, *dir, *action)
	if err != nil {
		logger.Error("migration failed", "action", *action, "error", err)
		os.Exit(1)
	}
	fmt.Println(status)
}
