/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the work entry rate engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment)
  2. Open the store selected by DB_DRIVER
  3. Load the rule catalog and sync it into the store
  4. Create the service, pending store and janitor
  5. Configure HTTP router
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the pending janitor
  4. Close database connection
  5. Exit

EXAMPLES:
  # SQLite file database, demo scenarios enabled
  SQLITE_PATH=./data/payroll.db ./server

  # Postgres (run cmd/migrate first)
  DB_DRIVER=postgres PGSQL_URL=postgres://localhost/payroll ./server

SEE ALSO:
  - config/config.go: configuration keys
  - api/server.go: Router configuration
  - cmd/migrate: Postgres schema migrations
*/
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/rate-engine/api"
	"github.com/warp/rate-engine/config"
	"github.com/warp/rate-engine/factory"
	"github.com/warp/rate-engine/generic"
	"github.com/warp/rate-engine/payroll"
	"github.com/warp/rate-engine/store/postgres"
	"github.com/warp/rate-engine/store/sqlite"
)

// catalogStore is a payroll store that can also seed the rule catalog.
type catalogStore interface {
	payroll.Store
	SyncCatalog(ctx context.Context, rules []payroll.Rule) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// Initialize store
	var (
		store catalogStore
		demo  *sqlite.Store
	)
	switch cfg.DBDriver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.PostgresURL, cfg.PGMaxConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = postgres.New(pool)
	default:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer s.Close()
		store, demo = s, s
	}
	logger.Info("store opened", "driver", cfg.DBDriver)

	// Rule catalog
	catalog, err := factory.LoadCatalog(cfg.RuleCatalog)
	if err != nil {
		return err
	}
	if err := store.SyncCatalog(ctx, catalog.Rules); err != nil {
		return err
	}

	// Service and handler
	svc := payroll.NewService(store, generic.SystemClock, logger)
	svc.UseWageRules(catalog.WageRules...)

	pending := api.NewPendingStore(generic.SystemClock)
	janitor := api.NewPendingJanitor(pending, logger)
	janitor.Start()
	defer janitor.Stop()

	handler := api.NewHandler(svc, pending)
	handler.Demo = demo
	handler.Clock = generic.SystemClock

	router, err := api.NewRouter(handler, api.RouterOptions{
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   cfg.RateLimit,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}
