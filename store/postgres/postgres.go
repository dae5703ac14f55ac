/*
Package postgres provides a PostgreSQL implementation of payroll.Store on pgx.

PURPOSE:
  Production persistence. Same tables as store/sqlite, with NUMERIC money
  columns and a DATE work_date. The schema is owned by the embedded
  migrations (see Migrate and cmd/migrate); this package never creates
  tables on its own.

TRANSACTIONS:
  TransactionManager carries the pgx.Tx in the context. Every query picks it
  up through queryerFrom, so code called inside WithTx joins the same
  transaction.

MONEY:
  Numeric columns are selected as ::text and scanned into shopspring/decimal
  so no value passes through float64.

SEE ALSO:
  - payroll/store.go: Interface definitions
  - store/sqlite: SQLite implementation
  - migrations/: schema and seed data
*/
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/rate-engine/generic"
	"github.com/warp/rate-engine/payroll"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const uniqueViolationCode = "23505"

// Store implements payroll.Store over a pgx pool.
type Store struct {
	pool Pool
	tx   *TransactionManager
}

var _ payroll.Store = (*Store)(nil)

// New wraps a pool (a *pgxpool.Pool in production, pgxmock in tests).
func New(pool Pool) *Store {
	return &Store{pool: pool, tx: NewTransactionManager(pool)}
}

// NewPool parses url, applies maxConns when > 0 and pings the server.
func NewPool(ctx context.Context, url string, maxConns int) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("postgres: database url is required")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// =============================================================================
// MIGRATIONS
// =============================================================================

// Migrate runs action (up, down, drop, version) against url using the
// embedded migrations, or the ones in dir when dir is not empty.
func Migrate(url, dir, action string) (string, error) {
	m, err := newMigrator(url, dir)
	if err != nil {
		return "", err
	}
	defer m.Close()

	switch action {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return "", err
		}
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return "", err
		}
	case "drop":
		if err := m.Drop(); err != nil {
			return "", err
		}
	case "version":
	default:
		return "", fmt.Errorf("unsupported action %q", action)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return "no migration applied", nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("version=%d dirty=%t", version, dirty), nil
}

func newMigrator(url, dir string) (*migrate.Migrate, error) {
	if dir != "" {
		m, err := migrate.New("file://"+dir, url)
		if err != nil {
			return nil, fmt.Errorf("create migrate instance: %w", err)
		}
		return m, nil
	}
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func translatePgError(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return fmt.Errorf("%s: %w", what, generic.ErrDuplicate)
	}
	return err
}

func notFound(kind string, key any) error {
	return fmt.Errorf("%s %v: %w", kind, key, generic.ErrEntityNotFound)
}
