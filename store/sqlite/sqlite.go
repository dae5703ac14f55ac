/*
Package sqlite provides a SQLite-backed implementation of payroll.Store.

PURPOSE:
  Default persistence for development, demos and tests. The Postgres adapter
  (store/postgres) implements the same interfaces with the same table
  layout for production.

INTERFACES IMPLEMENTED:
  payroll.Directory:     jobs, job_wages, workers
  payroll.RuleRegistry:  rules, company_rules
  payroll.MonthTotals:   work_entries
  payroll.AccessControl: users, user_settings, roles, role_permissions, permissions
  payroll.EntryStore:    work_entries

MONEY COLUMNS:
  Rates, totals and amounts are TEXT holding decimal strings, scanned into
  shopspring/decimal. Sums are computed in Go so no float rounding sneaks
  in through SQLite's numeric affinity.

KEY CONSTRAINTS:
  - work_entries(company_id, job_no1) UNIQUE: duplicate job numbers are
    rejected per company and surface as generic.ErrDuplicate
  - job_wages(job_id, wage_tier_id) PRIMARY KEY: one wage per tier per job
  - workers(company_id, worker_code) UNIQUE

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole transaction; the transactional view talks to *sql.Tx directly.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := payroll.NewService(store, nil, logger)

SEE ALSO:
  - payroll/store.go: Interface definitions
  - store/memory: In-memory implementation
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/rate-engine/generic"
	"github.com/warp/rate-engine/payroll"
)

// Store implements payroll.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ payroll.Store = (*Store)(nil)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS companies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		short_code TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS wage_tiers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		company_id INTEGER NOT NULL REFERENCES companies(id),
		tier_code TEXT NOT NULL,
		tier_name TEXT NOT NULL,
		sort_order INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		UNIQUE(company_id, tier_code)
	);

	CREATE TABLE IF NOT EXISTS workers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		company_id INTEGER NOT NULL REFERENCES companies(id),
		worker_code TEXT NOT NULL,
		worker_name TEXT NOT NULL DEFAULT '',
		nationality TEXT NOT NULL DEFAULT '',
		wage_tier_id INTEGER REFERENCES wage_tiers(id),
		UNIQUE(company_id, worker_code)
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		company_id INTEGER NOT NULL REFERENCES companies(id),
		job_code TEXT NOT NULL,
		job_type TEXT NOT NULL DEFAULT '',
		normal_price TEXT,
		UNIQUE(company_id, job_code)
	);

	CREATE TABLE IF NOT EXISTS job_wages (
		job_id INTEGER NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		wage_tier_id INTEGER NOT NULL REFERENCES wage_tiers(id),
		wage_rate TEXT NOT NULL,
		PRIMARY KEY(job_id, wage_tier_id)
	);

	CREATE TABLE IF NOT EXISTS rules (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		params_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS company_rules (
		company_id INTEGER NOT NULL REFERENCES companies(id),
		rule_code TEXT NOT NULL REFERENCES rules(code),
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY(company_id, rule_code)
	);

	CREATE TABLE IF NOT EXISTS permissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		work_entries_days_limit INTEGER
	);

	CREATE TABLE IF NOT EXISTS role_permissions (
		role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		permission_id INTEGER NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
		PRIMARY KEY(role_id, permission_id)
	);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		role_id INTEGER REFERENCES roles(id),
		is_admin BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS user_settings (
		user_id INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		work_entries_days_limit_override INTEGER
	);

	CREATE TABLE IF NOT EXISTS work_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		company_id INTEGER NOT NULL REFERENCES companies(id),
		worker_id INTEGER NOT NULL REFERENCES workers(id),
		job_id INTEGER NOT NULL REFERENCES jobs(id),
		job_code TEXT NOT NULL,
		amount TEXT NOT NULL,
		work_date TEXT NOT NULL,
		job_no1 TEXT NOT NULL,
		job_no2 TEXT NOT NULL DEFAULT '',
		is_bank BOOLEAN NOT NULL DEFAULT FALSE,
		note TEXT NOT NULL DEFAULT '',
		fees_collected TEXT NOT NULL,
		customer_rate TEXT NOT NULL,
		customer_total TEXT NOT NULL,
		wage_tier_id INTEGER,
		wage_rate TEXT NOT NULL,
		wage_total TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(company_id, job_no1)
	);

	-- Month-to-date totals and window listings (hot path)
	CREATE INDEX IF NOT EXISTS idx_work_entries_worker_date
		ON work_entries(company_id, worker_id, work_date);
	CREATE INDEX IF NOT EXISTS idx_work_entries_company_date
		ON work_entries(company_id, work_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx payroll.EntryTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) JobByCode(ctx context.Context, companyID payroll.CompanyID, code string) (payroll.Job, error) {
	return jobWhere(ctx, ts.tx, "company_id = ? AND job_code = ?", companyID, strings.TrimSpace(code))
}

func (ts *txStore) InsertEntry(ctx context.Context, e payroll.Entry) (payroll.EntryID, error) {
	return insertEntry(ctx, ts.tx, e)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"work_entries", "user_settings", "users", "role_permissions", "roles",
		"permissions", "company_rules", "job_wages", "jobs", "workers",
		"wage_tiers", "companies",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func notFound(kind string, key any) error {
	return fmt.Errorf("%s %v: %w", kind, key, generic.ErrEntityNotFound)
}
