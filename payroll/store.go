/*
store.go - Collaborator interfaces consumed by the engine

PURPOSE:
  Everything the engine needs from the outside world, expressed as small
  interfaces so it can be tested without a database. Company id is always an
  explicit argument; nothing reads an "active company" from ambient state.

KEY INTERFACES:
  Directory:     job and worker lookup (Job/Worker CRUD is external)
  RuleRegistry:  rule catalog and per-company enabled codes
  MonthTotals:   persisted month-to-date customer totals
  AccessControl: edit-days limits and permission checks
  EntryStore:    work entry persistence, with a scoped transaction for creates
  Store:         all of the above, what the adapters implement

NOT-FOUND CONTRACT:
  Lookups return an error wrapping generic.ErrEntityNotFound when the row does
  not exist. Any other error is treated as an infrastructure failure.

IMPLEMENTATIONS:
  - store/memory: in-memory, for tests and demos
  - store/sqlite: SQLite (default driver)
  - store/postgres: PostgreSQL via pgx

SEE ALSO:
  - service.go: wires these together
*/
package payroll

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/generic"
)

// =============================================================================
// LOOKUPS
// =============================================================================

// Directory resolves jobs and workers for a company.
type Directory interface {
	// JobByCode is an exact (trimmed) code match, used on the persistence path.
	JobByCode(ctx context.Context, companyID CompanyID, code string) (Job, error)

	// FindJob matches code case-insensitively, then falls back to the type label.
	FindJob(ctx context.Context, companyID CompanyID, codeOrType string) (Job, error)

	WorkerByID(ctx context.Context, companyID CompanyID, id WorkerID) (Worker, error)

	// WorkerByCode matches the worker code case-insensitively.
	WorkerByCode(ctx context.Context, companyID CompanyID, code string) (Worker, error)
}

// RuleRegistry exposes the rule catalog and per-company enablement.
type RuleRegistry interface {
	Catalog(ctx context.Context) ([]Rule, error)

	// EnabledRules always contains BASE_NATIONALITY.
	EnabledRules(ctx context.Context, companyID CompanyID) (RuleSet, error)

	// SetEnabledRules replaces the company's enabled set.
	SetEnabledRules(ctx context.Context, companyID CompanyID, codes []RuleCode) error
}

// MonthTotals sums persisted customer totals for a worker within a month.
type MonthTotals interface {
	PersistedMonthTotal(ctx context.Context, companyID CompanyID, workerID WorkerID, month generic.MonthKey) (decimal.Decimal, error)
}

// AccessControl is the external role/permission store.
type AccessControl interface {
	EditLimit(ctx context.Context, userID UserID) (EditLimit, error)
	HasPermission(ctx context.Context, userID UserID, code string) (bool, error)
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// EntryFilter narrows entry listings. Zero values mean "no bound".
type EntryFilter struct {
	From generic.Date
	To   generic.Date
}

// EntryTx is the view of the store available inside a create transaction.
type EntryTx interface {
	JobByCode(ctx context.Context, companyID CompanyID, code string) (Job, error)

	// InsertEntry returns generic.ErrDuplicate wrapped when job_no1 exists.
	InsertEntry(ctx context.Context, e Entry) (EntryID, error)
}

// EntryStore persists work entries.
type EntryStore interface {
	// WithTx runs fn in a transaction. Any error rolls back every write.
	WithTx(ctx context.Context, fn func(tx EntryTx) error) error

	GetEntry(ctx context.Context, companyID CompanyID, id EntryID) (Entry, error)
	UpdateEntry(ctx context.Context, e Entry) error
	DeleteEntry(ctx context.Context, companyID CompanyID, id EntryID) error

	// ListEntries returns entries ordered by work_date DESC, id DESC.
	ListEntries(ctx context.Context, companyID CompanyID, filter EntryFilter) ([]Entry, error)
}

// Store is the full persistence surface an adapter provides.
type Store interface {
	Directory
	RuleRegistry
	MonthTotals
	AccessControl
	EntryStore
}
