/*
Package payroll implements the work entry rate and rule resolution engine.

PURPOSE:
  For every unit of work recorded by a spa/reflexology company this package
  decides what the customer is charged, what the worker is paid, which
  company rules apply, who may override the computed numbers and whether a
  stored record is still inside the caller's edit window.

KEY CONCEPTS IN THIS FILE (types.go):
  - Job: customer list price plus one wage rate per wage tier
  - Worker: carries the wage tier used for the base wage lookup
  - Candidate: an in-memory, not yet persisted work entry
  - Entry: a persisted work entry
  - Caller: identity established by the (external) auth layer

COMPONENTS:
  resolver.go    Rate Resolver
  accumulator.go Month-To-Date Accumulator
  validator.go   Entry Validator
  reconciler.go  Batch Reconciler
  window.go      Edit-Window Guard
  gate.go        Rate-Edit Permission Gate
  service.go     Orchestration over the collaborators in store.go

SEE ALSO:
  - rules.go: rule codes and the enabled-rule set
  - store.go: collaborator interfaces
  - errors.go: error taxonomy
*/
package payroll

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CompanyID int64
type WorkerID int64
type JobID int64
type WageTierID int64
type EntryID int64
type UserID int64

// =============================================================================
// TIER RATE TABLE
// =============================================================================

// TierWage is the per-unit wage a job pays to workers of one tier.
type TierWage struct {
	TierID WageTierID
	Rate   decimal.Decimal
}

// Job is owned by Job CRUD and immutable during a resolution.
type Job struct {
	ID        JobID
	CompanyID CompanyID
	Code      string
	Type      string

	// NormalPrice is the customer list price. Zero means no list price.
	NormalPrice decimal.Decimal

	WageRates []TierWage
}

// WageRateFor returns the job's wage for a tier. A job defines at most one
// rate per tier; the first match wins if the table is malformed.
func (j Job) WageRateFor(tier WageTierID) (decimal.Decimal, bool) {
	for _, w := range j.WageRates {
		if w.TierID == tier {
			return w.Rate, true
		}
	}
	return decimal.Zero, false
}

// WageTier is a named pay bracket.
type WageTier struct {
	ID        WageTierID
	CompanyID CompanyID
	Code      string
	Name      string
	SortOrder int
	Active    bool
}

// Worker performs jobs. Nationality is only consumed by external tier
// assignment tooling.
type Worker struct {
	ID          WorkerID
	CompanyID   CompanyID
	Code        string
	Name        string
	WageTierID  *WageTierID
	Nationality string
}

// HasTier reports whether the worker can be paid by tier lookup.
func (w Worker) HasTier() bool { return w.WageTierID != nil }

// =============================================================================
// RATES
// =============================================================================

// Rates is the resolved per-unit pair for one unit of work.
type Rates struct {
	CustomerRate decimal.Decimal
	WageRate     decimal.Decimal
}

// Totals multiplies both rates by amount. Exact, no rounding.
func (r Rates) Totals(amount decimal.Decimal) (customerTotal, wageTotal decimal.Decimal) {
	return r.CustomerRate.Mul(amount), r.WageRate.Mul(amount)
}

// ManualOverride carries custom rates entered by the caller. A value is
// "supplied" only when it is > 0; anything else falls back to the computed rate.
type ManualOverride struct {
	CustomerRate decimal.NullDecimal
	WageRate     decimal.NullDecimal
}

// =============================================================================
// WORK ENTRY CANDIDATE - In-memory, pre-persistence
// =============================================================================

// Candidate is a prospective work entry. Rates and totals are filled by the
// resolver or, for custom entries, by the caller; the validator re-checks them.
type Candidate struct {
	WorkerID   WorkerID
	WorkerCode string
	JobID      JobID
	JobCode    string

	Amount   decimal.Decimal
	WorkDate string
	JobNo1   string
	JobNo2   string
	IsBank   bool
	Note     string

	// FeesCollected defaults to CustomerTotal when absent.
	FeesCollected decimal.NullDecimal

	CustomerRate  decimal.Decimal
	CustomerTotal decimal.Decimal
	WageTierID    *WageTierID
	WageRate      decimal.Decimal
	WageTotal     decimal.Decimal
}

// MonthKey is the YYYY-MM bucket the candidate counts toward.
func (c Candidate) MonthKey() generic.MonthKey {
	return generic.MonthKeyOf(c.WorkDate)
}

// ApplyRates stores the resolved pair and recomputes both totals.
func (c *Candidate) ApplyRates(r Rates) {
	c.CustomerRate = r.CustomerRate
	c.WageRate = r.WageRate
	c.CustomerTotal, c.WageTotal = r.Totals(c.Amount)
}

// Fees returns FeesCollected or, when absent, the customer total.
func (c Candidate) Fees() decimal.Decimal {
	if c.FeesCollected.Valid {
		return c.FeesCollected.Decimal
	}
	return c.CustomerTotal
}

// =============================================================================
// PERSISTED WORK ENTRY
// =============================================================================

// Entry is a persisted work entry. WageTierID records the tier used at
// resolution time for audit and recompute-on-edit.
type Entry struct {
	Candidate

	ID        EntryID
	CompanyID CompanyID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Date parses the stored work date. Stored dates are always well formed.
func (e Entry) Date() (generic.Date, error) {
	return generic.ParseDate(e.WorkDate)
}

// =============================================================================
// CALLER & ACCESS
// =============================================================================

// Caller is the identity the external auth layer established for a request.
type Caller struct {
	UserID  UserID
	IsAdmin bool
}

// EditLimit is the role's configured edit window and an optional per-user
// override. nil or non-positive values mean unlimited.
type EditLimit struct {
	Override *int
	Role     *int
}

// Permission codes consumed from the external permission store.
const (
	PermEditEntry         = "WORK_ENTRY_EDIT"
	PermDeleteEntry       = "WORK_ENTRY_DELETE"
	PermEditRates         = "WORK_ENTRY_EDIT_RATES"
	PermReportPayTypeView = "REPORT_FILTER_PAYTYPE"
	PermPageReports       = "PAGE_REPORTS"
)
