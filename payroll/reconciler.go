/*
reconciler.go - Batch Reconciler

PURPOSE:
  Turns a grid of raw batch rows into an accepted/rejected partition. Valid
  rows become candidates and join the pending set; invalid rows come back
  with a human-readable reason and stay on the input surface for correction.

PARTIAL SUCCESS:
  One bad row never blocks the batch. Reconcile only fails on infrastructure
  errors (rule registry, month totals or directory unreachable). Unknown
  codes, malformed cells and resolution failures are rejections.

ROW PIPELINE (per non-empty row):
  1. Cell checks in grid order: date, job no1, worker code, job, hours,
     optional custom rates and fees
  2. Worker by case-insensitive code, job by code then type label
  3. Month-to-date = persisted + pending (including rows accepted earlier
     in this same pass)
  4. Rate Resolver with the row's custom rates as manual override
  5. Entry Validator
  6. Accepted rows are appended to the pending set immediately

EMPTY ROWS:
  A row whose only non-blank cell is the date is ignored. The grid pre-fills
  today's date, so such rows are never an error.

SEE ALSO:
  - resolver.go, accumulator.go, validator.go
  - service.go: ReconcileBatch
*/
package payroll

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/generic"
)

// =============================================================================
// INPUT SURFACE
// =============================================================================

// BatchRow is one grid row, cells as typed by the user.
type BatchRow struct {
	WorkDate      string `json:"work_date"`
	JobNo1        string `json:"job_no1"`
	JobNo2        string `json:"job_no2"`
	WorkerCode    string `json:"worker_code"`
	Job           string `json:"job"`
	Hours         string `json:"hours"`
	CustomerRate  string `json:"customer_rate"`
	WageRate      string `json:"wage_rate"`
	FeesCollected string `json:"fees_collected"`
	Bank          string `json:"bank"`
	Note          string `json:"note"`
}

// IsEmpty reports whether every cell except the date is blank.
func (r BatchRow) IsEmpty() bool {
	for _, cell := range []string{r.JobNo1, r.JobNo2, r.WorkerCode, r.Job, r.Hours,
		r.CustomerRate, r.WageRate, r.FeesCollected, r.Bank, r.Note} {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// =============================================================================
// RESULT
// =============================================================================

// AcceptedRow is a row that became a pending candidate.
type AcceptedRow struct {
	RowIndex   int
	PendingKey uuid.UUID
	Entry      Candidate
}

// RejectedRow is a row left on the grid for correction.
type RejectedRow struct {
	RowIndex int
	Reason   string
	Err      error
}

// Reconciliation is the pure accepted/rejected partition of one pass.
type Reconciliation struct {
	Accepted []AcceptedRow
	Rejected []RejectedRow
	Skipped  []int
}

// RejectedIndexes lists the rows the caller should flag.
func (r Reconciliation) RejectedIndexes() []int {
	out := make([]int, len(r.Rejected))
	for i, rej := range r.Rejected {
		out[i] = rej.RowIndex
	}
	return out
}

// Remaining returns a copy of rows with accepted slots cleared down to their
// work date, so the grid keeps its date column. Rejected and skipped rows are
// returned untouched.
func (r Reconciliation) Remaining(rows []BatchRow) []BatchRow {
	out := make([]BatchRow, len(rows))
	copy(out, rows)
	for _, a := range r.Accepted {
		if a.RowIndex >= 0 && a.RowIndex < len(out) {
			out[a.RowIndex] = BatchRow{WorkDate: rows[a.RowIndex].WorkDate}
		}
	}
	return out
}

// =============================================================================
// RECONCILER
// =============================================================================

// Reconciler applies resolution and validation across batch rows.
type Reconciler struct {
	Directory   Directory
	Rules       RuleRegistry
	Accumulator *Accumulator
	Resolver    *Resolver
}

// rowError marks a failure that belongs to the row, not the infrastructure.
type rowError struct {
	reason string
	err    error
}

func (e *rowError) Error() string { return e.reason }
func (e *rowError) Unwrap() error { return e.err }

func reject(reason string, err error) *rowError {
	return &rowError{reason: reason, err: err}
}

// Reconcile processes rows in order. pending may be nil; accepted rows are
// added to it either way so later rows see them.
func (r *Reconciler) Reconcile(ctx context.Context, companyID CompanyID, rows []BatchRow, pending *PendingSet) (Reconciliation, error) {
	if pending == nil {
		pending = &PendingSet{}
	}

	rules, err := r.Rules.EnabledRules(ctx, companyID)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("load enabled rules for company %d: %w", companyID, err)
	}

	var result Reconciliation
	for i, row := range rows {
		if row.IsEmpty() {
			result.Skipped = append(result.Skipped, i)
			continue
		}

		cand, err := r.reconcileRow(ctx, companyID, rules, row, pending)
		if err != nil {
			var re *rowError
			if errors.As(err, &re) {
				result.Rejected = append(result.Rejected, RejectedRow{RowIndex: i, Reason: re.reason, Err: re.err})
				continue
			}
			return Reconciliation{}, fmt.Errorf("batch row %d: %w", i+1, err)
		}

		key := pending.Add(cand)
		result.Accepted = append(result.Accepted, AcceptedRow{RowIndex: i, PendingKey: key, Entry: cand})
	}
	return result, nil
}

func (r *Reconciler) reconcileRow(ctx context.Context, companyID CompanyID, rules RuleSet, row BatchRow, pending *PendingSet) (Candidate, error) {
	parsed, err := parseRow(row)
	if err != nil {
		return Candidate{}, err
	}

	worker, err := r.Directory.WorkerByCode(ctx, companyID, parsed.workerCode)
	if err != nil {
		if IsNotFound(err) {
			return Candidate{}, reject(fmt.Sprintf("Worker not found: %q", parsed.workerCode), &NotFoundError{Kind: "worker", Key: parsed.workerCode})
		}
		return Candidate{}, err
	}

	job, err := r.Directory.FindJob(ctx, companyID, parsed.job)
	if err != nil {
		if IsNotFound(err) {
			return Candidate{}, reject(fmt.Sprintf("Job not found: %q", parsed.job), &NotFoundError{Kind: "job", Key: parsed.job})
		}
		return Candidate{}, err
	}

	month := generic.MonthKeyOf(parsed.workDate)
	mtd, err := r.Accumulator.MonthToDate(ctx, companyID, worker.ID, month, pending.Candidates())
	if err != nil {
		return Candidate{}, err
	}

	rates, err := r.Resolver.Resolve(ResolveInput{
		Job:         job,
		Worker:      worker,
		Rules:       rules,
		Amount:      parsed.amount,
		MonthToDate: mtd,
		Override:    &parsed.override,
	})
	if err != nil {
		return Candidate{}, reject(resolutionReason(err), err)
	}

	cand := Candidate{
		WorkerID:      worker.ID,
		WorkerCode:    worker.Code,
		JobID:         job.ID,
		JobCode:       job.Code,
		Amount:        parsed.amount,
		WorkDate:      parsed.workDate,
		JobNo1:        parsed.jobNo1,
		JobNo2:        parsed.jobNo2,
		IsBank:        parsed.isBank,
		Note:          parsed.note,
		FeesCollected: parsed.fees,
		WageTierID:    worker.WageTierID,
	}
	cand.ApplyRates(rates)

	if vs := Validate(cand); len(vs) > 0 {
		return Candidate{}, reject(JoinViolations(vs), vs[0])
	}
	return cand, nil
}

// =============================================================================
// CELL PARSING
// =============================================================================

type parsedRow struct {
	workDate   string
	jobNo1     string
	jobNo2     string
	workerCode string
	job        string
	amount     decimal.Decimal
	override   ManualOverride
	fees       decimal.NullDecimal
	isBank     bool
	note       string
}

func parseRow(row BatchRow) (parsedRow, error) {
	p := parsedRow{
		workDate:   strings.TrimSpace(row.WorkDate),
		jobNo1:     strings.TrimSpace(row.JobNo1),
		jobNo2:     strings.TrimSpace(row.JobNo2),
		workerCode: strings.TrimSpace(row.WorkerCode),
		job:        strings.TrimSpace(row.Job),
		isBank:     strings.EqualFold(strings.TrimSpace(row.Bank), "y"),
		note:       strings.TrimSpace(row.Note),
	}

	if !generic.IsISODate(p.workDate) {
		return p, reject("Invalid Date (must be YYYY-MM-DD)", Violation{Field: FieldWorkDate, Message: "work date must be YYYY-MM-DD"})
	}
	if p.jobNo1 == "" {
		return p, reject("Missing Job No1", Violation{Field: FieldJobNo1, Message: "job no1 missing"})
	}
	if p.workerCode == "" {
		return p, reject("Missing Worker Code", Violation{Field: FieldWorker, Message: "worker missing"})
	}
	if p.job == "" {
		return p, reject("Missing Job Type", Violation{Field: FieldJob, Message: "job missing"})
	}

	hours, err := generic.ParseOptionalDecimal(row.Hours)
	if err != nil || !generic.Positive(hours) {
		return p, reject("Invalid Hours (must be > 0)", Violation{Field: FieldAmount, Message: "amount must be > 0"})
	}
	p.amount = hours.Decimal

	if p.override.CustomerRate, err = generic.ParseOptionalDecimal(row.CustomerRate); err != nil {
		return p, reject("Invalid CustRate (must be a number)", fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	if p.override.WageRate, err = generic.ParseOptionalDecimal(row.WageRate); err != nil {
		return p, reject("Invalid Wage (must be a number)", fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	if p.fees, err = generic.ParseOptionalDecimal(row.FeesCollected); err != nil {
		return p, reject("Invalid Fees Collected (must be a number)", fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	if p.fees.Valid && p.fees.Decimal.IsNegative() {
		return p, reject("Invalid Fees Collected (cannot be negative)", fmt.Errorf("%w: negative fees", ErrInvalidInput))
	}
	return p, nil
}

func resolutionReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingCustomerRate):
		return "Missing customer price (no normal_price and no custom)"
	case errors.Is(err, ErrMissingWageTier):
		return "Worker has no wage tier assigned"
	case errors.Is(err, ErrMissingWageRate):
		return "Missing wage (no base wage for the worker's tier)"
	}
	return err.Error()
}
