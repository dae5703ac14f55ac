/*
service.go - Entry Service

PURPOSE:
  Orchestrates the engine components over the injected collaborators. This
  is the surface the HTTP layer calls; every method takes the company id
  explicitly.

OPERATIONS:
  ResolveRates        single resolution, nothing written
  PrepareEntry        single-entry mode: lookup, resolve, validate, add to pending
  ReconcileBatch      batch mode, partial success
  Confirm             persist pending entries one by one
  CreateEntry         scoped transaction insert
  UpdateEntry         permission, edit window, rate gate, recompute, save
  DeleteEntry         permission, edit window, delete
  ListEntries         entries inside the caller's edit window
  MonthToDateTotal    persisted (+ pending) customer total for a month
  RuleCatalog / CompanyRules / UpdateCompanyRules / EnableDefaultRules
  Authorize           permission check for routes outside the engine
  WorkerPayReport     see report.go

FAILURE MODEL:
  Single-entry operations return the first blocking error and write nothing.
  Confirm never fails as a whole: each entry either persists or stays in the
  pending set carrying its error.
*/
package payroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/generic"
)

// Service is the engine entry point.
type Service struct {
	directory Directory
	rules     RuleRegistry
	access    AccessControl
	entries   EntryStore

	Resolver    *Resolver
	Accumulator *Accumulator
	Window      *EditWindowGuard
	Gate        *RateEditGate
	Reconciler  *Reconciler

	clock  generic.Clock
	logger *slog.Logger
}

// NewService wires the engine over a store. A nil clock uses the system
// time; a nil logger uses slog.Default().
func NewService(store Store, clock generic.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = generic.SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	resolver := NewResolver()
	acc := NewAccumulator(store)
	return &Service{
		directory:   store,
		rules:       store,
		access:      store,
		entries:     store,
		Resolver:    resolver,
		Accumulator: acc,
		Window:      NewEditWindowGuard(store, clock),
		Gate:        NewRateEditGate(store),
		Reconciler: &Reconciler{
			Directory:   store,
			Rules:       store,
			Accumulator: acc,
			Resolver:    resolver,
		},
		clock:  clock,
		logger: logger,
	}
}

// UseWageRules replaces the resolver's wage rules, e.g. with the ones parsed
// from the rule catalog.
func (s *Service) UseWageRules(rules ...WageRule) {
	s.Resolver = NewResolver(rules...)
	s.Reconciler.Resolver = s.Resolver
}

// =============================================================================
// RESOLUTION & PREPARATION
// =============================================================================

// EntryInput is one entry typed in single-entry mode.
type EntryInput struct {
	WorkerID      WorkerID
	JobCode       string
	Amount        decimal.Decimal
	WorkDate      string
	JobNo1        string
	JobNo2        string
	IsBank        bool
	Note          string
	FeesCollected decimal.NullDecimal
	Override      ManualOverride
}

// ResolveResult is a resolved pair with its totals and the inputs that
// shaped it.
type ResolveResult struct {
	Rates
	CustomerTotal decimal.Decimal
	WageTotal     decimal.Decimal
	MonthToDate   decimal.Decimal
	WageTierID    *WageTierID
}

// ResolveRates resolves rates for in without validating the remaining
// fields. pending may be nil.
func (s *Service) ResolveRates(ctx context.Context, companyID CompanyID, in EntryInput, pending *PendingSet) (ResolveResult, error) {
	worker, job, err := s.lookup(ctx, companyID, in.WorkerID, in.JobCode)
	if err != nil {
		return ResolveResult{}, err
	}
	if !in.Amount.IsPositive() {
		return ResolveResult{}, Violation{Field: FieldAmount, Message: "amount must be > 0"}
	}
	workDate := strings.TrimSpace(in.WorkDate)
	if !generic.IsISODate(workDate) {
		return ResolveResult{}, Violation{Field: FieldWorkDate, Message: "work date must be YYYY-MM-DD"}
	}
	return s.resolve(ctx, companyID, worker, job, in.Amount, generic.MonthKeyOf(workDate), in.Override, pending.Candidates())
}

// PrepareEntry resolves and validates one entry. On success the candidate
// is appended to pending (when non-nil) and returned; nothing is persisted.
func (s *Service) PrepareEntry(ctx context.Context, companyID CompanyID, in EntryInput, pending *PendingSet) (Candidate, error) {
	if v := requiredInputs(in); v != nil {
		return Candidate{}, *v
	}
	if in.FeesCollected.Valid && in.FeesCollected.Decimal.IsNegative() {
		return Candidate{}, fmt.Errorf("%w: fees_collected cannot be negative", ErrInvalidInput)
	}

	worker, job, err := s.lookup(ctx, companyID, in.WorkerID, in.JobCode)
	if err != nil {
		return Candidate{}, err
	}

	month := generic.MonthKeyOf(strings.TrimSpace(in.WorkDate))
	res, err := s.resolve(ctx, companyID, worker, job, in.Amount, month, in.Override, pending.Candidates())
	if err != nil {
		return Candidate{}, err
	}

	cand := Candidate{
		WorkerID:      worker.ID,
		WorkerCode:    worker.Code,
		JobID:         job.ID,
		JobCode:       job.Code,
		Amount:        in.Amount,
		WorkDate:      strings.TrimSpace(in.WorkDate),
		JobNo1:        strings.TrimSpace(in.JobNo1),
		JobNo2:        strings.TrimSpace(in.JobNo2),
		IsBank:        in.IsBank,
		Note:          strings.TrimSpace(in.Note),
		FeesCollected: in.FeesCollected,
		WageTierID:    res.WageTierID,
	}
	cand.ApplyRates(res.Rates)

	if err := FirstViolation(cand); err != nil {
		return Candidate{}, err
	}
	if pending != nil {
		pending.Add(cand)
	}
	return cand, nil
}

// ReconcileBatch runs the batch reconciler and logs the outcome.
func (s *Service) ReconcileBatch(ctx context.Context, companyID CompanyID, rows []BatchRow, pending *PendingSet) (Reconciliation, error) {
	result, err := s.Reconciler.Reconcile(ctx, companyID, rows, pending)
	if err != nil {
		s.logger.ErrorContext(ctx, "batch reconcile failed", "company_id", companyID, "error", err)
		return Reconciliation{}, err
	}
	s.logger.InfoContext(ctx, "batch reconciled",
		"company_id", companyID,
		"accepted", len(result.Accepted),
		"rejected", len(result.Rejected),
		"skipped", len(result.Skipped))
	return result, nil
}

// requiredInputs checks the fields resolution cannot run without.
func requiredInputs(in EntryInput) *Violation {
	switch {
	case in.WorkerID <= 0:
		return &Violation{Field: FieldWorker, Message: "worker missing"}
	case strings.TrimSpace(in.JobCode) == "":
		return &Violation{Field: FieldJob, Message: "job missing"}
	case strings.TrimSpace(in.JobNo1) == "":
		return &Violation{Field: FieldJobNo1, Message: "job no1 missing"}
	case strings.TrimSpace(in.WorkDate) == "":
		return &Violation{Field: FieldWorkDate, Message: "work date missing"}
	case !generic.IsISODate(strings.TrimSpace(in.WorkDate)):
		return &Violation{Field: FieldWorkDate, Message: "work date must be YYYY-MM-DD"}
	case !in.Amount.IsPositive():
		return &Violation{Field: FieldAmount, Message: "amount must be > 0"}
	}
	return nil
}

func (s *Service) lookup(ctx context.Context, companyID CompanyID, workerID WorkerID, jobCode string) (Worker, Job, error) {
	worker, err := s.directory.WorkerByID(ctx, companyID, workerID)
	if err != nil {
		if IsNotFound(err) {
			return Worker{}, Job{}, &NotFoundError{Kind: "worker", Key: fmt.Sprint(workerID)}
		}
		return Worker{}, Job{}, fmt.Errorf("lookup worker %d: %w", workerID, err)
	}
	code := strings.TrimSpace(jobCode)
	job, err := s.directory.FindJob(ctx, companyID, code)
	if err != nil {
		if IsNotFound(err) {
			return Worker{}, Job{}, &NotFoundError{Kind: "job", Key: code}
		}
		return Worker{}, Job{}, fmt.Errorf("lookup job %q: %w", code, err)
	}
	return worker, job, nil
}

// resolve runs accumulator and resolver.
func (s *Service) resolve(ctx context.Context, companyID CompanyID, worker Worker, job Job, amount decimal.Decimal, month generic.MonthKey, override ManualOverride, pending []Candidate) (ResolveResult, error) {
	rules, err := s.rules.EnabledRules(ctx, companyID)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("load enabled rules for company %d: %w", companyID, err)
	}
	mtd, err := s.Accumulator.MonthToDate(ctx, companyID, worker.ID, month, pending)
	if err != nil {
		return ResolveResult{}, err
	}
	return s.resolveWith(worker, job, rules, amount, mtd, override)
}

// resolveWith runs the resolver against an already computed month-to-date
// total.
func (s *Service) resolveWith(worker Worker, job Job, rules RuleSet, amount, mtd decimal.Decimal, override ManualOverride) (ResolveResult, error) {
	rates, err := s.Resolver.Resolve(ResolveInput{
		Job:         job,
		Worker:      worker,
		Rules:       rules,
		Amount:      amount,
		MonthToDate: mtd,
		Override:    &override,
	})
	if err != nil {
		return ResolveResult{}, err
	}
	customerTotal, wageTotal := rates.Totals(amount)
	return ResolveResult{
		Rates:         rates,
		CustomerTotal: customerTotal,
		WageTotal:     wageTotal,
		MonthToDate:   mtd,
		WageTierID:    worker.WageTierID,
	}, nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// ConfirmResult reports a confirmation pass.
type ConfirmResult struct {
	Saved  []Entry
	Failed int
}

// Confirm persists every pending entry independently. Saved entries leave
// the set; failed ones stay with LastError set.
func (s *Service) Confirm(ctx context.Context, companyID CompanyID, pending *PendingSet) ConfirmResult {
	var result ConfirmResult
	if pending == nil {
		return result
	}

	var remaining []PendingEntry
	for _, p := range pending.Entries {
		entry, err := s.CreateEntry(ctx, companyID, p.Candidate)
		if err != nil {
			s.logger.WarnContext(ctx, "pending entry not saved",
				"company_id", companyID, "job_no1", p.Candidate.JobNo1, "error", err)
			p.LastError = err.Error()
			remaining = append(remaining, p)
			result.Failed++
			continue
		}
		result.Saved = append(result.Saved, entry)
	}
	pending.Entries = remaining

	s.logger.InfoContext(ctx, "pending entries confirmed",
		"company_id", companyID, "saved", len(result.Saved), "failed", result.Failed)
	return result
}

// CreateEntry validates and inserts one candidate inside a transaction. The
// job is re-checked against the company before the insert.
func (s *Service) CreateEntry(ctx context.Context, companyID CompanyID, c Candidate) (Entry, error) {
	if err := FirstViolation(c); err != nil {
		return Entry{}, err
	}
	if c.FeesCollected.Valid && c.FeesCollected.Decimal.IsNegative() {
		return Entry{}, fmt.Errorf("%w: fees_collected cannot be negative", ErrInvalidInput)
	}

	now := s.clock()
	entry := Entry{Candidate: c, CompanyID: companyID, CreatedAt: now, UpdatedAt: now}
	entry.FeesCollected = decimal.NewNullDecimal(c.Fees())

	err := s.entries.WithTx(ctx, func(tx EntryTx) error {
		job, err := tx.JobByCode(ctx, companyID, c.JobCode)
		if err != nil {
			if IsNotFound(err) {
				return &NotFoundError{Kind: "job", Key: c.JobCode}
			}
			return err
		}
		entry.JobID = job.ID
		entry.JobCode = job.Code

		id, err := tx.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		return nil
	})
	if err != nil {
		return Entry{}, translateWriteError(err)
	}
	return entry, nil
}

// UpdateInput is an edit of a stored entry. Rates are the caller-submitted
// values, nil when not sent.
type UpdateInput struct {
	WorkerID      WorkerID
	JobCode       string
	Amount        decimal.Decimal
	WorkDate      string
	JobNo1        string
	JobNo2        string
	IsBank        bool
	Note          string
	FeesCollected decimal.NullDecimal
	Rates         RateChange

	// WageTierID is the tier to rate the edit under. Nil keeps the stored
	// tier.
	WageTierID *WageTierID
}

// UpdateEntry applies an edit. Capable callers keep the stored rates unless
// they submit new ones. For callers without WORK_ENTRY_EDIT_RATES the stored
// rates stand while worker, job, amount, date and tier are unchanged;
// otherwise rates are re-resolved against the entries rated before this one.
func (s *Service) UpdateEntry(ctx context.Context, companyID CompanyID, caller Caller, id EntryID, in UpdateInput) (Entry, error) {
	if err := s.requirePermission(ctx, caller, PermEditEntry); err != nil {
		return Entry{}, err
	}
	existing, err := s.getEntry(ctx, companyID, id)
	if err != nil {
		return Entry{}, err
	}
	if err := s.Window.Check(ctx, existing, caller); err != nil {
		return Entry{}, err
	}

	if v := requiredInputs(EntryInput{
		WorkerID: in.WorkerID, JobCode: in.JobCode, JobNo1: in.JobNo1,
		WorkDate: in.WorkDate, Amount: in.Amount,
	}); v != nil {
		return Entry{}, *v
	}
	if in.FeesCollected.Valid && in.FeesCollected.Decimal.IsNegative() {
		return Entry{}, fmt.Errorf("%w: fees_collected cannot be negative", ErrInvalidInput)
	}

	canEdit, err := s.Gate.CanSubmitRates(ctx, caller, in.Rates, existing)
	if err != nil {
		return Entry{}, err
	}

	worker, job, err := s.lookup(ctx, companyID, in.WorkerID, in.JobCode)
	if err != nil {
		return Entry{}, err
	}

	updated := existing
	updated.WorkerID = worker.ID
	updated.WorkerCode = worker.Code
	updated.JobID = job.ID
	updated.JobCode = job.Code
	updated.Amount = in.Amount
	updated.WorkDate = strings.TrimSpace(in.WorkDate)
	updated.JobNo1 = strings.TrimSpace(in.JobNo1)
	updated.JobNo2 = strings.TrimSpace(in.JobNo2)
	updated.IsBank = in.IsBank
	updated.Note = strings.TrimSpace(in.Note)
	updated.UpdatedAt = s.clock()

	if canEdit {
		rates := Rates{CustomerRate: existing.CustomerRate, WageRate: existing.WageRate}
		if in.Rates.CustomerRate != nil {
			rates.CustomerRate = *in.Rates.CustomerRate
		}
		if in.Rates.WageRate != nil {
			rates.WageRate = *in.Rates.WageRate
		}
		updated.ApplyRates(rates)
		if in.WageTierID != nil {
			updated.WageTierID = in.WageTierID
		}
	} else if sameRating(existing, updated, in.WageTierID) {
		updated.ApplyRates(Rates{CustomerRate: existing.CustomerRate, WageRate: existing.WageRate})
	} else {
		res, err := s.rerate(ctx, companyID, worker, job, existing, updated, in.WageTierID)
		if err != nil {
			return Entry{}, err
		}
		updated.WageTierID = res.WageTierID
		updated.ApplyRates(res.Rates)
	}

	updated.FeesCollected = in.FeesCollected
	updated.FeesCollected = decimal.NewNullDecimal(updated.Candidate.Fees())

	if err := FirstViolation(updated.Candidate); err != nil {
		return Entry{}, err
	}
	if err := s.entries.UpdateEntry(ctx, updated); err != nil {
		return Entry{}, translateWriteError(err)
	}
	return updated, nil
}

// sameRating reports whether an edit leaves every rating input untouched.
func sameRating(existing, updated Entry, tier *WageTierID) bool {
	if tier != nil && (existing.WageTierID == nil || *tier != *existing.WageTierID) {
		return false
	}
	return existing.WorkerID == updated.WorkerID &&
		existing.JobID == updated.JobID &&
		existing.Amount.Equal(updated.Amount) &&
		existing.WorkDate == updated.WorkDate
}

// rerate resolves an edited entry. The tier is the submitted one, else the
// stored one when the worker is unchanged, else the worker's current tier.
// Month-to-date counts only the worker's stored entries ordered before the
// edited one by (work date, id).
func (s *Service) rerate(ctx context.Context, companyID CompanyID, worker Worker, job Job, existing, updated Entry, tier *WageTierID) (ResolveResult, error) {
	rated := worker
	switch {
	case tier != nil:
		rated.WageTierID = tier
	case existing.WorkerID == worker.ID && existing.WageTierID != nil:
		rated.WageTierID = existing.WageTierID
	}

	rules, err := s.rules.EnabledRules(ctx, companyID)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("load enabled rules for company %d: %w", companyID, err)
	}
	mtd, err := s.priorMonthTotal(ctx, companyID, updated)
	if err != nil {
		return ResolveResult{}, err
	}
	return s.resolveWith(rated, job, rules, updated.Amount, mtd, ManualOverride{})
}

// priorMonthTotal sums customer totals of the worker's stored entries in the
// month of e that sort before e by (work date, id). e itself is skipped.
func (s *Service) priorMonthTotal(ctx context.Context, companyID CompanyID, e Entry) (decimal.Decimal, error) {
	period, err := e.MonthKey().Period()
	if err != nil {
		return decimal.Zero, Violation{Field: FieldWorkDate, Message: "work date must be YYYY-MM-DD"}
	}
	entries, err := s.entries.ListEntries(ctx, companyID, EntryFilter{From: period.Start, To: period.End})
	if err != nil {
		return decimal.Zero, fmt.Errorf("list month %s for company %d: %w", e.MonthKey(), companyID, err)
	}
	total := decimal.Zero
	for _, other := range entries {
		if other.ID == e.ID || other.WorkerID != e.WorkerID {
			continue
		}
		if other.WorkDate < e.WorkDate || (other.WorkDate == e.WorkDate && other.ID < e.ID) {
			total = total.Add(other.CustomerTotal)
		}
	}
	return total, nil
}

// DeleteEntry removes an entry inside the caller's edit window. No rate
// check applies.
func (s *Service) DeleteEntry(ctx context.Context, companyID CompanyID, caller Caller, id EntryID) error {
	if err := s.requirePermission(ctx, caller, PermDeleteEntry); err != nil {
		return err
	}
	existing, err := s.getEntry(ctx, companyID, id)
	if err != nil {
		return err
	}
	if err := s.Window.Check(ctx, existing, caller); err != nil {
		return err
	}
	if err := s.entries.DeleteEntry(ctx, companyID, id); err != nil {
		return translateWriteError(err)
	}
	return nil
}

// ListEntries returns the entries inside the caller's edit window, newest
// first.
func (s *Service) ListEntries(ctx context.Context, companyID CompanyID, caller Caller) ([]Entry, error) {
	cutoff, limited, err := s.Window.Cutoff(ctx, caller)
	if err != nil {
		return nil, err
	}
	var filter EntryFilter
	if limited {
		filter.From = cutoff
	}
	entries, err := s.entries.ListEntries(ctx, companyID, filter)
	if err != nil {
		return nil, fmt.Errorf("list entries for company %d: %w", companyID, err)
	}
	return entries, nil
}

// MonthToDateTotal returns the worker's customer total for a YYYY-MM month,
// persisted plus any pending candidates.
func (s *Service) MonthToDateTotal(ctx context.Context, companyID CompanyID, workerID WorkerID, month string, pending *PendingSet) (decimal.Decimal, error) {
	if workerID <= 0 {
		return decimal.Zero, Violation{Field: FieldWorker, Message: "worker missing"}
	}
	key, err := generic.ParseMonthKey(month)
	if err != nil {
		return decimal.Zero, err
	}
	return s.Accumulator.MonthToDate(ctx, companyID, workerID, key, pending.Candidates())
}

// Authorize fails with *ForbiddenError unless caller is an admin or holds
// the permission code.
func (s *Service) Authorize(ctx context.Context, caller Caller, code string) error {
	return s.requirePermission(ctx, caller, code)
}

func (s *Service) requirePermission(ctx context.Context, caller Caller, code string) error {
	if caller.IsAdmin {
		return nil
	}
	ok, err := s.access.HasPermission(ctx, caller.UserID, code)
	if err != nil {
		return fmt.Errorf("check %s for user %d: %w", code, caller.UserID, err)
	}
	if !ok {
		return &ForbiddenError{Reason: ForbidMissingPermission, Permission: code}
	}
	return nil
}

func (s *Service) getEntry(ctx context.Context, companyID CompanyID, id EntryID) (Entry, error) {
	e, err := s.entries.GetEntry(ctx, companyID, id)
	if err != nil {
		if IsNotFound(err) {
			return Entry{}, &NotFoundError{Kind: "entry", Key: fmt.Sprint(id)}
		}
		return Entry{}, fmt.Errorf("load entry %d: %w", id, err)
	}
	return e, nil
}

func translateWriteError(err error) error {
	if errors.Is(err, generic.ErrDuplicate) {
		return fmt.Errorf("%w: %v", ErrDuplicateJobNo, err)
	}
	return err
}

// =============================================================================
// COMPANY RULES
// =============================================================================

// RuleCatalog lists every known rule.
func (s *Service) RuleCatalog(ctx context.Context) ([]Rule, error) {
	catalog, err := s.rules.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rule catalog: %w", err)
	}
	return catalog, nil
}

// CompanyRules lists the catalog with the company's enabled flags.
func (s *Service) CompanyRules(ctx context.Context, companyID CompanyID) ([]CompanyRule, error) {
	catalog, err := s.rules.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rule catalog: %w", err)
	}
	enabled, err := s.rules.EnabledRules(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("load enabled rules for company %d: %w", companyID, err)
	}
	out := make([]CompanyRule, len(catalog))
	for i, r := range catalog {
		out[i] = CompanyRule{Rule: r, Enabled: enabled.Has(r.Code)}
	}
	return out, nil
}

// UpdateCompanyRules replaces the enabled set. BASE_NATIONALITY is always
// kept; unknown codes are rejected.
func (s *Service) UpdateCompanyRules(ctx context.Context, companyID CompanyID, codes []RuleCode) (RuleSet, error) {
	catalog, err := s.rules.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rule catalog: %w", err)
	}
	known := make(map[RuleCode]bool, len(catalog))
	for _, r := range catalog {
		known[r.Code] = true
	}

	codes = EnsureBaseRule(codes)
	for _, c := range codes {
		if !known[c] {
			return nil, fmt.Errorf("%w: unknown rule code %q", ErrInvalidInput, c)
		}
	}

	if err := s.rules.SetEnabledRules(ctx, companyID, codes); err != nil {
		return nil, fmt.Errorf("save rules for company %d: %w", companyID, err)
	}
	s.logger.InfoContext(ctx, "company rules updated", "company_id", companyID, "rules", codes)
	return NewRuleSet(codes...), nil
}

// EnableDefaultRules adds every default catalog rule to the company's
// enabled set. Rules already enabled stay enabled.
func (s *Service) EnableDefaultRules(ctx context.Context, companyID CompanyID) (RuleSet, error) {
	catalog, err := s.rules.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rule catalog: %w", err)
	}
	current, err := s.rules.EnabledRules(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("load enabled rules for company %d: %w", companyID, err)
	}

	codes := current.Codes()
	for _, r := range catalog {
		if r.IsDefault && !current.Has(r.Code) {
			codes = append(codes, r.Code)
		}
	}
	codes = EnsureBaseRule(codes)
	if err := s.rules.SetEnabledRules(ctx, companyID, codes); err != nil {
		return nil, fmt.Errorf("save rules for company %d: %w", companyID, err)
	}
	return NewRuleSet(codes...), nil
}
