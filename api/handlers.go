/*
handlers.go - HTTP API handlers for the rate engine

PURPOSE:
  Exposes payroll.Service over REST. Handles request decoding, identity,
  pending-set bookkeeping and response serialization; every decision about
  rates, rules and permissions is delegated to the payroll package.

ENDPOINTS:
  Rules:
    GET    /api/rules                                       Rule catalog
    GET    /api/companies/{companyID}/rules                 Catalog with enabled flags
    PUT    /api/companies/{companyID}/rules                 Replace enabled set
    POST   /api/companies/{companyID}/rules/defaults        Enable default rules

  Work entries (company scoped, caller from X-User-ID / X-User-Admin):
    POST   .../work-entries/resolve       Resolve rates, nothing written
    POST   .../work-entries/prepare       Single-entry mode, adds to pending
    POST   .../work-entries/batch         Batch grid, accepted rows join pending
    GET    .../work-entries/pending       Caller's pending set
    DELETE .../work-entries/pending/{key} Drop one pending entry
    POST   .../work-entries/confirm       Persist pending entries one by one
    GET    .../work-entries               Entries inside the edit window
    POST   .../work-entries               Resolve, validate and persist one entry
    PUT    .../work-entries/{id}          Edit (permission, window, rate gate)
    DELETE .../work-entries/{id}          Delete (permission, window)
    GET    .../work-entries/month-total   Worker month-to-date customer total

  Reports:
    GET    .../reports/worker-pays        Worker pay aggregation

  Scenarios:
    GET    /api/scenarios                 List demo scenarios
    POST   /api/scenarios/load            Load a demo scenario

PENDING SETS:
  Kept server side per (company, user) in PendingStore. Prepare and batch
  append to it, confirm drains what persisted, the janitor expires what
  was abandoned.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Missing fields, malformed values, resolution failures
  - 401: Missing caller identity
  - 403: Missing permission, rate edit refused, outside edit window
  - 404: Unknown job, worker or entry
  - 409: Duplicate job no1
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/generic"
	"github.com/warp/rate-engine/payroll"
	"github.com/warp/rate-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *payroll.Service
	Pending *PendingStore

	// Demo is the store scenarios seed into. nil disables the scenario
	// endpoints.
	Demo *sqlite.Store

	Clock generic.Clock

	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over the service. A nil pending store gets
// a fresh one.
func NewHandler(svc *payroll.Service, pending *PendingStore) *Handler {
	if pending == nil {
		pending = NewPendingStore(nil)
	}
	return &Handler{
		Service:  svc,
		Pending:  pending,
		Clock:    generic.SystemClock,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func companyID(r *http.Request) (payroll.CompanyID, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "companyID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: company id must be a positive integer", payroll.ErrInvalidInput)
	}
	return payroll.CompanyID(id), nil
}

func entryID(r *http.Request) (payroll.EntryID, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: entry id must be a positive integer", payroll.ErrInvalidInput)
	}
	return payroll.EntryID(id), nil
}

// decode reads a JSON body into dst and runs the struct tags.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: request body: %v", payroll.ErrInvalidInput, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", payroll.ErrInvalidInput, err)
	}
	return nil
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns the global rule catalog.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.Service.RuleCatalog(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to list rules", err)
		return
	}
	out := make([]RuleDTO, len(catalog))
	for i, rule := range catalog {
		out[i] = ruleDTO(rule)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetCompanyRules returns the catalog with the company's enabled flags.
func (h *Handler) GetCompanyRules(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		h.writeServiceError(w, r, "Invalid company", err)
		return
	}
	rules, err := h.Service.CompanyRules(r.Context(), company)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list company rules", err)
		return
	}
	out := make([]RuleDTO, len(rules))
	for i, cr := range rules {
		out[i] = ruleDTO(cr.Rule)
		enabled := cr.Enabled
		out[i].Enabled = &enabled
	}
	writeJSON(w, http.StatusOK, out)
}

// UpdateCompanyRules replaces the company's enabled set.
func (h *Handler) UpdateCompanyRules(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		h.writeServiceError(w, r, "Invalid company", err)
		return
	}
	var req UpdateRulesRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, r, "Invalid request body", err)
		return
	}

	codes := make([]payroll.RuleCode, len(req.Rules))
	for i, c := range req.Rules {
		codes[i] = payroll.RuleCode(strings.TrimSpace(c))
	}
	enabled, err := h.Service.UpdateCompanyRules(r.Context(), company, codes)
	if err != nil {
		h.writeServiceError(w, r, "Failed to update company rules", err)
		return
	}
	writeJSON(w, http.StatusOK, enabledRulesResponse(enabled))
}

// EnableDefaultRules turns on every default catalog rule for the company.
func (h *Handler) EnableDefaultRules(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		h.writeServiceError(w, r, "Invalid company", err)
		return
	}
	enabled, err := h.Service.EnableDefaultRules(r.Context(), company)
	if err != nil {
		h.writeServiceError(w, r, "Failed to enable default rules", err)
		return
	}
	writeJSON(w, http.StatusOK, enabledRulesResponse(enabled))
}

// =============================================================================
// ENTRY MODE HANDLERS
// =============================================================================

// ResolveRates resolves one entry's rates against persisted plus pending
// month-to-date. Nothing is written and the pending set is unchanged.
func (h *Handler) ResolveRates(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		h.writeServiceError(w, r, "Invalid company", err)
		return
	}
	var req EntryRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, r, "Invalid request body", err)
		return
	}

	caller := callerFrom(r.Context())
	var res payroll.ResolveResult
	err = h.Pending.With(company, caller.UserID, func(set *payroll.PendingSet) error {
		var err error
		res, err = h.Service.ResolveRates(r.Context(), company, req.Input(), set)
		return err
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to resolve rates", err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse(res))
}

// PrepareEntry resolves and validates one entry and adds it to the
// caller's pending set.
func (h *Handler) PrepareEntry(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		h.writeServiceError(w, r, "Invalid company", err)
		return
	}
	var req EntryRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, r, "Invalid request body", err)
		return
	}

	caller := callerFrom(r.Context())
	var resp PrepareResponse
	err = h.Pending.With(company, caller.UserID, func(set *payroll.PendingSet) error {
		cand, err := h.Service.PrepareEntry(r.Context(), company, req.Input(), set)
		if err != nil {
			return err
		}
		last := set.Entries[len(set.Entries)-1]
		resp = PrepareResponse{Key: last.Key.String(), Entry: candidateDTO(cand), Pending: pendingDTO(set.Entries)}
		return nil
	})
	if err != nil {
		h.writeServiceError(w, r, "Entry not added", err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ReconcileBatch runs a grid through the batch reconciler. Accepted rows
// join the pending set; rejected rows come back with their reasons.
func (h *Handler) ReconcileBatch(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		h.writeServiceError(w, r, "Invalid company", err)
		return
	}
	var req BatchRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, r, "Invalid request body", err)
		return
	}

	caller := callerFrom(r.Context())
	var resp BatchResponse
	err = h.Pending.With(company, caller.UserID, func(set *payroll.PendingSet) error {
		rec, err := h.Service.ReconcileBatch(r.Context(), company, req.Rows, set)
		if err != nil {
			return err
		}
		resp = batchResponse(rec, req.Rows, set.Entries)
		return nil
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to reconcile batch", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListPending returns the caller's pending set.
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		h.writeServiceError(w, r, "Invalid company", err)
		return
	}
	caller := callerFrom(r.Context())
	writeJSON(w, http.StatusOK, pendingDTO(h.Pending.Snapshot(company, caller.UserID)))
}

// RemovePending drops one entry from the caller's pending set.
func (h *Handler) RemovePending(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		h.writeServiceError(w, r, "Invalid company", err)
		return
	}
	key, err := uuid.Parse(chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pending key", err)
		return
	}

	caller := callerFrom(r.Context())
	var entries []payroll.PendingEntry
	removed := false
	_ = h.Pending.With(company, caller.UserID, func(set *payroll.PendingSet) error {
		removed = set.Remove(key)
		entries = append(entries, set.Entries...)
		return nil
	})
	if !removed {
		writeError(w, http.StatusNotFound, "Pending entry not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, pendingDTO(entries))
}

// Confirm persists the caller's pending entries. The response is 200 even
// when some entries fail; those stay pending with their error.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		h.writeServiceError(w, r, "Invalid company", err)
		return
	}

	caller := callerFrom(r.Context())
	var resp ConfirmResponse
	_ = h.Pending.With(company, caller.UserID, func(set *payroll.PendingSet) error {
		res := h.Service.Confirm(r.Context(), company, set)
		resp = ConfirmResponse{Saved: entryDTOs(res.Saved), Failed: res.Failed, Pending: pendingDTO(set.Entries)}
		return nil
	})
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ENTRY CRUD HANDLERS
// =============================================================================

// ListEntries returns the entries inside the caller's edit window.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		h.writeServiceError(w, r, "Invalid company", err)
		return
	}
	entries, err := h.Service.ListEntries(r.Context(), company, callerFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, entryDTOs(entries))
}

// CreateEntry resolves, validates and persists one entry without going
// through the pending set. Pending entries still count toward the month.
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		h.writeServiceError(w, r, "Invalid company", err)
		return
	}
	var req EntryRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, r, "Invalid request body", err)
		return
	}

	caller := callerFrom(r.Context())
	var cand payroll.Candidate
	err = h.Pending.With(company, caller.UserID, func(set *payroll.PendingSet) error {
		view := &payroll.PendingSet{Entries: append([]payroll.PendingEntry(nil), set.Entries...)}
		var err error
		cand, err = h.Service.PrepareEntry(r.Context(), company, req.Input(), view)
		return err
	})
	if err != nil {
		h.writeServiceError(w, r, "Entry not saved", err)
		return
	}

	entry, err := h.Service.CreateEntry(r.Context(), company, cand)
	if err != nil {
		h.writeServiceError(w, r, "Entry not saved", err)
		return
	}
	writeJSON(w, http.StatusCreated, entryDTO(entry))
}

// UpdateEntry edits a stored entry.
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		h.writeServiceError(w, r, "Invalid company", err)
		return
	}
	id, err := entryID(r)
	if err != nil {
		h.writeServiceError(w, r, "Invalid entry", err)
		return
	}
	var req EntryRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, r, "Invalid request body", err)
		return
	}

	entry, err := h.Service.UpdateEntry(r.Context(), company, callerFrom(r.Context()), id, req.UpdateInput())
	if err != nil {
		h.writeServiceError(w, r, "Entry not updated", err)
		return
	}
	writeJSON(w, http.StatusOK, entryDTO(entry))
}

// DeleteEntry removes a stored entry.
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		h.writeServiceError(w, r, "Invalid company", err)
		return
	}
	id, err := entryID(r)
	if err != nil {
		h.writeServiceError(w, r, "Invalid entry", err)
		return
	}
	if err := h.Service.DeleteEntry(r.Context(), company, callerFrom(r.Context()), id); err != nil {
		h.writeServiceError(w, r, "Entry not deleted", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MonthTotal returns a worker's customer total for a month. With
// include_pending=true the caller's pending entries are added.
func (h *Handler) MonthTotal(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		h.writeServiceError(w, r, "Invalid company", err)
		return
	}
	q := r.URL.Query()
	worker, err := strconv.ParseInt(strings.TrimSpace(q.Get("worker_id")), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "worker_id and month are required", err)
		return
	}
	month := strings.TrimSpace(q.Get("month"))
	includePending, _ := strconv.ParseBool(q.Get("include_pending"))

	caller := callerFrom(r.Context())
	var total decimal.Decimal
	err = h.Pending.With(company, caller.UserID, func(set *payroll.PendingSet) error {
		if !includePending {
			set = nil
		}
		var err error
		total, err = h.Service.MonthToDateTotal(r.Context(), company, payroll.WorkerID(worker), month, set)
		return err
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to compute month total", err)
		return
	}
	writeJSON(w, http.StatusOK, MonthTotalResponse{
		WorkerID:       worker,
		Month:          month,
		Total:          money(total),
		IncludePending: includePending,
	})
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// reportFilter parses the shared report query string. It writes the error
// response itself and returns false when the query is unusable.
func (h *Handler) reportFilter(w http.ResponseWriter, r *http.Request) (payroll.CompanyID, payroll.ReportFilter, bool) {
	company, err := companyID(r)
	if err != nil {
		h.writeServiceError(w, r, "Invalid company", err)
		return 0, payroll.ReportFilter{}, false
	}
	q := r.URL.Query()
	query := ReportQuery{
		From:   strings.TrimSpace(q.Get("from")),
		To:     strings.TrimSpace(q.Get("to")),
		Cash:   toggle(q.Get("cash")),
		Bank:   toggle(q.Get("bank")),
		JobNo1: toggle(q.Get("jobno1")),
		JobNo2: toggle(q.Get("jobno2")),
	}
	if err := h.validate.Struct(query); err != nil {
		writeError(w, http.StatusBadRequest, "from and to must be YYYY-MM-DD", err)
		return 0, payroll.ReportFilter{}, false
	}

	from, _ := generic.ParseDate(query.From)
	to, _ := generic.ParseDate(query.To)
	period, err := generic.NewPeriod(from, to)
	if err != nil {
		h.writeServiceError(w, r, "Invalid report period", err)
		return 0, payroll.ReportFilter{}, false
	}
	return company, payroll.ReportFilter{
		Period: period,
		Pay:    payroll.PayFilterOf(query.Cash, query.Bank),
		JobNo:  payroll.JobNoFilterOf(query.JobNo1, query.JobNo2),
	}, true
}

// WorkerPays runs the worker pay report.
func (h *Handler) WorkerPays(w http.ResponseWriter, r *http.Request) {
	company, filter, ok := h.reportFilter(w, r)
	if !ok {
		return
	}
	report, err := h.Service.WorkerPayReport(r.Context(), company, callerFrom(r.Context()), filter)
	if err != nil {
		h.writeServiceError(w, r, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, workerPayResponse(filter.Period, report))
}

// SalesListing lists every entry in the period with daily sales.
func (h *Handler) SalesListing(w http.ResponseWriter, r *http.Request) {
	company, filter, ok := h.reportFilter(w, r)
	if !ok {
		return
	}
	listing, err := h.Service.SalesListing(r.Context(), company, callerFrom(r.Context()), filter)
	if err != nil {
		h.writeServiceError(w, r, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, salesListingResponse(filter.Period, listing))
}

// WorkerJobListing lists each worker's entries in the period with totals.
func (h *Handler) WorkerJobListing(w http.ResponseWriter, r *http.Request) {
	company, filter, ok := h.reportFilter(w, r)
	if !ok {
		return
	}
	listing, err := h.Service.WorkerJobListing(r.Context(), company, callerFrom(r.Context()), filter)
	if err != nil {
		h.writeServiceError(w, r, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, workerJobListingResponse(filter.Period, listing))
}

// toggle reads a report checkbox. Absent means on; anything unparsable is off.
func toggle(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return true
	}
	on, err := strconv.ParseBool(v)
	return err == nil && on
}

// requirePermission gates a route group on a permission code.
func (h *Handler) requirePermission(code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := h.Service.Authorize(r.Context(), callerFrom(r.Context()), code); err != nil {
				h.writeServiceError(w, r, "Access denied", err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps the payroll error taxonomy to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, payroll.ErrDuplicateJobNo):
		return http.StatusConflict
	case payroll.IsForbidden(err):
		return http.StatusForbidden
	case payroll.IsNotFound(err):
		return http.StatusNotFound
	case payroll.IsClientError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: message, Details: err.Error()}

	var v payroll.Violation
	if errors.As(err, &v) {
		resp.Field = v.Field
	}
	var forbidden *payroll.ForbiddenError
	if errors.As(err, &forbidden) {
		resp.Reason = string(forbidden.Reason)
	}

	if status == http.StatusInternalServerError {
		LoggerFromContext(r.Context()).Error(message, "error", err)
		resp.Details = ""
	}
	writeJSON(w, status, resp)
}
