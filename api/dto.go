/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Requests accept decimals as JSON numbers or strings. Responses carry money
  as strings rounded to two places; rounding happens here and nowhere else.

VALIDATION:
  Struct tags (go-playground/validator) check request shape only. Business
  validation (missing rates, tiers, required entry fields) stays in the
  payroll package so single and batch entry report the same messages.

SEE ALSO:
  - handlers.go: Uses these types
  - payroll/reconciler.go: BatchRow is the batch request cell layout
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/generic"
	"github.com/warp/rate-engine/payroll"
)

// money renders a presentation value: rounded half away from zero, two
// fixed decimals.
func money(d decimal.Decimal) string {
	return generic.Round2(d).StringFixed(2)
}

// =============================================================================
// ENTRY REQUESTS
// =============================================================================

// EntryRequest is one entry in single-entry mode, and the body of resolve
// and create.
type EntryRequest struct {
	WorkerID      int64            `json:"worker_id" validate:"gte=0"`
	JobCode       string           `json:"job_code" validate:"max=64"`
	Amount        decimal.Decimal  `json:"amount"`
	WorkDate      string           `json:"work_date" validate:"max=10"`
	JobNo1        string           `json:"job_no1" validate:"max=64"`
	JobNo2        string           `json:"job_no2" validate:"max=64"`
	IsBank        bool             `json:"is_bank"`
	Note          string           `json:"note" validate:"max=500"`
	FeesCollected *decimal.Decimal `json:"fees_collected"`
	CustomerRate  *decimal.Decimal `json:"customer_rate"`
	WageRate      *decimal.Decimal `json:"wage_rate"`

	// WageTierID only applies to edits.
	WageTierID *int64 `json:"wage_tier_id" validate:"omitempty,gt=0"`
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

// Input converts the request for PrepareEntry and ResolveRates.
func (r EntryRequest) Input() payroll.EntryInput {
	return payroll.EntryInput{
		WorkerID:      payroll.WorkerID(r.WorkerID),
		JobCode:       r.JobCode,
		Amount:        r.Amount,
		WorkDate:      r.WorkDate,
		JobNo1:        r.JobNo1,
		JobNo2:        r.JobNo2,
		IsBank:        r.IsBank,
		Note:          r.Note,
		FeesCollected: nullDecimal(r.FeesCollected),
		Override: payroll.ManualOverride{
			CustomerRate: nullDecimal(r.CustomerRate),
			WageRate:     nullDecimal(r.WageRate),
		},
	}
}

// UpdateInput converts the request for UpdateEntry. Rates are passed through
// as submitted; the rate gate decides what to do with them.
func (r EntryRequest) UpdateInput() payroll.UpdateInput {
	in := payroll.UpdateInput{
		WorkerID:      payroll.WorkerID(r.WorkerID),
		JobCode:       r.JobCode,
		Amount:        r.Amount,
		WorkDate:      r.WorkDate,
		JobNo1:        r.JobNo1,
		JobNo2:        r.JobNo2,
		IsBank:        r.IsBank,
		Note:          r.Note,
		FeesCollected: nullDecimal(r.FeesCollected),
		Rates: payroll.RateChange{
			CustomerRate: r.CustomerRate,
			WageRate:     r.WageRate,
		},
	}
	if r.WageTierID != nil {
		t := payroll.WageTierID(*r.WageTierID)
		in.WageTierID = &t
	}
	return in
}

// BatchRequest is a grid of raw rows.
type BatchRequest struct {
	Rows []payroll.BatchRow `json:"rows" validate:"required,min=1,max=500"`
}

// =============================================================================
// ENTRY RESPONSES
// =============================================================================

// CandidateDTO is an entry before persistence.
type CandidateDTO struct {
	WorkerID      int64  `json:"worker_id"`
	WorkerCode    string `json:"worker_code,omitempty"`
	JobID         int64  `json:"job_id"`
	JobCode       string `json:"job_code"`
	Amount        string `json:"amount"`
	WorkDate      string `json:"work_date"`
	JobNo1        string `json:"job_no1"`
	JobNo2        string `json:"job_no2"`
	IsBank        bool   `json:"is_bank"`
	Note          string `json:"note"`
	FeesCollected string `json:"fees_collected"`
	CustomerRate  string `json:"customer_rate"`
	CustomerTotal string `json:"customer_total"`
	WageTierID    *int64 `json:"wage_tier_id"`
	WageRate      string `json:"wage_rate"`
	WageTotal     string `json:"wage_total"`
}

func candidateDTO(c payroll.Candidate) CandidateDTO {
	var tier *int64
	if c.WageTierID != nil {
		t := int64(*c.WageTierID)
		tier = &t
	}
	return CandidateDTO{
		WorkerID:      int64(c.WorkerID),
		WorkerCode:    c.WorkerCode,
		JobID:         int64(c.JobID),
		JobCode:       c.JobCode,
		Amount:        c.Amount.String(),
		WorkDate:      c.WorkDate,
		JobNo1:        c.JobNo1,
		JobNo2:        c.JobNo2,
		IsBank:        c.IsBank,
		Note:          c.Note,
		FeesCollected: money(c.Fees()),
		CustomerRate:  money(c.CustomerRate),
		CustomerTotal: money(c.CustomerTotal),
		WageTierID:    tier,
		WageRate:      money(c.WageRate),
		WageTotal:     money(c.WageTotal),
	}
}

// EntryDTO is a persisted work entry.
type EntryDTO struct {
	ID int64 `json:"id"`
	CandidateDTO
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func entryDTO(e payroll.Entry) EntryDTO {
	return EntryDTO{
		ID:           int64(e.ID),
		CandidateDTO: candidateDTO(e.Candidate),
		CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func entryDTOs(entries []payroll.Entry) []EntryDTO {
	out := make([]EntryDTO, len(entries))
	for i, e := range entries {
		out[i] = entryDTO(e)
	}
	return out
}

// PendingEntryDTO is one entry waiting for confirmation.
type PendingEntryDTO struct {
	Key       string       `json:"key"`
	Entry     CandidateDTO `json:"entry"`
	LastError string       `json:"last_error,omitempty"`
}

// PendingDTO is the caller's pending set with its running totals.
type PendingDTO struct {
	Entries       []PendingEntryDTO `json:"entries"`
	CustomerTotal string            `json:"customer_total"`
	WageTotal     string            `json:"wage_total"`
}

func pendingDTO(entries []payroll.PendingEntry) PendingDTO {
	set := payroll.PendingSet{Entries: entries}
	customer, wage := set.Totals()
	out := PendingDTO{
		Entries:       make([]PendingEntryDTO, len(entries)),
		CustomerTotal: money(customer),
		WageTotal:     money(wage),
	}
	for i, p := range entries {
		out.Entries[i] = PendingEntryDTO{Key: p.Key.String(), Entry: candidateDTO(p.Candidate), LastError: p.LastError}
	}
	return out
}

// ResolveResponse is a resolved rate pair with its totals.
type ResolveResponse struct {
	CustomerRate  string `json:"customer_rate"`
	WageRate      string `json:"wage_rate"`
	CustomerTotal string `json:"customer_total"`
	WageTotal     string `json:"wage_total"`
	MonthToDate   string `json:"month_to_date"`
	WageTierID    *int64 `json:"wage_tier_id"`
}

func resolveResponse(r payroll.ResolveResult) ResolveResponse {
	var tier *int64
	if r.WageTierID != nil {
		t := int64(*r.WageTierID)
		tier = &t
	}
	return ResolveResponse{
		CustomerRate:  money(r.CustomerRate),
		WageRate:      money(r.WageRate),
		CustomerTotal: money(r.CustomerTotal),
		WageTotal:     money(r.WageTotal),
		MonthToDate:   money(r.MonthToDate),
		WageTierID:    tier,
	}
}

// PrepareResponse is the prepared candidate plus the pending set it joined.
type PrepareResponse struct {
	Key     string       `json:"key"`
	Entry   CandidateDTO `json:"entry"`
	Pending PendingDTO   `json:"pending"`
}

// AcceptedRowDTO is a batch row that became a pending candidate.
type AcceptedRowDTO struct {
	RowIndex   int          `json:"row_index"`
	PendingKey string       `json:"pending_key"`
	Entry      CandidateDTO `json:"entry"`
}

// RejectedRowDTO is a batch row left on the grid.
type RejectedRowDTO struct {
	RowIndex int    `json:"row_index"`
	Reason   string `json:"reason"`
}

// BatchResponse is one reconciliation pass. Remaining is the grid with
// accepted rows cleared except for their work date.
type BatchResponse struct {
	Accepted  []AcceptedRowDTO   `json:"accepted"`
	Rejected  []RejectedRowDTO   `json:"rejected"`
	Skipped   []int              `json:"skipped"`
	Remaining []payroll.BatchRow `json:"remaining"`
	Pending   PendingDTO         `json:"pending"`
}

func batchResponse(rec payroll.Reconciliation, rows []payroll.BatchRow, pending []payroll.PendingEntry) BatchResponse {
	out := BatchResponse{
		Accepted:  make([]AcceptedRowDTO, len(rec.Accepted)),
		Rejected:  make([]RejectedRowDTO, len(rec.Rejected)),
		Skipped:   rec.Skipped,
		Remaining: rec.Remaining(rows),
		Pending:   pendingDTO(pending),
	}
	if out.Skipped == nil {
		out.Skipped = []int{}
	}
	for i, a := range rec.Accepted {
		out.Accepted[i] = AcceptedRowDTO{RowIndex: a.RowIndex, PendingKey: a.PendingKey.String(), Entry: candidateDTO(a.Entry)}
	}
	for i, r := range rec.Rejected {
		out.Rejected[i] = RejectedRowDTO{RowIndex: r.RowIndex, Reason: r.Reason}
	}
	return out
}

// ConfirmResponse reports a confirmation pass. Entries that failed stay in
// Pending with their last error.
type ConfirmResponse struct {
	Saved   []EntryDTO `json:"saved"`
	Failed  int        `json:"failed"`
	Pending PendingDTO `json:"pending"`
}

// MonthTotalResponse is a worker's month-to-date customer total.
type MonthTotalResponse struct {
	WorkerID       int64  `json:"worker_id"`
	Month          string `json:"month"`
	Total          string `json:"total"`
	IncludePending bool   `json:"include_pending"`
}

// =============================================================================
// RULES
// =============================================================================

// RuleDTO is a catalog rule; Enabled is set on company listings only.
type RuleDTO struct {
	Code        string            `json:"code"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	IsDefault   bool              `json:"is_default"`
	Params      map[string]string `json:"params,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
}

func ruleDTO(r payroll.Rule) RuleDTO {
	return RuleDTO{
		Code:        string(r.Code),
		Name:        r.Name,
		Description: r.Description,
		IsDefault:   r.IsDefault,
		Params:      r.Params,
	}
}

// UpdateRulesRequest replaces a company's enabled rule set.
type UpdateRulesRequest struct {
	Rules []string `json:"rules" validate:"dive,required,max=64"`
}

// EnabledRulesResponse is a company's enabled rule codes after an update.
type EnabledRulesResponse struct {
	Enabled []string `json:"enabled"`
}

func enabledRulesResponse(rs payroll.RuleSet) EnabledRulesResponse {
	codes := rs.Codes()
	out := EnabledRulesResponse{Enabled: make([]string, len(codes))}
	for i, c := range codes {
		out.Enabled[i] = string(c)
	}
	return out
}

// =============================================================================
// REPORTS
// =============================================================================

// ReportQuery is the query string shared by the reports. The four toggles
// default to on when absent.
type ReportQuery struct {
	From   string `validate:"required,datetime=2006-01-02"`
	To     string `validate:"required,datetime=2006-01-02"`
	Cash   bool
	Bank   bool
	JobNo1 bool
	JobNo2 bool
}

// WorkerPayRowDTO is one worker's aggregate.
type WorkerPayRowDTO struct {
	WorkerID      int64  `json:"worker_id"`
	WorkerCode    string `json:"worker_code"`
	WorkerName    string `json:"worker_name"`
	TotalHours    string `json:"total_hours"`
	TotalCustomer string `json:"total_customer"`
	TotalWage     string `json:"total_wage"`
}

// WorkerPayResponse is the report plus the filters actually applied.
type WorkerPayResponse struct {
	From             string            `json:"from"`
	To               string            `json:"to"`
	CanFilterPayType bool              `json:"can_filter_pay_type"`
	PayFilter        string            `json:"pay_filter"`
	JobNoFilter      string            `json:"job_no_filter"`
	Rows             []WorkerPayRowDTO `json:"rows"`
	TotalHours       string            `json:"total_hours"`
	TotalCustomer    string            `json:"total_customer"`
	TotalWage        string            `json:"total_wage"`
}

func workerPayResponse(period generic.Period, rep payroll.WorkerPayReport) WorkerPayResponse {
	out := WorkerPayResponse{
		From:             period.Start.String(),
		To:               period.End.String(),
		CanFilterPayType: rep.CanFilterPayType,
		PayFilter:        string(rep.Pay),
		JobNoFilter:      string(rep.JobNo),
		Rows:             make([]WorkerPayRowDTO, len(rep.Rows)),
	}
	var hours, customer, wage decimal.Decimal
	for i, r := range rep.Rows {
		out.Rows[i] = WorkerPayRowDTO{
			WorkerID:      int64(r.WorkerID),
			WorkerCode:    r.WorkerCode,
			WorkerName:    r.WorkerName,
			TotalHours:    money(r.TotalHours),
			TotalCustomer: money(r.TotalCustomer),
			TotalWage:     money(r.TotalWage),
		}
		hours = hours.Add(r.TotalHours)
		customer = customer.Add(r.TotalCustomer)
		wage = wage.Add(r.TotalWage)
	}
	out.TotalHours = money(hours)
	out.TotalCustomer = money(customer)
	out.TotalWage = money(wage)
	return out
}

// ReportLineDTO is one entry in a listing.
type ReportLineDTO struct {
	EntryID  int64  `json:"entry_id"`
	WorkDate string `json:"work_date"`
	BillNo   string `json:"bill_no"`
	JobDesc  string `json:"job_desc"`
	Hours    string `json:"hours"`
	Fee      string `json:"fee"`
	Wage     string `json:"wage,omitempty"`
}

func reportLineDTO(l payroll.ReportLine, withWage bool) ReportLineDTO {
	out := ReportLineDTO{
		EntryID:  int64(l.EntryID),
		WorkDate: l.WorkDate,
		BillNo:   l.BillNo,
		JobDesc:  l.JobDesc,
		Hours:    money(l.Hours),
		Fee:      money(l.Fee),
	}
	if withWage {
		out.Wage = money(l.Wage)
	}
	return out
}

// DailySalesDTO is one day's fee total.
type DailySalesDTO struct {
	WorkDate   string `json:"work_date"`
	DailySales string `json:"daily_sales"`
}

// SalesListingResponse is the sales listing plus the filters applied.
type SalesListingResponse struct {
	From             string          `json:"from"`
	To               string          `json:"to"`
	CanFilterPayType bool            `json:"can_filter_pay_type"`
	PayFilter        string          `json:"pay_filter"`
	JobNoFilter      string          `json:"job_no_filter"`
	Rows             []ReportLineDTO `json:"rows"`
	Days             []DailySalesDTO `json:"days"`
	TotalSales       string          `json:"total_sales"`
}

func salesListingResponse(period generic.Period, l payroll.SalesListing) SalesListingResponse {
	out := SalesListingResponse{
		From:             period.Start.String(),
		To:               period.End.String(),
		CanFilterPayType: l.CanFilterPayType,
		PayFilter:        string(l.Pay),
		JobNoFilter:      string(l.JobNo),
		Rows:             make([]ReportLineDTO, len(l.Rows)),
		Days:             make([]DailySalesDTO, len(l.Days)),
	}
	for i, r := range l.Rows {
		out.Rows[i] = reportLineDTO(r, false)
	}
	total := decimal.Zero
	for i, d := range l.Days {
		out.Days[i] = DailySalesDTO{WorkDate: d.WorkDate, DailySales: money(d.Sales)}
		total = total.Add(d.Sales)
	}
	out.TotalSales = money(total)
	return out
}

// WorkerJobGroupDTO is one worker's block in the worker job listing.
type WorkerJobGroupDTO struct {
	WorkerID   int64           `json:"worker_id"`
	WorkerCode string          `json:"worker_code"`
	WorkerName string          `json:"worker_name"`
	TotalHours string          `json:"total_hours"`
	TotalFee   string          `json:"total_fee"`
	TotalWage  string          `json:"total_wage"`
	Rows       []ReportLineDTO `json:"rows"`
}

// WorkerJobListingResponse is the worker job listing plus the filters applied.
type WorkerJobListingResponse struct {
	From             string              `json:"from"`
	To               string              `json:"to"`
	CanFilterPayType bool                `json:"can_filter_pay_type"`
	PayFilter        string              `json:"pay_filter"`
	JobNoFilter      string              `json:"job_no_filter"`
	Workers          []WorkerJobGroupDTO `json:"workers"`
}

func workerJobListingResponse(period generic.Period, l payroll.WorkerJobListing) WorkerJobListingResponse {
	out := WorkerJobListingResponse{
		From:             period.Start.String(),
		To:               period.End.String(),
		CanFilterPayType: l.CanFilterPayType,
		PayFilter:        string(l.Pay),
		JobNoFilter:      string(l.JobNo),
		Workers:          make([]WorkerJobGroupDTO, len(l.Workers)),
	}
	for i, g := range l.Workers {
		rows := make([]ReportLineDTO, len(g.Rows))
		for k, r := range g.Rows {
			rows[k] = reportLineDTO(r, true)
		}
		out.Workers[i] = WorkerJobGroupDTO{
			WorkerID:   int64(g.WorkerID),
			WorkerCode: g.WorkerCode,
			WorkerName: g.WorkerName,
			TotalHours: money(g.TotalHours),
			TotalFee:   money(g.TotalFee),
			TotalWage:  money(g.TotalWage),
			Rows:       rows,
		}
	}
	return out
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// DemoUserDTO is a seeded user the demo client can impersonate through the
// identity headers.
type DemoUserDTO struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	IsAdmin  bool   `json:"is_admin"`
}

// LoadScenarioResponse reports what a scenario seeded.
type LoadScenarioResponse struct {
	Scenario  ScenarioDTO      `json:"scenario"`
	CompanyID int64            `json:"company_id"`
	Workers   map[string]int64 `json:"workers"`
	Users     []DemoUserDTO    `json:"users"`
	Entries   int              `json:"entries"`
}
