package payroll

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/generic"
)

// =============================================================================
// REPORT FILTERS
// =============================================================================

// PayFilter selects entries by payment channel.
type PayFilter string

const (
	PayBoth     PayFilter = "BOTH"
	PayCashOnly PayFilter = "CASH_ONLY"
	PayBankOnly PayFilter = "BANK_ONLY"
	PayNone     PayFilter = "NONE"
)

// PayFilterOf maps the cash/bank toggles to a filter.
func PayFilterOf(cash, bank bool) PayFilter {
	switch {
	case cash && bank:
		return PayBoth
	case cash:
		return PayCashOnly
	case bank:
		return PayBankOnly
	}
	return PayNone
}

func (f PayFilter) match(isBank bool) bool {
	switch f {
	case PayBankOnly:
		return isBank
	case PayCashOnly:
		return !isBank
	case PayNone:
		return false
	}
	return true
}

// JobNoFilter selects entries by presence of a secondary job number.
type JobNoFilter string

const (
	JobNoAll       JobNoFilter = "ALL"
	JobNoHasJobNo2 JobNoFilter = "HAS_JOBNO2"
	JobNoNoJobNo2  JobNoFilter = "NO_JOBNO2"
)

// JobNoFilterOf maps the jobno1/jobno2 toggles to a filter. Both off falls
// back to ALL.
func JobNoFilterOf(jobNo1, jobNo2 bool) JobNoFilter {
	switch {
	case !jobNo1 && jobNo2:
		return JobNoHasJobNo2
	case jobNo1 && !jobNo2:
		return JobNoNoJobNo2
	}
	return JobNoAll
}

func (f JobNoFilter) match(jobNo2 string) bool {
	has := strings.TrimSpace(jobNo2) != ""
	switch f {
	case JobNoHasJobNo2:
		return has
	case JobNoNoJobNo2:
		return !has
	}
	return true
}

// ReportFilter is the query shared by every report.
type ReportFilter struct {
	Period generic.Period
	Pay    PayFilter
	JobNo  JobNoFilter
}

func (f ReportFilter) match(e Entry) bool {
	d, err := e.Date()
	if err != nil || !f.Period.Contains(d) {
		return false
	}
	return f.Pay.match(e.IsBank) && f.JobNo.match(e.JobNo2)
}

// =============================================================================
// WORKER PAY REPORT
// =============================================================================

// WorkerPayRow aggregates one worker over the report period.
type WorkerPayRow struct {
	WorkerID      WorkerID
	WorkerCode    string
	WorkerName    string
	TotalHours    decimal.Decimal
	TotalCustomer decimal.Decimal
	TotalWage     decimal.Decimal
}

// WorkerPayReport is the report plus the pay filter actually applied.
type WorkerPayReport struct {
	CanFilterPayType bool
	Pay              PayFilter
	JobNo            JobNoFilter
	Rows             []WorkerPayRow
}

// BuildWorkerPayReport groups entries by worker. names resolves worker code
// and name; rows are ordered numeric codes first, then lexically.
func BuildWorkerPayReport(entries []Entry, filter ReportFilter, names func(WorkerID) (Worker, error)) ([]WorkerPayRow, error) {
	byWorker := make(map[WorkerID]*WorkerPayRow)
	var order []WorkerID

	for _, e := range entries {
		if !filter.match(e) {
			continue
		}

		row, ok := byWorker[e.WorkerID]
		if !ok {
			w, err := names(e.WorkerID)
			if err != nil {
				return nil, err
			}
			row = &WorkerPayRow{WorkerID: e.WorkerID, WorkerCode: w.Code, WorkerName: w.Name}
			byWorker[e.WorkerID] = row
			order = append(order, e.WorkerID)
		}
		row.TotalHours = row.TotalHours.Add(e.Amount)
		row.TotalCustomer = row.TotalCustomer.Add(e.CustomerTotal)
		row.TotalWage = row.TotalWage.Add(e.WageTotal)
	}

	rows := make([]WorkerPayRow, 0, len(order))
	for _, id := range order {
		rows = append(rows, *byWorker[id])
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return codeLess(rows[i].WorkerCode, rows[j].WorkerCode)
	})
	return rows, nil
}

// codeLess orders numeric codes first by value, then everything else
// lexically.
func codeLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		if na != nb {
			return na < nb
		}
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

// =============================================================================
// LISTINGS
// =============================================================================

// ReportLine is one entry as the listings print it. JobDesc is
// "CODE - Type"; Fee is the customer total.
type ReportLine struct {
	EntryID  EntryID
	WorkDate string
	BillNo   string
	JobDesc  string
	Hours    decimal.Decimal
	Fee      decimal.Decimal
	Wage     decimal.Decimal
}

// DailySales is the fee total of one day.
type DailySales struct {
	WorkDate string
	Sales    decimal.Decimal
}

// SalesListing is every matching entry by date plus daily totals.
type SalesListing struct {
	CanFilterPayType bool
	Pay              PayFilter
	JobNo            JobNoFilter
	Rows             []ReportLine
	Days             []DailySales
}

// WorkerJobGroup is one worker's entries with totals.
type WorkerJobGroup struct {
	WorkerID   WorkerID
	WorkerCode string
	WorkerName string
	TotalHours decimal.Decimal
	TotalFee   decimal.Decimal
	TotalWage  decimal.Decimal
	Rows       []ReportLine
}

// WorkerJobListing is the per-worker detail report.
type WorkerJobListing struct {
	CanFilterPayType bool
	Pay              PayFilter
	JobNo            JobNoFilter
	Workers          []WorkerJobGroup
}

func reportLine(e Entry, jobs func(string) (Job, error)) (ReportLine, error) {
	line := ReportLine{
		EntryID:  e.ID,
		WorkDate: e.WorkDate,
		BillNo:   e.JobNo1,
		Hours:    e.Amount,
		Fee:      e.CustomerTotal,
		Wage:     e.WageTotal,
	}
	job, err := jobs(e.JobCode)
	switch {
	case err == nil:
		line.JobDesc = job.Code + " - " + job.Type
	case IsNotFound(err):
		// job deleted since; the code is all that is left
		line.JobDesc = e.JobCode
	default:
		return ReportLine{}, err
	}
	return line, nil
}

// lineLess orders by work date, then bill number numeric first.
func lineLess(a, b ReportLine) bool {
	if a.WorkDate != b.WorkDate {
		return a.WorkDate < b.WorkDate
	}
	if a.BillNo != b.BillNo {
		return codeLess(a.BillNo, b.BillNo)
	}
	return a.EntryID < b.EntryID
}

// BuildSalesListing lists matching entries by date and bill number and
// totals fees per day.
func BuildSalesListing(entries []Entry, filter ReportFilter, jobs func(string) (Job, error)) ([]ReportLine, []DailySales, error) {
	rows := []ReportLine{}
	for _, e := range entries {
		if !filter.match(e) {
			continue
		}
		line, err := reportLine(e, jobs)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, line)
	}
	sort.Slice(rows, func(i, j int) bool { return lineLess(rows[i], rows[j]) })

	days := []DailySales{}
	for _, r := range rows {
		if n := len(days); n > 0 && days[n-1].WorkDate == r.WorkDate {
			days[n-1].Sales = days[n-1].Sales.Add(r.Fee)
			continue
		}
		days = append(days, DailySales{WorkDate: r.WorkDate, Sales: r.Fee})
	}
	return rows, days, nil
}

// BuildWorkerJobListing groups matching entries by worker, workers ordered
// like the pay report and rows by date and bill number.
func BuildWorkerJobListing(entries []Entry, filter ReportFilter, names func(WorkerID) (Worker, error), jobs func(string) (Job, error)) ([]WorkerJobGroup, error) {
	byWorker := make(map[WorkerID]*WorkerJobGroup)
	var order []WorkerID

	for _, e := range entries {
		if !filter.match(e) {
			continue
		}
		group, ok := byWorker[e.WorkerID]
		if !ok {
			w, err := names(e.WorkerID)
			if err != nil {
				return nil, err
			}
			group = &WorkerJobGroup{WorkerID: e.WorkerID, WorkerCode: w.Code, WorkerName: w.Name}
			byWorker[e.WorkerID] = group
			order = append(order, e.WorkerID)
		}
		line, err := reportLine(e, jobs)
		if err != nil {
			return nil, err
		}
		group.TotalHours = group.TotalHours.Add(line.Hours)
		group.TotalFee = group.TotalFee.Add(line.Fee)
		group.TotalWage = group.TotalWage.Add(line.Wage)
		group.Rows = append(group.Rows, line)
	}

	out := make([]WorkerJobGroup, 0, len(order))
	for _, id := range order {
		g := *byWorker[id]
		sort.Slice(g.Rows, func(i, j int) bool { return lineLess(g.Rows[i], g.Rows[j]) })
		out = append(out, g)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].WorkerCode != out[j].WorkerCode {
			return codeLess(out[i].WorkerCode, out[j].WorkerCode)
		}
		return out[i].WorkerID < out[j].WorkerID
	})
	return out, nil
}

// =============================================================================
// SERVICE
// =============================================================================

// reportScope applies the caller's pay-type permission to filter. Without
// REPORT_FILTER_PAYTYPE the pay filter is forced to bank-only.
func (s *Service) reportScope(ctx context.Context, caller Caller, filter ReportFilter) (ReportFilter, bool, error) {
	canFilter := caller.IsAdmin
	if !canFilter {
		ok, err := s.access.HasPermission(ctx, caller.UserID, PermReportPayTypeView)
		if err != nil {
			return filter, false, fmt.Errorf("check %s for user %d: %w", PermReportPayTypeView, caller.UserID, err)
		}
		canFilter = ok
	}
	switch {
	case !canFilter:
		filter.Pay = PayBankOnly
	case filter.Pay == "":
		filter.Pay = PayBoth
	}
	if filter.JobNo == "" {
		filter.JobNo = JobNoAll
	}
	return filter, canFilter, nil
}

func (s *Service) reportEntries(ctx context.Context, companyID CompanyID, filter ReportFilter) ([]Entry, error) {
	entries, err := s.entries.ListEntries(ctx, companyID, EntryFilter{From: filter.Period.Start, To: filter.Period.End})
	if err != nil {
		return nil, fmt.Errorf("list entries for report: %w", err)
	}
	return entries, nil
}

func (s *Service) workerNames(ctx context.Context, companyID CompanyID) func(WorkerID) (Worker, error) {
	return func(id WorkerID) (Worker, error) {
		return s.directory.WorkerByID(ctx, companyID, id)
	}
}

// jobTypes looks job codes up once per report.
func (s *Service) jobTypes(ctx context.Context, companyID CompanyID) func(string) (Job, error) {
	seen := make(map[string]Job)
	return func(code string) (Job, error) {
		if j, ok := seen[code]; ok {
			return j, nil
		}
		j, err := s.directory.JobByCode(ctx, companyID, code)
		if err != nil {
			return Job{}, err
		}
		seen[code] = j
		return j, nil
	}
}

// WorkerPayReport runs the per-worker totals report for caller.
func (s *Service) WorkerPayReport(ctx context.Context, companyID CompanyID, caller Caller, filter ReportFilter) (WorkerPayReport, error) {
	filter, canFilter, err := s.reportScope(ctx, caller, filter)
	if err != nil {
		return WorkerPayReport{}, err
	}
	entries, err := s.reportEntries(ctx, companyID, filter)
	if err != nil {
		return WorkerPayReport{}, err
	}

	rows, err := BuildWorkerPayReport(entries, filter, s.workerNames(ctx, companyID))
	if err != nil {
		return WorkerPayReport{}, fmt.Errorf("worker pay report: %w", err)
	}

	return WorkerPayReport{CanFilterPayType: canFilter, Pay: filter.Pay, JobNo: filter.JobNo, Rows: rows}, nil
}

// SalesListing runs the entry-by-entry sales report with daily totals.
func (s *Service) SalesListing(ctx context.Context, companyID CompanyID, caller Caller, filter ReportFilter) (SalesListing, error) {
	filter, canFilter, err := s.reportScope(ctx, caller, filter)
	if err != nil {
		return SalesListing{}, err
	}
	entries, err := s.reportEntries(ctx, companyID, filter)
	if err != nil {
		return SalesListing{}, err
	}

	rows, days, err := BuildSalesListing(entries, filter, s.jobTypes(ctx, companyID))
	if err != nil {
		return SalesListing{}, fmt.Errorf("sales listing: %w", err)
	}
	return SalesListing{CanFilterPayType: canFilter, Pay: filter.Pay, JobNo: filter.JobNo, Rows: rows, Days: days}, nil
}

// WorkerJobListing runs the per-worker detail report.
func (s *Service) WorkerJobListing(ctx context.Context, companyID CompanyID, caller Caller, filter ReportFilter) (WorkerJobListing, error) {
	filter, canFilter, err := s.reportScope(ctx, caller, filter)
	if err != nil {
		return WorkerJobListing{}, err
	}
	entries, err := s.reportEntries(ctx, companyID, filter)
	if err != nil {
		return WorkerJobListing{}, err
	}

	workers, err := BuildWorkerJobListing(entries, filter, s.workerNames(ctx, companyID), s.jobTypes(ctx, companyID))
	if err != nil {
		return WorkerJobListing{}, fmt.Errorf("worker job listing: %w", err)
	}
	return WorkerJobListing{CanFilterPayType: canFilter, Pay: filter.Pay, JobNo: filter.JobNo, Workers: workers}, nil
}
