package payroll

import (
	"strings"

	"github.com/warp/rate-engine/generic"
)

// Field names reported by Validate. They match the JSON names of the API.
const (
	FieldWorker        = "worker_id"
	FieldJob           = "job_code"
	FieldJobNo1        = "job_no1"
	FieldWorkDate      = "work_date"
	FieldAmount        = "amount"
	FieldCustomerRate  = "customer_rate"
	FieldCustomerTotal = "customer_total"
	FieldWageRate      = "wage_rate"
	FieldWageTotal     = "wage_total"
	FieldFees          = "fees_collected"
)

// Validate checks an already-resolved candidate. Every check runs and is
// reported independently, in a fixed order, so batch mode can show all
// problems at once. Numeric invariants are re-checked because custom rates
// typed by the caller never went through the resolver.
func Validate(c Candidate) []Violation {
	var out []Violation
	add := func(field, msg string) {
		out = append(out, Violation{Field: field, Message: msg})
	}

	if c.WorkerID <= 0 {
		add(FieldWorker, "worker missing")
	}
	if c.JobID <= 0 && strings.TrimSpace(c.JobCode) == "" {
		add(FieldJob, "job missing")
	}
	if strings.TrimSpace(c.JobNo1) == "" {
		add(FieldJobNo1, "job no1 missing")
	}
	switch {
	case strings.TrimSpace(c.WorkDate) == "":
		add(FieldWorkDate, "work date missing")
	case !generic.IsISODate(c.WorkDate):
		add(FieldWorkDate, "work date must be YYYY-MM-DD")
	}
	if !c.Amount.IsPositive() {
		add(FieldAmount, "amount must be > 0")
	}
	if !c.CustomerRate.IsPositive() {
		add(FieldCustomerRate, "customer rate missing/invalid")
	}
	if !c.CustomerTotal.IsPositive() {
		add(FieldCustomerTotal, "customer total missing/invalid")
	}
	if !c.WageRate.IsPositive() {
		add(FieldWageRate, "wage rate missing/invalid")
	}
	if !c.WageTotal.IsPositive() {
		add(FieldWageTotal, "wage total missing/invalid")
	}
	return out
}

// FirstViolation is the single-entry short-circuit: nil when c is valid.
func FirstViolation(c Candidate) error {
	if v := Validate(c); len(v) > 0 {
		return v[0]
	}
	return nil
}

// JoinViolations renders violations as one human-readable reason.
func JoinViolations(vs []Violation) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.Message
	}
	return strings.Join(parts, ", ")
}
