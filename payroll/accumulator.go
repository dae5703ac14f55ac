/*
accumulator.go - Month-To-Date Accumulator and the pending set

PURPOSE:
  The threshold rule needs the worker's customer total for the month,
  including entries the caller has prepared but not saved yet. The total is
  therefore: persisted total (MonthTotals) + pending candidates for the same
  worker and month.

NO CACHING:
  The pending set changes as rows are added, so the total is recomputed for
  every candidate.

CONCURRENCY:
  Two sessions preparing entries for the same worker/month do not see each
  other's pending rows. The threshold may then trigger one entry late or
  early. This is accepted; there is no locking here.

SEE ALSO:
  - resolver.go: consumes MonthToDate
  - reconciler.go: grows the pending set row by row
*/
package payroll

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/generic"
)

// =============================================================================
// PENDING SET - The caller's not-yet-persisted batch
// =============================================================================

// PendingEntry is one prepared candidate awaiting confirmation.
type PendingEntry struct {
	Key       uuid.UUID
	Candidate Candidate

	// LastError holds the persistence error from the previous confirm, if any.
	LastError string
}

// PendingSet is ordered; confirmation reports failures by position.
type PendingSet struct {
	Entries []PendingEntry
}

// Add appends a candidate and returns its key.
func (p *PendingSet) Add(c Candidate) uuid.UUID {
	key := uuid.New()
	p.Entries = append(p.Entries, PendingEntry{Key: key, Candidate: c})
	return key
}

// Remove drops the entry with key. It reports whether anything was removed.
func (p *PendingSet) Remove(key uuid.UUID) bool {
	for i, e := range p.Entries {
		if e.Key == key {
			p.Entries = append(p.Entries[:i], p.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of pending entries.
func (p *PendingSet) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Entries)
}

// Candidates returns the candidates in order.
func (p *PendingSet) Candidates() []Candidate {
	if p == nil {
		return nil
	}
	out := make([]Candidate, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = e.Candidate
	}
	return out
}

// Totals sums customer and wage totals over the set.
func (p *PendingSet) Totals() (customer, wage decimal.Decimal) {
	customer, wage = decimal.Zero, decimal.Zero
	if p == nil {
		return customer, wage
	}
	for _, e := range p.Entries {
		customer = customer.Add(e.Candidate.CustomerTotal)
		wage = wage.Add(e.Candidate.WageTotal)
	}
	return customer, wage
}

// =============================================================================
// ACCUMULATOR
// =============================================================================

// Accumulator computes month-to-date customer totals.
type Accumulator struct {
	Persisted MonthTotals
}

// NewAccumulator creates an accumulator over the persisted totals source.
func NewAccumulator(persisted MonthTotals) *Accumulator {
	return &Accumulator{Persisted: persisted}
}

// MonthToDate returns persisted + pending customer totals for the worker in
// month. pending may contain other workers and months; they are ignored.
func (a *Accumulator) MonthToDate(ctx context.Context, companyID CompanyID, workerID WorkerID, month generic.MonthKey, pending []Candidate) (decimal.Decimal, error) {
	persisted, err := a.Persisted.PersistedMonthTotal(ctx, companyID, workerID, month)
	if err != nil {
		return decimal.Zero, fmt.Errorf("month-to-date total for worker %d in %s: %w", workerID, month, err)
	}
	return persisted.Add(PendingMonthTotal(pending, workerID, month)), nil
}

// PendingMonthTotal sums customer totals of pending candidates for the worker
// in month.
func PendingMonthTotal(pending []Candidate, workerID WorkerID, month generic.MonthKey) decimal.Decimal {
	total := decimal.Zero
	for _, c := range pending {
		if c.WorkerID == workerID && c.MonthKey() == month {
			total = total.Add(c.CustomerTotal)
		}
	}
	return total
}
