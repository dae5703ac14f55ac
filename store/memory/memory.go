// Package memory provides an in-memory payroll.Store for tests and demos.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/generic"
	"github.com/warp/rate-engine/payroll"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	jobs    map[payroll.JobID]payroll.Job
	workers map[payroll.WorkerID]payroll.Worker

	catalog []payroll.Rule
	enabled map[payroll.CompanyID][]payroll.RuleCode

	limits      map[payroll.UserID]payroll.EditLimit
	permissions map[payroll.UserID]map[string]bool

	entries map[payroll.EntryID]payroll.Entry
	nextID  payroll.EntryID
}

var _ payroll.Store = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		jobs:        make(map[payroll.JobID]payroll.Job),
		workers:     make(map[payroll.WorkerID]payroll.Worker),
		enabled:     make(map[payroll.CompanyID][]payroll.RuleCode),
		limits:      make(map[payroll.UserID]payroll.EditLimit),
		permissions: make(map[payroll.UserID]map[string]bool),
		entries:     make(map[payroll.EntryID]payroll.Entry),
	}
}

// =============================================================================
// SEEDING
// =============================================================================

func (m *Memory) PutJob(j payroll.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
}

func (m *Memory) PutWorker(w payroll.Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[w.ID] = w
}

func (m *Memory) PutRule(r payroll.Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog = append(m.catalog, r)
}

func (m *Memory) SetEditLimit(user payroll.UserID, limit payroll.EditLimit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[user] = limit
}

// Grant gives user the permission codes.
func (m *Memory) Grant(user payroll.UserID, codes ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.permissions[user] == nil {
		m.permissions[user] = make(map[string]bool)
	}
	for _, c := range codes {
		m.permissions[user][c] = true
	}
}

// PutEntry stores e as-is, assigning an id when e.ID is zero.
func (m *Memory) PutEntry(e payroll.Entry) payroll.EntryID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == 0 {
		m.nextID++
		e.ID = m.nextID
	} else if e.ID > m.nextID {
		m.nextID = e.ID
	}
	m.entries[e.ID] = e
	return e.ID
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) JobByCode(_ context.Context, companyID payroll.CompanyID, code string) (payroll.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobByCodeLocked(companyID, code)
}

func (m *Memory) jobByCodeLocked(companyID payroll.CompanyID, code string) (payroll.Job, error) {
	code = strings.TrimSpace(code)
	for _, j := range m.jobs {
		if j.CompanyID == companyID && j.Code == code {
			return j, nil
		}
	}
	return payroll.Job{}, fmt.Errorf("job %q: %w", code, generic.ErrEntityNotFound)
}

func (m *Memory) FindJob(_ context.Context, companyID payroll.CompanyID, codeOrType string) (payroll.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.TrimSpace(codeOrType)
	jobs := m.sortedJobs(companyID)
	for _, j := range jobs {
		if strings.EqualFold(j.Code, needle) {
			return j, nil
		}
	}
	for _, j := range jobs {
		if strings.EqualFold(j.Type, needle) {
			return j, nil
		}
	}
	return payroll.Job{}, fmt.Errorf("job %q: %w", needle, generic.ErrEntityNotFound)
}

func (m *Memory) sortedJobs(companyID payroll.CompanyID) []payroll.Job {
	var out []payroll.Job
	for _, j := range m.jobs {
		if j.CompanyID == companyID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

func (m *Memory) WorkerByID(_ context.Context, companyID payroll.CompanyID, id payroll.WorkerID) (payroll.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[id]
	if !ok || w.CompanyID != companyID {
		return payroll.Worker{}, fmt.Errorf("worker %d: %w", id, generic.ErrEntityNotFound)
	}
	return w, nil
}

func (m *Memory) WorkerByCode(_ context.Context, companyID payroll.CompanyID, code string) (payroll.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code = strings.TrimSpace(code)
	var (
		found payroll.Worker
		ok    bool
	)
	// Codes may collide case-insensitively; the lowest id wins.
	for _, w := range m.workers {
		if w.CompanyID == companyID && strings.EqualFold(w.Code, code) && (!ok || w.ID < found.ID) {
			found, ok = w, true
		}
	}
	if !ok {
		return payroll.Worker{}, fmt.Errorf("worker %q: %w", code, generic.ErrEntityNotFound)
	}
	return found, nil
}

// =============================================================================
// RULES
// =============================================================================

func (m *Memory) Catalog(_ context.Context) ([]payroll.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]payroll.Rule(nil), m.catalog...), nil
}

func (m *Memory) EnabledRules(_ context.Context, companyID payroll.CompanyID) (payroll.RuleSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return payroll.NewRuleSet(m.enabled[companyID]...), nil
}

func (m *Memory) SetEnabledRules(_ context.Context, companyID payroll.CompanyID, codes []payroll.RuleCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled[companyID] = payroll.EnsureBaseRule(codes)
	return nil
}

// =============================================================================
// MONTH TOTALS & ACCESS
// =============================================================================

func (m *Memory) PersistedMonthTotal(_ context.Context, companyID payroll.CompanyID, workerID payroll.WorkerID, month generic.MonthKey) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, e := range m.entries {
		if e.CompanyID == companyID && e.WorkerID == workerID && e.MonthKey() == month {
			total = total.Add(e.CustomerTotal)
		}
	}
	return total, nil
}

func (m *Memory) EditLimit(_ context.Context, userID payroll.UserID) (payroll.EditLimit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits[userID], nil
}

func (m *Memory) HasPermission(_ context.Context, userID payroll.UserID, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.permissions[userID][code], nil
}

// =============================================================================
// ENTRIES
// =============================================================================

func (m *Memory) GetEntry(_ context.Context, companyID payroll.CompanyID, id payroll.EntryID) (payroll.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok || e.CompanyID != companyID {
		return payroll.Entry{}, fmt.Errorf("entry %d: %w", id, generic.ErrEntityNotFound)
	}
	return e, nil
}

func (m *Memory) UpdateEntry(_ context.Context, e payroll.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.entries[e.ID]
	if !ok || old.CompanyID != e.CompanyID {
		return fmt.Errorf("entry %d: %w", e.ID, generic.ErrEntityNotFound)
	}
	if m.jobNoTakenLocked(e.CompanyID, e.JobNo1, e.ID) {
		return fmt.Errorf("job_no1 %q: %w", e.JobNo1, generic.ErrDuplicate)
	}
	m.entries[e.ID] = e
	return nil
}

func (m *Memory) DeleteEntry(_ context.Context, companyID payroll.CompanyID, id payroll.EntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.CompanyID != companyID {
		return fmt.Errorf("entry %d: %w", id, generic.ErrEntityNotFound)
	}
	delete(m.entries, id)
	return nil
}

func (m *Memory) ListEntries(_ context.Context, companyID payroll.CompanyID, filter payroll.EntryFilter) ([]payroll.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []payroll.Entry
	for _, e := range m.entries {
		if e.CompanyID != companyID {
			continue
		}
		if !filter.From.IsZero() && e.WorkDate < filter.From.String() {
			continue
		}
		if !filter.To.IsZero() && e.WorkDate > filter.To.String() {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].WorkDate != out[k].WorkDate {
			return out[i].WorkDate > out[k].WorkDate
		}
		return out[i].ID > out[k].ID
	})
	return out, nil
}

func (m *Memory) jobNoTakenLocked(companyID payroll.CompanyID, jobNo1 string, except payroll.EntryID) bool {
	for _, e := range m.entries {
		if e.CompanyID == companyID && e.ID != except && e.JobNo1 == jobNo1 {
			return true
		}
	}
	return false
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn under the write lock. Inserts made by fn are discarded if it
// returns an error.
func (m *Memory) WithTx(_ context.Context, fn func(payroll.EntryTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	startID := m.nextID
	view := &txView{parent: m}
	if err := fn(view); err != nil {
		for _, id := range view.inserted {
			delete(m.entries, id)
		}
		m.nextID = startID
		return err
	}
	return nil
}

// txView is the store as seen inside WithTx. The parent lock is already held.
type txView struct {
	parent   *Memory
	inserted []payroll.EntryID
}

func (v *txView) JobByCode(_ context.Context, companyID payroll.CompanyID, code string) (payroll.Job, error) {
	return v.parent.jobByCodeLocked(companyID, code)
}

func (v *txView) InsertEntry(_ context.Context, e payroll.Entry) (payroll.EntryID, error) {
	m := v.parent
	if m.jobNoTakenLocked(e.CompanyID, e.JobNo1, 0) {
		return 0, fmt.Errorf("job_no1 %q: %w", e.JobNo1, generic.ErrDuplicate)
	}
	m.nextID++
	e.ID = m.nextID
	m.entries[e.ID] = e
	v.inserted = append(v.inserted, e.ID)
	return e.ID, nil
}
