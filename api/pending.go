package api

import (
	"sync"
	"time"

	"github.com/warp/rate-engine/generic"
	"github.com/warp/rate-engine/payroll"
)

// pendingKey scopes a pending set to one caller in one company.
type pendingKey struct {
	company payroll.CompanyID
	user    payroll.UserID
}

type pendingSlot struct {
	mu      sync.Mutex
	set     payroll.PendingSet
	touched time.Time
}

// PendingStore keeps each caller's not-yet-persisted entries between
// requests. Nothing here is durable; a restart drops every pending set.
type PendingStore struct {
	clock generic.Clock

	mu    sync.Mutex
	slots map[pendingKey]*pendingSlot
}

// NewPendingStore creates an empty store. A nil clock uses the system time.
func NewPendingStore(clock generic.Clock) *PendingStore {
	if clock == nil {
		clock = generic.SystemClock
	}
	return &PendingStore{clock: clock, slots: make(map[pendingKey]*pendingSlot)}
}

func (p *PendingStore) slot(company payroll.CompanyID, user payroll.UserID) *pendingSlot {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := pendingKey{company: company, user: user}
	s, ok := p.slots[k]
	if !ok {
		s = &pendingSlot{touched: p.clock()}
		p.slots[k] = s
	}
	return s
}

// With runs fn with exclusive access to the caller's pending set.
func (p *PendingStore) With(company payroll.CompanyID, user payroll.UserID, fn func(*payroll.PendingSet) error) error {
	for {
		s := p.slot(company, user)
		s.mu.Lock()
		if !p.live(company, user, s) {
			// expired between lookup and lock
			s.mu.Unlock()
			continue
		}
		s.touched = p.clock()
		err := fn(&s.set)
		s.mu.Unlock()
		return err
	}
}

func (p *PendingStore) live(company payroll.CompanyID, user payroll.UserID, s *pendingSlot) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[pendingKey{company: company, user: user}] == s
}

// Snapshot returns a copy of the caller's pending entries.
func (p *PendingStore) Snapshot(company payroll.CompanyID, user payroll.UserID) []payroll.PendingEntry {
	var out []payroll.PendingEntry
	_ = p.With(company, user, func(set *payroll.PendingSet) error {
		out = append(out, set.Entries...)
		return nil
	})
	return out
}

// Expire drops sets untouched since cutoff and returns how many went.
func (p *PendingStore) Expire(cutoff time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for k, s := range p.slots {
		if !s.mu.TryLock() {
			continue
		}
		if s.touched.Before(cutoff) {
			delete(p.slots, k)
			removed++
		}
		s.mu.Unlock()
	}
	return removed
}

// Clear drops every pending set.
func (p *PendingStore) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots = make(map[pendingKey]*pendingSlot)
}

// Len is the number of live pending sets.
func (p *PendingStore) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}
