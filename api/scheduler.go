/*
scheduler.go - Pending set expiry

PURPOSE:
  Pending sets live in memory between the prepare/batch calls and the
  confirm call. A caller who walks away leaves a set behind; the janitor
  drops sets nobody has touched for TTL.

DESIGN:
  - Background goroutine on a ticker (CheckInterval, default 5 minutes)
  - A set is "touched" by every prepare, batch, resolve, list or confirm
  - Sets currently in use by a request are skipped until the next tick

USAGE:
  janitor := NewPendingJanitor(pending, logger)
  janitor.Start()
  // ... later
  janitor.Stop()

SEE ALSO:
  - pending.go: PendingStore
*/
package api

import (
	"log/slog"
	"sync"
	"time"

	"github.com/warp/rate-engine/generic"
)

// PendingJanitor expires abandoned pending sets.
type PendingJanitor struct {
	Pending       *PendingStore
	TTL           time.Duration
	CheckInterval time.Duration
	Enabled       bool

	clock  generic.Clock
	logger *slog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPendingJanitor creates a janitor with a 12 hour TTL.
func NewPendingJanitor(pending *PendingStore, logger *slog.Logger) *PendingJanitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PendingJanitor{
		Pending:       pending,
		TTL:           12 * time.Hour,
		CheckInterval: 5 * time.Minute,
		Enabled:       true,
		clock:         pending.clock,
		logger:        logger.With("component", "pending_janitor"),
	}
}

// Start begins the janitor loop.
func (j *PendingJanitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.Enabled {
		j.logger.Info("disabled, not starting")
		return
	}
	if j.ticker != nil {
		return
	}

	j.ticker = time.NewTicker(j.CheckInterval)
	j.stop = make(chan struct{})
	j.wg.Add(1)
	go j.run()

	j.logger.Info("started", "interval", j.CheckInterval, "ttl", j.TTL)
}

// Stop stops the loop and waits for it to exit.
func (j *PendingJanitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.ticker == nil {
		return
	}
	j.ticker.Stop()
	close(j.stop)
	j.wg.Wait()
	j.ticker = nil
	j.logger.Info("stopped")
}

func (j *PendingJanitor) run() {
	defer j.wg.Done()

	for {
		select {
		case <-j.ticker.C:
			j.RunNow()
		case <-j.stop:
			return
		}
	}
}

// RunNow expires stale sets immediately and returns how many were dropped.
func (j *PendingJanitor) RunNow() int {
	removed := j.Pending.Expire(j.clock().Add(-j.TTL))
	if removed > 0 {
		j.logger.Info("expired pending sets", "removed", removed, "remaining", j.Pending.Len())
	}
	return removed
}
