/*
window.go - Edit-Window Guard

PURPOSE:
  Decides whether a caller may still modify or delete a stored entry, based
  on a rolling window of days counted back from today.

LIMIT RESOLUTION:
  1. Admins are unlimited
  2. Per-user override, if set
  3. Role limit, if set
  4. Otherwise unlimited

  A limit <= 0 is unlimited too. With limit N an entry is editable iff
  work_date >= today - N days; the cutoff day itself is inside the window.

TIME:
  "today" is read from the injected Clock at call time, never cached.
*/
package payroll

import (
	"context"
	"fmt"

	"github.com/warp/rate-engine/generic"
)

// EditWindowGuard evaluates edit windows against the access-control store.
type EditWindowGuard struct {
	Limits AccessControl
	Clock  generic.Clock
}

// NewEditWindowGuard creates a guard. A nil clock uses the system time.
func NewEditWindowGuard(limits AccessControl, clock generic.Clock) *EditWindowGuard {
	if clock == nil {
		clock = generic.SystemClock
	}
	return &EditWindowGuard{Limits: limits, Clock: clock}
}

// DaysLimit returns the effective limit in days, or nil when unlimited.
func (g *EditWindowGuard) DaysLimit(ctx context.Context, caller Caller) (*int, error) {
	if caller.IsAdmin {
		return nil, nil
	}
	limit, err := g.Limits.EditLimit(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("edit limit for user %d: %w", caller.UserID, err)
	}

	days := limit.Role
	if limit.Override != nil {
		days = limit.Override
	}
	if days == nil || *days <= 0 {
		return nil, nil
	}
	n := *days
	return &n, nil
}

// Cutoff returns the earliest editable work date. ok is false when the
// caller is unlimited.
func (g *EditWindowGuard) Cutoff(ctx context.Context, caller Caller) (cutoff generic.Date, ok bool, err error) {
	days, err := g.DaysLimit(ctx, caller)
	if err != nil || days == nil {
		return generic.Date{}, false, err
	}
	return g.Clock.Today().AddDays(-*days), true, nil
}

// IsEditable reports whether caller may modify or delete e.
func (g *EditWindowGuard) IsEditable(ctx context.Context, e Entry, caller Caller) (bool, error) {
	cutoff, limited, err := g.Cutoff(ctx, caller)
	if err != nil {
		return false, err
	}
	if !limited {
		return true, nil
	}
	workDate, err := e.Date()
	if err != nil {
		return false, fmt.Errorf("entry %d: %w", e.ID, err)
	}
	return workDate.AfterOrEqual(cutoff), nil
}

// Check is IsEditable returning a ForbiddenError when outside the window.
func (g *EditWindowGuard) Check(ctx context.Context, e Entry, caller Caller) error {
	ok, err := g.IsEditable(ctx, e, caller)
	if err != nil {
		return err
	}
	if !ok {
		return &ForbiddenError{
			Reason:  ForbidEditWindow,
			Message: "You cannot edit this record (out of allowed date range).",
		}
	}
	return nil
}
