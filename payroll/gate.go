package payroll

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// RateChange carries the rates a caller submitted on edit. nil means the
// rate was not submitted.
type RateChange struct {
	CustomerRate *decimal.Decimal
	WageRate     *decimal.Decimal
}

// Submitted reports whether either rate was sent.
func (c RateChange) Submitted() bool {
	return c.CustomerRate != nil || c.WageRate != nil
}

// differs reports whether a submitted rate changes the stored one.
func (c RateChange) differs(existing Entry) bool {
	if c.CustomerRate != nil && !c.CustomerRate.Equal(existing.CustomerRate) {
		return true
	}
	if c.WageRate != nil && !c.WageRate.Equal(existing.WageRate) {
		return true
	}
	return false
}

// RateEditGate guards custom rate submission on edit.
type RateEditGate struct {
	Permissions AccessControl
}

// NewRateEditGate creates a gate over the permission store.
func NewRateEditGate(permissions AccessControl) *RateEditGate {
	return &RateEditGate{Permissions: permissions}
}

// HasCapability reports whether caller holds WORK_ENTRY_EDIT_RATES.
// Admins hold every capability.
func (g *RateEditGate) HasCapability(ctx context.Context, caller Caller) (bool, error) {
	if caller.IsAdmin {
		return true, nil
	}
	ok, err := g.Permissions.HasPermission(ctx, caller.UserID, PermEditRates)
	if err != nil {
		return false, fmt.Errorf("check %s for user %d: %w", PermEditRates, caller.UserID, err)
	}
	return ok, nil
}

// CanSubmitRates returns the caller's capability. Without it, any submitted
// rate that differs from the stored one is a ForbiddenError. With it, every
// submitted rate must be > 0.
func (g *RateEditGate) CanSubmitRates(ctx context.Context, caller Caller, change RateChange, existing Entry) (bool, error) {
	canEdit, err := g.HasCapability(ctx, caller)
	if err != nil {
		return false, err
	}

	if !canEdit {
		if change.differs(existing) {
			return false, &ForbiddenError{
				Reason:     ForbidRateEdit,
				Permission: PermEditRates,
				Message:    "No permission to edit rates.",
			}
		}
		return false, nil
	}

	if change.CustomerRate != nil && !change.CustomerRate.IsPositive() {
		return true, fmt.Errorf("%w: customer_rate must be > 0", ErrInvalidInput)
	}
	if change.WageRate != nil && !change.WageRate.IsPositive() {
		return true, fmt.Errorf("%w: wage_rate must be > 0", ErrInvalidInput)
	}
	return true, nil
}
