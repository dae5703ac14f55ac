/*
errors.go - Error taxonomy of the rate engine

ERROR CATEGORIES:
  1. MissingRequiredField - client-correctable, reported per field (Violation)
  2. MissingCustomerRate / MissingWageTier / MissingWageRate - resolution
     blocking, carried by ResolutionError with the missing input
  3. Forbidden - rate edit or edit window, ForbiddenError says which
  4. NotFound - a job or worker code does not resolve

PROPAGATION:
  Single-entry operations return the first blocking error and write nothing.
  The batch reconciler turns every row failure into a rejection; only
  infrastructure errors escape it.

SEE ALSO:
  - generic/errors.go: storage-level sentinels
  - api/handlers.go: HTTP status mapping
*/
package payroll

import (
	"errors"
	"fmt"

	"github.com/warp/rate-engine/generic"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrMissingRequiredField = errors.New("missing required field")
	ErrMissingCustomerRate  = errors.New("missing customer rate")
	ErrMissingWageTier      = errors.New("worker has no wage tier")
	ErrMissingWageRate      = errors.New("missing wage rate")
	ErrForbidden            = errors.New("forbidden")
	ErrNotFound             = errors.New("not found")

	// ErrDuplicateJobNo is returned when job_no1 already exists for the company.
	ErrDuplicateJobNo = errors.New("job no1 already exists for this company")

	// ErrInvalidInput covers malformed values that are not a missing field,
	// e.g. negative fees or a non-positive override submitted by a rate editor.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Violation is one failed validator check.
type Violation struct {
	Field   string
	Message string
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

func (v Violation) Unwrap() error {
	return ErrMissingRequiredField
}

// ResolutionError names the input that blocked rate resolution.
type ResolutionError struct {
	Kind     error // one of the ErrMissing* sentinels
	JobCode  string
	WorkerID WorkerID
	TierID   *WageTierID
}

func (e *ResolutionError) Error() string {
	switch {
	case errors.Is(e.Kind, ErrMissingCustomerRate):
		return fmt.Sprintf("no valid customer price for job %q (normal price missing and no custom rate)", e.JobCode)
	case errors.Is(e.Kind, ErrMissingWageTier):
		return fmt.Sprintf("worker %d has no wage tier assigned", e.WorkerID)
	case errors.Is(e.Kind, ErrMissingWageRate):
		if e.TierID != nil {
			return fmt.Sprintf("job %q has no positive wage rate for tier %d", e.JobCode, *e.TierID)
		}
		return fmt.Sprintf("job %q has no positive wage rate", e.JobCode)
	}
	return e.Kind.Error()
}

func (e *ResolutionError) Unwrap() error {
	return e.Kind
}

// ForbidReason tells the caller why a mutation was refused.
type ForbidReason string

const (
	ForbidRateEdit          ForbidReason = "rate_edit"
	ForbidEditWindow        ForbidReason = "edit_window"
	ForbidMissingPermission ForbidReason = "missing_permission"
)

// ForbiddenError is a permission gate or edit window failure.
type ForbiddenError struct {
	Reason     ForbidReason
	Permission string
	Message    string
}

func (e *ForbiddenError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	switch e.Reason {
	case ForbidRateEdit:
		return "no permission to edit rates"
	case ForbidEditWindow:
		return "record is outside the allowed date range"
	case ForbidMissingPermission:
		return fmt.Sprintf("missing permission %s", e.Permission)
	}
	return "forbidden"
}

func (e *ForbiddenError) Unwrap() error {
	return ErrForbidden
}

// NotFoundError reports a code or id that does not resolve.
type NotFoundError struct {
	Kind string // "job", "worker", "entry"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %q", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsResolutionError returns true for the three resolution-blocking kinds.
func IsResolutionError(err error) bool {
	return errors.Is(err, ErrMissingCustomerRate) ||
		errors.Is(err, ErrMissingWageTier) ||
		errors.Is(err, ErrMissingWageRate)
}

// IsClientError returns true if the error is due to correctable client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMissingRequiredField) ||
		errors.Is(err, ErrInvalidInput) ||
		IsResolutionError(err) ||
		generic.IsInputError(err)
}

// IsForbidden returns true for permission and edit window failures.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsNotFound returns true for unresolved codes and missing rows.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || generic.IsNotFound(err)
}
