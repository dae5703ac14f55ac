/*
errors.go - Shared error sentinels for the engine and its storage adapters

PURPOSE:
  Storage adapters (memory, sqlite, postgres) translate driver errors into
  these sentinels so the payroll package can classify failures without
  knowing which database is behind the interface.

ERROR CATEGORIES:
  1. Lookup errors - a referenced row does not exist
  2. Constraint errors - a uniqueness rule was violated
  3. Input errors - malformed dates and periods

USAGE:
  if errors.Is(err, generic.ErrEntityNotFound) {
      return &payroll.NotFoundError{Kind: "job", Key: code}
  }

SEE ALSO:
  - payroll/errors.go: Domain errors built on top of these
  - store/sqlite/sqlite.go, store/postgres: Translate driver errors
*/
package generic

import "errors"

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrEntityNotFound is returned when a referenced row does not exist.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when a uniqueness constraint rejects a write.
	ErrDuplicate = errors.New("duplicate value")

	// ErrInvalidDate is returned for dates or months in the wrong format.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidNumber is returned when a text value is not a decimal number.
	ErrInvalidNumber = errors.New("invalid number")
)

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}

// IsInputError returns true if the error is due to malformed client input.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidNumber)
}
