/*
Package generic provides the domain-agnostic building blocks of the rate engine.

PURPOSE:
  Calendar days, month buckets, periods and decimal helpers shared by the
  payroll package, the storage adapters and the HTTP layer. Nothing in here
  knows about jobs, workers or rules.

KEY CONCEPTS IN THIS FILE (types.go):
  - Decimal parsing: grid cells and JSON payloads arrive as text
  - Positivity checks: every rate and total in the engine must be > 0
  - Round2: presentation rounding, never applied inside the engine

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, no float64 money
  2. Exactness: totals are rate x amount with no intermediate rounding
  3. Day granularity: work happens on a calendar day, see time.go

SEE ALSO:
  - time.go: Date, MonthKey, Clock
  - period.go: inclusive day ranges
  - errors.go: shared sentinels
*/
package generic

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// ParseOptionalDecimal parses a trimmed text cell. Blank text is "absent"
// and returns a NullDecimal with Valid=false and no error.
func ParseOptionalDecimal(s string) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return decimal.NewNullDecimal(d), nil
}

// MustParseDecimal parses s or panics. For constants and tests only.
func MustParseDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Positive reports whether a nullable decimal is present and > 0.
func Positive(d decimal.NullDecimal) bool {
	return d.Valid && d.Decimal.IsPositive()
}

// PositivePtr reports whether a decimal pointer is present and > 0.
func PositivePtr(d *decimal.Decimal) bool {
	return d != nil && d.IsPositive()
}

// Round2 rounds half away from zero to two places. Presentation only.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Sum adds all values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
