package generic

import "fmt"

// =============================================================================
// PERIOD - Inclusive day range used by month totals and reports
// =============================================================================

// Period is the inclusive day range [Start, End].
type Period struct {
	Start Date
	End   Date
}

// NewPeriod validates that end is not before start.
func NewPeriod(start, end Date) (Period, error) {
	if end.Before(start) {
		return Period{}, fmt.Errorf("%w: %s > %s", ErrInvalidPeriod, start, end)
	}
	return Period{Start: start, End: end}, nil
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// EndExclusive is the first day after the period, convenient for SQL
// half-open ranges.
func (p Period) EndExclusive() Date {
	return p.End.AddDays(1)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
