package generic

import (
	"fmt"
	"regexp"
	"time"
)

// =============================================================================
// DATE - Calendar day (work entries are always day-granular)
// =============================================================================

// DateLayout is the only accepted wire format for work dates.
const DateLayout = "2006-01-02"

var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Date is a calendar day normalized to midnight UTC.
type Date struct {
	Time time.Time
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate accepts exactly YYYY-MM-DD. Loose forms such as "2024-3-1" or
// RFC3339 timestamps are rejected.
func ParseDate(s string) (Date, error) {
	if !isoDatePattern.MatchString(s) {
		return Date{}, fmt.Errorf("%w: %q is not YYYY-MM-DD", ErrInvalidDate, s)
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %v", ErrInvalidDate, err)
	}
	return Date{Time: t}, nil
}

// IsISODate reports whether s is a well-formed YYYY-MM-DD calendar day.
func IsISODate(s string) bool {
	_, err := ParseDate(s)
	return err == nil
}

// Comparison
func (d Date) Before(other Date) bool        { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool         { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool         { return d.Time.Equal(other.Time) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Arithmetic
func (d Date) AddDays(n int) Date   { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{Time: d.Time.AddDate(0, n, 0)} }

// Properties
func (d Date) Year() int         { return d.Time.Year() }
func (d Date) Month() time.Month { return d.Time.Month() }
func (d Date) Day() int          { return d.Time.Day() }
func (d Date) IsZero() bool      { return d.Time.IsZero() }
func (d Date) String() string    { return d.Time.Format(DateLayout) }

// MonthKey returns the YYYY-MM bucket this day belongs to.
func (d Date) MonthKey() MonthKey {
	return MonthKey(d.Time.Format("2006-01"))
}

// =============================================================================
// CLOCK - Injected "today" so window checks are evaluated at call time
// =============================================================================

// Clock returns the current instant. Production code uses time.Now; tests pin it.
type Clock func() time.Time

// SystemClock is the wall clock.
func SystemClock() time.Time { return time.Now() }

// FixedClock always returns the given day.
func FixedClock(d Date) Clock {
	return func() time.Time { return d.Time }
}

// Today returns the clock's current calendar day.
func (c Clock) Today() Date {
	if c == nil {
		return DateOf(time.Now())
	}
	return DateOf(c())
}

// =============================================================================
// MONTH KEY - First 7 characters of an ISO date
// =============================================================================

// MonthKey identifies a calendar month as YYYY-MM.
type MonthKey string

var monthKeyPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// ParseMonthKey validates a YYYY-MM string.
func ParseMonthKey(s string) (MonthKey, error) {
	if !monthKeyPattern.MatchString(s) {
		return "", fmt.Errorf("%w: month %q is not YYYY-MM", ErrInvalidDate, s)
	}
	if _, err := time.Parse("2006-01", s); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDate, err)
	}
	return MonthKey(s), nil
}

// MonthKeyOf returns the month key of a raw ISO date string: its first seven
// characters. Strings shorter than that yield an empty key.
func MonthKeyOf(isoDate string) MonthKey {
	if len(isoDate) < 7 {
		return ""
	}
	return MonthKey(isoDate[:7])
}

// Period returns the calendar days of the month, or an error if the key is
// malformed.
func (k MonthKey) Period() (Period, error) {
	if _, err := ParseMonthKey(string(k)); err != nil {
		return Period{}, err
	}
	start, _ := time.Parse("2006-01", string(k))
	first := Date{Time: start}
	return Period{Start: first, End: first.AddMonths(1).AddDays(-1)}, nil
}

func (k MonthKey) String() string { return string(k) }
