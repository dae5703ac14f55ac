package generic_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rate-engine/generic"
)

func TestParseDate_StrictISO(t *testing.T) {
	d, err := generic.ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, generic.NewDate(2024, time.February, 29), d)

	for _, bad := range []string{"", "2024-2-29", "2024/02/29", "2024-02-30", "2024-02-29T00:00:00Z", "29-02-2024"} {
		_, err := generic.ParseDate(bad)
		assert.ErrorIs(t, err, generic.ErrInvalidDate, "input %q", bad)
	}
}

func TestDate_MonthKey(t *testing.T) {
	assert.Equal(t, generic.MonthKey("2024-03"), generic.NewDate(2024, time.March, 31).MonthKey())
	assert.Equal(t, generic.MonthKey("2024-03"), generic.MonthKeyOf("2024-03-07"))
	assert.Equal(t, generic.MonthKey(""), generic.MonthKeyOf("2024"))
}

func TestMonthKey_Period(t *testing.T) {
	p, err := generic.MonthKey("2024-02").Period()
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01", p.Start.String())
	assert.Equal(t, "2024-02-29", p.End.String())
	assert.Equal(t, "2024-03-01", p.EndExclusive().String())

	_, err = generic.MonthKey("2024-13").Period()
	assert.ErrorIs(t, err, generic.ErrInvalidDate)
}

func TestClock_Today(t *testing.T) {
	clock := generic.FixedClock(generic.NewDate(2024, time.March, 1))
	assert.Equal(t, "2024-03-01", clock.Today().String())
	assert.Equal(t, "2024-01-31", clock.Today().AddDays(-30).String())
}

func TestNewPeriod_RejectsReversedRange(t *testing.T) {
	_, err := generic.NewPeriod(generic.NewDate(2024, time.March, 2), generic.NewDate(2024, time.March, 1))
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}

func TestParseOptionalDecimal(t *testing.T) {
	d, err := generic.ParseOptionalDecimal("  ")
	require.NoError(t, err)
	assert.False(t, d.Valid)

	d, err = generic.ParseOptionalDecimal("27.20")
	require.NoError(t, err)
	assert.True(t, d.Decimal.Equal(decimal.RequireFromString("27.2")))

	_, err = generic.ParseOptionalDecimal("abc")
	assert.ErrorIs(t, err, generic.ErrInvalidNumber)
}

func TestRound2_PresentationOnly(t *testing.T) {
	assert.Equal(t, "54.4", generic.Round2(decimal.RequireFromString("54.4")).String())
	assert.Equal(t, "0.13", generic.Round2(decimal.RequireFromString("0.125")).String())
}
