package payroll_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rate-engine/payroll"
)

func storedRates() payroll.Entry {
	return payroll.Entry{
		ID: 1, CompanyID: company,
		Candidate: payroll.Candidate{CustomerRate: d("68"), WageRate: d("27.2")},
	}
}

func TestRateGate_WithoutCapability(t *testing.T) {
	store := newTestStore(t)
	gate := payroll.NewRateEditGate(store)
	caller := payroll.Caller{UserID: clerk}
	ctx := context.Background()

	t.Run("changed rate is forbidden", func(t *testing.T) {
		_, err := gate.CanSubmitRates(ctx, caller, payroll.RateChange{WageRate: ptr("30")}, storedRates())
		require.Error(t, err)

		var forbidden *payroll.ForbiddenError
		require.ErrorAs(t, err, &forbidden)
		assert.Equal(t, payroll.ForbidRateEdit, forbidden.Reason)
		assert.Equal(t, payroll.PermEditRates, forbidden.Permission)
	})

	t.Run("unchanged rates pass through", func(t *testing.T) {
		canEdit, err := gate.CanSubmitRates(ctx, caller,
			payroll.RateChange{CustomerRate: ptr("68.00"), WageRate: ptr("27.2")}, storedRates())
		require.NoError(t, err)
		assert.False(t, canEdit)
	})

	t.Run("nothing submitted", func(t *testing.T) {
		canEdit, err := gate.CanSubmitRates(ctx, caller, payroll.RateChange{}, storedRates())
		require.NoError(t, err)
		assert.False(t, canEdit)
	})
}

func TestRateGate_WithCapability(t *testing.T) {
	store := newTestStore(t)
	gate := payroll.NewRateEditGate(store)
	ctx := context.Background()

	canEdit, err := gate.CanSubmitRates(ctx, payroll.Caller{UserID: supervisor},
		payroll.RateChange{CustomerRate: ptr("80"), WageRate: ptr("30")}, storedRates())
	require.NoError(t, err)
	assert.True(t, canEdit)

	_, err = gate.CanSubmitRates(ctx, payroll.Caller{UserID: supervisor},
		payroll.RateChange{WageRate: ptr("0")}, storedRates())
	assert.ErrorIs(t, err, payroll.ErrInvalidInput)
}

func TestRateGate_AdminHasCapability(t *testing.T) {
	store := newTestStore(t)
	gate := payroll.NewRateEditGate(store)

	canEdit, err := gate.CanSubmitRates(context.Background(), payroll.Caller{UserID: viewer, IsAdmin: true},
		payroll.RateChange{WageRate: ptr("99")}, storedRates())
	require.NoError(t, err)
	assert.True(t, canEdit)
}
