package payroll_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rate-engine/payroll"
	"github.com/warp/rate-engine/store/memory"
)

func newTestReconciler(store *memory.Memory) *payroll.Reconciler {
	return &payroll.Reconciler{
		Directory:   store,
		Rules:       store,
		Accumulator: payroll.NewAccumulator(store),
		Resolver:    payroll.NewResolver(),
	}
}

func row(date, jobNo1, worker, job, hours string) payroll.BatchRow {
	return payroll.BatchRow{WorkDate: date, JobNo1: jobNo1, WorkerCode: worker, Job: job, Hours: hours}
}

// =============================================================================
// PARTITION
// =============================================================================

func TestReconcile_OneBadRowDoesNotBlockTheBatch(t *testing.T) {
	// GIVEN: Four rows, the third with an unknown worker
	// WHEN: Reconciling
	// THEN: Three accepted, one rejected; accepted slots keep only their date

	store := newTestStore(t)
	rows := []payroll.BatchRow{
		row("2024-03-01", "J1", "w01", "F60", "1"),
		row("2024-03-01", "J2", "W01", "foot massage 60", "2"),
		row("2024-03-01", "J3", "NOBODY", "F60", "1"),
		row("2024-03-02", "J4", "7", "F60", "1.5"),
	}
	pending := &payroll.PendingSet{}

	result, err := newTestReconciler(store).Reconcile(context.Background(), company, rows, pending)
	require.NoError(t, err)

	require.Len(t, result.Accepted, 3)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, []int{2}, result.RejectedIndexes())
	assert.Equal(t, `Worker not found: "NOBODY"`, result.Rejected[0].Reason)
	assert.True(t, payroll.IsNotFound(result.Rejected[0].Err))

	assert.Equal(t, 3, pending.Len())
	assert.Equal(t, result.Accepted[0].PendingKey, pending.Entries[0].Key)

	remaining := result.Remaining(rows)
	require.Len(t, remaining, 4)
	assert.Equal(t, payroll.BatchRow{WorkDate: "2024-03-01"}, remaining[0])
	assert.Equal(t, payroll.BatchRow{WorkDate: "2024-03-01"}, remaining[1])
	assert.Equal(t, rows[2], remaining[2])
	assert.Equal(t, payroll.BatchRow{WorkDate: "2024-03-02"}, remaining[3])

	// Job matched by type label, worker by case-insensitive code
	second := result.Accepted[1].Entry
	assert.Equal(t, "F60", second.JobCode)
	assert.Equal(t, "W01", second.WorkerCode)
	assertDecimal(t, "136", second.CustomerTotal)
	assertDecimal(t, "54.4", second.WageTotal)
}

func TestReconcile_EmptyRowsAreSkipped(t *testing.T) {
	store := newTestStore(t)
	rows := []payroll.BatchRow{
		{WorkDate: "2024-03-01"},
		row("2024-03-01", "J1", "W01", "F60", "1"),
		{WorkDate: "2024-03-01", Note: "   "},
	}

	result, err := newTestReconciler(store).Reconcile(context.Background(), company, rows, nil)
	require.NoError(t, err)
	assert.Len(t, result.Accepted, 1)
	assert.Empty(t, result.Rejected)
	assert.Equal(t, []int{0, 2}, result.Skipped)
}

func TestReconcile_RejectionReasons(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name   string
		row    payroll.BatchRow
		reason string
	}{
		{"bad date", row("01/03/2024", "J1", "W01", "F60", "1"), "Invalid Date (must be YYYY-MM-DD)"},
		{"missing job no1", row("2024-03-01", "", "W01", "F60", "1"), "Missing Job No1"},
		{"missing worker", row("2024-03-01", "J1", "", "F60", "1"), "Missing Worker Code"},
		{"missing job", row("2024-03-01", "J1", "W01", "", "1"), "Missing Job Type"},
		{"zero hours", row("2024-03-01", "J1", "W01", "F60", "0"), "Invalid Hours (must be > 0)"},
		{"text hours", row("2024-03-01", "J1", "W01", "F60", "two"), "Invalid Hours (must be > 0)"},
		{"unknown job", row("2024-03-01", "J1", "W01", "ZZZ", "1"), `Job not found: "ZZZ"`},
		{"no list price", row("2024-03-01", "J1", "W01", "B90", "1"), "Missing customer price (no normal_price and no custom)"},
		{"no tier", row("2024-03-01", "J1", "W02", "F60", "1"), "Worker has no wage tier assigned"},
		{"no tier wage", row("2024-03-01", "J1", "W01", "H30", "1"), "Missing wage (no base wage for the worker's tier)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := newTestReconciler(store).Reconcile(context.Background(), company, []payroll.BatchRow{tt.row}, nil)
			require.NoError(t, err)
			require.Len(t, result.Rejected, 1)
			assert.Equal(t, tt.reason, result.Rejected[0].Reason)
			assert.Empty(t, result.Accepted)
		})
	}
}

func TestReconcile_CustomRatesCells(t *testing.T) {
	store := newTestStore(t)
	r := row("2024-03-01", "J1", "W01", "B90", "2")
	r.CustomerRate = "90"
	r.WageRate = "35"
	r.FeesCollected = "100"
	r.Bank = "Y"

	result, err := newTestReconciler(store).Reconcile(context.Background(), company, []payroll.BatchRow{r}, nil)
	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)

	c := result.Accepted[0].Entry
	assertDecimal(t, "180", c.CustomerTotal)
	assertDecimal(t, "70", c.WageTotal)
	assertDecimal(t, "100", c.Fees())
	assert.True(t, c.IsBank)
}

func TestReconcile_NegativeFeesRejected(t *testing.T) {
	store := newTestStore(t)
	r := row("2024-03-01", "J1", "W01", "F60", "1")
	r.FeesCollected = "-1"

	result, err := newTestReconciler(store).Reconcile(context.Background(), company, []payroll.BatchRow{r}, nil)
	require.NoError(t, err)
	require.Len(t, result.Rejected, 1)
	assert.ErrorIs(t, result.Rejected[0].Err, payroll.ErrInvalidInput)
}

// =============================================================================
// MONTH-TO-DATE ACROSS ROWS
// =============================================================================

func TestReconcile_LaterRowsSeeEarlierAcceptedRows(t *testing.T) {
	// GIVEN: 19800 persisted for W01 in March, threshold rule on
	// WHEN: Two rows of 2 units at 68 are reconciled in one pass
	// THEN: First row stays on base wage (19936), second crosses (20072)

	store := newTestStore(t)
	enableThreshold(t, store)
	storedEntry(store, workerW01, "2024-03-01", "OLD", "19800")

	rows := []payroll.BatchRow{
		row("2024-03-02", "J1", "W01", "F60", "2"),
		row("2024-03-03", "J2", "W01", "F60", "2"),
	}
	result, err := newTestReconciler(store).Reconcile(context.Background(), company, rows, nil)
	require.NoError(t, err)
	require.Len(t, result.Accepted, 2)

	assertDecimal(t, "27.2", result.Accepted[0].Entry.WageRate)
	assertDecimal(t, "34", result.Accepted[1].Entry.WageRate)
}

func TestReconcile_OtherMonthDoesNotCount(t *testing.T) {
	store := newTestStore(t)
	enableThreshold(t, store)
	storedEntry(store, workerW01, "2024-02-28", "OLD", "19900")

	result, err := newTestReconciler(store).Reconcile(context.Background(), company,
		[]payroll.BatchRow{row("2024-03-01", "J1", "W01", "F60", "2")}, nil)
	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)
	assertDecimal(t, "27.2", result.Accepted[0].Entry.WageRate)
}

// =============================================================================
// INFRASTRUCTURE FAILURES
// =============================================================================

type failingRules struct{ payroll.RuleRegistry }

func (failingRules) EnabledRules(context.Context, payroll.CompanyID) (payroll.RuleSet, error) {
	return nil, errors.New("connection refused")
}

func TestReconcile_InfrastructureErrorFailsTheCall(t *testing.T) {
	store := newTestStore(t)
	rec := newTestReconciler(store)
	rec.Rules = failingRules{}

	_, err := rec.Reconcile(context.Background(), company, []payroll.BatchRow{row("2024-03-01", "J1", "W01", "F60", "1")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
