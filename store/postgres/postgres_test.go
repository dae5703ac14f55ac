package postgres

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rate-engine/generic"
	"github.com/warp/rate-engine/payroll"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func entryColumns() []string {
	return []string{
		"id", "company_id", "worker_id", "worker_code", "job_id", "job_code",
		"amount", "work_date", "job_no1", "job_no2", "is_bank", "note",
		"fees_collected", "customer_rate", "customer_total",
		"wage_tier_id", "wage_rate", "wage_total", "created_at", "updated_at",
	}
}

// =============================================================================
// TRANSACTION MANAGER
// =============================================================================

func TestTransactionManager(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		mock := newMock(t)
		tm := NewTransactionManager(mock)

		mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadWrite})
		mock.ExpectCommit()

		err := tm.WithinReadWrite(context.Background(), func(ctx context.Context) error {
			_, ok := txFromContext(ctx)
			assert.True(t, ok, "transaction injected into context")
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("rollback on error", func(t *testing.T) {
		mock := newMock(t)
		tm := NewTransactionManager(mock)
		boom := errors.New("boom")

		mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadWrite})
		mock.ExpectRollback()

		err := tm.WithinReadWrite(context.Background(), func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("nested calls reuse the outer transaction", func(t *testing.T) {
		mock := newMock(t)
		tm := NewTransactionManager(mock)

		mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadWrite})
		mock.ExpectCommit()

		err := tm.WithinReadWrite(context.Background(), func(ctx context.Context) error {
			return tm.WithinReadWrite(ctx, func(context.Context) error { return nil })
		})
		require.NoError(t, err)
	})
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestFindJob_FallsBackToType(t *testing.T) {
	// GIVEN: No job with code "foot 60" but one typed "Foot 60"
	// WHEN: Finding the job
	// THEN: The type lookup wins and the wage table is loaded
	mock := newMock(t)
	store := New(mock)
	tier := payroll.WageTierID(3)

	jobCols := []string{"id", "company_id", "job_code", "job_type", "normal_price"}
	mock.ExpectQuery(`LOWER\(job_code\) = LOWER\(\$2\)`).
		WithArgs(payroll.CompanyID(1), "foot 60").
		WillReturnRows(pgxmock.NewRows(jobCols))
	mock.ExpectQuery(`LOWER\(job_type\) = LOWER\(\$2\)`).
		WithArgs(payroll.CompanyID(1), "foot 60").
		WillReturnRows(pgxmock.NewRows(jobCols).
			AddRow(payroll.JobID(7), payroll.CompanyID(1), "F60", "Foot 60", "68.0000"))
	mock.ExpectQuery(`FROM job_wages`).
		WithArgs(payroll.JobID(7)).
		WillReturnRows(pgxmock.NewRows([]string{"wage_tier_id", "wage_rate"}).
			AddRow(tier, "27.2000"))

	job, err := store.FindJob(context.Background(), 1, " foot 60 ")
	require.NoError(t, err)
	assert.Equal(t, "F60", job.Code)
	assert.True(t, job.NormalPrice.Equal(decimal.NewFromInt(68)))
	rate, ok := job.WageRateFor(tier)
	require.True(t, ok)
	assert.True(t, rate.Equal(decimal.RequireFromString("27.2")))
}

func TestWorkerByID_NotFound(t *testing.T) {
	mock := newMock(t)
	store := New(mock)

	mock.ExpectQuery(`FROM workers`).
		WithArgs(payroll.CompanyID(1), payroll.WorkerID(42)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "company_id", "worker_code", "worker_name", "nationality", "wage_tier_id"}))

	_, err := store.WorkerByID(context.Background(), 1, 42)
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
}

// =============================================================================
// ACCESS CONTROL
// =============================================================================

func TestEditLimit(t *testing.T) {
	mock := newMock(t)
	store := New(mock)
	thirty := 30

	mock.ExpectQuery(`FROM users u\s+LEFT JOIN user_settings`).
		WithArgs(payroll.UserID(5)).
		WillReturnRows(pgxmock.NewRows([]string{"override_limit", "role_limit"}).AddRow(nil, &thirty))

	limit, err := store.EditLimit(context.Background(), 5)
	require.NoError(t, err)
	assert.Nil(t, limit.Override)
	require.NotNil(t, limit.Role)
	assert.Equal(t, 30, *limit.Role)
}

func TestHasPermission(t *testing.T) {
	mock := newMock(t)
	store := New(mock)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(payroll.UserID(5), payroll.PermEditRates).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.HasPermission(context.Background(), 5, payroll.PermEditRates)
	require.NoError(t, err)
	assert.True(t, ok)
}

// =============================================================================
// MONTH TOTALS
// =============================================================================

func TestPersistedMonthTotal(t *testing.T) {
	// GIVEN: A February month key
	// WHEN: Summing the worker's persisted totals
	// THEN: The query uses the half-open [Feb 1, Mar 1) range
	mock := newMock(t)
	store := New(mock)

	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SUM\(customer_total\)`).
		WithArgs(payroll.CompanyID(1), payroll.WorkerID(2), start, end).
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow("150.5000"))

	total, err := store.PersistedMonthTotal(context.Background(), 1, 2, "2024-02")
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("150.5")))

	_, err = store.PersistedMonthTotal(context.Background(), 1, 2, "2024-13")
	assert.ErrorIs(t, err, generic.ErrInvalidDate)
}

// =============================================================================
// ENTRIES
// =============================================================================

func TestWithTx_DuplicateJobNo(t *testing.T) {
	// GIVEN: job_no1 already used in the company
	// WHEN: Inserting inside WithTx
	// THEN: The unique violation surfaces as ErrDuplicate and the tx rolls back
	mock := newMock(t)
	store := New(mock)

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadWrite})
	mock.ExpectQuery(`INSERT INTO work_entries`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: uniqueViolationCode})
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx payroll.EntryTx) error {
		_, err := tx.InsertEntry(context.Background(), payroll.Entry{
			CompanyID: 1,
			Candidate: payroll.Candidate{WorkerID: 2, JobID: 7, JobCode: "F60", Amount: decimal.NewFromInt(1), WorkDate: "2024-02-10", JobNo1: "J-1"},
		})
		return err
	})
	assert.ErrorIs(t, err, generic.ErrDuplicate)
}

func TestGetEntry(t *testing.T) {
	mock := newMock(t)
	store := New(mock)
	now := time.Now().UTC()
	tier := payroll.WageTierID(3)

	mock.ExpectQuery(`FROM work_entries e`).
		WithArgs(payroll.EntryID(9), payroll.CompanyID(1)).
		WillReturnRows(pgxmock.NewRows(entryColumns()).AddRow(
			payroll.EntryID(9), payroll.CompanyID(1), payroll.WorkerID(2), "W01", payroll.JobID(7), "F60",
			"2.0000", "2024-02-10", "J-1", "", true, "",
			"136.0000", "68.0000", "136.0000",
			&tier, "27.2000", "54.4000", now, now,
		))

	e, err := store.GetEntry(context.Background(), 1, 9)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-10", e.WorkDate)
	assert.Equal(t, "W01", e.WorkerCode)
	assert.True(t, e.IsBank)
	assert.True(t, e.WageTotal.Equal(decimal.RequireFromString("54.4")))
	require.NotNil(t, e.WageTierID)
	assert.Equal(t, tier, *e.WageTierID)
}

func TestGetEntry_KeepsFullScale(t *testing.T) {
	// GIVEN: An entry whose amount and totals carry six decimals
	// WHEN: Reading it back
	// THEN: Nothing is rounded on the way in
	mock := newMock(t)
	store := New(mock)
	now := time.Now().UTC()
	tier := payroll.WageTierID(3)

	mock.ExpectQuery(`FROM work_entries e`).
		WithArgs(payroll.EntryID(4), payroll.CompanyID(1)).
		WillReturnRows(pgxmock.NewRows(entryColumns()).AddRow(
			payroll.EntryID(4), payroll.CompanyID(1), payroll.WorkerID(2), "W01", payroll.JobID(7), "F60",
			"1.234567", "2024-02-10", "J-1", "", false, "",
			"83.950556", "68", "83.950556",
			&tier, "27.2", "33.5802224", now, now,
		))

	e, err := store.GetEntry(context.Background(), 1, 4)
	require.NoError(t, err)
	assert.Equal(t, "1.234567", e.Amount.String())
	assert.Equal(t, "83.950556", e.CustomerTotal.String())
	assert.Equal(t, "33.5802224", e.WageTotal.String())
}

func TestMigrations_NumericColumnsAreUnconstrained(t *testing.T) {
	// GIVEN: The embedded schema
	// THEN: No money or amount column is declared with a fixed scale
	files, err := fs.Glob(migrationFS, "migrations/*.up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, name := range files {
		body, err := fs.ReadFile(migrationFS, name)
		require.NoError(t, err)
		assert.NotRegexp(t, `(?i)NUMERIC\s*\(`, string(body), name)
	}
}

func TestDeleteEntry_NotFound(t *testing.T) {
	mock := newMock(t)
	store := New(mock)

	mock.ExpectExec(`DELETE FROM work_entries`).
		WithArgs(payroll.EntryID(9), payroll.CompanyID(1)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := store.DeleteEntry(context.Background(), 1, 9)
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
}

func TestListEntries_Filter(t *testing.T) {
	mock := newMock(t)
	store := New(mock)
	from := generic.NewDate(2024, 2, 1)

	mock.ExpectQuery(`WHERE e.company_id = \$1 AND e.work_date >= \$2 ORDER BY e.work_date DESC, e.id DESC`).
		WithArgs(payroll.CompanyID(1), from.Time).
		WillReturnRows(pgxmock.NewRows(entryColumns()))

	entries, err := store.ListEntries(context.Background(), 1, payroll.EntryFilter{From: from})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSetEnabledRules(t *testing.T) {
	// GIVEN: A request enabling only the threshold rule
	// THEN: Every rule is disabled first and the base rule is re-enabled
	mock := newMock(t)
	store := New(mock)

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadWrite})
	mock.ExpectExec(`UPDATE company_rules SET enabled = FALSE`).
		WithArgs(payroll.CompanyID(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectExec(`INSERT INTO company_rules`).
		WithArgs(payroll.CompanyID(1), payroll.RuleOver20K5050).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO company_rules`).
		WithArgs(payroll.CompanyID(1), payroll.RuleBaseNationality).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.SetEnabledRules(context.Background(), 1, []payroll.RuleCode{payroll.RuleOver20K5050})
	require.NoError(t, err)
}
