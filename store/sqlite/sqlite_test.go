package sqlite_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rate-engine/generic"
	"github.com/warp/rate-engine/payroll"
	"github.com/warp/rate-engine/store/sqlite"
)

type fixture struct {
	store   *sqlite.Store
	company payroll.CompanyID
	tier    payroll.WageTierID
	worker  payroll.WorkerID
	job     payroll.Job
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	company, err := store.CreateCompany(ctx, "Lotus Spa", "LOT")
	require.NoError(t, err)
	tier, err := store.SaveWageTier(ctx, payroll.WageTier{CompanyID: company, Code: "T1", Name: "Tier 1", SortOrder: 10, Active: true})
	require.NoError(t, err)
	worker, err := store.SaveWorker(ctx, payroll.Worker{CompanyID: company, Code: "W01", Name: "Somchai", WageTierID: &tier})
	require.NoError(t, err)

	job := payroll.Job{
		CompanyID:   company,
		Code:        "F60",
		Type:        "Foot 60",
		NormalPrice: d("68"),
		WageRates:   []payroll.TierWage{{TierID: tier, Rate: d("27.2")}},
	}
	job.ID, err = store.SaveJob(ctx, job)
	require.NoError(t, err)

	require.NoError(t, store.SyncCatalog(ctx, []payroll.Rule{
		{Code: payroll.RuleBaseNationality, Name: "Base", IsDefault: true},
		{Code: payroll.RuleOver20K5050, Name: "Over 20k", Params: map[string]string{"threshold": "20000", "share": "0.5"}},
	}))

	return fixture{store: store, company: company, tier: tier, worker: worker, job: job}
}

func (f fixture) entry(workDate, jobNo1, customerTotal string) payroll.Entry {
	return payroll.Entry{
		CompanyID: f.company,
		Candidate: payroll.Candidate{
			WorkerID:      f.worker,
			JobID:         f.job.ID,
			JobCode:       f.job.Code,
			Amount:        d("1"),
			WorkDate:      workDate,
			JobNo1:        jobNo1,
			CustomerRate:  d(customerTotal),
			CustomerTotal: d(customerTotal),
			WageTierID:    &f.tier,
			WageRate:      d("27.2"),
			WageTotal:     d("27.2"),
		},
	}
}

func (f fixture) insert(t *testing.T, e payroll.Entry) payroll.EntryID {
	t.Helper()
	var id payroll.EntryID
	err := f.store.WithTx(context.Background(), func(tx payroll.EntryTx) error {
		var err error
		id, err = tx.InsertEntry(context.Background(), e)
		return err
	})
	require.NoError(t, err)
	return id
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("job by exact code carries its wage table", func(t *testing.T) {
		job, err := f.store.JobByCode(ctx, f.company, " F60 ")
		require.NoError(t, err)
		assert.True(t, job.NormalPrice.Equal(d("68")))
		rate, ok := job.WageRateFor(f.tier)
		require.True(t, ok)
		assert.Equal(t, "27.2", rate.String())
	})

	t.Run("exact code lookup is case sensitive", func(t *testing.T) {
		_, err := f.store.JobByCode(ctx, f.company, "f60")
		assert.ErrorIs(t, err, generic.ErrEntityNotFound)
	})

	t.Run("find job by code or type label", func(t *testing.T) {
		job, err := f.store.FindJob(ctx, f.company, "f60")
		require.NoError(t, err)
		assert.Equal(t, f.job.ID, job.ID)

		job, err = f.store.FindJob(ctx, f.company, "FOOT 60")
		require.NoError(t, err)
		assert.Equal(t, f.job.ID, job.ID)

		_, err = f.store.FindJob(ctx, f.company, "Thai 90")
		assert.ErrorIs(t, err, generic.ErrEntityNotFound)
	})

	t.Run("job without list price", func(t *testing.T) {
		id, err := f.store.SaveJob(ctx, payroll.Job{CompanyID: f.company, Code: "B90"})
		require.NoError(t, err)
		job, err := f.store.FindJob(ctx, f.company, "b90")
		require.NoError(t, err)
		assert.Equal(t, id, job.ID)
		assert.True(t, job.NormalPrice.IsZero())
		assert.Empty(t, job.WageRates)
	})

	t.Run("workers are scoped to the company", func(t *testing.T) {
		w, err := f.store.WorkerByCode(ctx, f.company, "w01")
		require.NoError(t, err)
		assert.Equal(t, f.worker, w.ID)
		require.NotNil(t, w.WageTierID)
		assert.Equal(t, f.tier, *w.WageTierID)

		other, err := f.store.CreateCompany(ctx, "Other", "OTH")
		require.NoError(t, err)
		_, err = f.store.WorkerByID(ctx, other, f.worker)
		assert.ErrorIs(t, err, generic.ErrEntityNotFound)
	})

	t.Run("duplicate worker code", func(t *testing.T) {
		_, err := f.store.SaveWorker(ctx, payroll.Worker{CompanyID: f.company, Code: "W01"})
		assert.ErrorIs(t, err, generic.ErrDuplicate)
	})

	t.Run("tiers in sort order", func(t *testing.T) {
		_, err := f.store.SaveWageTier(ctx, payroll.WageTier{CompanyID: f.company, Code: "T0", Name: "Tier 0", SortOrder: 5, Active: true})
		require.NoError(t, err)
		tiers, err := f.store.ListWageTiers(ctx, f.company)
		require.NoError(t, err)
		require.Len(t, tiers, 2)
		assert.Equal(t, "T0", tiers[0].Code)
	})
}

// =============================================================================
// RULES
// =============================================================================

func TestRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	catalog, err := f.store.Catalog(ctx)
	require.NoError(t, err)
	require.Len(t, catalog, 2)
	assert.Equal(t, "20000", catalog[1].Params["threshold"])

	rules, err := f.store.EnabledRules(ctx, f.company)
	require.NoError(t, err)
	assert.True(t, rules.Has(payroll.RuleBaseNationality), "base rule is always present")
	assert.False(t, rules.Has(payroll.RuleOver20K5050))

	require.NoError(t, f.store.SetEnabledRules(ctx, f.company, []payroll.RuleCode{payroll.RuleOver20K5050}))
	rules, err = f.store.EnabledRules(ctx, f.company)
	require.NoError(t, err)
	assert.True(t, rules.Has(payroll.RuleOver20K5050))

	require.NoError(t, f.store.SetEnabledRules(ctx, f.company, nil))
	rules, err = f.store.EnabledRules(ctx, f.company)
	require.NoError(t, err)
	assert.False(t, rules.Has(payroll.RuleOver20K5050))
	assert.True(t, rules.Has(payroll.RuleBaseNationality))

	// GIVEN: A catalog re-sync with new wording
	// THEN: The row is updated, not duplicated
	require.NoError(t, f.store.SyncCatalog(ctx, []payroll.Rule{{Code: payroll.RuleBaseNationality, Name: "Base wage", IsDefault: true}}))
	catalog, err = f.store.Catalog(ctx)
	require.NoError(t, err)
	require.Len(t, catalog, 2)
	assert.Equal(t, "Base wage", catalog[0].Name)
}

// =============================================================================
// ACCESS CONTROL
// =============================================================================

func TestAccessControl(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	thirty, seven := 30, 7

	require.NoError(t, f.store.SavePermission(ctx, payroll.PermEditEntry, "Edit entries", true))
	require.NoError(t, f.store.SavePermission(ctx, payroll.PermEditRates, "Edit rates", false))

	staff, err := f.store.CreateRole(ctx, sqlite.Role{Code: "staff", Name: "Staff", DaysLimit: &thirty})
	require.NoError(t, err)
	require.NoError(t, f.store.GrantRolePermissions(ctx, staff, payroll.PermEditEntry, payroll.PermEditRates))
	assert.ErrorIs(t, f.store.GrantRolePermissions(ctx, staff, "NOPE"), generic.ErrEntityNotFound)

	user, err := f.store.CreateUser(ctx, "clerk", staff, false)
	require.NoError(t, err)

	t.Run("role limit", func(t *testing.T) {
		limit, err := f.store.EditLimit(ctx, user)
		require.NoError(t, err)
		assert.Nil(t, limit.Override)
		require.NotNil(t, limit.Role)
		assert.Equal(t, 30, *limit.Role)
	})

	t.Run("user override", func(t *testing.T) {
		require.NoError(t, f.store.SetDaysOverride(ctx, user, &seven))
		limit, err := f.store.EditLimit(ctx, user)
		require.NoError(t, err)
		require.NotNil(t, limit.Override)
		assert.Equal(t, 7, *limit.Override)

		require.NoError(t, f.store.SetDaysOverride(ctx, user, nil))
		limit, err = f.store.EditLimit(ctx, user)
		require.NoError(t, err)
		assert.Nil(t, limit.Override)
	})

	t.Run("active permissions only", func(t *testing.T) {
		ok, err := f.store.HasPermission(ctx, user, payroll.PermEditEntry)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = f.store.HasPermission(ctx, user, payroll.PermEditRates)
		require.NoError(t, err)
		assert.False(t, ok, "inactive permission grants nothing")

		ok, err = f.store.HasPermission(ctx, 999, payroll.PermEditEntry)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("admin flag", func(t *testing.T) {
		admin, err := f.store.CreateUser(ctx, "owner", 0, true)
		require.NoError(t, err)
		isAdmin, err := f.store.IsAdmin(ctx, admin)
		require.NoError(t, err)
		assert.True(t, isAdmin)

		_, err = f.store.IsAdmin(ctx, 999)
		assert.ErrorIs(t, err, generic.ErrEntityNotFound)
	})
}

// =============================================================================
// ENTRIES
// =============================================================================

func TestEntries_RoundTripAndOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.insert(t, f.entry("2024-02-10", "J-1", "68"))
	second := f.insert(t, f.entry("2024-02-10", "J-2", "68"))
	older := f.insert(t, f.entry("2024-01-05", "J-3", "68"))

	got, err := f.store.GetEntry(ctx, f.company, first)
	require.NoError(t, err)
	assert.Equal(t, "W01", got.WorkerCode)
	assert.Equal(t, "27.2", got.WageRate.String())
	assert.Equal(t, "68", got.Fees().String(), "absent fees persist as the customer total")
	require.NotNil(t, got.WageTierID)
	assert.False(t, got.CreatedAt.IsZero())

	list, err := f.store.ListEntries(ctx, f.company, payroll.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []payroll.EntryID{second, first, older}, []payroll.EntryID{list[0].ID, list[1].ID, list[2].ID})

	from, _ := generic.ParseDate("2024-02-01")
	list, err = f.store.ListEntries(ctx, f.company, payroll.EntryFilter{From: from})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestEntries_DuplicateJobNo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.insert(t, f.entry("2024-02-10", "J-1", "68"))

	err := f.store.WithTx(ctx, func(tx payroll.EntryTx) error {
		_, err := tx.InsertEntry(ctx, f.entry("2024-02-11", "J-1", "68"))
		return err
	})
	assert.ErrorIs(t, err, generic.ErrDuplicate)

	id := f.insert(t, f.entry("2024-02-12", "J-2", "68"))
	e, err := f.store.GetEntry(ctx, f.company, id)
	require.NoError(t, err)
	e.JobNo1 = "J-1"
	assert.ErrorIs(t, f.store.UpdateEntry(ctx, e), generic.ErrDuplicate)
}

func TestEntries_TxRollback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	boom := errors.New("boom")

	// GIVEN: A transaction that inserts then fails
	// WHEN: fn returns an error
	// THEN: Nothing is persisted
	err := f.store.WithTx(ctx, func(tx payroll.EntryTx) error {
		job, err := tx.JobByCode(ctx, f.company, "F60")
		if err != nil {
			return err
		}
		e := f.entry("2024-02-10", "J-1", "68")
		e.JobID = job.ID
		if _, err := tx.InsertEntry(ctx, e); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	list, err := f.store.ListEntries(ctx, f.company, payroll.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEntries_UpdateDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.insert(t, f.entry("2024-02-10", "J-1", "68"))
	e, err := f.store.GetEntry(ctx, f.company, id)
	require.NoError(t, err)

	e.Note = "moved"
	e.CustomerTotal = d("136")
	require.NoError(t, f.store.UpdateEntry(ctx, e))

	got, err := f.store.GetEntry(ctx, f.company, id)
	require.NoError(t, err)
	assert.Equal(t, "moved", got.Note)
	assert.Equal(t, "136", got.CustomerTotal.String())

	require.NoError(t, f.store.DeleteEntry(ctx, f.company, id))
	_, err = f.store.GetEntry(ctx, f.company, id)
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
	assert.ErrorIs(t, f.store.DeleteEntry(ctx, f.company, id), generic.ErrEntityNotFound)
	assert.ErrorIs(t, f.store.UpdateEntry(ctx, e), generic.ErrEntityNotFound)
}

func TestPersistedMonthTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.insert(t, f.entry("2024-02-01", "J-1", "100.25"))
	f.insert(t, f.entry("2024-02-29", "J-2", "50.25"))
	f.insert(t, f.entry("2024-03-01", "J-3", "999"))

	total, err := f.store.PersistedMonthTotal(ctx, f.company, f.worker, "2024-02")
	require.NoError(t, err)
	assert.Equal(t, "150.5", total.String())

	total, err = f.store.PersistedMonthTotal(ctx, f.company, f.worker, "2023-12")
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

// =============================================================================
// SERVICE INTEGRATION
// =============================================================================

func TestService_CreateAgainstSQLite(t *testing.T) {
	// GIVEN: A SQLite-backed service with the 20k threshold enabled
	// WHEN: A worker crosses the threshold with persisted entries
	// THEN: The next resolution pays half the customer rate
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetEnabledRules(ctx, f.company, []payroll.RuleCode{payroll.RuleOver20K5050}))
	f.insert(t, f.entry("2024-02-01", "J-1", "19950"))

	svc := payroll.NewService(f.store, generic.FixedClock(generic.NewDate(2024, 2, 20)), nil)
	cand, err := svc.PrepareEntry(ctx, f.company, payroll.EntryInput{
		WorkerID: f.worker, JobCode: "f60", Amount: d("1"), WorkDate: "2024-02-20", JobNo1: "J-2",
	}, nil)
	require.NoError(t, err)
	e, err := svc.CreateEntry(ctx, f.company, cand)
	require.NoError(t, err)
	assert.Equal(t, "34", e.WageTotal.String())

	res, err := svc.ResolveRates(ctx, f.company, payroll.EntryInput{
		WorkerID: f.worker, JobCode: "F60", Amount: d("1"), WorkDate: "2024-02-21",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "34", res.WageRate.String())
	assert.Equal(t, "20018", res.MonthToDate.String())
}

func TestService_SixDecimalAmountRoundTrips(t *testing.T) {
	// GIVEN: An amount with six decimals against a 68 list price
	// WHEN: Creating the entry and reading it back
	// THEN: Totals keep every digit of the product
	f := newFixture(t)
	ctx := context.Background()

	svc := payroll.NewService(f.store, generic.FixedClock(generic.NewDate(2024, 2, 20)), nil)
	cand, err := svc.PrepareEntry(ctx, f.company, payroll.EntryInput{
		WorkerID: f.worker, JobCode: "F60", Amount: d("1.234567"), WorkDate: "2024-02-20", JobNo1: "J-6",
	}, nil)
	require.NoError(t, err)
	created, err := svc.CreateEntry(ctx, f.company, cand)
	require.NoError(t, err)

	got, err := f.store.GetEntry(ctx, f.company, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.234567", got.Amount.String())
	assert.Equal(t, "83.950556", got.CustomerTotal.String())
	assert.Equal(t, "33.5802224", got.WageTotal.String())
	assert.Equal(t, "83.950556", got.Fees().String())

	total, err := f.store.PersistedMonthTotal(ctx, f.company, f.worker, generic.MonthKey("2024-02"))
	require.NoError(t, err)
	assert.Equal(t, "83.950556", total.String())
}
