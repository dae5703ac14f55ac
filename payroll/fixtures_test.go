package payroll_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rate-engine/generic"
	"github.com/warp/rate-engine/payroll"
	"github.com/warp/rate-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	company      payroll.CompanyID = 1
	otherCompany payroll.CompanyID = 2

	tierLocal payroll.WageTierID = 1

	workerW01     payroll.WorkerID = 1 // tier local
	workerNoTier  payroll.WorkerID = 2
	workerW03     payroll.WorkerID = 3 // tier local, numeric-looking code
	workerForeign payroll.WorkerID = 9 // other company

	clerk      payroll.UserID = 10 // edit + delete, 30 day window
	supervisor payroll.UserID = 11 // clerk + rate edit + pay type filter
	viewer     payroll.UserID = 12 // no permissions
)

var today = generic.NewDate(2024, time.March, 1)

func d(s string) decimal.Decimal { return generic.MustParseDecimal(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

func ptr(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func days(n int) *int { return &n }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func tier(id payroll.WageTierID) *payroll.WageTierID { return &id }

func jobFoot60() payroll.Job {
	return payroll.Job{
		ID: 1, CompanyID: company, Code: "F60", Type: "Foot Massage 60",
		NormalPrice: d("68"),
		WageRates:   []payroll.TierWage{{TierID: tierLocal, Rate: d("27.2")}},
	}
}

func newTestStore(t *testing.T) *memory.Memory {
	t.Helper()
	store := memory.New()

	store.PutRule(payroll.Rule{Code: payroll.RuleBaseNationality, Name: "Base wage by tier", IsDefault: true})
	store.PutRule(payroll.Rule{Code: payroll.RuleOver20K5050, Name: "Over 20K 50/50", IsDefault: true})

	store.PutJob(jobFoot60())
	store.PutJob(payroll.Job{
		ID: 2, CompanyID: company, Code: "B90", Type: "Body Massage 90",
		WageRates: []payroll.TierWage{{TierID: tierLocal, Rate: d("40")}},
	})
	store.PutJob(payroll.Job{ID: 3, CompanyID: company, Code: "H30", Type: "Head Massage 30", NormalPrice: d("30")})
	store.PutJob(payroll.Job{
		ID: 4, CompanyID: otherCompany, Code: "X1", Type: "Other",
		NormalPrice: d("10"), WageRates: []payroll.TierWage{{TierID: tierLocal, Rate: d("5")}},
	})

	store.PutWorker(payroll.Worker{ID: workerW01, CompanyID: company, Code: "W01", Name: "Amy", WageTierID: tier(tierLocal)})
	store.PutWorker(payroll.Worker{ID: workerNoTier, CompanyID: company, Code: "W02", Name: "Bee"})
	store.PutWorker(payroll.Worker{ID: workerW03, CompanyID: company, Code: "7", Name: "Cat", WageTierID: tier(tierLocal)})
	store.PutWorker(payroll.Worker{ID: workerForeign, CompanyID: otherCompany, Code: "W01", Name: "Dan", WageTierID: tier(tierLocal)})

	store.SetEditLimit(clerk, payroll.EditLimit{Role: days(30)})
	store.SetEditLimit(supervisor, payroll.EditLimit{Role: days(30)})
	store.Grant(clerk, payroll.PermEditEntry, payroll.PermDeleteEntry)
	store.Grant(supervisor, payroll.PermEditEntry, payroll.PermDeleteEntry, payroll.PermEditRates, payroll.PermReportPayTypeView)

	return store
}

func newTestService(t *testing.T) (*payroll.Service, *memory.Memory) {
	t.Helper()
	store := newTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return payroll.NewService(store, generic.FixedClock(today), logger), store
}

func enableThreshold(t *testing.T, store *memory.Memory) {
	t.Helper()
	require.NoError(t, store.SetEnabledRules(context.Background(), company, []payroll.RuleCode{payroll.RuleOver20K5050}))
}

// storedEntry persists a fully resolved entry directly.
func storedEntry(store *memory.Memory, worker payroll.WorkerID, date, jobNo1, customerTotal string) payroll.EntryID {
	return store.PutEntry(payroll.Entry{
		CompanyID: company,
		Candidate: payroll.Candidate{
			WorkerID: worker, JobID: 1, JobCode: "F60",
			Amount: d("1"), WorkDate: date, JobNo1: jobNo1,
			CustomerRate: d(customerTotal), CustomerTotal: d(customerTotal),
			WageTierID: tier(tierLocal), WageRate: d("27.2"), WageTotal: d("27.2"),
			FeesCollected: nd(customerTotal),
		},
	})
}
