package payroll_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rate-engine/generic"
	"github.com/warp/rate-engine/payroll"
	"github.com/warp/rate-engine/store/memory"
)

// =============================================================================
// LISTINGS
// =============================================================================

func seedListing(t *testing.T, store *memory.Memory) generic.Period {
	t.Helper()
	put := func(worker payroll.WorkerID, job, date, jobNo1, jobNo2 string, bank bool, hours, fee, wage string) {
		store.PutEntry(payroll.Entry{
			CompanyID: company,
			Candidate: payroll.Candidate{
				WorkerID: worker, JobCode: job, Amount: d(hours), WorkDate: date,
				JobNo1: jobNo1, JobNo2: jobNo2, IsBank: bank,
				CustomerRate: d(fee), CustomerTotal: d(fee), WageRate: d(wage), WageTotal: d(wage),
			},
		})
	}
	put(workerW01, "F60", "2024-02-02", "10", "", true, "1", "68", "27.2")
	put(workerW01, "B90", "2024-02-01", "B-7", "", false, "1", "90", "40")
	put(workerW03, "F60", "2024-02-01", "9", "X", true, "2", "136", "54.4")
	put(workerW03, "GONE", "2024-02-02", "2", "", true, "1", "50", "20")
	put(workerW01, "F60", "2024-03-01", "1", "", true, "1", "999", "1") // outside period

	period, err := generic.NewPeriod(generic.NewDate(2024, time.February, 1), generic.NewDate(2024, time.February, 29))
	require.NoError(t, err)
	return period
}

func billNos(rows []payroll.ReportLine) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.BillNo
	}
	return out
}

func TestService_SalesListing(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	period := seedListing(t, store)

	t.Run("rows by date then numeric bill number, with daily totals", func(t *testing.T) {
		// GIVEN: Four entries over two days, mixed bill numbers and channels
		// WHEN: A supervisor lists both channels
		// THEN: Numeric bills come first within a day and days sum their fees
		listing, err := svc.SalesListing(ctx, company, payroll.Caller{UserID: supervisor},
			payroll.ReportFilter{Period: period, Pay: payroll.PayBoth})
		require.NoError(t, err)
		assert.True(t, listing.CanFilterPayType)
		assert.Equal(t, []string{"9", "B-7", "2", "10"}, billNos(listing.Rows))

		first := listing.Rows[0]
		assert.Equal(t, "2024-02-01", first.WorkDate)
		assert.Equal(t, "F60 - Foot Massage 60", first.JobDesc)
		assertDecimal(t, "2", first.Hours)
		assertDecimal(t, "136", first.Fee)
		assert.Equal(t, "B90 - Body Massage 90", listing.Rows[1].JobDesc)
		assert.Equal(t, "GONE", listing.Rows[2].JobDesc, "unknown job keeps its code")

		require.Len(t, listing.Days, 2)
		assert.Equal(t, "2024-02-01", listing.Days[0].WorkDate)
		assertDecimal(t, "226", listing.Days[0].Sales)
		assert.Equal(t, "2024-02-02", listing.Days[1].WorkDate)
		assertDecimal(t, "118", listing.Days[1].Sales)
	})

	t.Run("without pay type permission only bank entries", func(t *testing.T) {
		listing, err := svc.SalesListing(ctx, company, payroll.Caller{UserID: clerk},
			payroll.ReportFilter{Period: period, Pay: payroll.PayCashOnly})
		require.NoError(t, err)
		assert.False(t, listing.CanFilterPayType)
		assert.Equal(t, payroll.PayBankOnly, listing.Pay)
		assert.Equal(t, []string{"9", "2", "10"}, billNos(listing.Rows))
	})

	t.Run("nothing selected gives empty lists", func(t *testing.T) {
		listing, err := svc.SalesListing(ctx, company, payroll.Caller{IsAdmin: true},
			payroll.ReportFilter{Period: period, Pay: payroll.PayNone})
		require.NoError(t, err)
		assert.NotNil(t, listing.Rows)
		assert.Empty(t, listing.Rows)
		assert.Empty(t, listing.Days)
	})
}

func TestService_WorkerJobListing(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	period := seedListing(t, store)

	t.Run("grouped per worker with totals", func(t *testing.T) {
		// GIVEN: Two workers with two entries each in February
		// WHEN: An admin lists both channels
		// THEN: Numeric worker codes first, rows by date and bill number
		listing, err := svc.WorkerJobListing(ctx, company, payroll.Caller{IsAdmin: true},
			payroll.ReportFilter{Period: period})
		require.NoError(t, err)
		assert.Equal(t, payroll.PayBoth, listing.Pay)
		require.Len(t, listing.Workers, 2)

		cat := listing.Workers[0]
		assert.Equal(t, "7", cat.WorkerCode)
		assert.Equal(t, "Cat", cat.WorkerName)
		assert.Equal(t, []string{"9", "2"}, billNos(cat.Rows))
		assertDecimal(t, "3", cat.TotalHours)
		assertDecimal(t, "186", cat.TotalFee)
		assertDecimal(t, "74.4", cat.TotalWage)

		amy := listing.Workers[1]
		assert.Equal(t, "W01", amy.WorkerCode)
		assert.Equal(t, []string{"B-7", "10"}, billNos(amy.Rows))
		assertDecimal(t, "158", amy.TotalFee)
		assertDecimal(t, "40", amy.Rows[0].Wage)
	})

	t.Run("job no2 filter", func(t *testing.T) {
		listing, err := svc.WorkerJobListing(ctx, company, payroll.Caller{IsAdmin: true},
			payroll.ReportFilter{Period: period, JobNo: payroll.JobNoFilterOf(false, true)})
		require.NoError(t, err)
		require.Len(t, listing.Workers, 1)
		require.Len(t, listing.Workers[0].Rows, 1)
		assert.Equal(t, "9", listing.Workers[0].Rows[0].BillNo)
	})
}
