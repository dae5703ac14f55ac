package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/generic"
	"github.com/warp/rate-engine/payroll"
)

// =============================================================================
// WORK ENTRIES
// =============================================================================

const entryColumns = `
	e.id, e.company_id, e.worker_id, COALESCE(w.worker_code, ''), e.job_id, e.job_code,
	e.amount, e.work_date, e.job_no1, e.job_no2, e.is_bank, e.note, e.fees_collected,
	e.customer_rate, e.customer_total, e.wage_tier_id, e.wage_rate, e.wage_total,
	e.created_at, e.updated_at`

const entryFrom = `FROM work_entries e LEFT JOIN workers w ON w.id = e.worker_id`

func scanEntry(row interface{ Scan(...any) error }) (payroll.Entry, error) {
	var e payroll.Entry
	var tier sql.NullInt64
	var createdAt, updatedAt string
	err := row.Scan(
		&e.ID, &e.CompanyID, &e.WorkerID, &e.WorkerCode, &e.JobID, &e.JobCode,
		&e.Amount, &e.WorkDate, &e.JobNo1, &e.JobNo2, &e.IsBank, &e.Note, &e.FeesCollected,
		&e.CustomerRate, &e.CustomerTotal, &tier, &e.WageRate, &e.WageTotal,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return payroll.Entry{}, err
	}
	if tier.Valid {
		id := payroll.WageTierID(tier.Int64)
		e.WageTierID = &id
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}

func tierArg(t *payroll.WageTierID) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*t), Valid: true}
}

func insertEntry(ctx context.Context, q queryer, e payroll.Entry) (payroll.EntryID, error) {
	ts := now()
	res, err := q.ExecContext(ctx, `
		INSERT INTO work_entries (
			company_id, worker_id, job_id, job_code, amount, work_date, job_no1, job_no2,
			is_bank, note, fees_collected, customer_rate, customer_total,
			wage_tier_id, wage_rate, wage_total, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CompanyID, e.WorkerID, e.JobID, e.JobCode, e.Amount.String(), e.WorkDate, e.JobNo1, e.JobNo2,
		e.IsBank, e.Note, e.Fees().String(), e.CustomerRate.String(), e.CustomerTotal.String(),
		tierArg(e.WageTierID), e.WageRate.String(), e.WageTotal.String(), ts, ts,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, fmt.Errorf("job_no1 %q: %w", e.JobNo1, generic.ErrDuplicate)
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	return payroll.EntryID(id), err
}

func (s *Store) GetEntry(ctx context.Context, companyID payroll.CompanyID, id payroll.EntryID) (payroll.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` `+entryFrom+` WHERE e.id = ? AND e.company_id = ?`, id, companyID))
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.Entry{}, notFound("entry", id)
	}
	return e, err
}

func (s *Store) UpdateEntry(ctx context.Context, e payroll.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE work_entries SET
			worker_id = ?, job_id = ?, job_code = ?, amount = ?, work_date = ?,
			job_no1 = ?, job_no2 = ?, is_bank = ?, note = ?, fees_collected = ?,
			customer_rate = ?, customer_total = ?, wage_tier_id = ?, wage_rate = ?, wage_total = ?,
			updated_at = ?
		WHERE id = ? AND company_id = ?`,
		e.WorkerID, e.JobID, e.JobCode, e.Amount.String(), e.WorkDate,
		e.JobNo1, e.JobNo2, e.IsBank, e.Note, e.Fees().String(),
		e.CustomerRate.String(), e.CustomerTotal.String(), tierArg(e.WageTierID), e.WageRate.String(), e.WageTotal.String(),
		now(), e.ID, e.CompanyID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("job_no1 %q: %w", e.JobNo1, generic.ErrDuplicate)
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("entry", e.ID)
	}
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, companyID payroll.CompanyID, id payroll.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM work_entries WHERE id = ? AND company_id = ?`, id, companyID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("entry", id)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, companyID payroll.CompanyID, filter payroll.EntryFilter) ([]payroll.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + entryColumns + ` ` + entryFrom + ` WHERE e.company_id = ?`
	args := []any{companyID}
	if !filter.From.IsZero() {
		query += ` AND e.work_date >= ?`
		args = append(args, filter.From.String())
	}
	if !filter.To.IsZero() {
		query += ` AND e.work_date <= ?`
		args = append(args, filter.To.String())
	}
	query += ` ORDER BY e.work_date DESC, e.id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []payroll.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// MONTH TOTALS
// =============================================================================

// PersistedMonthTotal sums customer_total in Go; the column is decimal text.
func (s *Store) PersistedMonthTotal(ctx context.Context, companyID payroll.CompanyID, workerID payroll.WorkerID, month generic.MonthKey) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT customer_total FROM work_entries
		WHERE company_id = ? AND worker_id = ? AND substr(work_date, 1, 7) = ?`,
		companyID, workerID, month.String())
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var v decimal.Decimal
		if err := rows.Scan(&v); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(v)
	}
	return total, rows.Err()
}
