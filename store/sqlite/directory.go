package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/generic"
	"github.com/warp/rate-engine/payroll"
)

// =============================================================================
// COMPANIES & TIERS
// =============================================================================

// CreateCompany inserts a company and returns its id.
func (s *Store) CreateCompany(ctx context.Context, name, shortCode string) (payroll.CompanyID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (name, short_code, created_at) VALUES (?, ?, ?)`,
		name, shortCode, now())
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, fmt.Errorf("company %s: %w", shortCode, generic.ErrDuplicate)
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	return payroll.CompanyID(id), err
}

// SaveWageTier inserts or updates a tier. A zero ID inserts.
func (s *Store) SaveWageTier(ctx context.Context, t payroll.WageTier) (payroll.WageTierID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO wage_tiers (company_id, tier_code, tier_name, sort_order, is_active)
			VALUES (?, ?, ?, ?, ?)`,
			t.CompanyID, t.Code, t.Name, t.SortOrder, t.Active)
		if err != nil {
			if isUniqueConstraintError(err) {
				return 0, fmt.Errorf("wage tier %s: %w", t.Code, generic.ErrDuplicate)
			}
			return 0, err
		}
		id, err := res.LastInsertId()
		return payroll.WageTierID(id), err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE wage_tiers SET tier_code = ?, tier_name = ?, sort_order = ?, is_active = ?
		WHERE id = ? AND company_id = ?`,
		t.Code, t.Name, t.SortOrder, t.Active, t.ID, t.CompanyID)
	return t.ID, err
}

// ListWageTiers returns the company's tiers in sort order.
func (s *Store) ListWageTiers(ctx context.Context, companyID payroll.CompanyID) ([]payroll.WageTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, tier_code, tier_name, sort_order, is_active
		FROM wage_tiers WHERE company_id = ? ORDER BY sort_order, id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []payroll.WageTier
	for rows.Next() {
		var t payroll.WageTier
		if err := rows.Scan(&t.ID, &t.CompanyID, &t.Code, &t.Name, &t.SortOrder, &t.Active); err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// =============================================================================
// WORKERS
// =============================================================================

// SaveWorker inserts or updates a worker. A zero ID inserts.
func (s *Store) SaveWorker(ctx context.Context, w payroll.Worker) (payroll.WorkerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tier sql.NullInt64
	if w.WageTierID != nil {
		tier = sql.NullInt64{Int64: int64(*w.WageTierID), Valid: true}
	}

	if w.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO workers (company_id, worker_code, worker_name, nationality, wage_tier_id)
			VALUES (?, ?, ?, ?, ?)`,
			w.CompanyID, w.Code, w.Name, w.Nationality, tier)
		if err != nil {
			if isUniqueConstraintError(err) {
				return 0, fmt.Errorf("worker %s: %w", w.Code, generic.ErrDuplicate)
			}
			return 0, err
		}
		id, err := res.LastInsertId()
		return payroll.WorkerID(id), err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE workers SET worker_code = ?, worker_name = ?, nationality = ?, wage_tier_id = ?
		WHERE id = ? AND company_id = ?`,
		w.Code, w.Name, w.Nationality, tier, w.ID, w.CompanyID)
	return w.ID, err
}

const workerColumns = `id, company_id, worker_code, worker_name, nationality, wage_tier_id`

func scanWorker(row interface{ Scan(...any) error }) (payroll.Worker, error) {
	var w payroll.Worker
	var tier sql.NullInt64
	if err := row.Scan(&w.ID, &w.CompanyID, &w.Code, &w.Name, &w.Nationality, &tier); err != nil {
		return payroll.Worker{}, err
	}
	if tier.Valid {
		id := payroll.WageTierID(tier.Int64)
		w.WageTierID = &id
	}
	return w, nil
}

func (s *Store) WorkerByID(ctx context.Context, companyID payroll.CompanyID, id payroll.WorkerID) (payroll.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, err := scanWorker(s.db.QueryRowContext(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE id = ? AND company_id = ?`, id, companyID))
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.Worker{}, notFound("worker", id)
	}
	return w, err
}

func (s *Store) WorkerByCode(ctx context.Context, companyID payroll.CompanyID, code string) (payroll.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code = strings.TrimSpace(code)
	w, err := scanWorker(s.db.QueryRowContext(ctx, `
		SELECT `+workerColumns+` FROM workers
		WHERE company_id = ? AND LOWER(worker_code) = LOWER(?)
		ORDER BY id LIMIT 1`, companyID, code))
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.Worker{}, notFound("worker", code)
	}
	return w, err
}

// =============================================================================
// JOBS
// =============================================================================

// SaveJob inserts or updates a job and replaces its tier wage table.
func (s *Store) SaveJob(ctx context.Context, j payroll.Job) (payroll.JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var price decimal.NullDecimal
	if !j.NormalPrice.IsZero() {
		price = decimal.NewNullDecimal(j.NormalPrice)
	}

	if j.ID == 0 {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (company_id, job_code, job_type, normal_price) VALUES (?, ?, ?, ?)`,
			j.CompanyID, j.Code, j.Type, price)
		if err != nil {
			if isUniqueConstraintError(err) {
				return 0, fmt.Errorf("job %s: %w", j.Code, generic.ErrDuplicate)
			}
			return 0, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		j.ID = payroll.JobID(id)
	} else {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET job_code = ?, job_type = ?, normal_price = ? WHERE id = ? AND company_id = ?`,
			j.Code, j.Type, price, j.ID, j.CompanyID); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM job_wages WHERE job_id = ?`, j.ID); err != nil {
			return 0, err
		}
	}

	for _, w := range j.WageRates {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO job_wages (job_id, wage_tier_id, wage_rate) VALUES (?, ?, ?)`,
			j.ID, w.TierID, w.Rate.String()); err != nil {
			if isUniqueConstraintError(err) {
				return 0, fmt.Errorf("job %s tier %d wage: %w", j.Code, w.TierID, generic.ErrDuplicate)
			}
			return 0, err
		}
	}

	return j.ID, tx.Commit()
}

func (s *Store) JobByCode(ctx context.Context, companyID payroll.CompanyID, code string) (payroll.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return jobWhere(ctx, s.db, "company_id = ? AND job_code = ?", companyID, strings.TrimSpace(code))
}

// FindJob tries the code case-insensitively, then the type label.
func (s *Store) FindJob(ctx context.Context, companyID payroll.CompanyID, codeOrType string) (payroll.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.TrimSpace(codeOrType)
	job, err := jobWhere(ctx, s.db, "company_id = ? AND LOWER(job_code) = LOWER(?)", companyID, needle)
	if !errors.Is(err, generic.ErrEntityNotFound) {
		return job, err
	}
	return jobWhere(ctx, s.db, "company_id = ? AND LOWER(job_type) = LOWER(?)", companyID, needle)
}

// jobWhere loads the first job matching cond, with its wage table.
func jobWhere(ctx context.Context, q queryer, cond string, companyID payroll.CompanyID, key string) (payroll.Job, error) {
	var j payroll.Job
	var price decimal.NullDecimal
	err := q.QueryRowContext(ctx, `
		SELECT id, company_id, job_code, job_type, normal_price
		FROM jobs WHERE `+cond+` ORDER BY id LIMIT 1`, companyID, key).
		Scan(&j.ID, &j.CompanyID, &j.Code, &j.Type, &price)
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.Job{}, notFound("job", key)
	}
	if err != nil {
		return payroll.Job{}, err
	}
	if price.Valid {
		j.NormalPrice = price.Decimal
	}

	rows, err := q.QueryContext(ctx,
		`SELECT wage_tier_id, wage_rate FROM job_wages WHERE job_id = ? ORDER BY wage_tier_id`, j.ID)
	if err != nil {
		return payroll.Job{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var w payroll.TierWage
		if err := rows.Scan(&w.TierID, &w.Rate); err != nil {
			return payroll.Job{}, err
		}
		j.WageRates = append(j.WageRates, w)
	}
	return j, rows.Err()
}
