package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/generic"
	"github.com/warp/rate-engine/payroll"
)

// =============================================================================
// DIRECTORY
// =============================================================================

const jobSelect = `
	SELECT id, company_id, job_code, job_type, normal_price::text
	  FROM jobs
	 WHERE company_id = $1 AND %s
	 ORDER BY id
	 LIMIT 1`

func (s *Store) JobByCode(ctx context.Context, companyID payroll.CompanyID, code string) (payroll.Job, error) {
	return s.jobWhere(ctx, "job_code = $2", companyID, strings.TrimSpace(code))
}

// FindJob tries the code case-insensitively, then the type label.
func (s *Store) FindJob(ctx context.Context, companyID payroll.CompanyID, codeOrType string) (payroll.Job, error) {
	needle := strings.TrimSpace(codeOrType)
	job, err := s.jobWhere(ctx, "LOWER(job_code) = LOWER($2)", companyID, needle)
	if !errors.Is(err, generic.ErrEntityNotFound) {
		return job, err
	}
	return s.jobWhere(ctx, "LOWER(job_type) = LOWER($2)", companyID, needle)
}

func (s *Store) jobWhere(ctx context.Context, cond string, companyID payroll.CompanyID, key string) (payroll.Job, error) {
	q := queryerFrom(ctx, s.pool)

	var j payroll.Job
	var price decimal.NullDecimal
	err := q.QueryRow(ctx, fmt.Sprintf(jobSelect, cond), companyID, key).
		Scan(&j.ID, &j.CompanyID, &j.Code, &j.Type, &price)
	if errors.Is(err, pgx.ErrNoRows) {
		return payroll.Job{}, notFound("job", key)
	}
	if err != nil {
		return payroll.Job{}, fmt.Errorf("select job %q: %w", key, err)
	}
	if price.Valid {
		j.NormalPrice = price.Decimal
	}

	rows, err := q.Query(ctx, `
		SELECT wage_tier_id, wage_rate::text
		  FROM job_wages
		 WHERE job_id = $1
		 ORDER BY wage_tier_id`, j.ID)
	if err != nil {
		return payroll.Job{}, fmt.Errorf("select job wages %d: %w", j.ID, err)
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

const workerSelect = `
	SELECT id, company_id, worker_code, worker_name, nationality, wage_tier_id
	  FROM workers
	 WHERE company_id = $1 AND %s
	 ORDER BY id
	 LIMIT 1`

func scanWorker(row pgx.Row) (payroll.Worker, error) {
	var w payroll.Worker
	err := row.Scan(&w.ID, &w.CompanyID, &w.Code, &w.Name, &w.Nationality, &w.WageTierID)
	return w, err
}

func (s *Store) WorkerByID(ctx context.Context, companyID payroll.CompanyID, id payroll.WorkerID) (payroll.Worker, error) {
	w, err := scanWorker(queryerFrom(ctx, s.pool).QueryRow(ctx, fmt.Sprintf(workerSelect, "id = $2"), companyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return payroll.Worker{}, notFound("worker", id)
	}
	return w, err
}

func (s *Store) WorkerByCode(ctx context.Context, companyID payroll.CompanyID, code string) (payroll.Worker, error) {
	code = strings.TrimSpace(code)
	w, err := scanWorker(queryerFrom(ctx, s.pool).QueryRow(ctx,
		fmt.Sprintf(workerSelect, "LOWER(worker_code) = LOWER($2)"), companyID, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return payroll.Worker{}, notFound("worker", code)
	}
	return w, err
}

// =============================================================================
// RULES
// =============================================================================

// SyncCatalog upserts the catalog rules.
func (s *Store) SyncCatalog(ctx context.Context, rules []payroll.Rule) error {
	return s.tx.WithinReadWrite(ctx, func(ctx context.Context) error {
		q := queryerFrom(ctx, s.pool)
		for _, r := range rules {
			params, err := json.Marshal(r.Params)
			if err != nil {
				return fmt.Errorf("rule %s params: %w", r.Code, err)
			}
			if _, err := q.Exec(ctx, `
				INSERT INTO rules (code, name, description, is_default, params_json)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (code) DO UPDATE
				   SET name = EXCLUDED.name,
				       description = EXCLUDED.description,
				       is_default = EXCLUDED.is_default,
				       params_json = EXCLUDED.params_json`,
				r.Code, r.Name, r.Description, r.IsDefault, string(params)); err != nil {
				return fmt.Errorf("upsert rule %s: %w", r.Code, err)
			}
		}
		return nil
	})
}

func (s *Store) Catalog(ctx context.Context) ([]payroll.Rule, error) {
	rows, err := queryerFrom(ctx, s.pool).Query(ctx, `
		SELECT code, name, description, is_default, params_json::text
		  FROM rules
		 ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("select rules: %w", err)
	}
	defer rows.Close()

	var rules []payroll.Rule
	for rows.Next() {
		var r payroll.Rule
		var params string
		if err := rows.Scan(&r.Code, &r.Name, &r.Description, &r.IsDefault, &params); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
			return nil, fmt.Errorf("rule %s params: %w", r.Code, err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Store) EnabledRules(ctx context.Context, companyID payroll.CompanyID) (payroll.RuleSet, error) {
	rows, err := queryerFrom(ctx, s.pool).Query(ctx, `
		SELECT cr.rule_code
		  FROM company_rules cr
		  JOIN rules r ON r.code = cr.rule_code
		 WHERE cr.company_id = $1 AND cr.enabled = TRUE`, companyID)
	if err != nil {
		return nil, fmt.Errorf("select company rules: %w", err)
	}
	defer rows.Close()

	var codes []payroll.RuleCode
	for rows.Next() {
		var code payroll.RuleCode
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payroll.NewRuleSet(codes...), nil
}

// SetEnabledRules disables every company rule, then enables codes, in one
// transaction.
func (s *Store) SetEnabledRules(ctx context.Context, companyID payroll.CompanyID, codes []payroll.RuleCode) error {
	return s.tx.WithinReadWrite(ctx, func(ctx context.Context) error {
		q := queryerFrom(ctx, s.pool)
		if _, err := q.Exec(ctx,
			`UPDATE company_rules SET enabled = FALSE WHERE company_id = $1`, companyID); err != nil {
			return fmt.Errorf("disable company rules: %w", err)
		}
		for _, code := range payroll.EnsureBaseRule(codes) {
			if _, err := q.Exec(ctx, `
				INSERT INTO company_rules (company_id, rule_code, enabled)
				VALUES ($1, $2, TRUE)
				ON CONFLICT (company_id, rule_code) DO UPDATE SET enabled = TRUE`,
				companyID, code); err != nil {
				return fmt.Errorf("enable rule %s: %w", code, err)
			}
		}
		return nil
	})
}

// =============================================================================
// ACCESS CONTROL
// =============================================================================

func (s *Store) EditLimit(ctx context.Context, userID payroll.UserID) (payroll.EditLimit, error) {
	var limit payroll.EditLimit
	err := queryerFrom(ctx, s.pool).QueryRow(ctx, `
		SELECT us.work_entries_days_limit_override, r.work_entries_days_limit
		  FROM users u
		  LEFT JOIN user_settings us ON us.user_id = u.id
		  LEFT JOIN roles r ON r.id = u.role_id
		 WHERE u.id = $1`, userID).Scan(&limit.Override, &limit.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return payroll.EditLimit{}, nil
	}
	if err != nil {
		return payroll.EditLimit{}, fmt.Errorf("select edit limit for user %d: %w", userID, err)
	}
	return limit, nil
}

func (s *Store) HasPermission(ctx context.Context, userID payroll.UserID, code string) (bool, error) {
	var ok bool
	err := queryerFrom(ctx, s.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			  FROM users u
			  JOIN roles r ON r.id = u.role_id
			  JOIN role_permissions rp ON rp.role_id = r.id
			  JOIN permissions p ON p.id = rp.permission_id
			 WHERE u.id = $1 AND p.code = $2 AND COALESCE(p.is_active, FALSE) = TRUE
		)`, userID, code).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check permission %s for user %d: %w", code, userID, err)
	}
	return ok, nil
}

// =============================================================================
// MONTH TOTALS
// =============================================================================

func (s *Store) PersistedMonthTotal(ctx context.Context, companyID payroll.CompanyID, workerID payroll.WorkerID, month generic.MonthKey) (decimal.Decimal, error) {
	period, err := month.Period()
	if err != nil {
		return decimal.Zero, err
	}
	var total decimal.Decimal
	err = queryerFrom(ctx, s.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(customer_total), 0)::text
		  FROM work_entries
		 WHERE company_id = $1 AND worker_id = $2
		   AND work_date >= $3 AND work_date < $4`,
		companyID, workerID, period.Start.Time, period.EndExclusive().Time).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum month %s for worker %d: %w", month, workerID, err)
	}
	return total, nil
}

// =============================================================================
// ENTRIES
// =============================================================================

const entrySelect = `
	SELECT e.id, e.company_id, e.worker_id, COALESCE(w.worker_code, ''), e.job_id, e.job_code,
	       e.amount::text, to_char(e.work_date, 'YYYY-MM-DD'), e.job_no1, e.job_no2, e.is_bank, e.note,
	       e.fees_collected::text, e.customer_rate::text, e.customer_total::text,
	       e.wage_tier_id, e.wage_rate::text, e.wage_total::text, e.created_at, e.updated_at
	  FROM work_entries e
	  LEFT JOIN workers w ON w.id = e.worker_id`

func scanEntry(row pgx.Row) (payroll.Entry, error) {
	var e payroll.Entry
	err := row.Scan(
		&e.ID, &e.CompanyID, &e.WorkerID, &e.WorkerCode, &e.JobID, &e.JobCode,
		&e.Amount, &e.WorkDate, &e.JobNo1, &e.JobNo2, &e.IsBank, &e.Note,
		&e.FeesCollected, &e.CustomerRate, &e.CustomerTotal,
		&e.WageTierID, &e.WageRate, &e.WageTotal, &e.CreatedAt, &e.UpdatedAt,
	)
	return e, err
}

func workDate(e payroll.Entry) (time.Time, error) {
	d, err := e.Date()
	if err != nil {
		return time.Time{}, err
	}
	return d.Time, nil
}

// WithTx runs fn in a read-write transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx payroll.EntryTx) error) error {
	return s.tx.WithinReadWrite(ctx, func(txCtx context.Context) error {
		tx, _ := txFromContext(txCtx)
		return fn(&txStore{store: s, tx: tx})
	})
}

// txStore binds the transaction so callers may keep using their own ctx.
type txStore struct {
	store *Store
	tx    pgx.Tx
}

func (t *txStore) bind(ctx context.Context) context.Context {
	return context.WithValue(ctx, txContextKey{}, t.tx)
}

func (t *txStore) JobByCode(ctx context.Context, companyID payroll.CompanyID, code string) (payroll.Job, error) {
	return t.store.JobByCode(t.bind(ctx), companyID, code)
}

func (t *txStore) InsertEntry(ctx context.Context, e payroll.Entry) (payroll.EntryID, error) {
	return t.store.insertEntry(t.bind(ctx), e)
}

func (s *Store) insertEntry(ctx context.Context, e payroll.Entry) (payroll.EntryID, error) {
	date, err := workDate(e)
	if err != nil {
		return 0, err
	}
	var id payroll.EntryID
	err = queryerFrom(ctx, s.pool).QueryRow(ctx, `
		INSERT INTO work_entries (
			company_id, worker_id, job_id, job_code, amount, work_date, job_no1, job_no2,
			is_bank, note, fees_collected, customer_rate, customer_total,
			wage_tier_id, wage_rate, wage_total
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`,
		e.CompanyID, e.WorkerID, e.JobID, e.JobCode, e.Amount, date, e.JobNo1, e.JobNo2,
		e.IsBank, e.Note, e.Fees(), e.CustomerRate, e.CustomerTotal,
		e.WageTierID, e.WageRate, e.WageTotal,
	).Scan(&id)
	if err != nil {
		return 0, translatePgError(err, fmt.Sprintf("job_no1 %q", e.JobNo1))
	}
	return id, nil
}

func (s *Store) GetEntry(ctx context.Context, companyID payroll.CompanyID, id payroll.EntryID) (payroll.Entry, error) {
	e, err := scanEntry(queryerFrom(ctx, s.pool).QueryRow(ctx,
		entrySelect+` WHERE e.id = $1 AND e.company_id = $2`, id, companyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return payroll.Entry{}, notFound("entry", id)
	}
	return e, err
}

func (s *Store) UpdateEntry(ctx context.Context, e payroll.Entry) error {
	date, err := workDate(e)
	if err != nil {
		return err
	}
	tag, err := queryerFrom(ctx, s.pool).Exec(ctx, `
		UPDATE work_entries
		   SET worker_id = $1, job_id = $2, job_code = $3, amount = $4, work_date = $5,
		       job_no1 = $6, job_no2 = $7, is_bank = $8, note = $9, fees_collected = $10,
		       customer_rate = $11, customer_total = $12, wage_tier_id = $13,
		       wage_rate = $14, wage_total = $15, updated_at = NOW()
		 WHERE id = $16 AND company_id = $17`,
		e.WorkerID, e.JobID, e.JobCode, e.Amount, date,
		e.JobNo1, e.JobNo2, e.IsBank, e.Note, e.Fees(),
		e.CustomerRate, e.CustomerTotal, e.WageTierID,
		e.WageRate, e.WageTotal, e.ID, e.CompanyID,
	)
	if err != nil {
		return translatePgError(err, fmt.Sprintf("job_no1 %q", e.JobNo1))
	}
	if tag.RowsAffected() == 0 {
		return notFound("entry", e.ID)
	}
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, companyID payroll.CompanyID, id payroll.EntryID) error {
	tag, err := queryerFrom(ctx, s.pool).Exec(ctx,
		`DELETE FROM work_entries WHERE id = $1 AND company_id = $2`, id, companyID)
	if err != nil {
		return fmt.Errorf("delete entry %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("entry", id)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, companyID payroll.CompanyID, filter payroll.EntryFilter) ([]payroll.Entry, error) {
	query := entrySelect + ` WHERE e.company_id = $1`
	args := []any{companyID}
	if !filter.From.IsZero() {
		args = append(args, filter.From.Time)
		query += fmt.Sprintf(` AND e.work_date >= $%d`, len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To.Time)
		query += fmt.Sprintf(` AND e.work_date <= $%d`, len(args))
	}
	query += ` ORDER BY e.work_date DESC, e.id DESC`

	rows, err := queryerFrom(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
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
