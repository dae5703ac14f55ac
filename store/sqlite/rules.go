package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/warp/rate-engine/payroll"
)

// =============================================================================
// RULE CATALOG
// =============================================================================

// SyncCatalog upserts the catalog rules. Rules missing from the catalog are
// left in place so company_rules never dangles.
func (s *Store) SyncCatalog(ctx context.Context, rules []payroll.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range rules {
		params, err := json.Marshal(r.Params)
		if err != nil {
			return fmt.Errorf("rule %s params: %w", r.Code, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rules (code, name, description, is_default, params_json)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(code) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				is_default = excluded.is_default,
				params_json = excluded.params_json`,
			r.Code, r.Name, r.Description, r.IsDefault, string(params)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Catalog(ctx context.Context) ([]payroll.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT code, name, description, is_default, params_json FROM rules ORDER BY code`)
	if err != nil {
		return nil, err
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

// =============================================================================
// COMPANY RULES
// =============================================================================

func (s *Store) EnabledRules(ctx context.Context, companyID payroll.CompanyID) (payroll.RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT cr.rule_code
		FROM company_rules cr
		JOIN rules r ON r.code = cr.rule_code
		WHERE cr.company_id = ? AND cr.enabled = TRUE`, companyID)
	if err != nil {
		return nil, err
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

// SetEnabledRules disables every company rule, then enables codes.
func (s *Store) SetEnabledRules(ctx context.Context, companyID payroll.CompanyID, codes []payroll.RuleCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE company_rules SET enabled = FALSE WHERE company_id = ?`, companyID); err != nil {
		return err
	}
	for _, code := range payroll.EnsureBaseRule(codes) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO company_rules (company_id, rule_code, enabled) VALUES (?, ?, TRUE)
			ON CONFLICT(company_id, rule_code) DO UPDATE SET enabled = TRUE`,
			companyID, code); err != nil {
			return fmt.Errorf("enable rule %s: %w", code, err)
		}
	}
	return tx.Commit()
}
