package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/rate-engine/generic"
	"github.com/warp/rate-engine/payroll"
)

// =============================================================================
// ROLES & PERMISSIONS
// =============================================================================

// Role is a named permission bundle with an optional edit-days limit.
type Role struct {
	ID        int64
	Code      string
	Name      string
	DaysLimit *int
}

// SavePermission upserts a permission code.
func (s *Store) SavePermission(ctx context.Context, code, description string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (code, description, is_active) VALUES (?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET description = excluded.description, is_active = excluded.is_active`,
		code, description, active)
	return err
}

// CreateRole inserts a role and returns its id.
func (s *Store) CreateRole(ctx context.Context, r Role) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO roles (code, name, work_entries_days_limit) VALUES (?, ?, ?)`,
		r.Code, r.Name, nullInt(r.DaysLimit))
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, fmt.Errorf("role %s: %w", r.Code, generic.ErrDuplicate)
		}
		return 0, err
	}
	return res.LastInsertId()
}

// GrantRolePermissions attaches permission codes to a role. Unknown codes are
// an error.
func (s *Store) GrantRolePermissions(ctx context.Context, roleID int64, codes ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, code := range codes {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO role_permissions (role_id, permission_id)
			SELECT ?, id FROM permissions WHERE code = ?`, roleID, code)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM permissions WHERE code = ?`, code).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return notFound("permission", code)
			}
			if err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// =============================================================================
// USERS
// =============================================================================

// CreateUser inserts a user. roleID zero means no role.
func (s *Store) CreateUser(ctx context.Context, username string, roleID int64, isAdmin bool) (payroll.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	role := sql.NullInt64{Int64: roleID, Valid: roleID != 0}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, role_id, is_admin) VALUES (?, ?, ?)`,
		username, role, isAdmin)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, fmt.Errorf("user %s: %w", username, generic.ErrDuplicate)
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	return payroll.UserID(id), err
}

// SetDaysOverride sets or clears (nil) a user's edit-days override.
func (s *Store) SetDaysOverride(ctx context.Context, userID payroll.UserID, days *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, work_entries_days_limit_override) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET work_entries_days_limit_override = excluded.work_entries_days_limit_override`,
		userID, nullInt(days))
	return err
}

// IsAdmin reports the user's admin flag.
func (s *Store) IsAdmin(ctx context.Context, userID payroll.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var admin bool
	err := s.db.QueryRowContext(ctx, `SELECT is_admin FROM users WHERE id = ?`, userID).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, notFound("user", userID)
	}
	return admin, err
}

// =============================================================================
// ACCESS CONTROL
// =============================================================================

// EditLimit returns the user's override and role limit. An unknown user has
// no limits; the caller decides what that means.
func (s *Store) EditLimit(ctx context.Context, userID payroll.UserID) (payroll.EditLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var override, role sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT us.work_entries_days_limit_override, r.work_entries_days_limit
		FROM users u
		LEFT JOIN user_settings us ON us.user_id = u.id
		LEFT JOIN roles r ON r.id = u.role_id
		WHERE u.id = ?`, userID).Scan(&override, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.EditLimit{}, nil
	}
	if err != nil {
		return payroll.EditLimit{}, err
	}
	return payroll.EditLimit{Override: intPtr(override), Role: intPtr(role)}, nil
}

func (s *Store) HasPermission(ctx context.Context, userID payroll.UserID, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1
		FROM users u
		JOIN roles r ON r.id = u.role_id
		JOIN role_permissions rp ON rp.role_id = r.id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE u.id = ? AND p.code = ? AND COALESCE(p.is_active, FALSE) = TRUE
		LIMIT 1`, userID, code).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
