package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
)

const planColumns = `id, name, description, usage_limit, created_at, updated_at`

func scanPlan(row interface{ Scan(...interface{}) error }) (*domain.Plan, error) {
	p := &domain.Plan{}
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.UsageLimit, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// CreatePlan inserts a new plan
func (s *Store) CreatePlan(ctx context.Context, plan *domain.Plan) error {
	now := s.now()
	query := `
		INSERT INTO plans (name, description, usage_limit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, s.q(query),
		plan.Name, plan.Description, plan.UsageLimit, now, now,
	).Scan(&plan.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.DuplicateNameError{Resource: "plan", Name: plan.Name}
		}
		return fmt.Errorf("failed to create plan: %w", err)
	}
	plan.CreatedAt = now
	plan.UpdatedAt = now
	return nil
}

// GetPlan retrieves a plan with its granted permissions
func (s *Store) GetPlan(ctx context.Context, id int64) (*domain.Plan, error) {
	return s.getPlan(ctx, s.db, id)
}

func (s *Store) getPlan(ctx context.Context, q querier, id int64) (*domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = $1`
	plan, err := scanPlan(q.QueryRowContext(ctx, s.q(query), id))
	if err == sql.ErrNoRows {
		return nil, &domain.PlanNotFoundError{PlanID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	perms, err := s.planPermissions(ctx, q, id)
	if err != nil {
		return nil, err
	}
	plan.Permissions = perms
	return plan, nil
}

// GetPlanByName retrieves a plan by its unique name
func (s *Store) GetPlanByName(ctx context.Context, name string) (*domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE name = $1`
	plan, err := scanPlan(s.db.QueryRowContext(ctx, s.q(query), name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("plan %q: %w", name, domain.ErrPlanNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	perms, err := s.planPermissions(ctx, s.db, plan.ID)
	if err != nil {
		return nil, err
	}
	plan.Permissions = perms
	return plan, nil
}

// ListPlans returns every plan ordered by id
func (s *Store) ListPlans(ctx context.Context) ([]*domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans := make([]*domain.Plan, 0)
	byID := make(map[int64]*domain.Plan)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	grantQuery := `
		SELECT pp.plan_id, p.id, p.name, p.endpoint, p.description, p.created_at
		FROM plan_permissions pp
		JOIN permissions p ON p.id = pp.permission_id
		ORDER BY pp.plan_id, p.id
	`
	grants, err := s.db.QueryContext(ctx, grantQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan permissions: %w", err)
	}
	defer grants.Close()

	for grants.Next() {
		var planID int64
		var perm domain.Permission
		if err := grants.Scan(&planID, &perm.ID, &perm.Name, &perm.Endpoint, &perm.Description, &perm.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan permission: %w", err)
		}
		if p, ok := byID[planID]; ok {
			p.Permissions = append(p.Permissions, perm)
		}
	}
	return plans, grants.Err()
}

// UpdatePlan updates a plan's name, description and usage limit
func (s *Store) UpdatePlan(ctx context.Context, plan *domain.Plan) error {
	now := s.now()
	query := `UPDATE plans SET name = $1, description = $2, usage_limit = $3, updated_at = $4 WHERE id = $5`
	result, err := s.db.ExecContext(ctx, s.q(query), plan.Name, plan.Description, plan.UsageLimit, now, plan.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.DuplicateNameError{Resource: "plan", Name: plan.Name}
		}
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if err := expectRow(result, &domain.PlanNotFoundError{PlanID: plan.ID}); err != nil {
		return err
	}
	plan.UpdatedAt = now
	return nil
}

// DeletePlan deletes a plan. With force, subscriptions on the plan and their users'
// audit entries are removed first.
func (s *Store) DeletePlan(ctx context.Context, id int64, force bool) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int64
		err := tx.QueryRowContext(ctx, s.q(`SELECT id FROM plans WHERE id = $1`+s.dialect.ForUpdate), id).Scan(&exists)
		if err == sql.ErrNoRows {
			return &domain.PlanNotFoundError{PlanID: id}
		}
		if err != nil {
			return fmt.Errorf("failed to get plan: %w", err)
		}

		var dependents int64
		err = tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM subscriptions WHERE plan_id = $1`), id).Scan(&dependents)
		if err != nil {
			return fmt.Errorf("failed to count subscriptions: %w", err)
		}
		if dependents > 0 && !force {
			return &domain.HasDependentsError{Resource: "plan", ID: id, Dependents: dependents}
		}

		stmts := []string{
			`DELETE FROM usage_audit WHERE user_id IN (SELECT user_id FROM subscriptions WHERE plan_id = $1)`,
			`DELETE FROM payment_audit WHERE user_id IN (SELECT user_id FROM subscriptions WHERE plan_id = $1)`,
			`DELETE FROM subscriptions WHERE plan_id = $1`,
			`DELETE FROM plan_permissions WHERE plan_id = $1`,
			`DELETE FROM plans WHERE id = $1`,
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, s.q(stmt), id); err != nil {
				return fmt.Errorf("failed to delete plan: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) planPermissions(ctx context.Context, q querier, planID int64) ([]domain.Permission, error) {
	query := `
		SELECT p.id, p.name, p.endpoint, p.description, p.created_at
		FROM permissions p
		JOIN plan_permissions pp ON pp.permission_id = p.id
		WHERE pp.plan_id = $1
		ORDER BY p.id
	`
	rows, err := q.QueryContext(ctx, s.q(query), planID)
	if err != nil {
		return nil, fmt.Errorf("failed to get plan permissions: %w", err)
	}
	defer rows.Close()

	var perms []domain.Permission
	for rows.Next() {
		var perm domain.Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Endpoint, &perm.Description, &perm.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// CreatePermission inserts a new permission
func (s *Store) CreatePermission(ctx context.Context, perm *domain.Permission) error {
	now := s.now()
	query := `
		INSERT INTO permissions (name, endpoint, description, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, s.q(query), perm.Name, perm.Endpoint, perm.Description, now).Scan(&perm.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.DuplicateNameError{Resource: "permission", Name: perm.Name}
		}
		return fmt.Errorf("failed to create permission: %w", err)
	}
	perm.CreatedAt = now
	return nil
}

// GetPermission retrieves a permission by id
func (s *Store) GetPermission(ctx context.Context, id int64) (*domain.Permission, error) {
	query := `SELECT id, name, endpoint, description, created_at FROM permissions WHERE id = $1`
	perm := &domain.Permission{}
	err := s.db.QueryRowContext(ctx, s.q(query), id).Scan(&perm.ID, &perm.Name, &perm.Endpoint, &perm.Description, &perm.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Resource: "permission", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return perm, nil
}

// ListPermissions returns every permission ordered by id
func (s *Store) ListPermissions(ctx context.Context) ([]*domain.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, endpoint, description, created_at FROM permissions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	perms := make([]*domain.Permission, 0)
	for rows.Next() {
		perm := &domain.Permission{}
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Endpoint, &perm.Description, &perm.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// UpdatePermission updates a permission's fields
func (s *Store) UpdatePermission(ctx context.Context, perm *domain.Permission) error {
	query := `UPDATE permissions SET name = $1, endpoint = $2, description = $3 WHERE id = $4`
	result, err := s.db.ExecContext(ctx, s.q(query), perm.Name, perm.Endpoint, perm.Description, perm.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.DuplicateNameError{Resource: "permission", Name: perm.Name}
		}
		return fmt.Errorf("failed to update permission: %w", err)
	}
	return expectRow(result, &domain.NotFoundError{Resource: "permission", ID: perm.ID})
}

// DeletePermission deletes a permission and its grants
func (s *Store) DeletePermission(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM plan_permissions WHERE permission_id = $1`), id); err != nil {
			return fmt.Errorf("failed to revoke permission: %w", err)
		}
		result, err := tx.ExecContext(ctx, s.q(`DELETE FROM permissions WHERE id = $1`), id)
		if err != nil {
			return fmt.Errorf("failed to delete permission: %w", err)
		}
		return expectRow(result, &domain.NotFoundError{Resource: "permission", ID: id})
	})
}

// GrantPermission grants a permission to a plan. Granting twice is a no-op.
func (s *Store) GrantPermission(ctx context.Context, planID, permissionID int64) error {
	if _, err := s.GetPlan(ctx, planID); err != nil {
		return err
	}
	if _, err := s.GetPermission(ctx, permissionID); err != nil {
		return err
	}
	query := `INSERT INTO plan_permissions (plan_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := s.db.ExecContext(ctx, s.q(query), planID, permissionID); err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}
	return nil
}

// RevokePermission removes a permission grant from a plan
func (s *Store) RevokePermission(ctx context.Context, planID, permissionID int64) error {
	if _, err := s.GetPlan(ctx, planID); err != nil {
		return err
	}
	query := `DELETE FROM plan_permissions WHERE plan_id = $1 AND permission_id = $2`
	if _, err := s.db.ExecContext(ctx, s.q(query), planID, permissionID); err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}
	return nil
}
