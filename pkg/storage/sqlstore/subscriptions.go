package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
)

const subscriptionColumns = `id, user_id, plan_id, usage_count, is_active, start_date, end_date`

func scanSubscription(row interface{ Scan(...interface{}) error }) (*domain.Subscription, error) {
	sub := &domain.Subscription{}
	var endDate sql.NullTime
	err := row.Scan(&sub.ID, &sub.UserID, &sub.PlanID, &sub.UsageCount, &sub.IsActive, &sub.StartDate, &endDate)
	if err != nil {
		return nil, err
	}
	if endDate.Valid {
		t := endDate.Time
		sub.EndDate = &t
	}
	return sub, nil
}

// CreateSubscription subscribes a user to a plan. The partial unique index on active
// subscriptions rejects a second active subscription for the same user.
func (s *Store) CreateSubscription(ctx context.Context, userID, planID int64) (*domain.Subscription, error) {
	var sub *domain.Subscription
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int64
		err := tx.QueryRowContext(ctx, s.q(`SELECT id FROM plans WHERE id = $1`+s.dialect.ForShare), planID).Scan(&exists)
		if err == sql.ErrNoRows {
			return &domain.PlanNotFoundError{PlanID: planID}
		}
		if err != nil {
			return fmt.Errorf("failed to get plan: %w", err)
		}

		var id int64
		query := `
			INSERT INTO subscriptions (user_id, plan_id, usage_count, is_active, start_date)
			VALUES ($1, $2, 0, TRUE, $3)
			RETURNING id
		`
		err = tx.QueryRowContext(ctx, s.q(query), userID, planID, s.now()).Scan(&id)
		if err != nil {
			if isUniqueViolation(err) {
				return &domain.AlreadySubscribedError{UserID: userID}
			}
			return fmt.Errorf("failed to create subscription: %w", err)
		}
		sub, err = s.getSubscription(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// GetSubscription retrieves a subscription by id
func (s *Store) GetSubscription(ctx context.Context, id int64) (*domain.Subscription, error) {
	return s.getSubscription(ctx, s.db, id)
}

func (s *Store) getSubscription(ctx context.Context, q querier, id int64) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	sub, err := scanSubscription(q.QueryRowContext(ctx, s.q(query), id))
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Resource: "subscription", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// GetActiveSubscription retrieves the user's active subscription
func (s *Store) GetActiveSubscription(ctx context.Context, userID int64) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1 AND is_active = TRUE`
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, s.q(query), userID))
	if err == sql.ErrNoRows {
		return nil, &domain.NoSubscriptionError{UserID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions returns every subscription ordered by id
func (s *Store) ListSubscriptions(ctx context.Context) ([]*domain.Subscription, error) {
	return s.listSubscriptions(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY id`)
}

// ListDanglingSubscriptions returns subscriptions whose plan row is missing
func (s *Store) ListDanglingSubscriptions(ctx context.Context) ([]*domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + ` FROM subscriptions s
		WHERE NOT EXISTS (SELECT 1 FROM plans p WHERE p.id = s.plan_id)
		ORDER BY s.id
	`
	return s.listSubscriptions(ctx, query)
}

func (s *Store) listSubscriptions(ctx context.Context, query string) ([]*domain.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]*domain.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ChangePlan moves a subscription to another plan and resets its usage
func (s *Store) ChangePlan(ctx context.Context, id, planID int64) (*domain.Subscription, error) {
	var sub *domain.Subscription
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int64
		err := tx.QueryRowContext(ctx, s.q(`SELECT id FROM plans WHERE id = $1`+s.dialect.ForShare), planID).Scan(&exists)
		if err == sql.ErrNoRows {
			return &domain.PlanNotFoundError{PlanID: planID}
		}
		if err != nil {
			return fmt.Errorf("failed to get plan: %w", err)
		}

		result, err := tx.ExecContext(ctx, s.q(`UPDATE subscriptions SET plan_id = $1, usage_count = 0 WHERE id = $2`), planID, id)
		if err != nil {
			return fmt.Errorf("failed to change plan: %w", err)
		}
		if err := expectRow(result, &domain.NotFoundError{Resource: "subscription", ID: id}); err != nil {
			return err
		}
		sub, err = s.getSubscription(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Deactivate marks a subscription inactive. The first deactivation's end_date is kept.
func (s *Store) Deactivate(ctx context.Context, id int64) (*domain.Subscription, error) {
	var sub *domain.Subscription
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE subscriptions SET is_active = FALSE, end_date = COALESCE(end_date, $1) WHERE id = $2`
		result, err := tx.ExecContext(ctx, s.q(query), s.now(), id)
		if err != nil {
			return fmt.Errorf("failed to deactivate subscription: %w", err)
		}
		if err := expectRow(result, &domain.NotFoundError{Resource: "subscription", ID: id}); err != nil {
			return err
		}
		sub, err = s.getSubscription(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// DeleteSubscription deletes a subscription. Audit entries for its user block the
// delete unless force is set, in which case they are removed first.
func (s *Store) DeleteSubscription(ctx context.Context, id int64, force bool) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var userID int64
		err := tx.QueryRowContext(ctx, s.q(`SELECT user_id FROM subscriptions WHERE id = $1`+s.dialect.ForUpdate), id).Scan(&userID)
		if err == sql.ErrNoRows {
			return &domain.NotFoundError{Resource: "subscription", ID: id}
		}
		if err != nil {
			return fmt.Errorf("failed to get subscription: %w", err)
		}

		var dependents int64
		query := `SELECT (SELECT COUNT(*) FROM usage_audit WHERE user_id = $1) + (SELECT COUNT(*) FROM payment_audit WHERE user_id = $1)`
		if err := tx.QueryRowContext(ctx, s.q(query), userID).Scan(&dependents); err != nil {
			return fmt.Errorf("failed to count audit entries: %w", err)
		}
		if dependents > 0 {
			if !force {
				return &domain.HasDependentsError{Resource: "subscription", ID: id, Dependents: dependents}
			}
			for _, stmt := range []string{
				`DELETE FROM usage_audit WHERE user_id = $1`,
				`DELETE FROM payment_audit WHERE user_id = $1`,
			} {
				if _, err := tx.ExecContext(ctx, s.q(stmt), userID); err != nil {
					return fmt.Errorf("failed to delete audit entries: %w", err)
				}
			}
		}

		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM subscriptions WHERE id = $1`), id); err != nil {
			return fmt.Errorf("failed to delete subscription: %w", err)
		}
		return nil
	})
}
