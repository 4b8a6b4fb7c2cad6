package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// WithActiveSubscription reads the user's active subscription with a row lock and runs
// fn inside the same transaction.
func (s *Store) WithActiveSubscription(ctx context.Context, userID int64, fn func(ctx context.Context, tx storage.QuotaTx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1 AND is_active = TRUE` + s.dialect.ForUpdate
		sub, err := scanSubscription(tx.QueryRowContext(ctx, s.q(query), userID))
		if err == sql.ErrNoRows {
			return &domain.NoSubscriptionError{UserID: userID}
		}
		if err != nil {
			return fmt.Errorf("failed to lock subscription: %w", err)
		}
		return fn(ctx, &quotaTx{store: s, tx: tx, sub: sub})
	})
}

type quotaTx struct {
	store *Store
	tx    *sql.Tx
	sub   *domain.Subscription
}

func (t *quotaTx) Subscription() *domain.Subscription {
	c := *t.sub
	return &c
}

func (t *quotaTx) Plan(ctx context.Context) (*domain.Plan, error) {
	plan, err := t.store.getPlan(ctx, t.tx, t.sub.PlanID)
	var pnf *domain.PlanNotFoundError
	if errors.As(err, &pnf) {
		return nil, &domain.PlanNotFoundError{PlanID: t.sub.PlanID, SubscriptionID: t.sub.ID}
	}
	return plan, err
}

// IncrementUsage guards the update with usage_count < limit so the counter can never
// pass the limit even without the row lock.
func (t *quotaTx) IncrementUsage(ctx context.Context, limit int64) (int64, error) {
	query := `
		UPDATE subscriptions SET usage_count = usage_count + 1
		WHERE id = $1 AND is_active = TRUE AND usage_count < $2
		RETURNING usage_count
	`
	var count int64
	err := t.tx.QueryRowContext(ctx, t.store.q(query), t.sub.ID, limit).Scan(&count)
	if err == nil {
		return count, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}

	err = t.tx.QueryRowContext(ctx, t.store.q(`SELECT usage_count FROM subscriptions WHERE id = $1`), t.sub.ID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	return count, &domain.QuotaExceededError{UserID: t.sub.UserID, Usage: count, Limit: limit}
}

func (t *quotaTx) AppendUsage(ctx context.Context, entry *domain.UsageAuditEntry) error {
	return t.store.appendUsage(ctx, t.tx, entry)
}
