package memory

import (
	"context"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// WithActiveSubscription holds the user's lock for the duration of fn. Increments and
// audit entries are buffered on the transaction and applied only when fn returns nil.
func (s *Store) WithActiveSubscription(ctx context.Context, userID int64, fn func(ctx context.Context, tx storage.QuotaTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	active := s.activeFor(userID)
	var sub domain.Subscription
	if active != nil {
		sub = *active
	}
	s.mu.RUnlock()
	if active == nil {
		return &domain.NoSubscriptionError{UserID: userID}
	}

	tx := &quotaTx{store: s, sub: sub}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

type quotaTx struct {
	store      *Store
	sub        domain.Subscription
	increments int64
	entries    []*domain.UsageAuditEntry
}

func (tx *quotaTx) Subscription() *domain.Subscription {
	c := tx.sub
	return &c
}

func (tx *quotaTx) Plan(ctx context.Context) (*domain.Plan, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	p, ok := tx.store.plans[tx.sub.PlanID]
	if !ok {
		return nil, &domain.PlanNotFoundError{PlanID: tx.sub.PlanID, SubscriptionID: tx.sub.ID}
	}
	return tx.store.planCopy(p), nil
}

func (tx *quotaTx) IncrementUsage(ctx context.Context, limit int64) (int64, error) {
	current := tx.sub.UsageCount + tx.increments
	if current >= limit {
		return current, &domain.QuotaExceededError{UserID: tx.sub.UserID, Usage: current, Limit: limit}
	}
	tx.increments++
	return current + 1, nil
}

func (tx *quotaTx) AppendUsage(ctx context.Context, entry *domain.UsageAuditEntry) error {
	tx.entries = append(tx.entries, entry)
	return nil
}

func (tx *quotaTx) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.subscriptions[tx.sub.ID]
	if !ok || !stored.IsActive {
		return &domain.NoSubscriptionError{UserID: tx.sub.UserID}
	}
	stored.UsageCount += tx.increments
	for _, e := range tx.entries {
		s.appendUsageLocked(e)
	}
	return nil
}
