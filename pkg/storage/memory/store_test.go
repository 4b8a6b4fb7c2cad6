package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
	"github.com/platinummonkey/gatekeeper/pkg/storage/storetest"
)

func TestStoreSuite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store { return New() })
}

func TestWithClock(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	p := &domain.Plan{Name: "basic", UsageLimit: 1}
	require.NoError(t, s.CreatePlan(ctx, p))
	sub, err := s.CreateSubscription(ctx, 1, p.ID)
	require.NoError(t, err)
	assert.Equal(t, fixed, sub.StartDate)

	sub, err = s.Deactivate(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, fixed, *sub.EndDate)
}

func TestListDanglingSubscriptions(t *testing.T) {
	s := New()
	ctx := context.Background()

	p := &domain.Plan{Name: "basic", UsageLimit: 1}
	require.NoError(t, s.CreatePlan(ctx, p))
	sub, err := s.CreateSubscription(ctx, 1, p.ID)
	require.NoError(t, err)

	dangling, err := s.ListDanglingSubscriptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, dangling)

	// Drop the plan underneath the subscription.
	s.mu.Lock()
	delete(s.plans, p.ID)
	s.mu.Unlock()

	dangling, err = s.ListDanglingSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, dangling, 1)
	assert.Equal(t, sub.ID, dangling[0].ID)

	err = s.WithActiveSubscription(ctx, 1, func(ctx context.Context, tx storage.QuotaTx) error {
		_, err := tx.Plan(ctx)
		return err
	})
	var pnf *domain.PlanNotFoundError
	require.True(t, errors.As(err, &pnf))
	assert.True(t, pnf.Dangling())
	assert.Equal(t, sub.ID, pnf.SubscriptionID)
}

func TestWithActiveSubscription_CanceledContext(t *testing.T) {
	s := New()
	ctx := context.Background()

	p := &domain.Plan{Name: "basic", UsageLimit: 5}
	require.NoError(t, s.CreatePlan(ctx, p))
	sub, err := s.CreateSubscription(ctx, 1, p.ID)
	require.NoError(t, err)

	cctx, cancel := context.WithCancel(ctx)
	err = s.WithActiveSubscription(cctx, 1, func(ctx context.Context, tx storage.QuotaTx) error {
		_, err := tx.IncrementUsage(ctx, p.UsageLimit)
		cancel()
		return err
	})
	assert.ErrorIs(t, err, context.Canceled)

	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UsageCount)
}
