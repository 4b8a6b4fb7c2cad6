// Package storetest is a behavioural test suite shared by every storage.Store backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// Factory returns a fresh, empty store. Cleanup is the factory's responsibility.
type Factory func(t *testing.T) storage.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("PlanCRUD", func(t *testing.T) { testPlanCRUD(t, newStore(t)) })
	t.Run("Permissions", func(t *testing.T) { testPermissions(t, newStore(t)) })
	t.Run("SubscriptionLifecycle", func(t *testing.T) { testSubscriptionLifecycle(t, newStore(t)) })
	t.Run("DeleteSubscription", func(t *testing.T) { testDeleteSubscription(t, newStore(t)) })
	t.Run("DeletePlan", func(t *testing.T) { testDeletePlan(t, newStore(t)) })
	t.Run("QuotaTransaction", func(t *testing.T) { testQuotaTransaction(t, newStore(t)) })
	t.Run("QuotaRollback", func(t *testing.T) { testQuotaRollback(t, newStore(t)) })
	t.Run("ConcurrentIncrements", func(t *testing.T) { testConcurrentIncrements(t, newStore(t)) })
	t.Run("ConcurrentSubscribe", func(t *testing.T) { testConcurrentSubscribe(t, newStore(t)) })
	t.Run("AuditListing", func(t *testing.T) { testAuditListing(t, newStore(t)) })
}

func mustPlan(t *testing.T, s storage.Store, name string, limit int64) *domain.Plan {
	t.Helper()
	p := &domain.Plan{Name: name, Description: name + " plan", UsageLimit: limit}
	require.NoError(t, s.CreatePlan(context.Background(), p))
	require.NotZero(t, p.ID)
	return p
}

func testPlanCRUD(t *testing.T, s storage.Store) {
	ctx := context.Background()

	basic := mustPlan(t, s, "basic", 3)
	pro := mustPlan(t, s, "pro", 100)

	got, err := s.GetPlan(ctx, basic.ID)
	require.NoError(t, err)
	assert.Equal(t, "basic", got.Name)
	assert.Equal(t, int64(3), got.UsageLimit)

	byName, err := s.GetPlanByName(ctx, "pro")
	require.NoError(t, err)
	assert.Equal(t, pro.ID, byName.ID)

	err = s.CreatePlan(ctx, &domain.Plan{Name: "basic", UsageLimit: 1})
	var dup *domain.DuplicateNameError
	require.True(t, errors.As(err, &dup), "got %v", err)
	assert.Equal(t, "basic", dup.Name)

	pro.Name = "basic"
	err = s.UpdatePlan(ctx, pro)
	assert.True(t, errors.Is(err, domain.ErrDuplicateName))

	pro.Name = "professional"
	pro.UsageLimit = 250
	require.NoError(t, s.UpdatePlan(ctx, pro))
	got, err = s.GetPlan(ctx, pro.ID)
	require.NoError(t, err)
	assert.Equal(t, "professional", got.Name)
	assert.Equal(t, int64(250), got.UsageLimit)

	plans, err := s.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, basic.ID, plans[0].ID)

	_, err = s.GetPlan(ctx, 9999)
	assert.True(t, errors.Is(err, domain.ErrPlanNotFound))
	_, err = s.GetPlanByName(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrPlanNotFound))
	err = s.UpdatePlan(ctx, &domain.Plan{ID: 9999, Name: "x", UsageLimit: 1})
	assert.True(t, errors.Is(err, domain.ErrPlanNotFound))
}

func testPermissions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	plan := mustPlan(t, s, "basic", 10)

	read := &domain.Permission{Name: "storage:read", Endpoint: "/cloud-service-3", Description: "read objects"}
	require.NoError(t, s.CreatePermission(ctx, read))
	write := &domain.Permission{Name: "storage:write", Endpoint: "/cloud-service-3"}
	require.NoError(t, s.CreatePermission(ctx, write))

	err := s.CreatePermission(ctx, &domain.Permission{Name: "storage:read"})
	assert.True(t, errors.Is(err, domain.ErrDuplicateName))

	require.NoError(t, s.GrantPermission(ctx, plan.ID, read.ID))
	require.NoError(t, s.GrantPermission(ctx, plan.ID, write.ID))
	require.NoError(t, s.GrantPermission(ctx, plan.ID, write.ID))

	got, err := s.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, got.Permissions, 2)
	assert.Equal(t, "storage:read", got.Permissions[0].Name)

	require.NoError(t, s.RevokePermission(ctx, plan.ID, read.ID))
	got, err = s.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, got.Permissions, 1)

	write.Description = "write objects"
	require.NoError(t, s.UpdatePermission(ctx, write))
	gotPerm, err := s.GetPermission(ctx, write.ID)
	require.NoError(t, err)
	assert.Equal(t, "write objects", gotPerm.Description)

	require.NoError(t, s.DeletePermission(ctx, write.ID))
	got, err = s.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Permissions)

	_, err = s.GetPermission(ctx, write.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	err = s.GrantPermission(ctx, plan.ID, write.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	err = s.GrantPermission(ctx, 9999, read.ID)
	assert.True(t, errors.Is(err, domain.ErrPlanNotFound))

	perms, err := s.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, perms, 1)
}

func testSubscriptionLifecycle(t *testing.T, s storage.Store) {
	ctx := context.Background()
	basic := mustPlan(t, s, "basic", 3)
	pro := mustPlan(t, s, "pro", 10)

	_, err := s.CreateSubscription(ctx, 1, 9999)
	assert.True(t, errors.Is(err, domain.ErrPlanNotFound))

	sub, err := s.CreateSubscription(ctx, 1, basic.ID)
	require.NoError(t, err)
	assert.True(t, sub.IsActive)
	assert.Zero(t, sub.UsageCount)
	assert.False(t, sub.StartDate.IsZero())
	assert.Nil(t, sub.EndDate)

	_, err = s.CreateSubscription(ctx, 1, pro.ID)
	assert.True(t, errors.Is(err, domain.ErrAlreadySubscribed), "got %v", err)

	active, err := s.GetActiveSubscription(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, active.ID)

	_, err = s.GetActiveSubscription(ctx, 2)
	assert.True(t, errors.Is(err, domain.ErrNoSubscription))

	require.NoError(t, s.WithActiveSubscription(ctx, 1, func(ctx context.Context, tx storage.QuotaTx) error {
		_, err := tx.IncrementUsage(ctx, basic.UsageLimit)
		return err
	}))

	_, err = s.ChangePlan(ctx, sub.ID, 9999)
	assert.True(t, errors.Is(err, domain.ErrPlanNotFound))

	changed, err := s.ChangePlan(ctx, sub.ID, pro.ID)
	require.NoError(t, err)
	assert.Equal(t, pro.ID, changed.PlanID)
	assert.Zero(t, changed.UsageCount)

	first, err := s.Deactivate(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, first.IsActive)
	require.NotNil(t, first.EndDate)

	second, err := s.Deactivate(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, second.IsActive)
	require.NotNil(t, second.EndDate)
	assert.True(t, first.EndDate.Equal(*second.EndDate))

	_, err = s.GetActiveSubscription(ctx, 1)
	assert.True(t, errors.Is(err, domain.ErrNoSubscription))

	resubscribed, err := s.CreateSubscription(ctx, 1, basic.ID)
	require.NoError(t, err)
	assert.NotEqual(t, sub.ID, resubscribed.ID)

	subs, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	_, err = s.Deactivate(ctx, 9999)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = s.GetSubscription(ctx, 9999)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func testDeleteSubscription(t *testing.T, s storage.Store) {
	ctx := context.Background()
	plan := mustPlan(t, s, "basic", 3)

	clean, err := s.CreateSubscription(ctx, 1, plan.ID)
	require.NoError(t, err)
	require.NoError(t, s.DeleteSubscription(ctx, clean.ID, false))

	sub, err := s.CreateSubscription(ctx, 2, plan.ID)
	require.NoError(t, err)
	require.NoError(t, s.AppendUsage(ctx, &domain.UsageAuditEntry{UserID: 2, ServiceID: "cloud-service-1", Outcome: domain.OutcomeSuccess}))
	require.NoError(t, s.AppendPayment(ctx, &domain.PaymentAuditEntry{UserID: 2, Amount: 1000, Currency: "usd", Outcome: domain.PaymentSucceeded}))

	err = s.DeleteSubscription(ctx, sub.ID, false)
	var hd *domain.HasDependentsError
	require.True(t, errors.As(err, &hd), "got %v", err)
	assert.Equal(t, int64(2), hd.Dependents)

	_, err = s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)

	require.NoError(t, s.DeleteSubscription(ctx, sub.ID, true))
	_, err = s.GetSubscription(ctx, sub.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	usage, err := s.ListUsage(ctx, domain.AuditFilter{UserID: 2})
	require.NoError(t, err)
	assert.Empty(t, usage)
	payments, err := s.ListPayments(ctx, domain.AuditFilter{UserID: 2})
	require.NoError(t, err)
	assert.Empty(t, payments)

	err = s.DeleteSubscription(ctx, 9999, true)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func testDeletePlan(t *testing.T, s storage.Store) {
	ctx := context.Background()
	unused := mustPlan(t, s, "unused", 1)
	require.NoError(t, s.DeletePlan(ctx, unused.ID, false))
	_, err := s.GetPlan(ctx, unused.ID)
	assert.True(t, errors.Is(err, domain.ErrPlanNotFound))

	plan := mustPlan(t, s, "basic", 3)
	other := mustPlan(t, s, "other", 3)
	perm := &domain.Permission{Name: "cache"}
	require.NoError(t, s.CreatePermission(ctx, perm))
	require.NoError(t, s.GrantPermission(ctx, plan.ID, perm.ID))

	_, err = s.CreateSubscription(ctx, 1, plan.ID)
	require.NoError(t, err)
	_, err = s.CreateSubscription(ctx, 2, plan.ID)
	require.NoError(t, err)
	keep, err := s.CreateSubscription(ctx, 3, other.ID)
	require.NoError(t, err)
	require.NoError(t, s.AppendUsage(ctx, &domain.UsageAuditEntry{UserID: 1, ServiceID: "cloud-service-6", Outcome: domain.OutcomeSuccess}))
	require.NoError(t, s.AppendUsage(ctx, &domain.UsageAuditEntry{UserID: 3, ServiceID: "cloud-service-6", Outcome: domain.OutcomeSuccess}))

	err = s.DeletePlan(ctx, plan.ID, false)
	var hd *domain.HasDependentsError
	require.True(t, errors.As(err, &hd), "got %v", err)
	assert.Equal(t, int64(2), hd.Dependents)

	require.NoError(t, s.DeletePlan(ctx, plan.ID, true))
	_, err = s.GetPlan(ctx, plan.ID)
	assert.True(t, errors.Is(err, domain.ErrPlanNotFound))

	subs, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, keep.ID, subs[0].ID)

	usage, err := s.ListUsage(ctx, domain.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, int64(3), usage[0].UserID)

	_, err = s.GetPermission(ctx, perm.ID)
	require.NoError(t, err)

	err = s.DeletePlan(ctx, 9999, true)
	assert.True(t, errors.Is(err, domain.ErrPlanNotFound))
}

func testQuotaTransaction(t *testing.T, s storage.Store) {
	ctx := context.Background()
	plan := mustPlan(t, s, "basic", 2)
	sub, err := s.CreateSubscription(ctx, 7, plan.ID)
	require.NoError(t, err)

	err = s.WithActiveSubscription(ctx, 8, func(ctx context.Context, tx storage.QuotaTx) error {
		t.Fatal("callback must not run without a subscription")
		return nil
	})
	var ns *domain.NoSubscriptionError
	require.True(t, errors.As(err, &ns))
	assert.Equal(t, int64(8), ns.UserID)

	for want := int64(1); want <= 2; want++ {
		err := s.WithActiveSubscription(ctx, 7, func(ctx context.Context, tx storage.QuotaTx) error {
			assert.Equal(t, sub.ID, tx.Subscription().ID)
			p, err := tx.Plan(ctx)
			if err != nil {
				return err
			}
			n, err := tx.IncrementUsage(ctx, p.UsageLimit)
			if err != nil {
				return err
			}
			assert.Equal(t, want, n)
			return tx.AppendUsage(ctx, &domain.UsageAuditEntry{
				UserID: 7, ServiceID: "cloud-service-2", Outcome: domain.OutcomeSuccess, UsageCount: n,
			})
		})
		require.NoError(t, err)
	}

	err = s.WithActiveSubscription(ctx, 7, func(ctx context.Context, tx storage.QuotaTx) error {
		assert.Equal(t, int64(2), tx.Subscription().UsageCount)
		_, err := tx.IncrementUsage(ctx, plan.UsageLimit)
		return err
	})
	var qe *domain.QuotaExceededError
	require.True(t, errors.As(err, &qe), "got %v", err)
	assert.Equal(t, int64(2), qe.Usage)
	assert.Equal(t, int64(2), qe.Limit)

	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.UsageCount)

	usage, err := s.ListUsage(ctx, domain.AuditFilter{UserID: 7})
	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.Greater(t, usage[0].ID, usage[1].ID)
	assert.Equal(t, int64(2), usage[0].UsageCount)
}

func testQuotaRollback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	plan := mustPlan(t, s, "basic", 5)
	sub, err := s.CreateSubscription(ctx, 1, plan.ID)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithActiveSubscription(ctx, 1, func(ctx context.Context, tx storage.QuotaTx) error {
		if _, err := tx.IncrementUsage(ctx, plan.UsageLimit); err != nil {
			return err
		}
		if err := tx.AppendUsage(ctx, &domain.UsageAuditEntry{UserID: 1, ServiceID: "cloud-service-1", Outcome: domain.OutcomeSuccess}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UsageCount)

	usage, err := s.ListUsage(ctx, domain.AuditFilter{UserID: 1})
	require.NoError(t, err)
	assert.Empty(t, usage)
}

func testConcurrentIncrements(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const limit, callers = 5, 20
	plan := mustPlan(t, s, "tight", limit)
	sub, err := s.CreateSubscription(ctx, 42, plan.ID)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
		denied  int
		other   []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithActiveSubscription(ctx, 42, func(ctx context.Context, tx storage.QuotaTx) error {
				p, err := tx.Plan(ctx)
				if err != nil {
					return err
				}
				n, err := tx.IncrementUsage(ctx, p.UsageLimit)
				if err != nil {
					return err
				}
				return tx.AppendUsage(ctx, &domain.UsageAuditEntry{
					UserID: 42, ServiceID: "cloud-service-6", Outcome: domain.OutcomeSuccess, UsageCount: n,
				})
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				allowed++
			case errors.Is(err, domain.ErrQuotaExceeded):
				denied++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, limit, allowed)
	assert.Equal(t, callers-limit, denied)

	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(limit), got.UsageCount)

	usage, err := s.ListUsage(ctx, domain.AuditFilter{UserID: 42})
	require.NoError(t, err)
	assert.Len(t, usage, limit)
}

func testConcurrentSubscribe(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const callers = 16
	plan := mustPlan(t, s, "basic", 3)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		subscribed int
		duplicate  int
		other      []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateSubscription(ctx, 7, plan.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				subscribed++
			case errors.Is(err, domain.ErrAlreadySubscribed):
				duplicate++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 1, subscribed)
	assert.Equal(t, callers-1, duplicate)

	subs, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	active := 0
	for _, sub := range subs {
		if sub.UserID == 7 && sub.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func testAuditListing(t *testing.T, s storage.Store) {
	ctx := context.Background()
	services := []string{"cloud-service-1", "cloud-service-2", "cloud-service-1", "cloud-service-3"}
	for i, svc := range services {
		require.NoError(t, s.AppendUsage(ctx, &domain.UsageAuditEntry{
			UserID: int64(i%2 + 1), ServiceID: svc, Outcome: domain.OutcomeSuccess, UsageCount: int64(i + 1),
		}))
	}
	require.NoError(t, s.AppendUsage(ctx, &domain.UsageAuditEntry{
		UserID: 1, ServiceID: "cloud-service-5", Outcome: domain.OutcomeDenied, Detail: "usage limit exceeded",
	}))

	all, err := s.ListUsage(ctx, domain.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, domain.OutcomeDenied, all[0].Outcome)
	assert.Equal(t, "usage limit exceeded", all[0].Detail)
	assert.False(t, all[0].Timestamp.IsZero())

	user1, err := s.ListUsage(ctx, domain.AuditFilter{UserID: 1})
	require.NoError(t, err)
	assert.Len(t, user1, 3)

	bySvc, err := s.ListUsage(ctx, domain.AuditFilter{ServiceID: "cloud-service-1"})
	require.NoError(t, err)
	assert.Len(t, bySvc, 2)

	limited, err := s.ListUsage(ctx, domain.AuditFilter{UserID: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "cloud-service-5", limited[0].ServiceID)

	require.NoError(t, s.AppendPayment(ctx, &domain.PaymentAuditEntry{UserID: 1, Amount: 1000, Currency: "usd", Outcome: domain.PaymentFailed, Detail: "card declined"}))
	require.NoError(t, s.AppendPayment(ctx, &domain.PaymentAuditEntry{UserID: 1, Amount: 1000, Currency: "usd", Outcome: domain.PaymentSucceeded, Reference: "pi_123"}))
	payments, err := s.ListPayments(ctx, domain.AuditFilter{UserID: 1})
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, "pi_123", payments[0].Reference)
	assert.Equal(t, domain.PaymentFailed, payments[1].Outcome)
}
