package plans

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/domain"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
	"github.com/platinummonkey/gatekeeper/pkg/storage/memory"
)

type countingStore struct {
	storage.PlanStore
	gets atomic.Int64
}

func (s *countingStore) GetPlan(ctx context.Context, id int64) (*domain.Plan, error) {
	s.gets.Add(1)
	return s.PlanStore.GetPlan(ctx, id)
}

func newCatalog(t *testing.T) (*Catalog, *countingStore, *observability.Metrics) {
	t.Helper()
	store := &countingStore{PlanStore: memory.New()}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := observability.NewLogger("error", "json", io.Discard)
	return NewCatalog(store, Config{Size: 16, TTL: time.Minute}, logger, metrics), store, metrics
}

func TestCreatePlanValidation(t *testing.T) {
	catalog, _, _ := newCatalog(t)
	ctx := context.Background()

	err := catalog.CreatePlan(ctx, &domain.Plan{Name: "  ", UsageLimit: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = catalog.CreatePlan(ctx, &domain.Plan{Name: "basic", UsageLimit: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	require.NoError(t, catalog.CreatePlan(ctx, &domain.Plan{Name: "basic", UsageLimit: 10}))
	err = catalog.CreatePlan(ctx, &domain.Plan{Name: "basic", UsageLimit: 20})
	var dup *domain.DuplicateNameError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "basic", dup.Name)
}

func TestGetPlanCaches(t *testing.T) {
	catalog, store, metrics := newCatalog(t)
	ctx := context.Background()

	plan := &domain.Plan{Name: "basic", UsageLimit: 10}
	require.NoError(t, catalog.CreatePlan(ctx, plan))

	for i := 0; i < 3; i++ {
		got, err := catalog.GetPlan(ctx, plan.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(10), got.UsageLimit)
	}
	assert.Equal(t, int64(1), store.gets.Load())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.PlanCacheHitsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PlanCacheMissesTotal))

	got, err := catalog.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	got.UsageLimit = 999
	again, err := catalog.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), again.UsageLimit, "cached plan must not be mutated through returned copies")
}

func TestUpdateInvalidatesCache(t *testing.T) {
	catalog, _, _ := newCatalog(t)
	ctx := context.Background()

	plan := &domain.Plan{Name: "basic", UsageLimit: 10}
	require.NoError(t, catalog.CreatePlan(ctx, plan))
	_, err := catalog.GetPlan(ctx, plan.ID)
	require.NoError(t, err)

	plan.UsageLimit = 50
	require.NoError(t, catalog.UpdatePlan(ctx, plan))

	got, err := catalog.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.UsageLimit)
}

func TestGrantInvalidatesCache(t *testing.T) {
	catalog, _, _ := newCatalog(t)
	ctx := context.Background()

	plan := &domain.Plan{Name: "basic", UsageLimit: 10}
	require.NoError(t, catalog.CreatePlan(ctx, plan))
	perm := &domain.Permission{Name: "search", Endpoint: "/api/cloud-service-4/search"}
	require.NoError(t, catalog.CreatePermission(ctx, perm))

	_, err := catalog.GetPlan(ctx, plan.ID)
	require.NoError(t, err)

	require.NoError(t, catalog.GrantPermission(ctx, plan.ID, perm.ID))
	got, err := catalog.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, got.Permissions, 1)
	assert.Equal(t, "search", got.Permissions[0].Name)

	require.NoError(t, catalog.DeletePermission(ctx, perm.ID))
	got, err = catalog.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Permissions)
}

func TestDeletePlanInvalidatesCache(t *testing.T) {
	catalog, _, _ := newCatalog(t)
	ctx := context.Background()

	plan := &domain.Plan{Name: "basic", UsageLimit: 10}
	require.NoError(t, catalog.CreatePlan(ctx, plan))
	_, err := catalog.GetPlan(ctx, plan.ID)
	require.NoError(t, err)

	require.NoError(t, catalog.DeletePlan(ctx, plan.ID, false))
	_, err = catalog.GetPlan(ctx, plan.ID)
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)
}

func TestConcurrentMissesShareOneRead(t *testing.T) {
	catalog, store, _ := newCatalog(t)
	ctx := context.Background()

	plan := &domain.Plan{Name: "basic", UsageLimit: 10}
	require.NoError(t, catalog.CreatePlan(ctx, plan))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := catalog.GetPlan(ctx, plan.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, store.gets.Load(), int64(20))
	assert.GreaterOrEqual(t, store.gets.Load(), int64(1))
}

type stallingStore struct {
	storage.PlanStore
	stallNext atomic.Bool
	loaded    chan struct{}
	release   chan struct{}
}

// GetPlan reads the plan and then, once, waits for release before returning it.
func (s *stallingStore) GetPlan(ctx context.Context, id int64) (*domain.Plan, error) {
	plan, err := s.PlanStore.GetPlan(ctx, id)
	if s.stallNext.CompareAndSwap(true, false) {
		close(s.loaded)
		<-s.release
	}
	return plan, err
}

func TestUpdateDuringLoadIsNotCachedStale(t *testing.T) {
	store := &stallingStore{
		PlanStore: memory.New(),
		loaded:    make(chan struct{}),
		release:   make(chan struct{}),
	}
	logger := observability.NewLogger("error", "json", io.Discard)
	catalog := NewCatalog(store, Config{Size: 16, TTL: time.Minute}, logger, nil)
	ctx := context.Background()

	plan := &domain.Plan{Name: "basic", UsageLimit: 10}
	require.NoError(t, catalog.CreatePlan(ctx, plan))

	store.stallNext.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		got, err := catalog.GetPlan(ctx, plan.ID)
		assert.NoError(t, err)
		assert.Equal(t, int64(10), got.UsageLimit)
	}()
	<-store.loaded

	updated := &domain.Plan{ID: plan.ID, Name: "basic", UsageLimit: 50}
	require.NoError(t, catalog.UpdatePlan(ctx, updated))
	close(store.release)
	<-done

	got, err := catalog.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.UsageLimit)
}

func TestSeed(t *testing.T) {
	catalog, _, _ := newCatalog(t)
	ctx := context.Background()

	seed, err := config.ParseSeed([]byte(`
permissions:
  - name: payments
    endpoint: /api/cloud-service-1/payment
  - name: search
    endpoint: /api/cloud-service-4/search
plans:
  - name: basic
    usage_limit: 3
    permissions: [search]
  - name: pro
    usage_limit: 100
    permissions: [payments, search]
`))
	require.NoError(t, err)

	require.NoError(t, catalog.Seed(ctx, seed))
	require.NoError(t, catalog.Seed(ctx, seed))

	plans, err := catalog.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 2)

	pro, err := catalog.GetPlanByName(ctx, "pro")
	require.NoError(t, err)
	assert.Equal(t, int64(100), pro.UsageLimit)
	assert.Len(t, pro.Permissions, 2)

	perms, err := catalog.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, perms, 2)
}
