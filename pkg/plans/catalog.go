package plans

import (
	"context"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// Config bounds the plan cache
type Config struct {
	Size int
	TTL  time.Duration
}

// DefaultConfig returns the default cache bounds
func DefaultConfig() Config {
	return Config{Size: 256, TTL: time.Minute}
}

// Catalog manages plans and permissions
type Catalog struct {
	store   storage.PlanStore
	cache   *lru.LRU[int64, *domain.Plan]
	group   singleflight.Group
	logger  logrus.FieldLogger
	metrics *observability.Metrics

	// gens guards against an in-flight load re-caching a plan invalidated while it ran.
	mu    sync.Mutex
	gens  map[int64]uint64
	epoch uint64
}

// NewCatalog creates a catalog over store. metrics may be nil.
func NewCatalog(store storage.PlanStore, cfg Config, logger logrus.FieldLogger, metrics *observability.Metrics) *Catalog {
	if cfg.Size <= 0 {
		cfg.Size = DefaultConfig().Size
	}
	return &Catalog{
		store:   store,
		cache:   lru.NewLRU[int64, *domain.Plan](cfg.Size, nil, cfg.TTL),
		logger:  logger,
		metrics: metrics,
		gens:    make(map[int64]uint64),
	}
}

// GetPlan returns a plan, served from cache when possible.
func (c *Catalog) GetPlan(ctx context.Context, id int64) (*domain.Plan, error) {
	if plan, ok := c.cache.Get(id); ok {
		c.metrics.RecordPlanCache(true)
		return clonePlan(plan), nil
	}
	c.metrics.RecordPlanCache(false)

	v, err, _ := c.group.Do(strconv.FormatInt(id, 10), func() (interface{}, error) {
		gen, epoch := c.generation(id)
		plan, err := c.store.GetPlan(ctx, id)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gens[id] == gen && c.epoch == epoch {
			c.cache.Add(id, plan)
		}
		c.mu.Unlock()
		return plan, nil
	})
	if err != nil {
		return nil, err
	}
	return clonePlan(v.(*domain.Plan)), nil
}

func (c *Catalog) generation(id int64) (uint64, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[id], c.epoch
}

// invalidate drops a cached plan and stops pending loads from caching their result.
func (c *Catalog) invalidate(id int64) {
	c.mu.Lock()
	c.gens[id]++
	c.mu.Unlock()
	c.group.Forget(strconv.FormatInt(id, 10))
	c.cache.Remove(id)
}

func (c *Catalog) invalidateAll() {
	c.mu.Lock()
	c.epoch++
	clear(c.gens)
	c.mu.Unlock()
	c.cache.Purge()
}

// GetPlanByName bypasses the cache.
func (c *Catalog) GetPlanByName(ctx context.Context, name string) (*domain.Plan, error) {
	return c.store.GetPlanByName(ctx, name)
}

// ListPlans returns every plan ordered by id.
func (c *Catalog) ListPlans(ctx context.Context) ([]*domain.Plan, error) {
	return c.store.ListPlans(ctx)
}

// CreatePlan validates and stores a new plan.
func (c *Catalog) CreatePlan(ctx context.Context, plan *domain.Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	if err := c.store.CreatePlan(ctx, plan); err != nil {
		return err
	}
	c.logger.WithFields(logrus.Fields{
		"plan_id":     plan.ID,
		"plan_name":   plan.Name,
		"usage_limit": plan.UsageLimit,
	}).Info("Plan created")
	return nil
}

// UpdatePlan validates and replaces a plan's name, description and limit.
func (c *Catalog) UpdatePlan(ctx context.Context, plan *domain.Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	defer c.invalidate(plan.ID)
	if err := c.store.UpdatePlan(ctx, plan); err != nil {
		return err
	}
	c.logger.WithField("plan_id", plan.ID).Info("Plan updated")
	return nil
}

// DeletePlan removes a plan. Without force it fails while subscriptions reference it.
func (c *Catalog) DeletePlan(ctx context.Context, id int64, force bool) error {
	defer c.invalidate(id)
	if err := c.store.DeletePlan(ctx, id, force); err != nil {
		return err
	}
	c.logger.WithFields(logrus.Fields{"plan_id": id, "force": force}).Info("Plan deleted")
	return nil
}

// CreatePermission validates and stores a new permission.
func (c *Catalog) CreatePermission(ctx context.Context, perm *domain.Permission) error {
	if err := perm.Validate(); err != nil {
		return err
	}
	if err := c.store.CreatePermission(ctx, perm); err != nil {
		return err
	}
	c.logger.WithFields(logrus.Fields{"permission_id": perm.ID, "permission_name": perm.Name}).Info("Permission created")
	return nil
}

func (c *Catalog) GetPermission(ctx context.Context, id int64) (*domain.Permission, error) {
	return c.store.GetPermission(ctx, id)
}

func (c *Catalog) ListPermissions(ctx context.Context) ([]*domain.Permission, error) {
	return c.store.ListPermissions(ctx)
}

// UpdatePermission changes a permission. Cached plans embed permissions, so the cache is purged.
func (c *Catalog) UpdatePermission(ctx context.Context, perm *domain.Permission) error {
	if err := perm.Validate(); err != nil {
		return err
	}
	defer c.invalidateAll()
	return c.store.UpdatePermission(ctx, perm)
}

// DeletePermission removes a permission and all of its grants.
func (c *Catalog) DeletePermission(ctx context.Context, id int64) error {
	defer c.invalidateAll()
	return c.store.DeletePermission(ctx, id)
}

// GrantPermission adds a permission to a plan. Granting twice is a no-op.
func (c *Catalog) GrantPermission(ctx context.Context, planID, permissionID int64) error {
	defer c.invalidate(planID)
	return c.store.GrantPermission(ctx, planID, permissionID)
}

// RevokePermission removes a permission from a plan.
func (c *Catalog) RevokePermission(ctx context.Context, planID, permissionID int64) error {
	defer c.invalidate(planID)
	return c.store.RevokePermission(ctx, planID, permissionID)
}

func clonePlan(p *domain.Plan) *domain.Plan {
	out := *p
	if p.Permissions != nil {
		out.Permissions = append([]domain.Permission(nil), p.Permissions...)
	}
	return &out
}
