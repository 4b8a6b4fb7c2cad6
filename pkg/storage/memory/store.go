// Package memory is an in-process implementation of storage.Store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

var _ storage.Store = (*Store)(nil)

// Store keeps all state in maps guarded by mu. Subscription mutations and quota
// transactions additionally hold the owning user's lock, always acquired before mu.
type Store struct {
	mu            sync.RWMutex
	plans         map[int64]*domain.Plan
	permissions   map[int64]*domain.Permission
	grants        map[int64]map[int64]struct{}
	subscriptions map[int64]*domain.Subscription
	usage         []*domain.UsageAuditEntry
	payments      []*domain.PaymentAuditEntry

	planSeq, permSeq, subSeq, usageSeq, paymentSeq int64

	locksMu   sync.Mutex
	userLocks map[int64]*sync.Mutex

	now func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		plans:         make(map[int64]*domain.Plan),
		permissions:   make(map[int64]*domain.Permission),
		grants:        make(map[int64]map[int64]struct{}),
		subscriptions: make(map[int64]*domain.Subscription),
		userLocks:     make(map[int64]*sync.Mutex),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) userLock(userID int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[userID] = l
	}
	return l
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// --- plans ---

func (s *Store) CreatePlan(ctx context.Context, plan *domain.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.planNameTaken(plan.Name, 0) {
		return &domain.DuplicateNameError{Resource: "plan", Name: plan.Name}
	}

	s.planSeq++
	now := s.now()
	plan.ID = s.planSeq
	plan.CreatedAt = now
	plan.UpdatedAt = now
	stored := *plan
	stored.Permissions = nil
	s.plans[plan.ID] = &stored
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id int64) (*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, &domain.PlanNotFoundError{PlanID: id}
	}
	return s.planCopy(p), nil
}

func (s *Store) GetPlanByName(ctx context.Context, name string) (*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.Name == name {
			return s.planCopy(p), nil
		}
	}
	return nil, fmt.Errorf("plan %q: %w", name, domain.ErrPlanNotFound)
}

func (s *Store) ListPlans(ctx context.Context) ([]*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plans := make([]*domain.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		plans = append(plans, s.planCopy(p))
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].ID < plans[j].ID })
	return plans, nil
}

func (s *Store) UpdatePlan(ctx context.Context, plan *domain.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.plans[plan.ID]
	if !ok {
		return &domain.PlanNotFoundError{PlanID: plan.ID}
	}
	if s.planNameTaken(plan.Name, plan.ID) {
		return &domain.DuplicateNameError{Resource: "plan", Name: plan.Name}
	}

	stored.Name = plan.Name
	stored.Description = plan.Description
	stored.UsageLimit = plan.UsageLimit
	stored.UpdatedAt = s.now()
	plan.CreatedAt = stored.CreatedAt
	plan.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *Store) DeletePlan(ctx context.Context, id int64, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[id]; !ok {
		return &domain.PlanNotFoundError{PlanID: id}
	}

	var dependents []*domain.Subscription
	for _, sub := range s.subscriptions {
		if sub.PlanID == id {
			dependents = append(dependents, sub)
		}
	}
	if len(dependents) > 0 && !force {
		return &domain.HasDependentsError{Resource: "plan", ID: id, Dependents: int64(len(dependents))}
	}

	for _, sub := range dependents {
		s.removeUserAudit(sub.UserID)
		delete(s.subscriptions, sub.ID)
	}
	delete(s.grants, id)
	delete(s.plans, id)
	return nil
}

func (s *Store) planNameTaken(name string, exceptID int64) bool {
	for _, p := range s.plans {
		if p.Name == name && p.ID != exceptID {
			return true
		}
	}
	return false
}

// planCopy must be called with mu held.
func (s *Store) planCopy(p *domain.Plan) *domain.Plan {
	c := *p
	c.Permissions = nil
	for permID := range s.grants[p.ID] {
		if perm, ok := s.permissions[permID]; ok {
			c.Permissions = append(c.Permissions, *perm)
		}
	}
	sort.Slice(c.Permissions, func(i, j int) bool { return c.Permissions[i].ID < c.Permissions[j].ID })
	return &c
}

// --- permissions ---

func (s *Store) CreatePermission(ctx context.Context, perm *domain.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.permissionNameTaken(perm.Name, 0) {
		return &domain.DuplicateNameError{Resource: "permission", Name: perm.Name}
	}
	s.permSeq++
	perm.ID = s.permSeq
	perm.CreatedAt = s.now()
	stored := *perm
	s.permissions[perm.ID] = &stored
	return nil
}

func (s *Store) GetPermission(ctx context.Context, id int64) (*domain.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.permissions[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "permission", ID: id}
	}
	c := *p
	return &c, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]*domain.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perms := make([]*domain.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		c := *p
		perms = append(perms, &c)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].ID < perms[j].ID })
	return perms, nil
}

func (s *Store) UpdatePermission(ctx context.Context, perm *domain.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.permissions[perm.ID]
	if !ok {
		return &domain.NotFoundError{Resource: "permission", ID: perm.ID}
	}
	if s.permissionNameTaken(perm.Name, perm.ID) {
		return &domain.DuplicateNameError{Resource: "permission", Name: perm.Name}
	}
	stored.Name = perm.Name
	stored.Endpoint = perm.Endpoint
	stored.Description = perm.Description
	perm.CreatedAt = stored.CreatedAt
	return nil
}

func (s *Store) DeletePermission(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.permissions[id]; !ok {
		return &domain.NotFoundError{Resource: "permission", ID: id}
	}
	for _, granted := range s.grants {
		delete(granted, id)
	}
	delete(s.permissions, id)
	return nil
}

func (s *Store) GrantPermission(ctx context.Context, planID, permissionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[planID]; !ok {
		return &domain.PlanNotFoundError{PlanID: planID}
	}
	if _, ok := s.permissions[permissionID]; !ok {
		return &domain.NotFoundError{Resource: "permission", ID: permissionID}
	}
	if s.grants[planID] == nil {
		s.grants[planID] = make(map[int64]struct{})
	}
	s.grants[planID][permissionID] = struct{}{}
	return nil
}

func (s *Store) RevokePermission(ctx context.Context, planID, permissionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[planID]; !ok {
		return &domain.PlanNotFoundError{PlanID: planID}
	}
	delete(s.grants[planID], permissionID)
	return nil
}

func (s *Store) permissionNameTaken(name string, exceptID int64) bool {
	for _, p := range s.permissions {
		if p.Name == name && p.ID != exceptID {
			return true
		}
	}
	return false
}

// --- subscriptions ---

func (s *Store) CreateSubscription(ctx context.Context, userID, planID int64) (*domain.Subscription, error) {
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[planID]; !ok {
		return nil, &domain.PlanNotFoundError{PlanID: planID}
	}
	if s.activeFor(userID) != nil {
		return nil, &domain.AlreadySubscribedError{UserID: userID}
	}

	s.subSeq++
	sub := &domain.Subscription{
		ID:        s.subSeq,
		UserID:    userID,
		PlanID:    planID,
		IsActive:  true,
		StartDate: s.now(),
	}
	s.subscriptions[sub.ID] = sub
	c := *sub
	return &c, nil
}

func (s *Store) GetSubscription(ctx context.Context, id int64) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "subscription", ID: id}
	}
	c := *sub
	return &c, nil
}

func (s *Store) GetActiveSubscription(ctx context.Context, userID int64) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub := s.activeFor(userID)
	if sub == nil {
		return nil, &domain.NoSubscriptionError{UserID: userID}
	}
	c := *sub
	return &c, nil
}

func (s *Store) ListSubscriptions(ctx context.Context) ([]*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := make([]*domain.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		c := *sub
		subs = append(subs, &c)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs, nil
}

func (s *Store) ChangePlan(ctx context.Context, id, planID int64) (*domain.Subscription, error) {
	var result *domain.Subscription
	err := s.withSubscriptionLock(id, func(sub *domain.Subscription) error {
		if _, ok := s.plans[planID]; !ok {
			return &domain.PlanNotFoundError{PlanID: planID}
		}
		sub.PlanID = planID
		sub.UsageCount = 0
		c := *sub
		result = &c
		return nil
	})
	return result, err
}

func (s *Store) Deactivate(ctx context.Context, id int64) (*domain.Subscription, error) {
	var result *domain.Subscription
	err := s.withSubscriptionLock(id, func(sub *domain.Subscription) error {
		if sub.IsActive {
			end := s.now()
			sub.IsActive = false
			sub.EndDate = &end
		}
		c := *sub
		result = &c
		return nil
	})
	return result, err
}

func (s *Store) DeleteSubscription(ctx context.Context, id int64, force bool) error {
	return s.withSubscriptionLock(id, func(sub *domain.Subscription) error {
		if n := s.userAuditCount(sub.UserID); n > 0 {
			if !force {
				return &domain.HasDependentsError{Resource: "subscription", ID: id, Dependents: n}
			}
			s.removeUserAudit(sub.UserID)
		}
		delete(s.subscriptions, id)
		return nil
	})
}

func (s *Store) ListDanglingSubscriptions(ctx context.Context) ([]*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := []*domain.Subscription{}
	for _, sub := range s.subscriptions {
		if _, ok := s.plans[sub.PlanID]; !ok {
			c := *sub
			subs = append(subs, &c)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs, nil
}

// withSubscriptionLock runs fn with the subscription's user lock and mu held.
func (s *Store) withSubscriptionLock(id int64, fn func(sub *domain.Subscription) error) error {
	s.mu.RLock()
	sub, ok := s.subscriptions[id]
	var userID int64
	if ok {
		userID = sub.UserID
	}
	s.mu.RUnlock()
	if !ok {
		return &domain.NotFoundError{Resource: "subscription", ID: id}
	}

	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok = s.subscriptions[id]
	if !ok {
		return &domain.NotFoundError{Resource: "subscription", ID: id}
	}
	return fn(sub)
}

// activeFor must be called with mu held.
func (s *Store) activeFor(userID int64) *domain.Subscription {
	for _, sub := range s.subscriptions {
		if sub.UserID == userID && sub.IsActive {
			return sub
		}
	}
	return nil
}

func (s *Store) userAuditCount(userID int64) int64 {
	var n int64
	for _, e := range s.usage {
		if e.UserID == userID {
			n++
		}
	}
	for _, e := range s.payments {
		if e.UserID == userID {
			n++
		}
	}
	return n
}

func (s *Store) removeUserAudit(userID int64) {
	usage := s.usage[:0]
	for _, e := range s.usage {
		if e.UserID != userID {
			usage = append(usage, e)
		}
	}
	s.usage = usage

	payments := s.payments[:0]
	for _, e := range s.payments {
		if e.UserID != userID {
			payments = append(payments, e)
		}
	}
	s.payments = payments
}

// --- audit ---

func (s *Store) AppendUsage(ctx context.Context, entry *domain.UsageAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendUsageLocked(entry)
	return nil
}

func (s *Store) appendUsageLocked(entry *domain.UsageAuditEntry) {
	s.usageSeq++
	entry.ID = s.usageSeq
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	c := *entry
	s.usage = append(s.usage, &c)
}

func (s *Store) ListUsage(ctx context.Context, filter domain.AuditFilter) ([]*domain.UsageAuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := []*domain.UsageAuditEntry{}
	for i := len(s.usage) - 1; i >= 0; i-- {
		e := s.usage[i]
		if filter.UserID != 0 && e.UserID != filter.UserID {
			continue
		}
		if filter.ServiceID != "" && e.ServiceID != filter.ServiceID {
			continue
		}
		c := *e
		entries = append(entries, &c)
		if filter.Limit > 0 && len(entries) == filter.Limit {
			break
		}
	}
	return entries, nil
}

func (s *Store) AppendPayment(ctx context.Context, entry *domain.PaymentAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paymentSeq++
	entry.ID = s.paymentSeq
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	c := *entry
	s.payments = append(s.payments, &c)
	return nil
}

func (s *Store) ListPayments(ctx context.Context, filter domain.AuditFilter) ([]*domain.PaymentAuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := []*domain.PaymentAuditEntry{}
	for i := len(s.payments) - 1; i >= 0; i-- {
		e := s.payments[i]
		if filter.UserID != 0 && e.UserID != filter.UserID {
			continue
		}
		c := *e
		entries = append(entries, &c)
		if filter.Limit > 0 && len(entries) == filter.Limit {
			break
		}
	}
	return entries, nil
}
