package storage

import (
	"context"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
)

// PlanReader provides read access to the plan catalog
type PlanReader interface {
	// GetPlan returns *domain.PlanNotFoundError when the id does not resolve.
	GetPlan(ctx context.Context, id int64) (*domain.Plan, error)
	GetPlanByName(ctx context.Context, name string) (*domain.Plan, error)
	ListPlans(ctx context.Context) ([]*domain.Plan, error)
}

// PlanWriter mutates the plan catalog
type PlanWriter interface {
	// CreatePlan assigns ID and timestamps. A taken name yields *domain.DuplicateNameError.
	CreatePlan(ctx context.Context, plan *domain.Plan) error
	UpdatePlan(ctx context.Context, plan *domain.Plan) error
	// DeletePlan fails with *domain.HasDependentsError while subscriptions reference the
	// plan. With force it deletes those subscriptions, and their users' audit entries, first.
	DeletePlan(ctx context.Context, id int64, force bool) error
}

// PermissionStore manages permissions and their grants to plans
type PermissionStore interface {
	CreatePermission(ctx context.Context, perm *domain.Permission) error
	GetPermission(ctx context.Context, id int64) (*domain.Permission, error)
	ListPermissions(ctx context.Context) ([]*domain.Permission, error)
	UpdatePermission(ctx context.Context, perm *domain.Permission) error
	// DeletePermission removes the permission and every grant of it.
	DeletePermission(ctx context.Context, id int64) error
	GrantPermission(ctx context.Context, planID, permissionID int64) error
	RevokePermission(ctx context.Context, planID, permissionID int64) error
}

// PlanStore is the full plan catalog
type PlanStore interface {
	PlanReader
	PlanWriter
	PermissionStore
}

// SubscriptionStore manages the subscription lifecycle
type SubscriptionStore interface {
	// CreateSubscription returns *domain.PlanNotFoundError for a missing plan and
	// *domain.AlreadySubscribedError when the user already holds an active subscription.
	CreateSubscription(ctx context.Context, userID, planID int64) (*domain.Subscription, error)
	GetSubscription(ctx context.Context, id int64) (*domain.Subscription, error)
	// GetActiveSubscription returns *domain.NoSubscriptionError when none exists.
	GetActiveSubscription(ctx context.Context, userID int64) (*domain.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]*domain.Subscription, error)
	// ChangePlan moves the subscription to planID and resets its usage to zero.
	ChangePlan(ctx context.Context, id, planID int64) (*domain.Subscription, error)
	// Deactivate clears is_active and stamps end_date. Deactivating twice is a no-op.
	Deactivate(ctx context.Context, id int64) (*domain.Subscription, error)
	// DeleteSubscription fails with *domain.HasDependentsError while audit entries exist
	// for the subscription's user, unless force is set.
	DeleteSubscription(ctx context.Context, id int64, force bool) error
	// ListDanglingSubscriptions returns subscriptions whose plan no longer exists.
	ListDanglingSubscriptions(ctx context.Context) ([]*domain.Subscription, error)
}

// AuditStore is the append-only audit trail
type AuditStore interface {
	AppendUsage(ctx context.Context, entry *domain.UsageAuditEntry) error
	// ListUsage returns entries newest first.
	ListUsage(ctx context.Context, filter domain.AuditFilter) ([]*domain.UsageAuditEntry, error)
	AppendPayment(ctx context.Context, entry *domain.PaymentAuditEntry) error
	ListPayments(ctx context.Context, filter domain.AuditFilter) ([]*domain.PaymentAuditEntry, error)
}

// QuotaTx is the view of a locked subscription handed to WithActiveSubscription callbacks
type QuotaTx interface {
	// Subscription is the locked subscription as read at the start of the transaction.
	Subscription() *domain.Subscription
	// Plan loads the subscription's plan. A missing plan yields a dangling
	// *domain.PlanNotFoundError.
	Plan(ctx context.Context) (*domain.Plan, error)
	// IncrementUsage adds one to usage_count provided it is still below limit, and
	// returns the new count. Otherwise it returns *domain.QuotaExceededError.
	IncrementUsage(ctx context.Context, limit int64) (int64, error)
	// AppendUsage writes an audit entry that commits or rolls back with the transaction.
	AppendUsage(ctx context.Context, entry *domain.UsageAuditEntry) error
}

// QuotaStore runs atomic per-user quota transactions
type QuotaStore interface {
	// WithActiveSubscription returns *domain.NoSubscriptionError when the user has no
	// active subscription. Otherwise it calls fn with the subscription locked.
	WithActiveSubscription(ctx context.Context, userID int64, fn func(ctx context.Context, tx QuotaTx) error) error
}

// Store composes every storage capability
type Store interface {
	PlanStore
	SubscriptionStore
	AuditStore
	QuotaStore

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}
