package gate

import (
	"context"
	"errors"
	"sort"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
)

// recentCalls is how many audit entries a usage summary carries
const recentCalls = 5

// LimitStatus is the quota position of a user's active subscription
type LimitStatus struct {
	UserID         int64  `json:"user_id"`
	SubscriptionID int64  `json:"subscription_id"`
	PlanID         int64  `json:"plan_id"`
	PlanName       string `json:"plan_name"`
	UsageCount     int64  `json:"usage_count"`
	UsageLimit     int64  `json:"usage_limit"`
	Remaining      int64  `json:"remaining_calls"`
	LimitExceeded  bool   `json:"limit_exceeded"`
}

// UsageSummary is LimitStatus plus the most recent gate decisions
type UsageSummary struct {
	LimitStatus
	RecentCalls []*domain.UsageAuditEntry `json:"recent_calls"`
}

// LimitStatus reports usage against the plan limit without charging.
func (g *Gate) LimitStatus(ctx context.Context, userID int64) (*LimitStatus, error) {
	if userID <= 0 {
		return nil, &domain.InvalidInputError{Field: "user_id", Reason: "must be a positive integer"}
	}

	sub, err := g.store.GetActiveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	plan, err := g.plans.GetPlan(ctx, sub.PlanID)
	var missing *domain.PlanNotFoundError
	if errors.As(err, &missing) {
		g.metrics.RecordIntegrityFault()
		return nil, &domain.PlanNotFoundError{PlanID: sub.PlanID, SubscriptionID: sub.ID}
	}
	if err != nil {
		return nil, err
	}

	remaining := plan.UsageLimit - sub.UsageCount
	if remaining < 0 {
		remaining = 0
	}
	return &LimitStatus{
		UserID:         userID,
		SubscriptionID: sub.ID,
		PlanID:         plan.ID,
		PlanName:       plan.Name,
		UsageCount:     sub.UsageCount,
		UsageLimit:     plan.UsageLimit,
		Remaining:      remaining,
		LimitExceeded:  !Decide(sub.UsageCount, plan.UsageLimit),
	}, nil
}

// Usage returns the limit status and the user's latest gate decisions.
func (g *Gate) Usage(ctx context.Context, userID int64) (*UsageSummary, error) {
	status, err := g.LimitStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	recent, err := g.store.ListUsage(ctx, domain.AuditFilter{UserID: userID, Limit: recentCalls})
	if err != nil {
		return nil, err
	}
	return &UsageSummary{LimitStatus: *status, RecentCalls: recent}, nil
}

// UserOverview is a user's directory entry
type UserOverview struct {
	UserID                int64                     `json:"user_id"`
	HasActiveSubscription bool                      `json:"has_active_subscription"`
	Subscription          *LimitStatus              `json:"subscription_details"`
	RecentActivity        []*domain.UsageAuditEntry `json:"recent_activity"`
}

// User returns the overview of one user. A user without an active subscription is
// reported as such rather than as an error.
func (g *Gate) User(ctx context.Context, userID int64) (*UserOverview, error) {
	status, err := g.LimitStatus(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNoSubscription) {
		return nil, err
	}
	recent, err := g.store.ListUsage(ctx, domain.AuditFilter{UserID: userID, Limit: recentCalls})
	if err != nil {
		return nil, err
	}
	if recent == nil {
		recent = []*domain.UsageAuditEntry{}
	}
	return &UserOverview{
		UserID:                userID,
		HasActiveSubscription: status != nil,
		Subscription:          status,
		RecentActivity:        recent,
	}, nil
}

// Users returns an overview of every user that has ever subscribed, ordered by user id.
func (g *Gate) Users(ctx context.Context) ([]*UserOverview, error) {
	subs, err := g.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(subs))
	ids := make([]int64, 0, len(subs))
	for _, sub := range subs {
		if _, ok := seen[sub.UserID]; ok {
			continue
		}
		seen[sub.UserID] = struct{}{}
		ids = append(ids, sub.UserID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	users := make([]*UserOverview, 0, len(ids))
	for _, id := range ids {
		u, err := g.User(ctx, id)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}
