package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// IntegritySweeper finds subscriptions that reference a deleted plan
type IntegritySweeper struct {
	store   storage.SubscriptionStore
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	timeout time.Duration
}

// NewIntegritySweeper creates a sweeper. metrics may be nil.
func NewIntegritySweeper(store storage.SubscriptionStore, logger logrus.FieldLogger, metrics *observability.Metrics) *IntegritySweeper {
	return &IntegritySweeper{store: store, logger: logger, metrics: metrics, timeout: time.Minute}
}

// Sweep logs every dangling subscription at error level and returns how many were found.
func (s *IntegritySweeper) Sweep(ctx context.Context) (int, error) {
	dangling, err := s.store.ListDanglingSubscriptions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list dangling subscriptions: %w", err)
	}

	for _, sub := range dangling {
		s.logger.WithFields(logrus.Fields{
			"subscription_id": sub.ID,
			"user_id":         sub.UserID,
			"plan_id":         sub.PlanID,
			"is_active":       sub.IsActive,
		}).Error("Subscription references a missing plan")
	}
	s.metrics.SetDanglingSubscriptions(len(dangling))
	return len(dangling), nil
}

// Schedule registers the sweep on c, e.g. with "@every 15m".
func (s *IntegritySweeper) Schedule(c *cron.Cron, schedule string) (cron.EntryID, error) {
	return c.AddFunc(schedule, func() {
		defer observability.RecoverPanic(s.logger, "integrity sweep")

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		n, err := s.Sweep(ctx)
		if err != nil {
			s.logger.WithError(err).Error("Integrity sweep failed")
			return
		}
		s.logger.WithField("dangling", n).Debug("Integrity sweep completed")
	})
}
