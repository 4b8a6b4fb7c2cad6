package subscriptions

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// Service implements subscription lifecycle operations
type Service struct {
	store  storage.SubscriptionStore
	logger logrus.FieldLogger
}

// NewService creates a subscription service
func NewService(store storage.SubscriptionStore, logger logrus.FieldLogger) *Service {
	return &Service{store: store, logger: logger}
}

// Subscribe starts a subscription for userID on planID with zero usage.
func (s *Service) Subscribe(ctx context.Context, userID, planID int64) (*domain.Subscription, error) {
	if err := positive("user_id", userID); err != nil {
		return nil, err
	}
	if err := positive("plan_id", planID); err != nil {
		return nil, err
	}

	sub, err := s.store.CreateSubscription(ctx, userID, planID)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"user_id":         userID,
		"plan_id":         planID,
	}).Info("Subscription created")
	return sub, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.Subscription, error) {
	return s.store.GetSubscription(ctx, id)
}

// GetActive returns the user's active subscription or *domain.NoSubscriptionError.
func (s *Service) GetActive(ctx context.Context, userID int64) (*domain.Subscription, error) {
	if err := positive("user_id", userID); err != nil {
		return nil, err
	}
	return s.store.GetActiveSubscription(ctx, userID)
}

func (s *Service) List(ctx context.Context) ([]*domain.Subscription, error) {
	return s.store.ListSubscriptions(ctx)
}

// ChangePlan moves a subscription to another plan and resets its usage.
func (s *Service) ChangePlan(ctx context.Context, id, planID int64) (*domain.Subscription, error) {
	if err := positive("plan_id", planID); err != nil {
		return nil, err
	}
	sub, err := s.store.ChangePlan(ctx, id, planID)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"subscription_id": id,
		"user_id":         sub.UserID,
		"plan_id":         planID,
	}).Info("Subscription plan changed, usage reset")
	return sub, nil
}

// Deactivate ends a subscription. Repeated calls return the already inactive subscription.
func (s *Service) Deactivate(ctx context.Context, id int64) (*domain.Subscription, error) {
	sub, err := s.store.Deactivate(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"subscription_id": id, "user_id": sub.UserID}).Info("Subscription deactivated")
	return sub, nil
}

// Delete removes a subscription. Without force it fails while audit entries exist for the user.
func (s *Service) Delete(ctx context.Context, id int64, force bool) error {
	if err := s.store.DeleteSubscription(ctx, id, force); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"subscription_id": id, "force": force}).Info("Subscription deleted")
	return nil
}

func positive(field string, v int64) error {
	if v <= 0 {
		return &domain.InvalidInputError{Field: field, Reason: "must be a positive integer"}
	}
	return nil
}
