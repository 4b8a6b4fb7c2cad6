package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/proxy"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// Store is the storage the gate needs
type Store interface {
	storage.QuotaStore
	storage.AuditStore
	GetActiveSubscription(ctx context.Context, userID int64) (*domain.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]*domain.Subscription, error)
}

// PlanReader resolves plans for usage summaries
type PlanReader interface {
	GetPlan(ctx context.Context, id int64) (*domain.Plan, error)
}

// Invoker performs the downstream call for an authorized request
type Invoker interface {
	Invoke(ctx context.Context, serviceID string, userID int64, req proxy.Request) (*proxy.Result, error)
}

// Authorization describes an allowed, already charged call
type Authorization struct {
	UserID         int64  `json:"user_id"`
	ServiceID      string `json:"service_id"`
	SubscriptionID int64  `json:"subscription_id"`
	PlanID         int64  `json:"plan_id"`
	UsageCount     int64  `json:"usage_count"`
	UsageLimit     int64  `json:"usage_limit"`
	Remaining      int64  `json:"remaining"`
}

// Gate is the access gate
type Gate struct {
	store   Store
	plans   PlanReader
	invoker Invoker
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// Option configures a Gate
type Option func(*Gate)

// WithMetrics records decisions in m
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithInvoker sets the downstream invoker used by Invoke and Dispatch
func WithInvoker(inv Invoker) Option {
	return func(g *Gate) { g.invoker = inv }
}

// New creates a gate. plans serves usage summaries; decisions read plans inside the
// quota transaction.
func New(store Store, plans PlanReader, logger logrus.FieldLogger, opts ...Option) *Gate {
	g := &Gate{
		store:  store,
		plans:  plans,
		logger: logger,
		tracer: otel.Tracer("github.com/platinummonkey/gatekeeper/pkg/gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Decide reports whether a call is allowed at the given usage and limit.
func Decide(usage, limit int64) bool {
	return usage < limit
}

// Authorize decides whether userID may call serviceID and, if so, charges one unit
// of usage and records the call.
func (g *Gate) Authorize(ctx context.Context, userID int64, serviceID string) (*Authorization, error) {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "gate.Authorize", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.String("service.id", serviceID),
	))
	defer span.End()

	if userID <= 0 {
		return nil, &domain.InvalidInputError{Field: "user_id", Reason: "must be a positive integer"}
	}
	if err := domain.ValidateServiceID(serviceID); err != nil {
		return nil, err
	}

	var auth *Authorization
	err := g.store.WithActiveSubscription(ctx, userID, func(ctx context.Context, tx storage.QuotaTx) error {
		sub := tx.Subscription()
		plan, err := tx.Plan(ctx)
		if err != nil {
			return err
		}
		if !Decide(sub.UsageCount, plan.UsageLimit) {
			return &domain.QuotaExceededError{UserID: userID, ServiceID: serviceID, Usage: sub.UsageCount, Limit: plan.UsageLimit}
		}

		count, err := tx.IncrementUsage(ctx, plan.UsageLimit)
		if err != nil {
			return err
		}
		entry := &domain.UsageAuditEntry{
			UserID:     userID,
			ServiceID:  serviceID,
			Outcome:    domain.OutcomeSuccess,
			UsageCount: count,
		}
		if err := tx.AppendUsage(ctx, entry); err != nil {
			return err
		}

		auth = &Authorization{
			UserID:         userID,
			ServiceID:      serviceID,
			SubscriptionID: sub.ID,
			PlanID:         plan.ID,
			UsageCount:     count,
			UsageLimit:     plan.UsageLimit,
			Remaining:      plan.UsageLimit - count,
		}
		return nil
	})

	decision := g.classify(ctx, userID, serviceID, err)
	g.metrics.ObserveGateDecision(serviceID, decision, time.Since(start))
	span.SetAttributes(attribute.String("gate.decision", decision))

	if err != nil {
		if decision == observability.DecisionError {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to authorize user %d for %s: %w", userID, serviceID, err)
		}
		return nil, err
	}

	span.SetAttributes(attribute.Int64("gate.remaining", auth.Remaining))
	return auth, nil
}

// classify logs and audits a finished decision and returns its metric label.
func (g *Gate) classify(ctx context.Context, userID int64, serviceID string, err error) string {
	log := g.log(ctx).WithFields(logrus.Fields{
		"user_id":    userID,
		"service_id": serviceID,
	})

	var (
		quota   *domain.QuotaExceededError
		noSub   *domain.NoSubscriptionError
		missing *domain.PlanNotFoundError
	)
	switch {
	case err == nil:
		log.Debug("Access granted")
		return observability.DecisionAllowed

	case errors.As(err, &quota):
		quota.ServiceID = serviceID
		log.WithFields(logrus.Fields{"usage": quota.Usage, "limit": quota.Limit}).Info("Access denied: usage limit reached")
		g.appendEntry(ctx, &domain.UsageAuditEntry{
			UserID:     userID,
			ServiceID:  serviceID,
			Outcome:    domain.OutcomeDenied,
			Detail:     fmt.Sprintf("usage limit exceeded: %d/%d", quota.Usage, quota.Limit),
			UsageCount: quota.Usage,
		})
		return observability.DecisionQuotaExceeded

	case errors.As(err, &noSub):
		log.Info("Access denied: no active subscription")
		g.appendEntry(ctx, &domain.UsageAuditEntry{
			UserID:    userID,
			ServiceID: serviceID,
			Outcome:   domain.OutcomeDenied,
			Detail:    "no active subscription",
		})
		return observability.DecisionNoSubscription

	case errors.As(err, &missing):
		log.WithFields(logrus.Fields{
			"subscription_id": missing.SubscriptionID,
			"plan_id":         missing.PlanID,
		}).Error("Integrity fault: subscription references a missing plan")
		g.metrics.RecordIntegrityFault()
		g.appendEntry(ctx, &domain.UsageAuditEntry{
			UserID:    userID,
			ServiceID: serviceID,
			Outcome:   domain.OutcomeError,
			Detail:    fmt.Sprintf("plan %d not found", missing.PlanID),
		})
		return observability.DecisionPlanNotFound

	default:
		log.WithError(err).Error("Gate decision failed")
		return observability.DecisionError
	}
}

// log prefers the request-scoped logger carried by ctx.
func (g *Gate) log(ctx context.Context) logrus.FieldLogger {
	if l, ok := observability.ContextLogger(ctx); ok {
		return l
	}
	return g.logger
}

// appendEntry writes an audit entry outside the quota transaction. It survives
// cancellation of the request context.
func (g *Gate) appendEntry(ctx context.Context, entry *domain.UsageAuditEntry) {
	if err := g.store.AppendUsage(context.WithoutCancel(ctx), entry); err != nil {
		g.log(ctx).WithError(err).WithFields(logrus.Fields{
			"user_id":    entry.UserID,
			"service_id": entry.ServiceID,
			"outcome":    entry.Outcome,
		}).Error("Failed to write audit entry")
	}
}

// RecordFailure records a downstream failure that followed auth. Usage is not refunded.
func (g *Gate) RecordFailure(ctx context.Context, auth *Authorization, cause error) {
	g.log(ctx).WithError(cause).WithFields(logrus.Fields{
		"user_id":     auth.UserID,
		"service_id":  auth.ServiceID,
		"usage_count": auth.UsageCount,
	}).Warn("Downstream call failed after authorization")

	g.appendEntry(ctx, &domain.UsageAuditEntry{
		UserID:     auth.UserID,
		ServiceID:  auth.ServiceID,
		Outcome:    domain.OutcomeError,
		Detail:     cause.Error(),
		UsageCount: auth.UsageCount,
	})
}

// Invoke performs the downstream call for an authorization obtained from Authorize.
// Failures other than rejected input are returned as *domain.DownstreamError.
func (g *Gate) Invoke(ctx context.Context, auth *Authorization, req proxy.Request) (*proxy.Result, error) {
	if g.invoker == nil {
		return nil, fmt.Errorf("gate has no invoker configured")
	}

	ctx, span := g.tracer.Start(ctx, "gate.Invoke", trace.WithAttributes(
		attribute.Int64("user.id", auth.UserID),
		attribute.String("service.id", auth.ServiceID),
		attribute.String("proxy.operation", req.Operation),
	))
	defer span.End()

	result, err := g.invoker.Invoke(ctx, auth.ServiceID, auth.UserID, req)
	if err != nil {
		var down *domain.DownstreamError
		if !errors.As(err, &down) && !errors.Is(err, domain.ErrInvalidInput) {
			err = &domain.DownstreamError{Service: auth.ServiceID, Err: err}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.RecordFailure(ctx, auth, err)
		return nil, err
	}
	return result, nil
}

// Dispatch authorizes and then invokes the service in one step.
func (g *Gate) Dispatch(ctx context.Context, userID int64, serviceID string, req proxy.Request) (*proxy.Result, *Authorization, error) {
	auth, err := g.Authorize(ctx, userID, serviceID)
	if err != nil {
		return nil, nil, err
	}
	result, err := g.Invoke(ctx, auth, req)
	return result, auth, err
}
