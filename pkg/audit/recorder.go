package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Recorder writes and reads the audit trails
type Recorder struct {
	store  storage.AuditStore
	logger logrus.FieldLogger
}

// NewRecorder creates a recorder over store
func NewRecorder(store storage.AuditStore, logger logrus.FieldLogger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// RecordPayment appends a payment attempt.
func (r *Recorder) RecordPayment(ctx context.Context, entry *domain.PaymentAuditEntry) error {
	entry.Currency = strings.ToLower(entry.Currency)
	if err := r.store.AppendPayment(ctx, entry); err != nil {
		r.logger.WithError(err).WithField("user_id", entry.UserID).Error("Failed to record payment attempt")
		return fmt.Errorf("failed to record payment: %w", err)
	}
	return nil
}

// ListUsage returns gate decisions matching filter, newest first.
func (r *Recorder) ListUsage(ctx context.Context, filter domain.AuditFilter) ([]*domain.UsageAuditEntry, error) {
	filter, err := normalize(filter)
	if err != nil {
		return nil, err
	}
	return r.store.ListUsage(ctx, filter)
}

// ListPayments returns payment attempts matching filter, newest first.
func (r *Recorder) ListPayments(ctx context.Context, filter domain.AuditFilter) ([]*domain.PaymentAuditEntry, error) {
	filter, err := normalize(filter)
	if err != nil {
		return nil, err
	}
	return r.store.ListPayments(ctx, filter)
}

func normalize(filter domain.AuditFilter) (domain.AuditFilter, error) {
	if filter.UserID < 0 {
		return filter, &domain.InvalidInputError{Field: "user_id", Reason: "must be a positive integer"}
	}
	if filter.ServiceID != "" {
		if err := domain.ValidateServiceID(filter.ServiceID); err != nil {
			return filter, err
		}
	}
	switch {
	case filter.Limit < 0:
		return filter, &domain.InvalidInputError{Field: "limit", Reason: "must not be negative"}
	case filter.Limit == 0:
		filter.Limit = DefaultLimit
	case filter.Limit > MaxLimit:
		filter.Limit = MaxLimit
	}
	return filter, nil
}
