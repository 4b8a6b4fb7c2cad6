package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
)

// AppendUsage appends a usage audit entry
func (s *Store) AppendUsage(ctx context.Context, entry *domain.UsageAuditEntry) error {
	return s.appendUsage(ctx, s.db, entry)
}

func (s *Store) appendUsage(ctx context.Context, q querier, entry *domain.UsageAuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	query := `
		INSERT INTO usage_audit (user_id, service_id, outcome, detail, usage_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := q.QueryRowContext(ctx, s.q(query),
		entry.UserID, entry.ServiceID, string(entry.Outcome), entry.Detail, entry.UsageCount, entry.Timestamp,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert usage audit entry: %w", err)
	}
	return nil
}

// ListUsage lists usage audit entries newest first
func (s *Store) ListUsage(ctx context.Context, filter domain.AuditFilter) ([]*domain.UsageAuditEntry, error) {
	var conds []string
	var args []interface{}
	if filter.UserID != 0 {
		args = append(args, filter.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.ServiceID != "" {
		args = append(args, filter.ServiceID)
		conds = append(conds, fmt.Sprintf("service_id = $%d", len(args)))
	}

	query := `SELECT id, user_id, service_id, outcome, detail, usage_count, created_at FROM usage_audit`
	query += whereClause(conds) + ` ORDER BY id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.UsageAuditEntry, 0)
	for rows.Next() {
		e := &domain.UsageAuditEntry{}
		var outcome string
		if err := rows.Scan(&e.ID, &e.UserID, &e.ServiceID, &outcome, &e.Detail, &e.UsageCount, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan usage audit entry: %w", err)
		}
		e.Outcome = domain.Outcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AppendPayment appends a payment audit entry
func (s *Store) AppendPayment(ctx context.Context, entry *domain.PaymentAuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	query := `
		INSERT INTO payment_audit (user_id, amount, currency, outcome, reference, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, s.q(query),
		entry.UserID, entry.Amount, entry.Currency, string(entry.Outcome), entry.Reference, entry.Detail, entry.Timestamp,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert payment audit entry: %w", err)
	}
	return nil
}

// ListPayments lists payment audit entries newest first
func (s *Store) ListPayments(ctx context.Context, filter domain.AuditFilter) ([]*domain.PaymentAuditEntry, error) {
	var conds []string
	var args []interface{}
	if filter.UserID != 0 {
		args = append(args, filter.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}

	query := `SELECT id, user_id, amount, currency, outcome, reference, detail, created_at FROM payment_audit`
	query += whereClause(conds) + ` ORDER BY id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.PaymentAuditEntry, 0)
	for rows.Next() {
		e := &domain.PaymentAuditEntry{}
		var outcome string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Currency, &outcome, &e.Reference, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan payment audit entry: %w", err)
		}
		e.Outcome = domain.PaymentOutcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
