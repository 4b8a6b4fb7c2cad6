// Package domain holds the entities shared by the gate, the stores and the HTTP layer:
// plans, permissions, subscriptions and the two append-only audit trails.
package domain

import (
	"strings"
	"time"
)

// Plan is a named usage ceiling with a set of granted permissions.
type Plan struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	UsageLimit  int64        `json:"usage_limit"`
	Permissions []Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Validate checks the caller-supplied fields of a plan.
func (p *Plan) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return &InvalidInputError{Field: "name", Reason: "must not be empty"}
	}
	if p.UsageLimit <= 0 {
		return &InvalidInputError{Field: "usage_limit", Reason: "must be a positive integer"}
	}
	return nil
}

// Permission names a capability a plan may grant.
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Endpoint    string    `json:"endpoint,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks the caller-supplied fields of a permission.
func (p *Permission) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return &InvalidInputError{Field: "name", Reason: "must not be empty"}
	}
	return nil
}

// Subscription binds a user to a plan and carries the usage counter.
type Subscription struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	PlanID     int64      `json:"plan_id"`
	UsageCount int64      `json:"usage_count"`
	IsActive   bool       `json:"is_active"`
	StartDate  time.Time  `json:"start_date"`
	EndDate    *time.Time `json:"end_date,omitempty"`
}

// Outcome is the result recorded for a gate decision.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// UsageAuditEntry records one gate decision or a failure that followed one.
type UsageAuditEntry struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	ServiceID  string    `json:"service_id"`
	Outcome    Outcome   `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	UsageCount int64     `json:"usage_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// PaymentOutcome is the result of a payment attempt.
type PaymentOutcome string

const (
	PaymentSucceeded PaymentOutcome = "success"
	PaymentFailed    PaymentOutcome = "failed"
)

// PaymentAuditEntry records one payment attempt made through the payments service.
type PaymentAuditEntry struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"user_id"`
	Amount    int64          `json:"amount"`
	Currency  string         `json:"currency"`
	Outcome   PaymentOutcome `json:"outcome"`
	Reference string         `json:"reference,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditFilter narrows audit listings. Zero values mean "any".
type AuditFilter struct {
	UserID    int64
	ServiceID string
	Limit     int
}
