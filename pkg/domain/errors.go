package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below match them through errors.Is.
var (
	ErrNoSubscription    = errors.New("no active subscription")
	ErrPlanNotFound      = errors.New("plan not found")
	ErrQuotaExceeded     = errors.New("usage quota exceeded")
	ErrAlreadySubscribed = errors.New("user already has an active subscription")
	ErrDuplicateName     = errors.New("name already exists")
	ErrHasDependents     = errors.New("resource has dependents")
	ErrDownstreamFailure = errors.New("downstream service call failed")
	ErrIntegrityFault    = errors.New("data integrity fault")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnknownService    = errors.New("unknown service")
)

// Kind classifies an error for callers that map errors onto a transport.
type Kind string

const (
	KindNoSubscription    Kind = "no_subscription"
	KindPlanNotFound      Kind = "plan_not_found"
	KindQuotaExceeded     Kind = "quota_exceeded"
	KindAlreadySubscribed Kind = "already_subscribed"
	KindDuplicateName     Kind = "duplicate_name"
	KindHasDependents     Kind = "has_dependents"
	KindDownstreamFailure Kind = "downstream_failure"
	KindIntegrityFault    Kind = "integrity_fault"
	KindNotFound          Kind = "not_found"
	KindInvalidInput      Kind = "invalid_input"
	KindUnknownService    Kind = "unknown_service"
	KindInternal          Kind = "internal"
)

// KindOf returns the kind of err. Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, ErrNoSubscription):
		return KindNoSubscription
	case errors.Is(err, ErrPlanNotFound):
		return KindPlanNotFound
	case errors.Is(err, ErrAlreadySubscribed):
		return KindAlreadySubscribed
	case errors.Is(err, ErrDuplicateName):
		return KindDuplicateName
	case errors.Is(err, ErrHasDependents):
		return KindHasDependents
	case errors.Is(err, ErrDownstreamFailure):
		return KindDownstreamFailure
	case errors.Is(err, ErrIntegrityFault):
		return KindIntegrityFault
	case errors.Is(err, ErrUnknownService):
		return KindUnknownService
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	default:
		return KindInternal
	}
}

// NoSubscriptionError is returned when a user has no active subscription.
type NoSubscriptionError struct {
	UserID int64
}

func (e *NoSubscriptionError) Error() string {
	return fmt.Sprintf("user %d has no active subscription", e.UserID)
}

func (e *NoSubscriptionError) Is(target error) bool { return target == ErrNoSubscription }

// PlanNotFoundError is returned when a plan id does not resolve.
// SubscriptionID is set when an existing subscription points at the missing plan,
// which is an integrity fault rather than a caller mistake.
type PlanNotFoundError struct {
	PlanID         int64
	SubscriptionID int64
}

func (e *PlanNotFoundError) Error() string {
	if e.Dangling() {
		return fmt.Sprintf("subscription %d references missing plan %d", e.SubscriptionID, e.PlanID)
	}
	return fmt.Sprintf("plan %d not found", e.PlanID)
}

// Dangling reports whether the missing plan was referenced by a stored subscription.
func (e *PlanNotFoundError) Dangling() bool { return e.SubscriptionID != 0 }

func (e *PlanNotFoundError) Is(target error) bool {
	return target == ErrPlanNotFound || (target == ErrIntegrityFault && e.Dangling())
}

// QuotaExceededError is returned when usage has reached the plan limit.
type QuotaExceededError struct {
	UserID    int64
	ServiceID string
	Usage     int64
	Limit     int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("usage limit exceeded for user %d: %d/%d", e.UserID, e.Usage, e.Limit)
}

func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// AlreadySubscribedError is returned when a user already holds an active subscription.
type AlreadySubscribedError struct {
	UserID int64
}

func (e *AlreadySubscribedError) Error() string {
	return fmt.Sprintf("user %d already has an active subscription", e.UserID)
}

func (e *AlreadySubscribedError) Is(target error) bool { return target == ErrAlreadySubscribed }

// DuplicateNameError is returned when a unique name is already taken.
type DuplicateNameError struct {
	Resource string
	Name     string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s with name %q already exists", e.Resource, e.Name)
}

func (e *DuplicateNameError) Is(target error) bool { return target == ErrDuplicateName }

// HasDependentsError is returned when a delete would orphan dependent records.
type HasDependentsError struct {
	Resource   string
	ID         int64
	Dependents int64
}

func (e *HasDependentsError) Error() string {
	return fmt.Sprintf("%s %d has %d dependent records", e.Resource, e.ID, e.Dependents)
}

func (e *HasDependentsError) Is(target error) bool { return target == ErrHasDependents }

// NotFoundError is returned when a looked-up record does not exist.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidInputError is returned when a request field fails validation.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// UnknownServiceError is returned for service ids outside the fixed set.
type UnknownServiceError struct {
	Service string
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("unknown service %q", e.Service)
}

func (e *UnknownServiceError) Is(target error) bool { return target == ErrUnknownService }

// DownstreamError wraps a failure of a proxied third-party call.
type DownstreamError struct {
	Service string
	Err     error
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("service %s failed: %v", e.Service, e.Err)
}

func (e *DownstreamError) Unwrap() error { return e.Err }

func (e *DownstreamError) Is(target error) bool { return target == ErrDownstreamFailure }

// IntegrityError reports stored state that violates an invariant.
type IntegrityError struct {
	Detail string
	Err    error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("integrity fault: %s: %v", e.Detail, e.Err)
	}
	return "integrity fault: " + e.Detail
}

func (e *IntegrityError) Unwrap() error { return e.Err }

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrityFault }
