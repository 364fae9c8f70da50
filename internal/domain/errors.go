package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrSuspended          = errors.New("account suspended")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

// QuotaExceededError reports a failed consumption attempt together with
// the usage snapshot observed inside the transaction.
type QuotaExceededError struct {
	UserID    string
	Resource  ResourceType
	Used      int
	Limit     int
	PeriodEnd string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for user %s resource %s: %d/%d used until %s",
		e.UserID, e.Resource, e.Used, e.Limit, e.PeriodEnd)
}

// CapExceededError reports that completing a publish would overrun the
// profile's daily cap. It is site-level, not user-facing.
type CapExceededError struct {
	ProfileID string
	Cap       int
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("daily cap %d reached for profile %s", e.Cap, e.ProfileID)
}

// PublishError wraps a failed call to a publish target. Retryable errors
// are transient network or 5xx conditions; the rest fail immediately.
type PublishError struct {
	StatusCode int
	Retryable  bool
	Message    string
}

func (e *PublishError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("publish failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("publish failed: %s", e.Message)
}
