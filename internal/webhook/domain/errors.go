package domain

import "errors"

var (
	ErrUnauthorized     = errors.New("webhook_unauthorized")
	ErrSignatureExpired = errors.New("webhook_signature_expired")
	ErrIPNotAllowed     = errors.New("webhook_ip_not_allowed")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrRateLimited      = errors.New("webhook_rate_limited")
	ErrNotFound         = errors.New("webhook_event_not_found")
)

// DispatchError wraps a failed transition with the event kind that produced it.
// Permanent errors dead-letter the ledger row immediately.
type DispatchError struct {
	EventType EventType
	Cause     error
	Permanent bool
}

func (e *DispatchError) Error() string {
	return string(e.EventType) + ": " + e.Cause.Error()
}

func (e *DispatchError) Unwrap() error { return e.Cause }
