package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidID       = errors.New("invalid_intent_id")
	ErrInvalidOwner    = errors.New("invalid_owner_id")
	ErrInvalidDomain   = errors.New("invalid_domain_name")
	ErrInvalidTxHash   = errors.New("invalid_tx_hash")
	ErrInvalidReason   = errors.New("invalid_failure_reason")
	ErrInvalidDeadline = errors.New("invalid_deadline")
	ErrNotFound        = errors.New("intent_not_found")
	ErrInvalidState    = errors.New("invalid_state")
	ErrDomainTaken     = errors.New("domain_already_registered")
	ErrIntentActive    = errors.New("intent_already_active")
	ErrInvalidStatus   = errors.New("invalid_status")
)

// StateError reports a transition that is not legal from the intent's current status.
type StateError struct {
	Op      string
	Current Status
	Detail  string
}

func (e *StateError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: cannot %s from %s: %s", ErrInvalidState, e.Op, e.Current, e.Detail)
	}
	return fmt.Sprintf("%s: cannot %s from %s", ErrInvalidState, e.Op, e.Current)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

func invalidState(op string, current Status, detail string) error {
	return &StateError{Op: op, Current: current, Detail: detail}
}

// NewStateError builds the error returned for an illegal transition.
func NewStateError(op string, current Status, detail string) error {
	return invalidState(op, current, detail)
}
