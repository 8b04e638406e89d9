package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	intentdomain "github.com/smallbiznis/ensmarket/internal/intent/domain"
)

type EventType string

const (
	EventCommitConfirmed   EventType = "ens.commit.confirmed"
	EventRegisterConfirmed EventType = "ens.register.confirmed"
	EventRegisterFailed    EventType = "ens.register.failed"
)

// Event is the closed set of webhook payloads. Dispatch switches on the
// concrete type.
type Event interface {
	Type() EventType
	Intent() string
	DedupeKey() string
	sealed()
}

type CommitConfirmed struct {
	IntentID   string
	TxHash     string
	RegisterBy *time.Time
}

type RegisterConfirmed struct {
	IntentID   string
	TxHash     string
	SetPrimary *bool
}

type RegisterFailed struct {
	IntentID string
	Reason   string
	TxHash   string
}

func (CommitConfirmed) Type() EventType   { return EventCommitConfirmed }
func (RegisterConfirmed) Type() EventType { return EventRegisterConfirmed }
func (RegisterFailed) Type() EventType    { return EventRegisterFailed }

func (e CommitConfirmed) Intent() string   { return e.IntentID }
func (e RegisterConfirmed) Intent() string { return e.IntentID }
func (e RegisterFailed) Intent() string    { return e.IntentID }

func (e CommitConfirmed) DedupeKey() string {
	return dedupeKey(e.Type(), e.IntentID, e.TxHash)
}

func (e RegisterConfirmed) DedupeKey() string {
	return dedupeKey(e.Type(), e.IntentID, e.TxHash)
}

func (e RegisterFailed) DedupeKey() string {
	if e.TxHash != "" {
		return dedupeKey(e.Type(), e.IntentID, e.TxHash)
	}
	return dedupeKey(e.Type(), e.IntentID, e.Reason)
}

func (CommitConfirmed) sealed()   {}
func (RegisterConfirmed) sealed() {}
func (RegisterFailed) sealed()    {}

func dedupeKey(eventType EventType, intentID, discriminator string) string {
	sum := sha256.Sum256([]byte(string(eventType) + "|" + intentID + "|" + discriminator))
	return hex.EncodeToString(sum[:])
}

type envelope struct {
	Event      string  `json:"event"`
	IntentID   string  `json:"intentId"`
	TxHash     *string `json:"txHash"`
	SetPrimary *bool   `json:"setPrimary"`
	Reason     *string `json:"reason"`
	RegisterBy *string `json:"registerBy"`
}

// ParseEvent decodes and validates a webhook body. Unknown fields, unknown
// event tags and fields that do not belong to the event kind are rejected.
func ParseEvent(body []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, payloadError("malformed json: %v", err)
	}
	if dec.More() {
		return nil, payloadError("trailing data after payload")
	}

	intentID, err := intentdomain.NormalizeIntentID(env.IntentID)
	if err != nil {
		return nil, payloadError("intentId must be a uuid")
	}

	switch EventType(env.Event) {
	case EventCommitConfirmed:
		if env.SetPrimary != nil || env.Reason != nil {
			return nil, payloadError("%s accepts only intentId, txHash, registerBy", env.Event)
		}
		hash, err := requireTxHash(env.TxHash)
		if err != nil {
			return nil, err
		}
		event := CommitConfirmed{IntentID: intentID, TxHash: hash}
		if env.RegisterBy != nil {
			at, err := time.Parse(time.RFC3339, strings.TrimSpace(*env.RegisterBy))
			if err != nil {
				return nil, payloadError("registerBy must be RFC3339")
			}
			at = at.UTC()
			event.RegisterBy = &at
		}
		return event, nil
	case EventRegisterConfirmed:
		if env.Reason != nil || env.RegisterBy != nil {
			return nil, payloadError("%s accepts only intentId, txHash, setPrimary", env.Event)
		}
		hash, err := requireTxHash(env.TxHash)
		if err != nil {
			return nil, err
		}
		return RegisterConfirmed{IntentID: intentID, TxHash: hash, SetPrimary: env.SetPrimary}, nil
	case EventRegisterFailed:
		if env.SetPrimary != nil || env.RegisterBy != nil {
			return nil, payloadError("%s accepts only intentId, reason, txHash", env.Event)
		}
		if env.Reason == nil {
			return nil, payloadError("reason is required")
		}
		reason, err := intentdomain.NormalizeReason(*env.Reason)
		if err != nil {
			return nil, payloadError("reason is required")
		}
		event := RegisterFailed{IntentID: intentID, Reason: reason}
		if env.TxHash != nil {
			hash, err := requireTxHash(env.TxHash)
			if err != nil {
				return nil, err
			}
			event.TxHash = hash
		}
		return event, nil
	default:
		return nil, payloadError("unknown event %q", env.Event)
	}
}

func requireTxHash(raw *string) (string, error) {
	if raw == nil {
		return "", payloadError("txHash is required")
	}
	hash, err := intentdomain.NormalizeTxHash(*raw)
	if err != nil {
		return "", payloadError("txHash must be 0x followed by 64 hex characters")
	}
	return hash, nil
}

func payloadError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}
