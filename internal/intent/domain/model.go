package domain

import (
	"time"
)

type Status string

const (
	StatusPrepared     Status = "prepared"
	StatusCommitted    Status = "committed"
	StatusRegisterable Status = "registerable"
	StatusRegistered   Status = "registered"
	StatusExpired      Status = "expired"
	StatusFailed       Status = "failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPrepared,
	StatusCommitted,
	StatusRegisterable,
	StatusRegistered,
	StatusExpired,
	StatusFailed,
}

// ActiveStatuses are the non-terminal statuses scanned by the reconciler and watcher.
var ActiveStatuses = []Status{
	StatusPrepared,
	StatusCommitted,
	StatusRegisterable,
}

var edges = map[Status][]Status{
	StatusPrepared:     {StatusCommitted, StatusExpired, StatusFailed},
	StatusCommitted:    {StatusRegisterable, StatusRegistered, StatusExpired, StatusFailed},
	StatusRegisterable: {StatusRegistered, StatusExpired, StatusFailed},
}

func (s Status) Valid() bool {
	for _, status := range AllStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusRegistered, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor returns the statuses that may move to the given status.
func SourcesFor(to Status) []Status {
	out := make([]Status, 0, 3)
	for _, from := range AllStatuses {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Source identifies which signal path drove a transition.
type Source string

const (
	SourceWebhook   Source = "webhook"
	SourceReconcile Source = "reconcile"
	SourceWatcher   Source = "watcher"
	SourceAPI       Source = "api"
)

type Intent struct {
	ID             string     `json:"intentId" gorm:"primaryKey;type:uuid"`
	OwnerID        string     `json:"ownerId" gorm:"type:text;not null;index"`
	DomainName     string     `json:"domainName" gorm:"type:text;not null;index"`
	Status         Status     `json:"status" gorm:"type:text;not null;index"`
	SetPrimary     bool       `json:"setPrimary" gorm:"not null;default:false"`
	CommitTxHash   *string    `json:"commitTxHash,omitempty" gorm:"type:text"`
	RegisterTxHash *string    `json:"registerTxHash,omitempty" gorm:"type:text"`
	CommitBy       *time.Time `json:"commitBy,omitempty"`
	RegisterBy     *time.Time `json:"registerBy,omitempty"`
	CommittedAt    *time.Time `json:"committedAt,omitempty"`
	RegisterableAt *time.Time `json:"registerableAt,omitempty"`
	RegisteredAt   *time.Time `json:"registeredAt,omitempty"`
	FailureReason  *string    `json:"failureReason,omitempty" gorm:"type:text"`
	LastCheckedAt  *time.Time `json:"lastCheckedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt" gorm:"not null"`
	UpdatedAt      time.Time  `json:"updatedAt" gorm:"not null;index"`
}

func (Intent) TableName() string { return "purchase_intents" }

func (i Intent) CommitHash() string {
	if i.CommitTxHash == nil {
		return ""
	}
	return *i.CommitTxHash
}

func (i Intent) RegisterHash() string {
	if i.RegisterTxHash == nil {
		return ""
	}
	return *i.RegisterTxHash
}

// RegisteredDomain is written once when an intent reaches registered.
type RegisteredDomain struct {
	DomainName   string    `json:"domainName" gorm:"primaryKey;type:text"`
	OwnerID      string    `json:"ownerId" gorm:"type:text;not null;index"`
	IntentID     string    `json:"intentId" gorm:"type:uuid;not null;uniqueIndex"`
	TxHash       string    `json:"txHash" gorm:"type:text;not null"`
	IsPrimary    bool      `json:"isPrimary" gorm:"not null;default:false"`
	RegisteredAt time.Time `json:"registeredAt" gorm:"not null"`
}

func (RegisteredDomain) TableName() string { return "registered_domains" }

// Transition is the result of a lifecycle operation. Changed is false when the
// operation found the intent already past the requested step.
type Transition struct {
	Intent  Intent `json:"intent"`
	From    Status `json:"from"`
	To      Status `json:"to"`
	Changed bool   `json:"changed"`
}

type PrepareRequest struct {
	OwnerID    string
	DomainName string
	SetPrimary bool
	CommitBy   *time.Time
	RegisterBy *time.Time
}

type ConfirmCommitRequest struct {
	IntentID   string
	TxHash     string
	RegisterBy *time.Time
	Source     Source
}

type ConfirmRegisterRequest struct {
	IntentID string
	TxHash   string
	// SetPrimary overrides the preference stored on the intent when set.
	SetPrimary *bool
	Source     Source
}

type MarkFailedRequest struct {
	IntentID string
	Reason   string
	TxHash   string
	Source   Source
}

// TransitionRequest drives the time-based transitions (promote, expire).
type TransitionRequest struct {
	IntentID string
	Reason   string
	Source   Source
	// From pins the status the caller decided on. An intent that has since
	// moved elsewhere is left unchanged.
	From     Status
}
