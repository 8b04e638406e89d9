package domain

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
)

var AllStatuses = []Status{StatusProcessing, StatusProcessed, StatusFailed, StatusDeadLetter}

// WebhookEvent is one ledger row per dedupe key.
type WebhookEvent struct {
	ID          int64          `json:"id" gorm:"primaryKey;autoIncrement:false"`
	DedupeKey   string         `json:"dedupeKey" gorm:"type:text;not null;uniqueIndex"`
	EventType   EventType      `json:"eventType" gorm:"type:text;not null"`
	IntentID    string         `json:"intentId" gorm:"type:uuid;not null;index"`
	Status      Status         `json:"status" gorm:"type:text;not null"`
	Payload     datatypes.JSON `json:"payload" gorm:"not null"`
	Outcome     datatypes.JSON `json:"outcome,omitempty"`
	Attempts    int            `json:"attempts" gorm:"not null;default:1"`
	LastError   *string        `json:"lastError,omitempty" gorm:"type:text"`
	NextRetryAt *time.Time     `json:"nextRetryAt,omitempty"`
	ReceivedAt  time.Time      `json:"receivedAt" gorm:"not null"`
	ProcessedAt *time.Time     `json:"processedAt,omitempty"`
	UpdatedAt   time.Time      `json:"updatedAt" gorm:"not null"`
}

func (WebhookEvent) TableName() string { return "ens_webhook_events" }

// Outcome is stored on processed rows and replayed to duplicate deliveries.
type Outcome struct {
	EventID    int64     `json:"eventId,string"`
	EventType  EventType `json:"event"`
	IntentID   string    `json:"intentId"`
	Status     string    `json:"status"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Changed    bool      `json:"changed"`
	DomainName string    `json:"domainName"`
	TxHash     string    `json:"txHash,omitempty"`
}

// Result is the response body for an accepted delivery.
type Result struct {
	Acknowledged bool `json:"acknowledged"`
	Deduplicated bool `json:"deduplicated"`
	Processing   bool `json:"processing,omitempty"`
	*Outcome
}

type IngestRequest struct {
	Payload  []byte
	Headers  map[string][]string
	SourceIP string
}

type RetryItem struct {
	EventID   int64     `json:"eventId,string"`
	EventType EventType `json:"event"`
	IntentID  string    `json:"intentId"`
	Attempts  int       `json:"attempts"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
}

type RetrySummary struct {
	Scanned    int `json:"scanned"`
	Processed  int `json:"processed"`
	Failed     int `json:"failed"`
	DeadLetter int `json:"deadLetter"`
	Skipped    int `json:"skipped"`
}

// RetryRun reports one pass of the retry sweep.
type RetryRun struct {
	RunID      string       `json:"runId"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Summary    RetrySummary `json:"summary"`
	Items      []RetryItem  `json:"items"`
}

type ListRequest struct {
	Status    Status
	PageToken string
	PageSize  int32
}
