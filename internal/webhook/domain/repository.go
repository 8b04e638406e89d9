package domain

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ClaimParams struct {
	ID int64
	// StaleBefore lets a processing row last touched before this instant be
	// reclaimed. Zero disables reclaiming.
	StaleBefore time.Time
	Now         time.Time
}

type FailParams struct {
	ID          int64
	Status      Status
	LastError   string
	NextRetryAt *time.Time
	Now         time.Time
}

type ListFilter struct {
	Status  Status
	AfterID int64
	Limit   int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	FindByDedupeKey(ctx context.Context, db *gorm.DB, dedupeKey string) (*WebhookEvent, error)
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*WebhookEvent, error)
	Claim(ctx context.Context, db *gorm.DB, params ClaimParams) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id int64, outcome datatypes.JSON, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, params FailParams) (bool, error)
	ListRetryable(ctx context.Context, db *gorm.DB, now, staleBefore time.Time, limit int) ([]WebhookEvent, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]WebhookEvent, error)
	CountByStatus(ctx context.Context, db *gorm.DB) (map[Status]int64, error)
	CountRetryReady(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}
