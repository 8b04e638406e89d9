package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type FailParams struct {
	ID             string
	From           Status
	Reason         string
	CommitTxHash   *string
	RegisterTxHash *string
	Now            time.Time
}

// DueFilter selects active intents untouched since UpdatedBefore whose
// deadline passed at Now, or whose commit was confirmed at or before
// CommittedBefore.
type DueFilter struct {
	UpdatedBefore   time.Time
	Now             time.Time
	CommittedBefore time.Time
	Limit           int
}

type ListFilter struct {
	OwnerID string
	Status  Status
	// AfterCreatedAt and AfterID form the keyset cursor.
	AfterCreatedAt *time.Time
	AfterID        string
	Limit          int
}

// Repository is the narrow data-access surface used by the transition engine.
// Every Update* method is a compare-and-set guarded by the source status the
// caller observed and reports whether a row changed.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, intent *Intent) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Intent, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Intent, error)

	UpdateCommitted(ctx context.Context, db *gorm.DB, id, txHash string, registerBy *time.Time, now time.Time) (bool, error)
	UpdateRegisterable(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error)
	UpdateRegistered(ctx context.Context, db *gorm.DB, id string, from Status, txHash string, now time.Time) (bool, error)
	UpdateExpired(ctx context.Context, db *gorm.DB, id string, from Status, reason string, now time.Time) (bool, error)
	UpdateFailed(ctx context.Context, db *gorm.DB, params FailParams) (bool, error)
	SetCommitTxHash(ctx context.Context, db *gorm.DB, id, txHash string, now time.Time) (bool, error)
	SetRegisterTxHash(ctx context.Context, db *gorm.DB, id, txHash string, now time.Time) (bool, error)
	MarkChecked(ctx context.Context, db *gorm.DB, ids []string, now time.Time) error

	ListDue(ctx context.Context, db *gorm.DB, filter DueFilter) ([]Intent, error)
	ListWatchable(ctx context.Context, db *gorm.DB, limit int) ([]Intent, error)
	CountByStatus(ctx context.Context, db *gorm.DB) (map[Status]int64, error)
	CountStuck(ctx context.Context, db *gorm.DB, updatedBefore time.Time) (map[Status]int64, error)

	InsertRegisteredDomain(ctx context.Context, db *gorm.DB, domain *RegisteredDomain) (bool, error)
	FindRegisteredDomain(ctx context.Context, db *gorm.DB, domainName string) (*RegisteredDomain, error)
	ClearPrimary(ctx context.Context, db *gorm.DB, ownerID string) error
	SetPrimary(ctx context.Context, db *gorm.DB, intentID string) error
}
