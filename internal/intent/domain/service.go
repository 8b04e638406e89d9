package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/ensmarket/pkg/db/pagination"
)

type ListIntentRequest struct {
	OwnerID   string
	Status    Status
	PageToken string
	PageSize  int32
}

type ListIntentResponse struct {
	pagination.PageInfo
	Intents []Intent `json:"intents"`
}

// Service is the only writer of purchase intents. Transition methods are
// idempotent: re-applying a step the intent already passed returns the current
// intent with Changed=false.
type Service interface {
	Prepare(ctx context.Context, req PrepareRequest) (Intent, error)
	Get(ctx context.Context, id string) (Intent, error)
	List(ctx context.Context, req ListIntentRequest) (ListIntentResponse, error)
	AttachCommitTx(ctx context.Context, id, txHash string) (Intent, error)
	AttachRegisterTx(ctx context.Context, id, txHash string) (Intent, error)

	ConfirmCommit(ctx context.Context, req ConfirmCommitRequest) (Transition, error)
	ConfirmRegister(ctx context.Context, req ConfirmRegisterRequest) (Transition, error)
	MarkFailed(ctx context.Context, req MarkFailedRequest) (Transition, error)
	PromoteRegisterable(ctx context.Context, req TransitionRequest) (Transition, error)
	Expire(ctx context.Context, req TransitionRequest) (Transition, error)

	// ListDue returns stale active intents with a passed deadline or an
	// elapsed confirmation window, oldest update first.
	ListDue(ctx context.Context, olderThan, window time.Duration, limit int) ([]Intent, error)
	ListWatchable(ctx context.Context, limit int) ([]Intent, error)
	MarkChecked(ctx context.Context, ids []string) error
	CountByStatus(ctx context.Context) (map[Status]int64, error)
	CountStuck(ctx context.Context, olderThan time.Duration) (map[Status]int64, error)
}
