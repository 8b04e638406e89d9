package domain

import (
	"context"

	"github.com/smallbiznis/ensmarket/pkg/db/pagination"
)

type ListResponse struct {
	pagination.PageInfo
	Events []WebhookEvent `json:"events"`
}

type Service interface {
	// Ingest authenticates, parses, deduplicates and dispatches one delivery.
	Ingest(ctx context.Context, req IngestRequest) (Result, error)
	// RetryDue re-dispatches failed rows whose backoff elapsed and reclaims
	// abandoned processing rows.
	RetryDue(ctx context.Context, limit int) (RetryRun, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
	CountRetryReady(ctx context.Context) (int64, error)
}
