package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/ensmarket/internal/webhook/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const eventColumns = `id, dedupe_key, event_type, intent_id, status, payload, outcome, attempts,
	last_error, next_retry_at, received_at, processed_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO ens_webhook_events (
			id, dedupe_key, event_type, intent_id, status, payload, attempts,
			received_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		event.ID,
		event.DedupeKey,
		event.EventType,
		event.IntentID,
		event.Status,
		event.Payload,
		event.Attempts,
		event.ReceivedAt,
		event.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByDedupeKey(ctx context.Context, db *gorm.DB, dedupeKey string) (*domain.WebhookEvent, error) {
	return r.findOne(ctx, db, "dedupe_key = ?", dedupeKey)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.WebhookEvent, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.WebhookEvent, error) {
	var item domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM ens_webhook_events
		 WHERE `+where+`
		 LIMIT 1`,
		arg,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// Claim moves a failed or dead-lettered row (or an abandoned processing row)
// back to processing and counts the attempt. Only one caller can win.
func (r *repo) Claim(ctx context.Context, db *gorm.DB, params domain.ClaimParams) (bool, error) {
	staleBefore := params.StaleBefore
	if staleBefore.IsZero() {
		staleBefore = time.Unix(0, 0).UTC()
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE ens_webhook_events
		 SET status = ?, attempts = attempts + 1, next_retry_at = NULL, updated_at = ?
		 WHERE id = ?
			AND (status IN ? OR (status = ? AND updated_at <= ?))`,
		domain.StatusProcessing,
		params.Now,
		params.ID,
		[]domain.Status{domain.StatusFailed, domain.StatusDeadLetter},
		domain.StatusProcessing,
		staleBefore,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id int64, outcome datatypes.JSON, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE ens_webhook_events
		 SET status = ?, outcome = ?, last_error = NULL, next_retry_at = NULL,
			processed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusProcessed,
		outcome,
		now,
		now,
		id,
		domain.StatusProcessing,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, params domain.FailParams) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE ens_webhook_events
		 SET status = ?, last_error = ?, next_retry_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		params.Status,
		params.LastError,
		params.NextRetryAt,
		params.Now,
		params.ID,
		domain.StatusProcessing,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) ListRetryable(ctx context.Context, db *gorm.DB, now, staleBefore time.Time, limit int) ([]domain.WebhookEvent, error) {
	var items []domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM ens_webhook_events
		 WHERE (status = ? AND next_retry_at <= ?)
			OR (status = ? AND updated_at <= ?)
		 ORDER BY id ASC
		 LIMIT ?`,
		domain.StatusFailed,
		now,
		domain.StatusProcessing,
		staleBefore,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.WebhookEvent, error) {
	query := db.WithContext(ctx).Table("ens_webhook_events").Select(eventColumns)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.AfterID > 0 {
		query = query.Where("id < ?", filter.AfterID)
	}

	var items []domain.WebhookEvent
	if err := query.Order("id DESC").Limit(filter.Limit).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

type statusCount struct {
	Status domain.Status
	Count  int64
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB) (map[domain.Status]int64, error) {
	var rows []statusCount
	err := db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS count
		 FROM ens_webhook_events
		 GROUP BY status`,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Status]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (r *repo) CountRetryReady(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM ens_webhook_events
		 WHERE status = ? AND next_retry_at <= ?`,
		domain.StatusFailed,
		now,
	).Scan(&count).Error
	return count, err
}
