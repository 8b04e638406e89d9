package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/ensmarket/internal/intent/domain"
	"gorm.io/gorm"
)

const intentColumns = `id, owner_id, domain_name, status, set_primary, commit_tx_hash, register_tx_hash,
	commit_by, register_by, committed_at, registerable_at, registered_at, failure_reason,
	last_checked_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, intent *domain.Intent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO purchase_intents (
			id, owner_id, domain_name, status, set_primary, commit_by, register_by,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		intent.ID,
		intent.OwnerID,
		intent.DomainName,
		intent.Status,
		intent.SetPrimary,
		intent.CommitBy,
		intent.RegisterBy,
		intent.CreatedAt,
		intent.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Intent, error) {
	var item domain.Intent
	err := db.WithContext(ctx).Raw(
		`SELECT `+intentColumns+`
		 FROM purchase_intents
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Intent, error) {
	query := db.WithContext(ctx).
		Table("purchase_intents").
		Select(intentColumns).
		Where("owner_id = ?", filter.OwnerID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.AfterCreatedAt != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			*filter.AfterCreatedAt, *filter.AfterCreatedAt, filter.AfterID)
	}

	var items []domain.Intent
	err := query.Order("created_at DESC").Order("id DESC").Limit(filter.Limit).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateCommitted(ctx context.Context, db *gorm.DB, id, txHash string, registerBy *time.Time, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE purchase_intents
		 SET status = ?, commit_tx_hash = ?, committed_at = ?,
			register_by = COALESCE(?, register_by), updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusCommitted,
		txHash,
		now,
		registerBy,
		now,
		id,
		domain.StatusPrepared,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) UpdateRegisterable(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE purchase_intents
		 SET status = ?, registerable_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusRegisterable,
		now,
		now,
		id,
		domain.StatusCommitted,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) UpdateRegistered(ctx context.Context, db *gorm.DB, id string, from domain.Status, txHash string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE purchase_intents
		 SET status = ?, register_tx_hash = ?, registered_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusRegistered,
		txHash,
		now,
		now,
		id,
		from,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) UpdateExpired(ctx context.Context, db *gorm.DB, id string, from domain.Status, reason string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE purchase_intents
		 SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusExpired,
		reason,
		now,
		id,
		from,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) UpdateFailed(ctx context.Context, db *gorm.DB, params domain.FailParams) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE purchase_intents
		 SET status = ?, failure_reason = ?,
			commit_tx_hash = COALESCE(commit_tx_hash, ?),
			register_tx_hash = COALESCE(register_tx_hash, ?),
			updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusFailed,
		params.Reason,
		params.CommitTxHash,
		params.RegisterTxHash,
		params.Now,
		params.ID,
		params.From,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) SetCommitTxHash(ctx context.Context, db *gorm.DB, id, txHash string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE purchase_intents
		 SET commit_tx_hash = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		txHash,
		now,
		id,
		domain.StatusPrepared,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) SetRegisterTxHash(ctx context.Context, db *gorm.DB, id, txHash string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE purchase_intents
		 SET register_tx_hash = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		txHash,
		now,
		id,
		domain.SourcesFor(domain.StatusRegistered),
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) MarkChecked(ctx context.Context, db *gorm.DB, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE purchase_intents SET last_checked_at = ? WHERE id IN ?`,
		now,
		ids,
	).Error
}

// ListDue only returns rows a sweep would act on, so intents that are stale
// but not yet due never hold the head of the scan.
func (r *repo) ListDue(ctx context.Context, db *gorm.DB, filter domain.DueFilter) ([]domain.Intent, error) {
	var items []domain.Intent
	err := db.WithContext(ctx).Raw(
		`SELECT `+intentColumns+`
		 FROM purchase_intents
		 WHERE updated_at <= ?
			AND (
				(status = ? AND commit_by < ?)
				OR (status IN ? AND register_by < ?)
				OR (status = ? AND committed_at <= ?)
			)
		 ORDER BY updated_at ASC, id ASC
		 LIMIT ?`,
		filter.UpdatedBefore,
		domain.StatusPrepared,
		filter.Now,
		[]domain.Status{domain.StatusCommitted, domain.StatusRegisterable},
		filter.Now,
		domain.StatusCommitted,
		filter.CommittedBefore,
		filter.Limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListWatchable(ctx context.Context, db *gorm.DB, limit int) ([]domain.Intent, error) {
	var items []domain.Intent
	err := db.WithContext(ctx).Raw(
		`SELECT `+intentColumns+`
		 FROM purchase_intents
		 WHERE (status = ? AND commit_tx_hash IS NOT NULL)
			OR (status = ? AND (commit_tx_hash IS NOT NULL OR register_tx_hash IS NOT NULL))
			OR (status = ? AND register_tx_hash IS NOT NULL)
		 ORDER BY COALESCE(last_checked_at, created_at) ASC, id ASC
		 LIMIT ?`,
		domain.StatusPrepared,
		domain.StatusCommitted,
		domain.StatusRegisterable,
		limit,
	).Scan(&items).Error
	if err != nil {
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
		 FROM purchase_intents
		 GROUP BY status`,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return toCountMap(rows), nil
}

func (r *repo) CountStuck(ctx context.Context, db *gorm.DB, updatedBefore time.Time) (map[domain.Status]int64, error) {
	var rows []statusCount
	err := db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS count
		 FROM purchase_intents
		 WHERE status IN ? AND updated_at <= ?
		 GROUP BY status`,
		domain.ActiveStatuses,
		updatedBefore,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return toCountMap(rows), nil
}

func toCountMap(rows []statusCount) map[domain.Status]int64 {
	out := make(map[domain.Status]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out
}

func (r *repo) InsertRegisteredDomain(ctx context.Context, db *gorm.DB, item *domain.RegisteredDomain) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO registered_domains (
			domain_name, owner_id, intent_id, tx_hash, is_primary, registered_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		item.DomainName,
		item.OwnerID,
		item.IntentID,
		item.TxHash,
		false,
		item.RegisteredAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindRegisteredDomain(ctx context.Context, db *gorm.DB, domainName string) (*domain.RegisteredDomain, error) {
	var item domain.RegisteredDomain
	err := db.WithContext(ctx).Raw(
		`SELECT domain_name, owner_id, intent_id, tx_hash, is_primary, registered_at
		 FROM registered_domains
		 WHERE domain_name = ?
		 LIMIT 1`,
		domainName,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.DomainName == "" {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ClearPrimary(ctx context.Context, db *gorm.DB, ownerID string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE registered_domains SET is_primary = ? WHERE owner_id = ? AND is_primary = ?`,
		false,
		ownerID,
		true,
	).Error
}

func (r *repo) SetPrimary(ctx context.Context, db *gorm.DB, intentID string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE registered_domains SET is_primary = ? WHERE intent_id = ?`,
		true,
		intentID,
	).Error
}
