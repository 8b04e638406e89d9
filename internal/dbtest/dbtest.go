// Package dbtest opens isolated in-memory SQLite databases carrying the
// purchase intent and webhook ledger schema.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE purchase_intents (
		id               TEXT PRIMARY KEY,
		owner_id         TEXT NOT NULL,
		domain_name      TEXT NOT NULL,
		status           TEXT NOT NULL,
		set_primary      BOOLEAN NOT NULL DEFAULT FALSE,
		commit_tx_hash   TEXT,
		register_tx_hash TEXT,
		commit_by        DATETIME,
		register_by      DATETIME,
		committed_at     DATETIME,
		registerable_at  DATETIME,
		registered_at    DATETIME,
		failure_reason   TEXT,
		last_checked_at  DATETIME,
		created_at       DATETIME NOT NULL,
		updated_at       DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_purchase_intents_owner_domain_active ON purchase_intents (owner_id, domain_name)
		WHERE status IN ('prepared', 'committed', 'registerable')`,
	`CREATE TABLE registered_domains (
		domain_name   TEXT PRIMARY KEY,
		owner_id      TEXT NOT NULL,
		intent_id     TEXT NOT NULL UNIQUE,
		tx_hash       TEXT NOT NULL,
		is_primary    BOOLEAN NOT NULL DEFAULT FALSE,
		registered_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_registered_domains_primary ON registered_domains (owner_id) WHERE is_primary`,
	`CREATE TABLE ens_webhook_events (
		id            INTEGER PRIMARY KEY,
		dedupe_key    TEXT NOT NULL UNIQUE,
		event_type    TEXT NOT NULL,
		intent_id     TEXT NOT NULL,
		status        TEXT NOT NULL,
		payload       TEXT NOT NULL,
		outcome       TEXT,
		attempts      INTEGER NOT NULL DEFAULT 1,
		last_error    TEXT,
		next_retry_at DATETIME,
		received_at   DATETIME NOT NULL,
		processed_at  DATETIME,
		updated_at    DATETIME NOT NULL
	)`,
}

// Open returns a fresh database named after the test. The pool is pinned to a
// single connection so the shared in-memory database outlives idle cleanup.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}

// Backdate moves an intent's updated_at into the past so sweeps see it as stale.
func Backdate(ctx context.Context, db *gorm.DB, intentID string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE purchase_intents SET updated_at = ? WHERE id = ?`,
		at.UTC(),
		intentID,
	).Error
}

// SetDeadlines rewrites an intent's commit and register deadlines.
func SetDeadlines(ctx context.Context, db *gorm.DB, intentID string, commitBy, registerBy time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE purchase_intents SET commit_by = ?, register_by = ? WHERE id = ?`,
		commitBy.UTC(),
		registerBy.UTC(),
		intentID,
	).Error
}

// IntentStatus reads the stored status directly.
func IntentStatus(ctx context.Context, db *gorm.DB, intentID string) (string, error) {
	var status string
	err := db.WithContext(ctx).Raw(
		`SELECT status FROM purchase_intents WHERE id = ?`,
		intentID,
	).Scan(&status).Error
	return status, err
}

// CountRows counts rows in table.
func CountRows(ctx context.Context, db *gorm.DB, table string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Table(table).Count(&count).Error
	return count, err
}
