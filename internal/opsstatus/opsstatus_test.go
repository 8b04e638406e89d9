package opsstatus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/ensmarket/internal/clock"
	"github.com/smallbiznis/ensmarket/internal/config"
	"github.com/smallbiznis/ensmarket/internal/dbtest"
	intentdomain "github.com/smallbiznis/ensmarket/internal/intent/domain"
	intentrepo "github.com/smallbiznis/ensmarket/internal/intent/repository"
	intentservice "github.com/smallbiznis/ensmarket/internal/intent/service"
	obsmetrics "github.com/smallbiznis/ensmarket/internal/observability/metrics"
	webhookrepo "github.com/smallbiznis/ensmarket/internal/webhook/repository"
	webhookservice "github.com/smallbiznis/ensmarket/internal/webhook/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func insertWebhookRow(t *testing.T, db *gorm.DB, id int64, status string, nextRetryAt *time.Time) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO ens_webhook_events (id, dedupe_key, event_type, intent_id, status, payload, attempts, next_retry_at, received_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		id,
		fmt.Sprintf("key-%d", id),
		"ens.commit.confirmed",
		"6f1c8f0e-2f5c-4a43-9e55-2f4bb7c9d001",
		status,
		`{}`,
		nextRetryAt,
		baseTime,
		baseTime,
	).Error
	require.NoError(t, err)
}

func TestStatusReportsCountsAndRefreshesGauges(t *testing.T) {
	db := dbtest.Open(t)
	fake := clock.NewFakeClock(baseTime)
	cfg := config.Config{
		ENS: config.ENSConfig{
			WebhookSecret:      "whsec_test",
			WebhookTTL:         5 * time.Minute,
			CommitDeadline:     10 * time.Minute,
			RegisterDeadline:   24 * time.Hour,
			StuckAfter:         time.Hour,
			WebhookMaxAttempts: 8,
		},
		Worker: config.WorkerConfig{Enabled: true, ReconcileInterval: time.Minute},
		Lock:   config.LockConfig{Backend: config.LockBackendMemory},
	}
	log := zap.NewNop()
	registry := prometheus.NewRegistry()
	metrics := obsmetrics.NewWorkerMetrics(registry, obsmetrics.Config{ServiceName: "ensmarket", Environment: "test"})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	intents := intentservice.New(intentservice.Params{DB: db, Log: log, Repo: intentrepo.Provide(), Clock: fake, Cfg: cfg})
	webhooks := webhookservice.New(webhookservice.Params{
		DB: db, Log: log, Repo: webhookrepo.Provide(), Intents: intents, Clock: fake, GenID: node, Cfg: cfg,
	})
	svc := New(Params{Cfg: cfg, Intents: intents, Webhooks: webhooks, Clock: fake, Metrics: metrics})

	ctx := context.Background()
	stuck, err := intents.Prepare(ctx, intentdomain.PrepareRequest{OwnerID: "user-1", DomainName: "stuck.eth"})
	require.NoError(t, err)
	_, err = intents.ConfirmCommit(ctx, intentdomain.ConfirmCommitRequest{IntentID: stuck.ID, TxHash: fmt.Sprintf("0x%064x", 1)})
	require.NoError(t, err)

	fake.Advance(2 * time.Hour)
	_, err = intents.Prepare(ctx, intentdomain.PrepareRequest{OwnerID: "user-1", DomainName: "fresh.eth"})
	require.NoError(t, err)

	due := fake.Now().Add(-time.Minute)
	later := fake.Now().Add(time.Hour)
	insertWebhookRow(t, db, 1, "processed", nil)
	insertWebhookRow(t, db, 2, "failed", &due)
	insertWebhookRow(t, db, 3, "failed", &later)
	insertWebhookRow(t, db, 4, "dead_letter", nil)

	report, err := svc.Status(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.Intents["prepared"])
	assert.Equal(t, int64(1), report.Intents["committed"])
	assert.Equal(t, int64(0), report.Intents["registered"])
	assert.Len(t, report.Intents, len(intentdomain.AllStatuses))

	assert.Equal(t, int64(1), report.StuckIntents["committed"])
	assert.Equal(t, int64(0), report.StuckIntents["prepared"])
	assert.Equal(t, int64(1), report.StuckTotal)

	assert.Equal(t, map[string]int64{"processing": 0, "processed": 1, "failed": 2, "dead_letter": 1}, report.Webhooks)
	assert.Equal(t, int64(1), report.WebhookRetryReady)
	assert.Empty(t, report.Jobs)

	assert.Equal(t, config.LockBackendMemory, report.Config.LockBackend)
	assert.True(t, report.Config.WebhookSecretSet)
	assert.True(t, report.Config.WorkerEnabled)
	assert.Equal(t, time.Minute.Milliseconds(), report.Config.ReconcileIntervalMs)
	assert.False(t, report.Config.ChainConfigured)

	stuckGauge, err := metricsGauge(registry, "ens_stuck_intents", "committed")
	require.NoError(t, err)
	assert.Equal(t, float64(1), stuckGauge)
	backlogSeries, err := testutil.GatherAndCount(registry, "ens_webhook_events")
	require.NoError(t, err)
	assert.Equal(t, 4, backlogSeries)
}

func metricsGauge(registry *prometheus.Registry, name, status string) (float64, error) {
	families, err := registry.Gather()
	if err != nil {
		return 0, err
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "status" && label.GetValue() == status {
					return metric.GetGauge().GetValue(), nil
				}
			}
		}
	}
	return 0, fmt.Errorf("gauge %s{status=%q} not found", name, status)
}
