package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("event_type", "ens.commit.confirmed"),
		attribute.String("intent_id", "a6c0b5a4-6f0e-4d8e-9a55-0d1f1b2a3c4d"),
		attribute.String("outcome", "processed"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "intent_id" {
			t.Fatalf("intent_id must not be used as a metric label")
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordWebhookEvent(context.Background(), "ens.commit.confirmed", "processed")
	m.RecordWebhookRejected(context.Background(), "signature")
	m.RecordChainPoll(context.Background(), "commit", "success")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordWebhookEvent(context.Background(), "ens.register.confirmed", "deduplicated")
	m.RecordRateLimitDenied(context.Background(), "/api/webhooks/ens/tx", "ip-rate")
}
