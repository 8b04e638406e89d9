package logger

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/ensmarket/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithActor(ctx, "system", "worker")
	ctx = obscontext.WithRunID(ctx, "run-9")
	ctx = obscontext.WithIntentID(ctx, "intent-3")

	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	expect := map[string]string{
		"request_id": "req-1",
		"actor_type": "system",
		"actor_id":   "worker",
		"run_id":     "run-9",
		"intent_id":  "intent-3",
		"trace_id":   "",
	}
	for key, want := range expect {
		if got, _ := fields[key].(string); got != want {
			t.Fatalf("expected %s=%q, got %q", key, want, got)
		}
	}
}

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		"SELECT 1":                               "SELECT",
		"  update purchase_intents set x = 1":    "UPDATE",
		"WITH c AS (SELECT 1) DELETE FROM t":     "SELECT",
		"INSERT INTO ens_webhook_events VALUES ": "INSERT",
		"":                                       "UNKNOWN",
	}
	for sql, want := range cases {
		if got := operationFromSQL(sql); got != want {
			t.Fatalf("operationFromSQL(%q) = %q, want %q", sql, got, want)
		}
	}
}

func TestWithContextSkipsUnsetFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	WithContext(context.Background(), zap.New(core)).Info("bare")

	fields := logs.All()[0].ContextMap()
	if len(fields) != 0 {
		t.Fatalf("expected no correlation fields, got %v", fields)
	}
}

func TestRequestLevel(t *testing.T) {
	cases := []struct {
		route     string
		status    int
		errorType string
		want      zapcore.Level
	}{
		{"/metrics", 200, "", zapcore.DebugLevel},
		{"/health", 500, "", zapcore.DebugLevel},
		{"/api/webhooks/ens/tx", 401, "auth_error", zapcore.WarnLevel},
		{"/api/webhooks/ens/tx", 429, "rate_limited", zapcore.WarnLevel},
		{"/api/webhooks/ens/tx", 502, "server_error", zapcore.ErrorLevel},
		{"/api/ens/intents", 400, "client_error", zapcore.InfoLevel},
	}
	for _, tc := range cases {
		if got := requestLevel(tc.route, tc.status, tc.errorType); got != tc.want {
			t.Fatalf("requestLevel(%s, %d, %s) = %s, want %s", tc.route, tc.status, tc.errorType, got, tc.want)
		}
	}
}
