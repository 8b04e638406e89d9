package config

import (
	"testing"
	"time"
)

func TestGetenvDurationAcceptsMillisAndDurations(t *testing.T) {
	t.Setenv("ENS_TEST_INTERVAL", "1500")
	if got := getenvDuration("ENS_TEST_INTERVAL", time.Second); got != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s, got %s", got)
	}

	t.Setenv("ENS_TEST_INTERVAL", "2m")
	if got := getenvDuration("ENS_TEST_INTERVAL", time.Second); got != 2*time.Minute {
		t.Fatalf("expected 2m, got %s", got)
	}

	t.Setenv("ENS_TEST_INTERVAL", "0")
	if got := getenvDuration("ENS_TEST_INTERVAL", time.Second); got != 0 {
		t.Fatalf("expected zero interval to disable, got %s", got)
	}

	t.Setenv("ENS_TEST_INTERVAL", "soon")
	if got := getenvDuration("ENS_TEST_INTERVAL", time.Second); got != time.Second {
		t.Fatalf("expected default on parse error, got %s", got)
	}
}

func TestLoadLockBackendFollowsDatabase(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("LOCK_BACKEND", "")
	if got := Load().Lock.Backend; got != LockBackendMemory {
		t.Fatalf("expected memory lock backend for sqlite, got %q", got)
	}

	t.Setenv("DATABASE_TYPE", "postgres")
	if got := Load().Lock.Backend; got != LockBackendPostgres {
		t.Fatalf("expected postgres lock backend, got %q", got)
	}

	t.Setenv("LOCK_BACKEND", "redis")
	if got := Load().Lock.Backend; got != LockBackendRedis {
		t.Fatalf("expected redis lock backend, got %q", got)
	}
}

func TestLoadParsesAllowlist(t *testing.T) {
	t.Setenv("ENS_WEBHOOK_IP_ALLOWLIST", " 10.0.0.1, 192.168.0.0/16 ,,")
	cfg := Load()
	if len(cfg.ENS.WebhookIPAllowlist) != 2 {
		t.Fatalf("expected 2 allowlist entries, got %v", cfg.ENS.WebhookIPAllowlist)
	}
	if cfg.ENS.WebhookIPAllowlist[1] != "192.168.0.0/16" {
		t.Fatalf("unexpected entry %q", cfg.ENS.WebhookIPAllowlist[1])
	}
}

func TestValidateWebhookPolicy(t *testing.T) {
	cases := []struct {
		name    string
		policy  WebhookPolicy
		wantErr bool
	}{
		{name: "valid", policy: WebhookPolicy{TTL: time.Minute, IPAllowlist: []string{"127.0.0.1", "10.0.0.0/8"}}},
		{name: "zero_ttl", policy: WebhookPolicy{}, wantErr: true},
		{name: "bad_ip", policy: WebhookPolicy{TTL: time.Minute, IPAllowlist: []string{"not-an-ip"}}, wantErr: true},
		{name: "bad_cidr", policy: WebhookPolicy{TTL: time.Minute, IPAllowlist: []string{"10.0.0.0/99"}}, wantErr: true},
		{name: "negative_rate", policy: WebhookPolicy{TTL: time.Minute, RateLimit: -1}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateWebhookPolicy(tc.policy)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestStaticWebhookPolicyHolder(t *testing.T) {
	holder := NewStaticWebhookPolicyHolder(WebhookPolicy{TTL: 30 * time.Second})
	if got := holder.Get().TTL; got != 30*time.Second {
		t.Fatalf("expected ttl 30s, got %s", got)
	}
	var nilHolder *WebhookPolicyHolder
	if got := nilHolder.Get(); got.TTL != 0 {
		t.Fatalf("expected empty policy from nil holder")
	}
}
