package domain

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestVerifySignature(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"event":"ens.commit.confirmed"}`)
	ts := now.Unix()
	header := strconv.FormatInt(ts, 10)
	sig := Sign("secret", ts, body)

	cases := []struct {
		name   string
		secret string
		ts     string
		sig    string
		body   []byte
		now    time.Time
		want   error
	}{
		{name: "valid", secret: "secret", ts: header, sig: sig, body: body, now: now},
		{name: "future_within_ttl", secret: "secret", ts: header, sig: sig, body: body, now: now.Add(-4 * time.Minute)},
		{name: "wrong_secret", secret: "other", ts: header, sig: sig, body: body, now: now, want: ErrUnauthorized},
		{name: "tampered_body", secret: "secret", ts: header, sig: sig, body: []byte(`{}`), now: now, want: ErrUnauthorized},
		{name: "missing_prefix", secret: "secret", ts: header, sig: sig[len("sha256="):], body: body, now: now, want: ErrUnauthorized},
		{name: "empty_secret", secret: "", ts: header, sig: sig, body: body, now: now, want: ErrUnauthorized},
		{name: "bad_timestamp", secret: "secret", ts: "yesterday", sig: sig, body: body, now: now, want: ErrUnauthorized},
		{name: "expired", secret: "secret", ts: header, sig: sig, body: body, now: now.Add(6 * time.Minute), want: ErrSignatureExpired},
		{name: "too_far_in_future", secret: "secret", ts: header, sig: sig, body: body, now: now.Add(-6 * time.Minute), want: ErrSignatureExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifySignature(tc.secret, tc.ts, tc.sig, tc.body, tc.now, 5*time.Minute)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestIPAllowed(t *testing.T) {
	allowlist := []string{"10.0.0.1", "192.168.0.0/16"}
	if !IPAllowed(nil, "8.8.8.8") {
		t.Fatalf("empty allowlist must allow everything")
	}
	if !IPAllowed(allowlist, "10.0.0.1") || !IPAllowed(allowlist, "192.168.4.20") {
		t.Fatalf("expected listed addresses to be allowed")
	}
	if IPAllowed(allowlist, "10.0.0.2") || IPAllowed(allowlist, "garbage") {
		t.Fatalf("expected unlisted addresses to be rejected")
	}
}
