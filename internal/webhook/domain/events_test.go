package domain

import (
	"errors"
	"strings"
	"testing"
)

const (
	testIntentID = "6f1c1f8e-8c1d-4a53-9d53-0c6d4b8f4e11"
	testHash     = "0x00000000000000000000000000000000000000000000000000000000000000aa"
)

func TestParseEvent(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		want    EventType
		wantErr bool
	}{
		{
			name: "commit_upper_hex",
			body: `{"event":"ens.commit.confirmed","intentId":"` + testIntentID + `","txHash":"0x` + strings.ToUpper(testHash[2:]) + `"}`,
			want: EventCommitConfirmed,
		},
		{
			name:    "hash_without_prefix",
			body:    `{"event":"ens.commit.confirmed","intentId":"` + testIntentID + `","txHash":"` + testHash[2:] + `"}`,
			wantErr: true,
		},
		{
			name: "commit_with_register_by",
			body: `{"event":"ens.commit.confirmed","intentId":"` + testIntentID + `","txHash":"` + testHash + `","registerBy":"2026-03-02T12:00:00Z"}`,
			want: EventCommitConfirmed,
		},
		{
			name: "register",
			body: `{"event":"ens.register.confirmed","intentId":"` + testIntentID + `","txHash":"` + testHash + `","setPrimary":true}`,
			want: EventRegisterConfirmed,
		},
		{
			name: "failed_without_hash",
			body: `{"event":"ens.register.failed","intentId":"` + testIntentID + `","reason":"reverted"}`,
			want: EventRegisterFailed,
		},
		{name: "unknown_event", body: `{"event":"ens.renewed","intentId":"` + testIntentID + `"}`, wantErr: true},
		{name: "unknown_field", body: `{"event":"ens.register.failed","intentId":"` + testIntentID + `","reason":"x","extra":1}`, wantErr: true},
		{name: "foreign_field", body: `{"event":"ens.commit.confirmed","intentId":"` + testIntentID + `","txHash":"` + testHash + `","setPrimary":true}`, wantErr: true},
		{name: "missing_reason", body: `{"event":"ens.register.failed","intentId":"` + testIntentID + `"}`, wantErr: true},
		{name: "bad_intent", body: `{"event":"ens.register.failed","intentId":"nope","reason":"x"}`, wantErr: true},
		{name: "bad_register_by", body: `{"event":"ens.commit.confirmed","intentId":"` + testIntentID + `","txHash":"` + testHash + `","registerBy":"tomorrow"}`, wantErr: true},
		{name: "trailing", body: `{"event":"ens.register.failed","intentId":"` + testIntentID + `","reason":"x"} {}`, wantErr: true},
		{name: "not_json", body: `event=ens.commit.confirmed`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, err := ParseEvent([]byte(tc.body))
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidPayload) {
					t.Fatalf("expected ErrInvalidPayload, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if event.Type() != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, event.Type())
			}
			if event.Intent() != testIntentID {
				t.Fatalf("unexpected intent %q", event.Intent())
			}
		})
	}
}

func TestParseEventCarriesOptionalFields(t *testing.T) {
	event, err := ParseEvent([]byte(`{"event":"ens.register.confirmed","intentId":"` + testIntentID + `","txHash":"` + testHash + `","setPrimary":false}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	registered, ok := event.(RegisterConfirmed)
	if !ok {
		t.Fatalf("expected RegisterConfirmed, got %T", event)
	}
	if registered.SetPrimary == nil || *registered.SetPrimary {
		t.Fatalf("explicit setPrimary=false must be preserved")
	}
}

func TestDedupeKeyDistinguishesDiscriminator(t *testing.T) {
	a := RegisterFailed{IntentID: testIntentID, Reason: "reverted"}
	b := RegisterFailed{IntentID: testIntentID, Reason: "out of gas"}
	c := RegisterFailed{IntentID: testIntentID, Reason: "reverted", TxHash: testHash}
	if a.DedupeKey() == b.DedupeKey() {
		t.Fatalf("different reasons must not share a dedupe key")
	}
	if a.DedupeKey() == c.DedupeKey() {
		t.Fatalf("tx hash should take precedence over reason")
	}

	commit := CommitConfirmed{IntentID: testIntentID, TxHash: testHash}
	register := RegisterConfirmed{IntentID: testIntentID, TxHash: testHash}
	if commit.DedupeKey() == register.DedupeKey() {
		t.Fatalf("event type must be part of the dedupe key")
	}
	if len(commit.DedupeKey()) != 64 {
		t.Fatalf("expected hex sha256, got %q", commit.DedupeKey())
	}
}
