package domain

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCanTransitionFollowsGraph(t *testing.T) {
	allowed := map[Status][]Status{
		StatusPrepared:     {StatusCommitted, StatusExpired, StatusFailed},
		StatusCommitted:    {StatusRegisterable, StatusRegistered, StatusExpired, StatusFailed},
		StatusRegisterable: {StatusRegistered, StatusExpired, StatusFailed},
	}

	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := false
			for _, candidate := range allowed[from] {
				if candidate == to {
					want = true
				}
			}
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatusesHaveNoEdges(t *testing.T) {
	for _, status := range []Status{StatusRegistered, StatusExpired, StatusFailed} {
		if !status.Terminal() {
			t.Fatalf("%s should be terminal", status)
		}
		for _, to := range AllStatuses {
			if CanTransition(status, to) {
				t.Fatalf("terminal %s must not move to %s", status, to)
			}
		}
	}
}

func TestSourcesFor(t *testing.T) {
	got := SourcesFor(StatusRegistered)
	if len(got) != 2 || got[0] != StatusCommitted || got[1] != StatusRegisterable {
		t.Fatalf("unexpected sources for registered: %v", got)
	}
	if len(SourcesFor(StatusPrepared)) != 0 {
		t.Fatalf("nothing moves into prepared")
	}
}

func TestNormalizeTxHash(t *testing.T) {
	upper := "0xABCDEF0000000000000000000000000000000000000000000000000000000001"
	got, err := NormalizeTxHash(upper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0xabcdef0000000000000000000000000000000000000000000000000000000001" {
		t.Fatalf("hash not lower-cased: %s", got)
	}

	for _, bad := range []string{"", "0x1234", "abcdef0000000000000000000000000000000000000000000000000000000001", upper + "00"} {
		if _, err := NormalizeTxHash(bad); !errors.Is(err, ErrInvalidTxHash) {
			t.Fatalf("expected ErrInvalidTxHash for %q, got %v", bad, err)
		}
	}
}

func TestNormalizeDomainName(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "Alice.ETH", want: "alice.eth"},
		{in: " my-name.eth ", want: "my-name.eth"},
		{in: "ab.eth", wantErr: true},
		{in: "-bad.eth", wantErr: true},
		{in: "alice.com", wantErr: true},
		{in: "al ice.eth", wantErr: true},
	}
	for _, tc := range cases {
		got, err := NormalizeDomainName(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidDomain) {
				t.Fatalf("%q: expected ErrInvalidDomain, got %v", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %q, %v", tc.in, got, err)
		}
	}
}

func TestStateErrorUnwrapsToInvalidState(t *testing.T) {
	err := NewStateError("confirm commit", StatusExpired, "")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	var stateErr *StateError
	if !errors.As(err, &stateErr) || stateErr.Current != StatusExpired {
		t.Fatalf("expected StateError carrying current status")
	}
}

func TestNormalizeReasonKeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("a", maxReasonLength-1) + "é tail"
	got, err := NormalizeReason(long)
	if err != nil {
		t.Fatalf("NormalizeReason: %v", err)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("reason is not valid UTF-8")
	}
	if got != strings.Repeat("a", maxReasonLength-1) {
		t.Fatalf("reason cut at %d bytes, want %d", len(got), maxReasonLength-1)
	}

	got, err = NormalizeReason("  reverted \xff ")
	if err != nil {
		t.Fatalf("NormalizeReason: %v", err)
	}
	if got != "reverted \uFFFD" {
		t.Fatalf("got %q", got)
	}

	if _, err := NormalizeReason("   "); !errors.Is(err, ErrInvalidReason) {
		t.Fatalf("blank reason: got %v", err)
	}
}
