package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	labelPattern  = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
)

const maxReasonLength = 512

// NormalizeIntentID parses and canonicalises a UUID intent id.
func NormalizeIntentID(raw string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", ErrInvalidID
	}
	return parsed.String(), nil
}

// NormalizeTxHash lower-cases a 0x-prefixed 32 byte transaction hash.
func NormalizeTxHash(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !txHashPattern.MatchString(raw) {
		return "", ErrInvalidTxHash
	}
	return strings.ToLower(raw), nil
}

// NormalizeDomainName accepts "<label>.eth" names, lower-cased.
func NormalizeDomainName(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	label, ok := strings.CutSuffix(name, ".eth")
	if !ok || len(label) < 3 || len(label) > 63 || !labelPattern.MatchString(label) {
		return "", ErrInvalidDomain
	}
	return name, nil
}

// NormalizeReason trims a failure reason and caps it at maxReasonLength bytes
// on a rune boundary.
func NormalizeReason(raw string) (string, error) {
	reason := strings.TrimSpace(strings.ToValidUTF8(raw, "\uFFFD"))
	if reason == "" {
		return "", ErrInvalidReason
	}
	if len(reason) > maxReasonLength {
		cut := maxReasonLength
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = strings.TrimSpace(reason[:cut])
	}
	return reason, nil
}
