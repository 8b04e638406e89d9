package domain

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderSignature = "X-Webhook-Signature"

	signaturePrefix = "sha256="
)

// Sign returns the signature header value for body at unix timestamp ts.
func Sign(secret string, ts int64, body []byte) string {
	return signaturePrefix + hex.EncodeToString(mac(secret, strconv.FormatInt(ts, 10), body))
}

// VerifySignature checks the HMAC first, then the timestamp freshness in both
// directions. An empty secret never verifies.
func VerifySignature(secret, tsHeader, sigHeader string, body []byte, now time.Time, ttl time.Duration) error {
	secret = strings.TrimSpace(secret)
	tsHeader = strings.TrimSpace(tsHeader)
	sigHeader = strings.TrimSpace(sigHeader)
	if secret == "" || tsHeader == "" || sigHeader == "" {
		return ErrUnauthorized
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil || ts <= 0 {
		return ErrUnauthorized
	}

	provided, ok := strings.CutPrefix(sigHeader, signaturePrefix)
	if !ok {
		return ErrUnauthorized
	}
	decoded, err := hex.DecodeString(strings.ToLower(provided))
	if err != nil {
		return ErrUnauthorized
	}
	if !hmac.Equal(decoded, mac(secret, tsHeader, body)) {
		return ErrUnauthorized
	}

	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if ttl > 0 && skew > ttl {
		return ErrSignatureExpired
	}
	return nil
}

func mac(secret, ts string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write([]byte(ts))
	_, _ = h.Write([]byte("."))
	_, _ = h.Write(body)
	return h.Sum(nil)
}

// IPAllowed reports whether ip matches one of the allowlist entries (plain
// addresses or CIDR blocks). An empty allowlist allows everything.
func IPAllowed(allowlist []string, ip string) bool {
	if len(allowlist) == 0 {
		return true
	}
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	for _, entry := range allowlist {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			_, block, err := net.ParseCIDR(entry)
			if err == nil && block.Contains(parsed) {
				return true
			}
			continue
		}
		if allowed := net.ParseIP(entry); allowed != nil && allowed.Equal(parsed) {
			return true
		}
	}
	return false
}
