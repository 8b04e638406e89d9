package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/ensmarket/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebhookLimiterWithoutRedisAllows(t *testing.T) {
	limiter := NewWebhookLimiter(WebhookParams{
		Log: zap.NewNop(),
		Policy: config.NewStaticWebhookPolicyHolder(config.WebhookPolicy{
			TTL:       5 * time.Minute,
			RateLimit: 10,
			RateBurst: 20,
		}),
	})

	assert.False(t, limiter.Enabled())
	res, err := limiter.Allow(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestNilWebhookLimiterAllows(t *testing.T) {
	var limiter *WebhookLimiter
	res, err := limiter.Allow(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestTokenBucketRejectsBadInput(t *testing.T) {
	var bucket *TokenBucket
	_, err := bucket.Allow(context.Background(), "k", 1, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)

	assert.Nil(t, NewTokenBucket(nil))
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, time.Second, defaultBucketTTL(0, 10))
	assert.Equal(t, 4*time.Second, defaultBucketTTL(5, 10))
	assert.Equal(t, time.Second, defaultBucketTTL(1000, 1))
}

func TestCastHelpers(t *testing.T) {
	assert.Equal(t, int64(3), castToInt("3"))
	assert.Equal(t, int64(2), castToInt(int64(2)))
	assert.InDelta(t, 2.5, castToFloat("2.5"), 0.0001)
	assert.InDelta(t, 4.0, castToFloat(int64(4)), 0.0001)
	assert.Equal(t, 0.0, castToFloat(nil))
}
