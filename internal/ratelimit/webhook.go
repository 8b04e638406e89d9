package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/ensmarket/internal/config"
	obsmetrics "github.com/smallbiznis/ensmarket/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyWebhookIP = "ens:webhook:ip:%s"

	webhookEndpoint = "/api/webhooks/ens/tx"
)

type WebhookParams struct {
	fx.In

	Log     *zap.Logger
	Redis   *redis.Client `optional:"true"`
	Policy  *config.WebhookPolicyHolder
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// WebhookLimiter throttles webhook deliveries per source IP. Rate and burst
// come from the live webhook policy, so a reload takes effect on the next
// request.
type WebhookLimiter struct {
	log     *zap.Logger
	bucket  *TokenBucket
	policy  *config.WebhookPolicyHolder
	metrics *obsmetrics.Metrics
}

func NewWebhookLimiter(p WebhookParams) *WebhookLimiter {
	l := &WebhookLimiter{
		log:     p.Log.Named("ratelimit.webhook"),
		policy:  p.Policy,
		metrics: p.Metrics,
	}
	if p.Redis != nil {
		l.bucket = NewTokenBucket(p.Redis)
	}
	return l
}

func (l *WebhookLimiter) Enabled() bool {
	if l == nil || l.bucket == nil {
		return false
	}
	policy := l.policy.Get()
	return policy.RateLimit > 0 && policy.RateBurst > 0
}

// Allow takes one token for ip. A disabled limiter always allows. Redis
// errors are returned alongside an allowing result; the caller decides
// whether to fail open.
func (l *WebhookLimiter) Allow(ctx context.Context, ip string) (RateLimitResult, error) {
	if !l.Enabled() {
		return RateLimitResult{Allowed: true}, nil
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		ip = "unknown"
	}

	policy := l.policy.Get()
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyWebhookIP, ip), policy.RateLimit, policy.RateBurst)
	if err != nil {
		l.log.Warn("webhook rate limit check failed", zap.Error(err))
		return RateLimitResult{Allowed: true}, err
	}
	if !res.Allowed {
		l.metrics.RecordRateLimitDenied(ctx, webhookEndpoint, "ip-rate")
		return res, nil
	}
	l.metrics.RecordRateLimitAllowed(ctx, webhookEndpoint)
	return res, nil
}
