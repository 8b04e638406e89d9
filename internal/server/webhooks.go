package server

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obslogger "github.com/smallbiznis/ensmarket/internal/observability/logger"
	webhookdomain "github.com/smallbiznis/ensmarket/internal/webhook/domain"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 64 << 10

// WebhookRateLimit throttles deliveries per source IP. Limiter failures let
// the delivery through; signature checks still apply.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		res, err := s.limiter.Allow(ctx, c.ClientIP())
		if err != nil {
			obslogger.FromContext(ctx).Warn("webhook rate limit unavailable", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			s.otel.RecordWebhookRejected(ctx, "rate_limited")
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

// IngestENSWebhook hands the raw body to the pipeline; the signature covers
// the exact bytes received.
func (s *Server) IngestENSWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes+1))
	if err != nil {
		AbortWithError(c, fmt.Errorf("%w: read body: %v", ErrInvalidRequest, err))
		return
	}
	if len(payload) > maxWebhookBodyBytes {
		AbortWithError(c, fmt.Errorf("%w: body exceeds %d bytes", ErrInvalidRequest, maxWebhookBodyBytes))
		return
	}

	result, err := s.webhooks.Ingest(c.Request.Context(), webhookdomain.IngestRequest{
		Payload:  payload,
		Headers:  c.Request.Header,
		SourceIP: c.ClientIP(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if result.Outcome != nil {
		c.Set("intent_id", result.IntentID)
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ListWebhookEvents(c *gin.Context) {
	status := webhookdomain.Status(strings.TrimSpace(c.Query("status")))
	if status != "" && !validWebhookStatus(status) {
		AbortWithError(c, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status))
		return
	}
	pageSize, err := parsePageSize(c.Query("pageSize"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.webhooks.List(c.Request.Context(), webhookdomain.ListRequest{
		Status:    status,
		PageToken: c.Query("pageToken"),
		PageSize:  pageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func validWebhookStatus(status webhookdomain.Status) bool {
	for _, candidate := range webhookdomain.AllStatuses {
		if status == candidate {
			return true
		}
	}
	return false
}
