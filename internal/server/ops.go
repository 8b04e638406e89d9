package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/ensmarket/internal/reconcile"
	"github.com/smallbiznis/ensmarket/internal/watcher"
	webhookdomain "github.com/smallbiznis/ensmarket/internal/webhook/domain"
)

type reconcileRequest struct {
	Limit        *int `json:"limit"`
	StaleMinutes *int `json:"staleMinutes"`
	DryRun       bool `json:"dryRun"`
}

type reconcileResponse struct {
	Acknowledged bool               `json:"acknowledged"`
	RunID        string             `json:"runId,omitempty"`
	DryRun       bool               `json:"dryRun"`
	Skipped      bool               `json:"skipped"`
	Summary      *reconcile.Summary `json:"summary,omitempty"`
	Transitions  []reconcile.Item   `json:"transitions,omitempty"`
}

type watchRequest struct {
	Limit int `json:"limit"`
}

type watchResponse struct {
	Acknowledged bool         `json:"acknowledged"`
	Skipped      bool         `json:"skipped"`
	Run          *watcher.Run `json:"run,omitempty"`
}

type retryRequest struct {
	Limit int `json:"limit"`
}

type retryResponse struct {
	Acknowledged bool                    `json:"acknowledged"`
	Skipped      bool                    `json:"skipped"`
	Run          *webhookdomain.RetryRun `json:"run,omitempty"`
}

// bindOptionalJSON accepts an empty body as "all defaults".
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// RunReconcile triggers one sweep. Per-intent failures are reported in the
// run; only a sweep that could not finish is an error response.
func (s *Server) RunReconcile(c *gin.Context) {
	var req reconcileRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	cfg := s.worker.Config()
	opts := reconcile.Options{
		Limit:        cfg.ReconcileLimit,
		StaleMinutes: cfg.ReconcileStaleMinutes,
		DryRun:       req.DryRun,
	}
	if req.Limit != nil {
		opts.Limit = *req.Limit
	}
	if req.StaleMinutes != nil {
		opts.StaleMinutes = *req.StaleMinutes
	}

	res, err := s.worker.Reconcile(c.Request.Context(), opts)
	if !res.Acquired {
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, reconcileResponse{Acknowledged: true, DryRun: opts.DryRun, Skipped: true})
		return
	}
	if err != nil && res.Value.FinishedAt.IsZero() {
		AbortWithError(c, err)
		return
	}

	run := res.Value
	c.JSON(http.StatusOK, reconcileResponse{
		Acknowledged: true,
		RunID:        run.RunID,
		DryRun:       run.DryRun,
		Summary:      &run.Summary,
		Transitions:  run.Transitions,
	})
}

func (s *Server) RunWatch(c *gin.Context) {
	var req watchRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.worker.Config().WatchLimit
	}

	res, err := s.worker.Watch(c.Request.Context(), limit)
	if !res.Acquired {
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, watchResponse{Acknowledged: true, Skipped: true})
		return
	}
	if err != nil && res.Value.FinishedAt.IsZero() {
		AbortWithError(c, err)
		return
	}

	run := res.Value
	c.JSON(http.StatusOK, watchResponse{Acknowledged: true, Run: &run})
}

func (s *Server) RunWebhookRetry(c *gin.Context) {
	var req retryRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.worker.Config().RetryLimit
	}

	res, err := s.worker.RetryWebhooks(c.Request.Context(), limit)
	if !res.Acquired {
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, retryResponse{Acknowledged: true, Skipped: true})
		return
	}
	if err != nil && res.Value.FinishedAt.IsZero() {
		AbortWithError(c, err)
		return
	}

	run := res.Value
	c.JSON(http.StatusOK, retryResponse{Acknowledged: true, Run: &run})
}

func (s *Server) WorkerStatus(c *gin.Context) {
	report, err := s.status.Status(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
