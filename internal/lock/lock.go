// Package lock keeps batch jobs single-flight across replicas.
package lock

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"time"

	obslogger "github.com/smallbiznis/ensmarket/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ensmarket/internal/observability/metrics"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("lock_not_configured")
	ErrEmptyResource = errors.New("lock_resource_empty")
)

// Locker is a non-blocking mutual exclusion backend.
type Locker interface {
	// TryAcquire returns ok=false without error when another holder owns resource.
	TryAcquire(ctx context.Context, resource string) (Lease, bool, error)
	Backend() string
}

// Lease is a held lock. Release is safe to call once per lease.
type Lease interface {
	Release(ctx context.Context) error
}

// Result reports whether the task ran and what it returned.
type Result[T any] struct {
	Acquired bool
	Value    T
}

// KeyFor maps a resource name onto the int64 key space of Postgres advisory locks.
func KeyFor(resource string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(resource))
	return int64(h.Sum64())
}

// Coordinator wraps a Locker with logging and lock metrics.
type Coordinator struct {
	locker  Locker
	log     *zap.Logger
	metrics *obsmetrics.WorkerMetrics
}

func NewCoordinator(locker Locker, log *zap.Logger, metrics *obsmetrics.WorkerMetrics) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{locker: locker, log: log.Named("lock"), metrics: metrics}
}

func (c *Coordinator) Backend() string {
	if c == nil || c.locker == nil {
		return ""
	}
	return c.locker.Backend()
}

// RunExclusive runs task only if resource could be locked. A held lock is not
// an error: the result comes back with Acquired=false and task never runs.
func RunExclusive[T any](ctx context.Context, c *Coordinator, resource string, task func(context.Context) (T, error)) (Result[T], error) {
	var result Result[T]
	if c == nil || c.locker == nil {
		return result, ErrNotConfigured
	}
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return result, ErrEmptyResource
	}

	log := obslogger.WithContext(ctx, c.log).With(
		zap.String("resource", resource),
		zap.String("backend", c.locker.Backend()),
	)

	lease, ok, err := c.locker.TryAcquire(ctx, resource)
	if err != nil {
		c.metrics.IncLockAttempt(resource, obsmetrics.LockResultError)
		log.Warn("lock acquire failed", zap.Error(err))
		return result, err
	}
	if !ok {
		c.metrics.IncLockAttempt(resource, obsmetrics.LockResultHeld)
		log.Debug("lock held elsewhere")
		return result, nil
	}
	c.metrics.IncLockAttempt(resource, obsmetrics.LockResultAcquired)

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			log.Warn("lock release failed", zap.Error(err))
		}
	}()

	result.Acquired = true
	result.Value, err = task(ctx)
	return result, err
}
