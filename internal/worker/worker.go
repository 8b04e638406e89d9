// Package worker owns the periodic batch jobs: reconcile sweeps, chain
// watching and webhook retries. Every run, scheduled or manual, goes through
// the lock coordinator so only one replica executes a job at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ensmarket/internal/clock"
	"github.com/smallbiznis/ensmarket/internal/lock"
	obsmetrics "github.com/smallbiznis/ensmarket/internal/observability/metrics"
	"github.com/smallbiznis/ensmarket/internal/reconcile"
	"github.com/smallbiznis/ensmarket/internal/watcher"
	webhookdomain "github.com/smallbiznis/ensmarket/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("worker_invalid_config")

// lock resources, one per job
const (
	resourceReconcile    = "ens:job:reconcile"
	resourceWatch        = "ens:job:watch"
	resourceWebhookRetry = "ens:job:webhook_retry"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Config     Config
	Clock      clock.Clock
	GenID      *snowflake.Node
	Lock       *lock.Coordinator
	Reconciler *reconcile.Service
	Watcher    *watcher.Service
	Webhooks   webhookdomain.Service
	Metrics    *obsmetrics.WorkerMetrics `optional:"true"`
}

type Worker struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	genID      *snowflake.Node
	lock       *lock.Coordinator
	reconciler *reconcile.Service
	watcher    *watcher.Service
	webhooks   webhookdomain.Service
	metrics    *obsmetrics.WorkerMetrics
	stats      *statsBook

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(p Params) (*Worker, error) {
	if p.Log == nil || p.Clock == nil || p.GenID == nil || p.Lock == nil || p.Reconciler == nil || p.Watcher == nil || p.Webhooks == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Worker{
		log:        p.Log.Named("worker").With(zap.String("component", "worker")),
		cfg:        cfg,
		clock:      p.Clock,
		genID:      p.GenID,
		lock:       p.Lock,
		reconciler: p.Reconciler,
		watcher:    p.Watcher,
		webhooks:   p.Webhooks,
		metrics:    p.Metrics,
		stats:      newStatsBook(cfg),
	}, nil
}

func (w *Worker) Config() Config { return w.cfg }

// Stats returns per-job runtime stats sorted by job name.
func (w *Worker) Stats() []JobStats { return w.stats.snapshot() }

// Reconcile runs one reconcile sweep under the job lock.
func (w *Worker) Reconcile(ctx context.Context, opts reconcile.Options) (lock.Result[reconcile.Run], error) {
	return runJob(ctx, w, JobReconcile, resourceReconcile, func(ctx context.Context) (reconcile.Run, jobReport, error) {
		run, err := w.reconciler.Reconcile(ctx, opts)
		return run, jobReport{
			sweepID:   run.RunID,
			scanned:   run.Summary.Scanned,
			processed: run.Summary.Updated,
			failed:    run.Summary.Failed,
		}, err
	})
}

// Watch runs one watcher pass under the job lock.
func (w *Worker) Watch(ctx context.Context, limit int) (lock.Result[watcher.Run], error) {
	return runJob(ctx, w, JobWatch, resourceWatch, func(ctx context.Context) (watcher.Run, jobReport, error) {
		run, err := w.watcher.Watch(ctx, limit)
		return run, jobReport{
			sweepID:   run.RunID,
			scanned:   run.Summary.Scanned,
			processed: run.Summary.Updated,
			failed:    run.Summary.Failed,
		}, err
	})
}

// RetryWebhooks runs one webhook retry sweep under the job lock.
func (w *Worker) RetryWebhooks(ctx context.Context, limit int) (lock.Result[webhookdomain.RetryRun], error) {
	return runJob(ctx, w, JobWebhookRetry, resourceWebhookRetry, func(ctx context.Context) (webhookdomain.RetryRun, jobReport, error) {
		run, err := w.webhooks.RetryDue(ctx, limit)
		return run, jobReport{
			sweepID:   run.RunID,
			scanned:   run.Summary.Scanned,
			processed: run.Summary.Processed,
			failed:    run.Summary.Failed + run.Summary.DeadLetter,
		}, err
	})
}

// runJob applies the job timeout, takes the job lock, and records logs,
// metrics and stats around fn. A held lock is reported as a skip, not an error.
func runJob[T any](
	parent context.Context,
	w *Worker,
	job, resource string,
	fn func(ctx context.Context) (T, jobReport, error),
) (lock.Result[T], error) {
	ctx, cancel := context.WithTimeout(parent, w.cfg.JobTimeout)
	defer cancel()
	ctx, run := w.newJobRun(ctx, job)

	result, err := lock.RunExclusive(ctx, w.lock, resource, func(ctx context.Context) (T, error) {
		w.stats.start(job)
		w.logJobStart(ctx, run)
		w.metrics.IncJobRun(job)
		value, report, err := fn(ctx)
		run.report = report
		return value, err
	})
	finished := w.clock.Now()

	if err == nil && !result.Acquired {
		w.metrics.IncJobSkipped(job, obsmetrics.WorkerSkipReasonLockHeld)
		w.stats.skip(job, finished)
		w.logger(ctx).Debug("worker.job.skipped",
			zap.String("job", job),
			zap.String("run_id", run.runID),
			zap.String("reason", obsmetrics.WorkerSkipReasonLockHeld),
		)
		return result, nil
	}

	w.metrics.ObserveJobDuration(job, finished.Sub(run.startedAt))
	w.logJobFinish(ctx, run, err)

	outcome := OutcomeSucceeded
	if err != nil {
		outcome = OutcomeFailed
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = OutcomeTimedOut
			w.metrics.IncJobTimeout(job)
		}
		w.metrics.IncJobError(job, err)
	}
	w.stats.finish(job, run, finished, outcome, err)

	if err != nil {
		return result, fmt.Errorf("%s: %w", job, err)
	}
	return result, nil
}

func (w *Worker) tick(ctx context.Context, job string) error {
	var err error
	switch job {
	case JobReconcile:
		_, err = w.Reconcile(ctx, reconcile.Options{
			Limit:        w.cfg.ReconcileLimit,
			StaleMinutes: w.cfg.ReconcileStaleMinutes,
		})
	case JobWatch:
		_, err = w.Watch(ctx, w.cfg.WatchLimit)
	case JobWebhookRetry:
		_, err = w.RetryWebhooks(ctx, w.cfg.RetryLimit)
	default:
		err = fmt.Errorf("unknown job %q", job)
	}
	return err
}

// Start launches one ticker loop per enabled job. Jobs run once immediately.
func (w *Worker) Start() {
	if !w.cfg.Enabled {
		w.log.Info("worker disabled")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	for _, job := range []string{JobReconcile, JobWatch, JobWebhookRetry} {
		interval := w.cfg.interval(job)
		if interval <= 0 {
			w.metrics.IncJobSkipped(job, obsmetrics.WorkerSkipReasonDisabled)
			w.log.Info("worker job disabled", zap.String("job", job))
			continue
		}
		w.wg.Add(1)
		go w.loop(ctx, job, interval)
		w.log.Info("worker job scheduled",
			zap.String("job", job),
			zap.Duration("interval", interval),
		)
	}
}

// Stop cancels the loops and waits for in-flight runs, bounded by ctx.
func (w *Worker) Stop(ctx context.Context) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(ctx context.Context, job string, interval time.Duration) {
	defer w.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	nextRun := w.clock.Now()

	for {
		w.metrics.ObserveRunLoopLag(job, w.clock.Now().Sub(nextRun))
		if err := w.tick(ctx, job); err != nil && ctx.Err() == nil {
			w.log.Warn("worker job failed", zap.String("job", job), zap.Error(err))
		}
		nextRun = nextRun.Add(interval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
