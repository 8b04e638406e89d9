package worker

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/ensmarket/internal/observability/context"
	obslogger "github.com/smallbiznis/ensmarket/internal/observability/logger"
	"go.uber.org/zap"
)

// jobReport is what a job body tells runJob about the sweep it performed.
type jobReport struct {
	sweepID   string
	scanned   int
	processed int
	failed    int
}

type jobRun struct {
	job       string
	runID     string
	startedAt time.Time
	report    jobReport
}

func (w *Worker) newJobRun(ctx context.Context, job string) (context.Context, *jobRun) {
	run := &jobRun{
		job:       job,
		runID:     w.genID.Generate().String(),
		startedAt: w.clock.Now(),
	}
	ctx = obscontext.WithActor(ctx, "system", "worker")
	ctx = obscontext.WithRunID(ctx, run.runID)
	return ctx, run
}

func (w *Worker) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, w.log)
}

func (w *Worker) logJobStart(ctx context.Context, run *jobRun) {
	w.logger(ctx).Info("worker.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
	)
}

func (w *Worker) logJobFinish(ctx context.Context, run *jobRun, err error) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.String("sweep_id", run.report.sweepID),
		zap.Int64("duration_ms", w.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("scanned_count", run.report.scanned),
		zap.Int("processed_count", run.report.processed),
		zap.Int("error_count", run.report.failed),
	}
	log := w.logger(ctx)
	if err != nil || run.report.failed > 0 {
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		log.Warn("worker.job.finish", fields...)
		return
	}
	log.Info("worker.job.finish", fields...)
}
