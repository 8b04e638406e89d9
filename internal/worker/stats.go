package worker

import (
	"sort"
	"sync"
	"time"
)

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeTimedOut  = "timed_out"
	OutcomeSkipped   = "skipped"
)

// JobStats is a point-in-time view of one job's runtime history in this process.
type JobStats struct {
	Job            string     `json:"job"`
	Enabled        bool       `json:"enabled"`
	IntervalMs     int64      `json:"intervalMs"`
	Running        bool       `json:"running"`
	LastRunID      string     `json:"lastRunId,omitempty"`
	LastSweepID    string     `json:"lastSweepId,omitempty"`
	LastStartedAt  *time.Time `json:"lastStartedAt,omitempty"`
	LastFinishedAt *time.Time `json:"lastFinishedAt,omitempty"`
	LastOutcome    string     `json:"lastOutcome,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	LastDurationMs int64      `json:"lastDurationMs"`
	Runs           int64      `json:"runs"`
	Skipped        int64      `json:"skipped"`
	Failures       int64      `json:"failures"`
}

type statsBook struct {
	mu   sync.Mutex
	jobs map[string]*JobStats
}

func newStatsBook(cfg Config) *statsBook {
	book := &statsBook{jobs: map[string]*JobStats{}}
	for _, job := range []string{JobReconcile, JobWatch, JobWebhookRetry} {
		interval := cfg.interval(job)
		book.jobs[job] = &JobStats{
			Job:        job,
			Enabled:    cfg.Enabled && interval > 0,
			IntervalMs: interval.Milliseconds(),
		}
	}
	return book
}

func (b *statsBook) start(job string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.jobs[job]; ok {
		s.Running = true
	}
}

func (b *statsBook) skip(job string, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.jobs[job]
	if !ok {
		return
	}
	s.Running = false
	s.Skipped++
	s.LastOutcome = OutcomeSkipped
	s.LastFinishedAt = &at
}

func (b *statsBook) finish(job string, run *jobRun, finished time.Time, outcome string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.jobs[job]
	if !ok {
		return
	}
	started := run.startedAt
	s.Running = false
	s.Runs++
	s.LastRunID = run.runID
	s.LastSweepID = run.report.sweepID
	s.LastStartedAt = &started
	s.LastFinishedAt = &finished
	s.LastDurationMs = finished.Sub(started).Milliseconds()
	s.LastOutcome = outcome
	s.LastError = ""
	if err != nil {
		s.Failures++
		s.LastError = err.Error()
	}
}

func (b *statsBook) snapshot() []JobStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]JobStats, 0, len(b.jobs))
	for _, s := range b.jobs {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}
