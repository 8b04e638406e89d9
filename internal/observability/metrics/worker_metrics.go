package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	intentdomain "github.com/smallbiznis/ensmarket/internal/intent/domain"
	"gorm.io/gorm"
)

const (
	WorkerJobReasonDeadlineExceeded     = "deadline_exceeded"
	WorkerJobReasonDBLockTimeout        = "db_lock_timeout"
	WorkerJobReasonSerializationFailure = "serialization_failure"
	WorkerJobReasonUniqueViolation      = "unique_violation"
	WorkerJobReasonInvalidState         = "invalid_state"
	WorkerJobReasonNotFound             = "not_found"
	WorkerJobReasonUnknown              = "unknown"

	WorkerSkipReasonLockHeld = "lock_held"
	WorkerSkipReasonDisabled = "disabled"
)

const (
	LockResultAcquired = "acquired"
	LockResultHeld     = "held"
	LockResultError    = "error"
)

// WorkerMetrics is the ops metrics sink for the intent engine: job health,
// intent transitions, webhook outcomes and backlog gauges.
type WorkerMetrics struct {
	jobRuns           *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	jobTimeouts       *prometheus.CounterVec
	jobErrors         *prometheus.CounterVec
	jobSkipped        *prometheus.CounterVec
	itemsProcessed    *prometheus.CounterVec
	runLoopLag        *prometheus.HistogramVec
	intentTransitions *prometheus.CounterVec
	webhookOutcomes   *prometheus.CounterVec
	stuckIntents      *prometheus.GaugeVec
	webhookBacklog    *prometheus.GaugeVec
	lockAttempts      *prometheus.CounterVec
	transitionCounts  map[string]map[string]map[string]prometheus.Counter
}

var (
	workerMetricsOnce sync.Once
	workerMetrics     *WorkerMetrics
)

// Worker returns the singleton worker metrics registry.
func Worker() *WorkerMetrics {
	return WorkerWithConfig(Config{})
}

// WorkerWithConfig returns the singleton worker metrics registry using config labels.
func WorkerWithConfig(cfg Config) *WorkerMetrics {
	workerMetricsOnce.Do(func() {
		workerMetrics = newWorkerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return workerMetrics
}

// ResetWorkerMetricsForTest resets the worker metrics singleton for tests.
func ResetWorkerMetricsForTest() {
	workerMetricsOnce = sync.Once{}
	workerMetrics = nil
}

// NewWorkerMetrics registers a fresh set of instruments on registerer.
func NewWorkerMetrics(registerer prometheus.Registerer, cfg Config) *WorkerMetrics {
	return newWorkerMetrics(registerer, cfg)
}

func newWorkerMetrics(registerer prometheus.Registerer, cfg Config) *WorkerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "ensmarket"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ens_worker_job_runs_total",
		Help:        "Worker job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "ens_worker_job_duration_seconds",
		Help:        "Worker job latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ens_worker_job_timeouts_total",
		Help:        "Worker job runs that hit the job timeout.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ens_worker_job_errors_total",
		Help:        "Worker job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	jobSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ens_worker_job_skipped_total",
		Help:        "Worker job ticks skipped, usually because another replica holds the lock.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	itemsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ens_worker_items_processed_total",
		Help:        "Items handled by worker jobs by result.",
		ConstLabels: constLabels,
	}, []string{"job", "result"})
	runLoopLag := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "ens_worker_runloop_lag_seconds",
		Help:        "Worker run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	}, []string{"job"})
	intentTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ens_intent_transitions_total",
		Help:        "Purchase intent lifecycle transitions by signal source.",
		ConstLabels: constLabels,
	}, []string{"from", "to", "source"})
	webhookOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ens_webhook_outcomes_total",
		Help:        "Webhook deliveries by event type and outcome.",
		ConstLabels: constLabels,
	}, []string{"event_type", "outcome"})
	stuckIntents := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "ens_stuck_intents",
		Help:        "Non-terminal intents not updated within the stuck threshold.",
		ConstLabels: constLabels,
	}, []string{"status"})
	webhookBacklog := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "ens_webhook_events",
		Help:        "Webhook ledger rows by status.",
		ConstLabels: constLabels,
	}, []string{"status"})
	lockAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ens_lock_attempts_total",
		Help:        "Advisory lock acquisition attempts by resource and result.",
		ConstLabels: constLabels,
	}, []string{"resource", "result"})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		jobSkipped,
		itemsProcessed,
		runLoopLag,
		intentTransitions,
		webhookOutcomes,
		stuckIntents,
		webhookBacklog,
		lockAttempts,
	)

	sources := []intentdomain.Source{
		intentdomain.SourceWebhook,
		intentdomain.SourceReconcile,
		intentdomain.SourceWatcher,
		intentdomain.SourceAPI,
	}
	transitionCounts := map[string]map[string]map[string]prometheus.Counter{}
	for _, to := range intentdomain.AllStatuses {
		for _, from := range intentdomain.SourcesFor(to) {
			if transitionCounts[string(from)] == nil {
				transitionCounts[string(from)] = map[string]map[string]prometheus.Counter{}
			}
			bySource := map[string]prometheus.Counter{}
			for _, source := range sources {
				bySource[string(source)] = intentTransitions.WithLabelValues(string(from), string(to), string(source))
			}
			transitionCounts[string(from)][string(to)] = bySource
		}
	}

	return &WorkerMetrics{
		jobRuns:           jobRuns,
		jobDuration:       jobDuration,
		jobTimeouts:       jobTimeouts,
		jobErrors:         jobErrors,
		jobSkipped:        jobSkipped,
		itemsProcessed:    itemsProcessed,
		runLoopLag:        runLoopLag,
		intentTransitions: intentTransitions,
		webhookOutcomes:   webhookOutcomes,
		stuckIntents:      stuckIntents,
		webhookBacklog:    webhookBacklog,
		lockAttempts:      lockAttempts,
		transitionCounts:  transitionCounts,
	}
}

// IncJobRun increments the run counter for a worker job.
func (m *WorkerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records worker job latency in seconds.
func (m *WorkerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *WorkerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the job error counter with classification.
func (m *WorkerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyWorkerJobReason(err)).Inc()
}

func (m *WorkerMetrics) IncJobSkipped(job, reason string) {
	if m == nil {
		return
	}
	m.jobSkipped.WithLabelValues(job, reason).Inc()
}

// AddItemsProcessed counts items handled by a job run, by result.
func (m *WorkerMetrics) AddItemsProcessed(job, result string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.itemsProcessed.WithLabelValues(job, result).Add(float64(count))
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *WorkerMetrics) ObserveRunLoopLag(job string, duration time.Duration) {
	if m == nil {
		return
	}
	lag := duration
	if lag < 0 {
		lag = 0
	}
	m.runLoopLag.WithLabelValues(job).Observe(lag.Seconds())
}

// IncIntentTransition counts an applied lifecycle transition.
func (m *WorkerMetrics) IncIntentTransition(from, to intentdomain.Status, source intentdomain.Source) {
	if m == nil {
		return
	}
	if toCounters, ok := m.transitionCounts[string(from)]; ok {
		if bySource, ok := toCounters[string(to)]; ok {
			if counter, ok := bySource[string(source)]; ok {
				counter.Inc()
				return
			}
		}
	}
	m.intentTransitions.WithLabelValues(string(from), string(to), string(source)).Inc()
}

func (m *WorkerMetrics) IncWebhookOutcome(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(eventType, outcome).Inc()
}

// SetStuckIntents replaces the stuck gauge values; statuses missing from counts are zeroed.
func (m *WorkerMetrics) SetStuckIntents(counts map[intentdomain.Status]int64) {
	if m == nil {
		return
	}
	for _, status := range intentdomain.ActiveStatuses {
		m.stuckIntents.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (m *WorkerMetrics) SetWebhookBacklog(counts map[string]int64) {
	if m == nil {
		return
	}
	for status, count := range counts {
		m.webhookBacklog.WithLabelValues(status).Set(float64(count))
	}
}

func (m *WorkerMetrics) IncLockAttempt(resource, result string) {
	if m == nil {
		return
	}
	m.lockAttempts.WithLabelValues(resource, result).Inc()
}

// ClassifyWorkerJobReason maps job errors to low-cardinality reasons.
func ClassifyWorkerJobReason(err error) string {
	if err == nil {
		return WorkerJobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return WorkerJobReasonDeadlineExceeded
	}
	if errors.Is(err, intentdomain.ErrInvalidState) {
		return WorkerJobReasonInvalidState
	}
	if errors.Is(err, intentdomain.ErrNotFound) {
		return WorkerJobReasonNotFound
	}
	if hasPGCode(err, "55P03") {
		return WorkerJobReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return WorkerJobReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return WorkerJobReasonUniqueViolation
	}
	return WorkerJobReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
