// Package opsstatus assembles the worker status report served to operators.
package opsstatus

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/ensmarket/internal/clock"
	"github.com/smallbiznis/ensmarket/internal/config"
	intentdomain "github.com/smallbiznis/ensmarket/internal/intent/domain"
	"github.com/smallbiznis/ensmarket/internal/lock"
	obsmetrics "github.com/smallbiznis/ensmarket/internal/observability/metrics"
	webhookdomain "github.com/smallbiznis/ensmarket/internal/webhook/domain"
	"github.com/smallbiznis/ensmarket/internal/worker"
	"go.uber.org/fx"
)

var Module = fx.Module("opsstatus",
	fx.Provide(New),
)

type Report struct {
	GeneratedAt       time.Time         `json:"generatedAt"`
	Intents           map[string]int64  `json:"intents"`
	Webhooks          map[string]int64  `json:"webhooks"`
	WebhookRetryReady int64             `json:"webhookRetryReady"`
	StuckIntents      map[string]int64  `json:"stuckIntents"`
	StuckTotal        int64             `json:"stuckTotal"`
	Jobs              []worker.JobStats `json:"jobs"`
	Config            EffectiveConfig   `json:"config"`
}

// EffectiveConfig is the running configuration with secrets reduced to presence flags.
type EffectiveConfig struct {
	LockBackend                string  `json:"lockBackend"`
	WorkerEnabled              bool    `json:"workerEnabled"`
	ReconcileIntervalMs        int64   `json:"reconcileIntervalMs"`
	ReconcileLimit             int     `json:"reconcileLimit"`
	ReconcileStaleMinutes      int     `json:"reconcileStaleMinutes"`
	WatchIntervalMs            int64   `json:"watchIntervalMs"`
	WatchLimit                 int     `json:"watchLimit"`
	WebhookRetryIntervalMs     int64   `json:"webhookRetryIntervalMs"`
	WebhookRetryLimit          int     `json:"webhookRetryLimit"`
	JobTimeoutMs               int64   `json:"jobTimeoutMs"`
	CommitConfirmationWindowMs int64   `json:"commitConfirmationWindowMs"`
	CommitDeadlineMs           int64   `json:"commitDeadlineMs"`
	RegisterDeadlineMs         int64   `json:"registerDeadlineMs"`
	StuckAfterMs               int64   `json:"stuckAfterMs"`
	WebhookTTLMs               int64   `json:"webhookTtlMs"`
	WebhookMaxAttempts         int     `json:"webhookMaxAttempts"`
	WebhookRetryBaseMs         int64   `json:"webhookRetryBaseMs"`
	WebhookRetryMaxMs          int64   `json:"webhookRetryMaxMs"`
	WebhookSecretSet           bool    `json:"webhookSecretConfigured"`
	WebhookAllowlistSize       int     `json:"webhookIpAllowlistSize"`
	WebhookRateLimit           float64 `json:"webhookRateLimit"`
	WebhookRateBurst           int     `json:"webhookRateBurst"`
	ChainConfigured            bool    `json:"chainConfigured"`
	MinConfirmations           uint64  `json:"minConfirmations"`
}

type Params struct {
	fx.In

	Cfg      config.Config
	Intents  intentdomain.Service
	Webhooks webhookdomain.Service
	Clock    clock.Clock
	Lock     *lock.Coordinator           `optional:"true"`
	Worker   *worker.Worker              `optional:"true"`
	Policy   *config.WebhookPolicyHolder `optional:"true"`
	Metrics  *obsmetrics.WorkerMetrics   `optional:"true"`
}

type Service struct {
	cfg      config.Config
	intents  intentdomain.Service
	webhooks webhookdomain.Service
	clock    clock.Clock
	lock     *lock.Coordinator
	worker   *worker.Worker
	policy   *config.WebhookPolicyHolder
	metrics  *obsmetrics.WorkerMetrics
}

func New(p Params) *Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Service{
		cfg:      p.Cfg,
		intents:  p.Intents,
		webhooks: p.Webhooks,
		clock:    c,
		lock:     p.Lock,
		worker:   p.Worker,
		policy:   p.Policy,
		metrics:  p.Metrics,
	}
}

// Status reads current counts and refreshes the stuck and backlog gauges.
func (s *Service) Status(ctx context.Context) (Report, error) {
	report := Report{
		GeneratedAt:  s.clock.Now(),
		Intents:      make(map[string]int64, len(intentdomain.AllStatuses)),
		Webhooks:     make(map[string]int64, len(webhookdomain.AllStatuses)),
		StuckIntents: make(map[string]int64, len(intentdomain.ActiveStatuses)),
		Jobs:         []worker.JobStats{},
		Config:       s.effectiveConfig(),
	}

	intents, err := s.intents.CountByStatus(ctx)
	if err != nil {
		return report, fmt.Errorf("count intents: %w", err)
	}
	for _, status := range intentdomain.AllStatuses {
		report.Intents[string(status)] = intents[status]
	}

	stuck, err := s.intents.CountStuck(ctx, s.stuckAfter())
	if err != nil {
		return report, fmt.Errorf("count stuck intents: %w", err)
	}
	for _, status := range intentdomain.ActiveStatuses {
		report.StuckIntents[string(status)] = stuck[status]
		report.StuckTotal += stuck[status]
	}
	s.metrics.SetStuckIntents(stuck)

	webhooks, err := s.webhooks.CountByStatus(ctx)
	if err != nil {
		return report, fmt.Errorf("count webhook events: %w", err)
	}
	for _, status := range webhookdomain.AllStatuses {
		report.Webhooks[string(status)] = webhooks[status]
	}
	s.metrics.SetWebhookBacklog(report.Webhooks)

	report.WebhookRetryReady, err = s.webhooks.CountRetryReady(ctx)
	if err != nil {
		return report, fmt.Errorf("count retry-ready webhook events: %w", err)
	}

	if s.worker != nil {
		report.Jobs = s.worker.Stats()
	}
	return report, nil
}

func (s *Service) stuckAfter() time.Duration {
	if s.cfg.ENS.StuckAfter > 0 {
		return s.cfg.ENS.StuckAfter
	}
	return time.Hour
}

func (s *Service) effectiveConfig() EffectiveConfig {
	ens := s.cfg.ENS
	policy := config.DefaultWebhookPolicy(s.cfg)
	if s.policy != nil {
		policy = s.policy.Get()
	}
	out := EffectiveConfig{
		LockBackend:              s.cfg.Lock.Backend,
		CommitConfirmationWindowMs: ens.CommitConfirmationWindow.Milliseconds(),
		CommitDeadlineMs:         ens.CommitDeadline.Milliseconds(),
		RegisterDeadlineMs:       ens.RegisterDeadline.Milliseconds(),
		StuckAfterMs:             s.stuckAfter().Milliseconds(),
		WebhookTTLMs:             policy.TTL.Milliseconds(),
		WebhookMaxAttempts:       ens.WebhookMaxAttempts,
		WebhookRetryBaseMs:       ens.WebhookRetryBase.Milliseconds(),
		WebhookRetryMaxMs:        ens.WebhookRetryMax.Milliseconds(),
		WebhookSecretSet:         ens.WebhookSecret != "",
		WebhookAllowlistSize:     len(policy.IPAllowlist),
		WebhookRateLimit:         policy.RateLimit,
		WebhookRateBurst:         policy.RateBurst,
		ChainConfigured:          s.cfg.Chain.RPCURL != "",
		MinConfirmations:         s.cfg.Chain.MinConfirmations,
	}
	if s.lock != nil {
		out.LockBackend = s.lock.Backend()
	}

	wcfg := worker.ProvideConfig(s.cfg)
	if s.worker != nil {
		wcfg = s.worker.Config()
	}
	out.WorkerEnabled = wcfg.Enabled
	out.ReconcileIntervalMs = wcfg.ReconcileInterval.Milliseconds()
	out.ReconcileLimit = wcfg.ReconcileLimit
	out.ReconcileStaleMinutes = wcfg.ReconcileStaleMinutes
	out.WatchIntervalMs = wcfg.WatchInterval.Milliseconds()
	out.WatchLimit = wcfg.WatchLimit
	out.WebhookRetryIntervalMs = wcfg.RetryInterval.Milliseconds()
	out.WebhookRetryLimit = wcfg.RetryLimit
	out.JobTimeoutMs = wcfg.JobTimeout.Milliseconds()
	return out
}
