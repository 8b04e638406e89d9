// Package reconcile sweeps stale purchase intents and applies the time based
// transitions (expire, promote) the webhook path never delivers.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/ensmarket/internal/clock"
	"github.com/smallbiznis/ensmarket/internal/config"
	intentdomain "github.com/smallbiznis/ensmarket/internal/intent/domain"
	obscontext "github.com/smallbiznis/ensmarket/internal/observability/context"
	obslogger "github.com/smallbiznis/ensmarket/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ensmarket/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	DefaultLimit        = 100
	MaxLimit            = 500
	DefaultStaleMinutes = 15
)

const (
	ReasonRegisterDeadline = "register deadline passed"
	ReasonCommitDeadline   = "commit deadline passed"
	ReasonWindowElapsed    = "commit confirmation window elapsed"
)

var Module = fx.Module("reconcile",
	fx.Provide(New),
)

// Options bound one sweep. A negative StaleMinutes falls back to the default;
// zero scans every active intent regardless of age.
type Options struct {
	Limit        int  `json:"limit"`
	StaleMinutes int  `json:"staleMinutes"`
	DryRun       bool `json:"dryRun"`
}

func (o Options) normalize() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	if o.StaleMinutes < 0 {
		o.StaleMinutes = DefaultStaleMinutes
	}
	return o
}

type Item struct {
	IntentID   string              `json:"intentId"`
	DomainName string              `json:"domainName"`
	From       intentdomain.Status `json:"from"`
	To         intentdomain.Status `json:"to"`
	Reason     string              `json:"reason"`
	Applied    bool                `json:"applied"`
	Error      string              `json:"error,omitempty"`
}

type Summary struct {
	Scanned                int `json:"scanned"`
	Updated                int `json:"updated"`
	Expired                int `json:"expired"`
	PromotedToRegisterable int `json:"promotedToRegisterable"`
	Unchanged              int `json:"unchanged"`
	Failed                 int `json:"failed"`
}

type Run struct {
	RunID       string    `json:"runId"`
	DryRun      bool      `json:"dryRun"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Summary     Summary   `json:"summary"`
	Transitions []Item    `json:"transitions"`
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Intents intentdomain.Service
	Clock   clock.Clock
	Cfg     config.Config
	Metrics *obsmetrics.WorkerMetrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	intents intentdomain.Service
	clock   clock.Clock
	window  time.Duration
	metrics *obsmetrics.WorkerMetrics
}

func New(p Params) *Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Service{
		log:     p.Log.Named("reconcile"),
		intents: p.Intents,
		clock:   c,
		window:  p.Cfg.ENS.CommitConfirmationWindow,
		metrics: p.Metrics,
	}
}

// Decide returns the status an intent should move to at now, with the reason.
// ok is false when the intent is left unchanged.
func Decide(intent intentdomain.Intent, now time.Time, window time.Duration) (to intentdomain.Status, reason string, ok bool) {
	switch intent.Status {
	case intentdomain.StatusCommitted, intentdomain.StatusRegisterable:
		if intent.RegisterBy != nil && now.After(*intent.RegisterBy) {
			return intentdomain.StatusExpired, ReasonRegisterDeadline, true
		}
	case intentdomain.StatusPrepared:
		if intent.CommitBy != nil && now.After(*intent.CommitBy) {
			return intentdomain.StatusExpired, ReasonCommitDeadline, true
		}
	}
	if intent.Status == intentdomain.StatusCommitted && intent.CommittedAt != nil && now.Sub(*intent.CommittedAt) >= window {
		return intentdomain.StatusRegisterable, ReasonWindowElapsed, true
	}
	return intent.Status, "", false
}

// Reconcile scans stale intents that are due, oldest first. Each transition is
// pinned to the status it was decided on, so an intent moved by another signal
// in the meantime is left for the next sweep. Per-intent failures are recorded
// on the item and joined into the returned error; the run always completes.
func (s *Service) Reconcile(ctx context.Context, opts Options) (Run, error) {
	opts = opts.normalize()
	started := s.clock.Now()
	run := Run{
		RunID:       ulid.MustNew(ulid.Timestamp(started), ulid.DefaultEntropy()).String(),
		DryRun:      opts.DryRun,
		StartedAt:   started,
		Transitions: []Item{},
	}
	ctx = obscontext.WithRunID(ctx, run.RunID)
	log := obslogger.WithContext(ctx, s.log)

	candidates, err := s.intents.ListDue(ctx, time.Duration(opts.StaleMinutes)*time.Minute, s.window, opts.Limit)
	if err != nil {
		return run, fmt.Errorf("list due intents: %w", err)
	}
	run.Summary.Scanned = len(candidates)

	var errs []error
	for _, intent := range candidates {
		to, reason, ok := Decide(intent, started, s.window)
		if !ok {
			run.Summary.Unchanged++
			continue
		}
		item := Item{
			IntentID:   intent.ID,
			DomainName: intent.DomainName,
			From:       intent.Status,
			To:         to,
			Reason:     reason,
		}

		if !opts.DryRun {
			changed, err := s.apply(ctx, intent, to, reason)
			if err != nil {
				item.Error = err.Error()
				run.Summary.Failed++
				run.Transitions = append(run.Transitions, item)
				errs = append(errs, fmt.Errorf("intent %s: %w", intent.ID, err))
				obslogger.WithIntent(log, intent.ID).Warn("reconcile transition failed",
					zap.String("to", string(to)),
					zap.Error(err),
				)
				continue
			}
			if !changed {
				// another signal path moved the intent first
				run.Summary.Unchanged++
				continue
			}
			item.Applied = true
		}

		run.Summary.Updated++
		if to == intentdomain.StatusExpired {
			run.Summary.Expired++
		} else {
			run.Summary.PromotedToRegisterable++
		}
		run.Transitions = append(run.Transitions, item)
	}

	run.FinishedAt = s.clock.Now()
	s.metrics.AddItemsProcessed("reconcile", "updated", run.Summary.Updated)
	s.metrics.AddItemsProcessed("reconcile", "failed", run.Summary.Failed)
	log.Info("reconcile run finished",
		zap.Bool("dry_run", run.DryRun),
		zap.Int("scanned", run.Summary.Scanned),
		zap.Int("updated", run.Summary.Updated),
		zap.Int("expired", run.Summary.Expired),
		zap.Int("promoted", run.Summary.PromotedToRegisterable),
		zap.Int("unchanged", run.Summary.Unchanged),
		zap.Int("failed", run.Summary.Failed),
	)
	return run, errors.Join(errs...)
}

func (s *Service) apply(ctx context.Context, intent intentdomain.Intent, to intentdomain.Status, reason string) (bool, error) {
	req := intentdomain.TransitionRequest{
		IntentID: intent.ID,
		Reason:   reason,
		Source:   intentdomain.SourceReconcile,
		From:     intent.Status,
	}
	var (
		tr  intentdomain.Transition
		err error
	)
	switch to {
	case intentdomain.StatusExpired:
		tr, err = s.intents.Expire(ctx, req)
	case intentdomain.StatusRegisterable:
		tr, err = s.intents.PromoteRegisterable(ctx, req)
	default:
		return false, fmt.Errorf("unsupported reconcile target %s", to)
	}
	if err != nil {
		return false, err
	}
	return tr.Changed, nil
}
