// Package watcher polls the chain for submitted commit and register
// transactions and routes confirmed outcomes through the intent service.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/ensmarket/internal/chain"
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
	DefaultLimit = 50
	MaxLimit     = 500
)

const (
	stageCommit   = "commit"
	stageRegister = "register"
)

var Module = fx.Module("watcher",
	fx.Provide(New),
)

type Item struct {
	IntentID   string              `json:"intentId"`
	DomainName string              `json:"domainName"`
	Stage      string              `json:"stage"`
	TxHash     string              `json:"txHash"`
	TxState    chain.TxState       `json:"txState"`
	From       intentdomain.Status `json:"from"`
	To         intentdomain.Status `json:"to"`
	Reason     string              `json:"reason,omitempty"`
	Applied    bool                `json:"applied"`
	Error      string              `json:"error,omitempty"`
}

type Summary struct {
	Scanned         int `json:"scanned"`
	Updated         int `json:"updated"`
	CommitConfirmed int `json:"commitConfirmed"`
	Registered      int `json:"registered"`
	Promoted        int `json:"promotedToRegisterable"`
	MarkedFailed    int `json:"markedFailed"`
	Unchanged       int `json:"unchanged"`
	Failed          int `json:"failed"`
}

type Run struct {
	RunID       string    `json:"runId"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Summary     Summary   `json:"summary"`
	Transitions []Item    `json:"transitions"`
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Intents intentdomain.Service
	Chain   chain.Client
	Clock   clock.Clock
	Cfg     config.Config
	Metrics *obsmetrics.WorkerMetrics `optional:"true"`
	Otel    *obsmetrics.Metrics       `optional:"true"`
}

type Service struct {
	log              *zap.Logger
	intents          intentdomain.Service
	chain            chain.Client
	clock            clock.Clock
	window           time.Duration
	minConfirmations uint64
	metrics          *obsmetrics.WorkerMetrics
	otel             *obsmetrics.Metrics
}

func New(p Params) *Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	minConf := p.Cfg.Chain.MinConfirmations
	if minConf == 0 {
		minConf = 1
	}
	return &Service{
		log:              p.Log.Named("watcher"),
		intents:          p.Intents,
		chain:            p.Chain,
		clock:            c,
		window:           p.Cfg.ENS.CommitConfirmationWindow,
		minConfirmations: minConf,
		metrics:          p.Metrics,
		otel:             p.Otel,
	}
}

// Watch polls up to limit intents, least recently checked first. Chain and
// transition errors are per intent; the run aborts only when the watchable set
// cannot be read or the chain client is not configured.
func (s *Service) Watch(ctx context.Context, limit int) (Run, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	started := s.clock.Now()
	run := Run{
		RunID:       ulid.MustNew(ulid.Timestamp(started), ulid.DefaultEntropy()).String(),
		StartedAt:   started,
		Transitions: []Item{},
	}
	ctx = obscontext.WithRunID(ctx, run.RunID)
	log := obslogger.WithContext(ctx, s.log)

	candidates, err := s.intents.ListWatchable(ctx, limit)
	if err != nil {
		return run, fmt.Errorf("list watchable intents: %w", err)
	}
	run.Summary.Scanned = len(candidates)

	var (
		errs    []error
		checked = make([]string, 0, len(candidates))
	)
	for _, intent := range candidates {
		item, err := s.check(ctx, intent)
		if errors.Is(err, chain.ErrNotConfigured) {
			return run, err
		}
		checked = append(checked, intent.ID)

		switch {
		case err != nil:
			item.Error = err.Error()
			run.Summary.Failed++
			errs = append(errs, fmt.Errorf("intent %s: %w", intent.ID, err))
			obslogger.WithIntent(log, intent.ID).Warn("watcher check failed",
				zap.String("stage", item.Stage),
				zap.Error(err),
			)
		case !item.Applied:
			run.Summary.Unchanged++
			continue
		default:
			run.Summary.Updated++
			switch item.To {
			case intentdomain.StatusCommitted:
				run.Summary.CommitConfirmed++
			case intentdomain.StatusRegistered:
				run.Summary.Registered++
			case intentdomain.StatusRegisterable:
				run.Summary.Promoted++
			case intentdomain.StatusFailed:
				run.Summary.MarkedFailed++
			}
		}
		run.Transitions = append(run.Transitions, item)
	}

	if err := s.intents.MarkChecked(ctx, checked); err != nil {
		errs = append(errs, fmt.Errorf("mark checked: %w", err))
	}

	run.FinishedAt = s.clock.Now()
	s.metrics.AddItemsProcessed("watch", "updated", run.Summary.Updated)
	s.metrics.AddItemsProcessed("watch", "failed", run.Summary.Failed)
	log.Info("watcher run finished",
		zap.Int("scanned", run.Summary.Scanned),
		zap.Int("updated", run.Summary.Updated),
		zap.Int("unchanged", run.Summary.Unchanged),
		zap.Int("failed", run.Summary.Failed),
	)
	return run, errors.Join(errs...)
}

// check polls the transaction relevant to the intent's status and applies at
// most one transition.
func (s *Service) check(ctx context.Context, intent intentdomain.Intent) (Item, error) {
	item := Item{
		IntentID:   intent.ID,
		DomainName: intent.DomainName,
		From:       intent.Status,
		To:         intent.Status,
	}

	switch {
	case intent.Status == intentdomain.StatusPrepared && intent.CommitHash() != "":
		item.Stage, item.TxHash = stageCommit, intent.CommitHash()
	case (intent.Status == intentdomain.StatusCommitted || intent.Status == intentdomain.StatusRegisterable) && intent.RegisterHash() != "":
		item.Stage, item.TxHash = stageRegister, intent.RegisterHash()
	case intent.Status == intentdomain.StatusCommitted && intent.CommitHash() != "":
		item.Stage, item.TxHash = stageCommit, intent.CommitHash()
	default:
		return item, nil
	}

	status, err := s.chain.TransactionStatus(ctx, item.TxHash)
	if err != nil {
		s.otel.RecordChainPoll(ctx, item.Stage, "error")
		return item, err
	}
	item.TxState = status.State
	s.otel.RecordChainPoll(ctx, item.Stage, string(status.State))

	if !status.Mined(s.minConfirmations) {
		return item, nil
	}

	var tr intentdomain.Transition
	switch {
	case item.Stage == stageCommit && intent.Status == intentdomain.StatusPrepared:
		if status.State == chain.TxSuccess {
			item.Reason = "commit transaction confirmed"
			tr, err = s.intents.ConfirmCommit(ctx, intentdomain.ConfirmCommitRequest{
				IntentID: intent.ID,
				TxHash:   item.TxHash,
				Source:   intentdomain.SourceWatcher,
			})
		} else {
			item.Reason = "commit transaction reverted"
			tr, err = s.markFailed(ctx, intent.ID, item)
		}
	case item.Stage == stageCommit:
		// committed intent without a register tx: promote once the window passes
		if status.State != chain.TxSuccess || intent.CommittedAt == nil || s.clock.Now().Sub(*intent.CommittedAt) < s.window {
			return item, nil
		}
		item.Reason = "commit confirmed and window elapsed"
		tr, err = s.intents.PromoteRegisterable(ctx, intentdomain.TransitionRequest{
			IntentID: intent.ID,
			Reason:   item.Reason,
			Source:   intentdomain.SourceWatcher,
		})
	default:
		if status.State == chain.TxSuccess {
			item.Reason = "register transaction confirmed"
			tr, err = s.intents.ConfirmRegister(ctx, intentdomain.ConfirmRegisterRequest{
				IntentID: intent.ID,
				TxHash:   item.TxHash,
				Source:   intentdomain.SourceWatcher,
			})
		} else {
			item.Reason = "register transaction reverted"
			tr, err = s.markFailed(ctx, intent.ID, item)
		}
	}
	if err != nil {
		return item, err
	}
	item.To = tr.To
	item.Applied = tr.Changed
	return item, nil
}

func (s *Service) markFailed(ctx context.Context, intentID string, item Item) (intentdomain.Transition, error) {
	return s.intents.MarkFailed(ctx, intentdomain.MarkFailedRequest{
		IntentID: intentID,
		Reason:   item.Reason,
		TxHash:   item.TxHash,
		Source:   intentdomain.SourceWatcher,
	})
}
