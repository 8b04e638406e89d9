package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/ensmarket/internal/clock"
	"github.com/smallbiznis/ensmarket/internal/config"
	intentdomain "github.com/smallbiznis/ensmarket/internal/intent/domain"
	obscontext "github.com/smallbiznis/ensmarket/internal/observability/context"
	obslogger "github.com/smallbiznis/ensmarket/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ensmarket/internal/observability/metrics"
	"github.com/smallbiznis/ensmarket/internal/webhook/domain"
	"github.com/smallbiznis/ensmarket/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	outcomeProcessed    = "processed"
	outcomeDeduplicated = "deduplicated"
	outcomeInFlight     = "in_flight"
	outcomeFailed       = "failed"
	outcomeDeadLetter   = "dead_letter"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    domain.Repository
	Intents intentdomain.Service
	Clock   clock.Clock
	GenID   *snowflake.Node
	Cfg     config.Config
	Policy  *config.WebhookPolicyHolder `optional:"true"`
	Metrics *obsmetrics.WorkerMetrics   `optional:"true"`
	Otel    *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	intents intentdomain.Service
	clock   clock.Clock
	genID   *snowflake.Node
	cfg     config.ENSConfig
	policy  *config.WebhookPolicyHolder
	metrics *obsmetrics.WorkerMetrics
	otel    *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	policy := p.Policy
	if policy == nil {
		policy = config.NewStaticWebhookPolicyHolder(config.DefaultWebhookPolicy(p.Cfg))
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("webhook.service"),
		repo:    p.Repo,
		intents: p.Intents,
		clock:   c,
		genID:   p.GenID,
		cfg:     p.Cfg.ENS,
		policy:  policy,
		metrics: p.Metrics,
		otel:    p.Otel,
	}
}

func (s *Service) Ingest(ctx context.Context, req domain.IngestRequest) (domain.Result, error) {
	policy := s.policy.Get()
	if !domain.IPAllowed(policy.IPAllowlist, req.SourceIP) {
		s.reject(ctx, "ip_not_allowed")
		return domain.Result{}, domain.ErrIPNotAllowed
	}

	headers := http.Header(req.Headers)
	err := domain.VerifySignature(
		s.cfg.WebhookSecret,
		headers.Get(domain.HeaderTimestamp),
		headers.Get(domain.HeaderSignature),
		req.Payload,
		s.clock.Now(),
		policy.TTL,
	)
	if err != nil {
		if errors.Is(err, domain.ErrSignatureExpired) {
			s.reject(ctx, "signature_expired")
		} else {
			s.reject(ctx, "unauthorized")
		}
		return domain.Result{}, err
	}

	event, err := domain.ParseEvent(req.Payload)
	if err != nil {
		s.reject(ctx, "invalid_payload")
		return domain.Result{}, err
	}

	ctx = obscontext.WithIntentID(ctx, event.Intent())
	return s.process(ctx, event, req.Payload)
}

func (s *Service) process(ctx context.Context, event domain.Event, payload []byte) (domain.Result, error) {
	now := s.clock.Now()
	row := domain.WebhookEvent{
		ID:         s.genID.Generate().Int64(),
		DedupeKey:  event.DedupeKey(),
		EventType:  event.Type(),
		IntentID:   event.Intent(),
		Status:     domain.StatusProcessing,
		Payload:    datatypes.JSON(payload),
		Attempts:   1,
		ReceivedAt: now,
		UpdatedAt:  now,
	}

	inserted, err := s.repo.Insert(ctx, s.db, &row)
	if err != nil {
		return domain.Result{}, fmt.Errorf("insert webhook event: %w", err)
	}
	if inserted {
		return s.dispatchAndFinalize(ctx, row, event)
	}

	existing, err := s.repo.FindByDedupeKey(ctx, s.db, row.DedupeKey)
	if err != nil {
		return domain.Result{}, err
	}
	if existing == nil {
		return domain.Result{}, fmt.Errorf("webhook event %s vanished after conflict", row.DedupeKey)
	}

	if result, done := s.replay(ctx, *existing, now); done {
		return result, nil
	}

	claimed, err := s.repo.Claim(ctx, s.db, domain.ClaimParams{
		ID:          existing.ID,
		StaleBefore: s.staleBefore(now),
		Now:         now,
	})
	if err != nil {
		return domain.Result{}, err
	}
	if !claimed {
		// another delivery claimed the row between our read and update
		current, err := s.repo.FindByID(ctx, s.db, existing.ID)
		if err != nil {
			return domain.Result{}, err
		}
		if current != nil && current.Status == domain.StatusProcessed {
			return s.replayProcessed(ctx, *current)
		}
		s.recordOutcome(ctx, existing.EventType, outcomeInFlight)
		return domain.Result{Acknowledged: true, Deduplicated: true, Processing: true}, nil
	}

	existing.Status = domain.StatusProcessing
	existing.Attempts++
	obslogger.WithContext(ctx, s.log).Info("webhook event reclaimed",
		zap.Int64("event_id", existing.ID),
		zap.String("event_type", string(existing.EventType)),
		zap.Int("attempts", existing.Attempts),
	)
	return s.dispatchAndFinalize(ctx, *existing, event)
}

// replay answers duplicate deliveries that must not run the transition again.
func (s *Service) replay(ctx context.Context, existing domain.WebhookEvent, now time.Time) (domain.Result, bool) {
	switch existing.Status {
	case domain.StatusProcessed:
		result, err := s.replayProcessed(ctx, existing)
		if err != nil {
			obslogger.WithContext(ctx, s.log).Error("stored webhook outcome unreadable",
				zap.Int64("event_id", existing.ID),
				zap.Error(err),
			)
			return domain.Result{Acknowledged: true, Deduplicated: true}, true
		}
		return result, true
	case domain.StatusProcessing:
		stale := s.cfg.WebhookProcessingTimeout > 0 && !existing.UpdatedAt.After(s.staleBefore(now))
		if stale {
			return domain.Result{}, false
		}
		s.recordOutcome(ctx, existing.EventType, outcomeInFlight)
		return domain.Result{Acknowledged: true, Deduplicated: true, Processing: true}, true
	default:
		return domain.Result{}, false
	}
}

func (s *Service) replayProcessed(ctx context.Context, existing domain.WebhookEvent) (domain.Result, error) {
	s.recordOutcome(ctx, existing.EventType, outcomeDeduplicated)
	if len(existing.Outcome) == 0 {
		return domain.Result{Acknowledged: true, Deduplicated: true}, nil
	}
	var outcome domain.Outcome
	if err := json.Unmarshal(existing.Outcome, &outcome); err != nil {
		return domain.Result{}, err
	}
	return domain.Result{Acknowledged: true, Deduplicated: true, Outcome: &outcome}, nil
}

func (s *Service) dispatchAndFinalize(ctx context.Context, row domain.WebhookEvent, event domain.Event) (domain.Result, error) {
	log := obslogger.WithContext(ctx, s.log).With(
		zap.Int64("event_id", row.ID),
		zap.String("event_type", string(row.EventType)),
		zap.Int("attempts", row.Attempts),
	)

	transition, err := s.dispatch(ctx, event)
	if err != nil {
		return domain.Result{}, s.fail(ctx, log, row, err)
	}

	outcome := domain.Outcome{
		EventID:    row.ID,
		EventType:  row.EventType,
		IntentID:   transition.Intent.ID,
		Status:     string(transition.Intent.Status),
		From:       string(transition.From),
		To:         string(transition.To),
		Changed:    transition.Changed,
		DomainName: transition.Intent.DomainName,
		TxHash:     txHashOf(event),
	}
	encoded, err := json.Marshal(outcome)
	if err != nil {
		return domain.Result{}, err
	}

	if _, err := s.repo.MarkProcessed(ctx, s.db, row.ID, datatypes.JSON(encoded), s.clock.Now()); err != nil {
		log.Error("mark webhook processed failed", zap.Error(err))
		return domain.Result{}, fmt.Errorf("mark webhook processed: %w", err)
	}

	label := outcomeProcessed
	if !transition.Changed {
		label = outcomeDeduplicated
	}
	s.recordOutcome(ctx, row.EventType, label)
	log.Info("webhook event processed",
		zap.String("from", outcome.From),
		zap.String("to", outcome.To),
		zap.Bool("changed", outcome.Changed),
	)

	return domain.Result{
		Acknowledged: true,
		Deduplicated: !transition.Changed,
		Outcome:      &outcome,
	}, nil
}

func (s *Service) dispatch(ctx context.Context, event domain.Event) (intentdomain.Transition, error) {
	switch e := event.(type) {
	case domain.CommitConfirmed:
		return s.intents.ConfirmCommit(ctx, intentdomain.ConfirmCommitRequest{
			IntentID:   e.IntentID,
			TxHash:     e.TxHash,
			RegisterBy: e.RegisterBy,
			Source:     intentdomain.SourceWebhook,
		})
	case domain.RegisterConfirmed:
		return s.intents.ConfirmRegister(ctx, intentdomain.ConfirmRegisterRequest{
			IntentID:   e.IntentID,
			TxHash:     e.TxHash,
			SetPrimary: e.SetPrimary,
			Source:     intentdomain.SourceWebhook,
		})
	case domain.RegisterFailed:
		return s.intents.MarkFailed(ctx, intentdomain.MarkFailedRequest{
			IntentID: e.IntentID,
			Reason:   e.Reason,
			TxHash:   e.TxHash,
			Source:   intentdomain.SourceWebhook,
		})
	default:
		return intentdomain.Transition{}, fmt.Errorf("%w: unhandled event %T", domain.ErrInvalidPayload, event)
	}
}

// fail records a failed attempt. Permanent causes and exhausted rows are
// dead-lettered; everything else gets a backoff deadline for the retry sweep.
func (s *Service) fail(ctx context.Context, log *zap.Logger, row domain.WebhookEvent, cause error) error {
	now := s.clock.Now()
	permanent := isPermanent(cause)
	params := domain.FailParams{
		ID:        row.ID,
		Status:    domain.StatusFailed,
		LastError: truncate(cause.Error(), 1024),
		Now:       now,
	}
	maxAttempts := s.cfg.WebhookMaxAttempts
	if permanent || (maxAttempts > 0 && row.Attempts >= maxAttempts) {
		params.Status = domain.StatusDeadLetter
	} else {
		next := now.Add(retryDelay(row.Attempts, s.cfg.WebhookRetryBase, s.cfg.WebhookRetryMax))
		params.NextRetryAt = &next
	}

	if _, err := s.repo.MarkFailed(ctx, s.db, params); err != nil {
		log.Error("mark webhook failed failed", zap.Error(err))
	}

	label := outcomeFailed
	if params.Status == domain.StatusDeadLetter {
		label = outcomeDeadLetter
	}
	s.recordOutcome(ctx, row.EventType, label)
	log.Warn("webhook event failed",
		zap.String("status", string(params.Status)),
		zap.Bool("permanent", permanent),
		zap.Error(cause),
	)

	return &domain.DispatchError{EventType: row.EventType, Cause: cause, Permanent: permanent}
}

// RetryDue claims due rows one at a time so concurrent sweeps on other
// replicas skip rows they lose the claim on.
func (s *Service) RetryDue(ctx context.Context, limit int) (domain.RetryRun, error) {
	if limit <= 0 {
		limit = 50
	}
	started := s.clock.Now()
	run := domain.RetryRun{
		RunID:     ulid.MustNew(ulid.Timestamp(started), ulid.DefaultEntropy()).String(),
		StartedAt: started,
		Items:     []domain.RetryItem{},
	}
	ctx = obscontext.WithRunID(ctx, run.RunID)
	log := obslogger.WithContext(ctx, s.log)

	due, err := s.repo.ListRetryable(ctx, s.db, started, s.staleBefore(started), limit)
	if err != nil {
		return run, err
	}
	run.Summary.Scanned = len(due)

	for _, row := range due {
		item := domain.RetryItem{EventID: row.ID, EventType: row.EventType, IntentID: row.IntentID}

		claimed, err := s.repo.Claim(ctx, s.db, domain.ClaimParams{
			ID:          row.ID,
			StaleBefore: s.staleBefore(started),
			Now:         s.clock.Now(),
		})
		if err != nil {
			return run, err
		}
		if !claimed {
			run.Summary.Skipped++
			continue
		}
		row.Attempts++
		item.Attempts = row.Attempts

		event, err := domain.ParseEvent(row.Payload)
		if err != nil {
			// stored payloads were validated on ingest; treat as permanent
			_ = s.fail(ctx, log, row, err)
			item.Status = domain.StatusDeadLetter
			item.Error = err.Error()
			run.Summary.DeadLetter++
			run.Items = append(run.Items, item)
			continue
		}

		eventCtx := obscontext.WithIntentID(ctx, row.IntentID)
		if _, err := s.dispatchAndFinalize(eventCtx, row, event); err != nil {
			item.Error = err.Error()
			var dispatchErr *domain.DispatchError
			if errors.As(err, &dispatchErr) && (dispatchErr.Permanent || (s.cfg.WebhookMaxAttempts > 0 && row.Attempts >= s.cfg.WebhookMaxAttempts)) {
				item.Status = domain.StatusDeadLetter
				run.Summary.DeadLetter++
			} else {
				item.Status = domain.StatusFailed
				run.Summary.Failed++
			}
		} else {
			item.Status = domain.StatusProcessed
			run.Summary.Processed++
		}
		run.Items = append(run.Items, item)
	}

	run.FinishedAt = s.clock.Now()
	if run.Summary.Scanned > 0 {
		log.Info("webhook retry sweep finished",
			zap.Int("scanned", run.Summary.Scanned),
			zap.Int("processed", run.Summary.Processed),
			zap.Int("failed", run.Summary.Failed),
			zap.Int("dead_letter", run.Summary.DeadLetter),
			zap.Int("skipped", run.Summary.Skipped),
		)
	}
	return run, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListResponse{}, err
	}
	limit := pagination.NormalizePageSize(req.PageSize)
	filter := domain.ListFilter{Status: req.Status, Limit: limit + 1}
	if cursor != nil {
		afterID, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return domain.ListResponse{}, pagination.ErrInvalidPageToken
		}
		filter.AfterID = afterID
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}
	items, pageInfo, err := pagination.Page(items, limit, func(item domain.WebhookEvent) pagination.Cursor {
		return pagination.Cursor{ID: strconv.FormatInt(item.ID, 10), CreatedAt: item.ReceivedAt}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}
	if items == nil {
		items = []domain.WebhookEvent{}
	}
	return domain.ListResponse{PageInfo: pageInfo, Events: items}, nil
}

func (s *Service) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	return s.repo.CountByStatus(ctx, s.db)
}

func (s *Service) CountRetryReady(ctx context.Context) (int64, error) {
	return s.repo.CountRetryReady(ctx, s.db, s.clock.Now())
}

func (s *Service) staleBefore(now time.Time) time.Time {
	if s.cfg.WebhookProcessingTimeout <= 0 {
		return time.Time{}
	}
	return now.Add(-s.cfg.WebhookProcessingTimeout)
}

func (s *Service) reject(ctx context.Context, reason string) {
	s.otel.RecordWebhookRejected(ctx, reason)
	obslogger.WithContext(ctx, s.log).Warn("webhook rejected", zap.String("reason", reason))
}

func (s *Service) recordOutcome(ctx context.Context, eventType domain.EventType, outcome string) {
	s.metrics.IncWebhookOutcome(string(eventType), outcome)
	s.otel.RecordWebhookEvent(ctx, string(eventType), outcome)
}

func isPermanent(err error) bool {
	return errors.Is(err, intentdomain.ErrInvalidState) ||
		errors.Is(err, intentdomain.ErrNotFound) ||
		errors.Is(err, intentdomain.ErrInvalidID) ||
		errors.Is(err, intentdomain.ErrInvalidTxHash) ||
		errors.Is(err, intentdomain.ErrInvalidReason) ||
		errors.Is(err, domain.ErrInvalidPayload)
}

func txHashOf(event domain.Event) string {
	switch e := event.(type) {
	case domain.CommitConfirmed:
		return e.TxHash
	case domain.RegisterConfirmed:
		return e.TxHash
	case domain.RegisterFailed:
		return e.TxHash
	default:
		return ""
	}
}

// truncate cuts value to at most max bytes without splitting a rune.
func truncate(value string, max int) string {
	value = strings.ToValidUTF8(value, "\uFFFD")
	if len(value) <= max {
		return value
	}
	for max > 0 && !utf8.RuneStart(value[max]) {
		max--
	}
	return value[:max]
}
