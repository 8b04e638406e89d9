package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/ensmarket/internal/clock"
	"github.com/smallbiznis/ensmarket/internal/config"
	"github.com/smallbiznis/ensmarket/internal/intent/domain"
	obslogger "github.com/smallbiznis/ensmarket/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ensmarket/internal/observability/metrics"
	pkgdb "github.com/smallbiznis/ensmarket/pkg/db"
	"github.com/smallbiznis/ensmarket/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxCASAttempts bounds the reload-and-retry loop when a concurrent writer
// moves the intent between our read and our guarded update.
const maxCASAttempts = 3

const maxOwnerIDLength = 128

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    domain.Repository
	Clock   clock.Clock
	Cfg     config.Config
	Metrics *obsmetrics.WorkerMetrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	clock   clock.Clock
	cfg     config.ENSConfig
	metrics *obsmetrics.WorkerMetrics
}

func New(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("intent.service"),
		repo:    p.Repo,
		clock:   c,
		cfg:     p.Cfg.ENS,
		metrics: p.Metrics,
	}
}

// plan is a guarded write toward a target status. A nil plan is a no-op.
type plan struct {
	to    domain.Status
	write func(ctx context.Context, tx *gorm.DB, now time.Time) (bool, error)
}

type decideFunc func(current domain.Intent) (*plan, error)

func (s *Service) Prepare(ctx context.Context, req domain.PrepareRequest) (domain.Intent, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" || len(ownerID) > maxOwnerIDLength {
		return domain.Intent{}, domain.ErrInvalidOwner
	}
	name, err := domain.NormalizeDomainName(req.DomainName)
	if err != nil {
		return domain.Intent{}, err
	}

	now := s.clock.Now()
	commitBy := now.Add(s.cfg.CommitDeadline)
	if req.CommitBy != nil {
		commitBy = req.CommitBy.UTC()
	}
	registerBy := now.Add(s.cfg.RegisterDeadline)
	if req.RegisterBy != nil {
		registerBy = req.RegisterBy.UTC()
	}
	if !commitBy.After(now) || registerBy.Before(commitBy) {
		return domain.Intent{}, domain.ErrInvalidDeadline
	}

	taken, err := s.repo.FindRegisteredDomain(ctx, s.db, name)
	if err != nil {
		return domain.Intent{}, err
	}
	if taken != nil {
		return domain.Intent{}, domain.ErrDomainTaken
	}

	intent := domain.Intent{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		DomainName: name,
		Status:     domain.StatusPrepared,
		SetPrimary: req.SetPrimary,
		CommitBy:   &commitBy,
		RegisterBy: &registerBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Insert(ctx, s.db, &intent); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return domain.Intent{}, domain.ErrIntentActive
		}
		return domain.Intent{}, err
	}

	obslogger.WithIntent(obslogger.WithContext(ctx, s.log), intent.ID).Info("intent prepared",
		zap.String("domain_name", intent.DomainName),
		zap.Time("commit_by", commitBy),
		zap.Time("register_by", registerBy),
	)
	return intent, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Intent, error) {
	intentID, err := domain.NormalizeIntentID(id)
	if err != nil {
		return domain.Intent{}, err
	}
	return s.load(ctx, intentID)
}

func (s *Service) List(ctx context.Context, req domain.ListIntentRequest) (domain.ListIntentResponse, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return domain.ListIntentResponse{}, domain.ErrInvalidOwner
	}
	if req.Status != "" && !req.Status.Valid() {
		return domain.ListIntentResponse{}, domain.ErrInvalidStatus
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListIntentResponse{}, err
	}

	limit := pagination.NormalizePageSize(req.PageSize)
	filter := domain.ListFilter{OwnerID: ownerID, Status: req.Status, Limit: limit + 1}
	if cursor != nil {
		filter.AfterCreatedAt = &cursor.CreatedAt
		filter.AfterID = cursor.ID
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListIntentResponse{}, err
	}
	items, pageInfo, err := pagination.Page(items, limit, func(item domain.Intent) pagination.Cursor {
		return pagination.Cursor{ID: item.ID, CreatedAt: item.CreatedAt}
	})
	if err != nil {
		return domain.ListIntentResponse{}, err
	}
	if items == nil {
		items = []domain.Intent{}
	}
	return domain.ListIntentResponse{PageInfo: pageInfo, Intents: items}, nil
}

func (s *Service) AttachCommitTx(ctx context.Context, id, txHash string) (domain.Intent, error) {
	intentID, hash, err := normalizeIDAndHash(id, txHash)
	if err != nil {
		return domain.Intent{}, err
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.load(ctx, intentID)
		if err != nil {
			return domain.Intent{}, err
		}
		if current.Status != domain.StatusPrepared {
			if current.CommitHash() == hash {
				return current, nil
			}
			return domain.Intent{}, domain.NewStateError("attach commit tx", current.Status, "")
		}
		if current.CommitHash() == hash {
			return current, nil
		}
		changed, err := s.repo.SetCommitTxHash(ctx, s.db, intentID, hash, s.clock.Now())
		if err != nil {
			return domain.Intent{}, err
		}
		if changed {
			return s.load(ctx, intentID)
		}
	}
	return domain.Intent{}, errConcurrentUpdate
}

func (s *Service) AttachRegisterTx(ctx context.Context, id, txHash string) (domain.Intent, error) {
	intentID, hash, err := normalizeIDAndHash(id, txHash)
	if err != nil {
		return domain.Intent{}, err
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.load(ctx, intentID)
		if err != nil {
			return domain.Intent{}, err
		}
		switch current.Status {
		case domain.StatusCommitted, domain.StatusRegisterable:
		default:
			if current.RegisterHash() == hash {
				return current, nil
			}
			return domain.Intent{}, domain.NewStateError("attach register tx", current.Status, "")
		}
		if current.RegisterHash() == hash {
			return current, nil
		}
		changed, err := s.repo.SetRegisterTxHash(ctx, s.db, intentID, hash, s.clock.Now())
		if err != nil {
			return domain.Intent{}, err
		}
		if changed {
			return s.load(ctx, intentID)
		}
	}
	return domain.Intent{}, errConcurrentUpdate
}

func (s *Service) ConfirmCommit(ctx context.Context, req domain.ConfirmCommitRequest) (domain.Transition, error) {
	intentID, hash, err := normalizeIDAndHash(req.IntentID, req.TxHash)
	if err != nil {
		return domain.Transition{}, err
	}
	var registerBy *time.Time
	if req.RegisterBy != nil && !req.RegisterBy.IsZero() {
		value := req.RegisterBy.UTC()
		registerBy = &value
	}

	return s.apply(ctx, "confirm commit", intentID, req.Source, func(current domain.Intent) (*plan, error) {
		switch current.Status {
		case domain.StatusPrepared:
			attached := current.CommitHash()
			return &plan{
				to: domain.StatusCommitted,
				write: func(ctx context.Context, tx *gorm.DB, now time.Time) (bool, error) {
					changed, err := s.repo.UpdateCommitted(ctx, tx, intentID, hash, registerBy, now)
					if changed && attached != "" && attached != hash {
						obslogger.WithIntent(obslogger.WithContext(ctx, s.log), intentID).Warn("confirmed commit tx differs from attached tx",
							zap.String("attached_tx_hash", attached),
							zap.String("confirmed_tx_hash", hash),
						)
					}
					return changed, err
				},
			}, nil
		case domain.StatusCommitted, domain.StatusRegisterable, domain.StatusRegistered:
			if current.CommitHash() == hash {
				return nil, nil
			}
			return nil, domain.NewStateError("confirm commit", current.Status, "commit tx hash mismatch")
		default:
			return nil, domain.NewStateError("confirm commit", current.Status, "")
		}
	})
}

func (s *Service) ConfirmRegister(ctx context.Context, req domain.ConfirmRegisterRequest) (domain.Transition, error) {
	intentID, hash, err := normalizeIDAndHash(req.IntentID, req.TxHash)
	if err != nil {
		return domain.Transition{}, err
	}

	decide := func(current domain.Intent) (*plan, error) {
		switch current.Status {
		case domain.StatusCommitted, domain.StatusRegisterable:
			holder, err := s.repo.FindRegisteredDomain(ctx, s.db, current.DomainName)
			if err != nil {
				return nil, err
			}
			if holder != nil && holder.IntentID != current.ID {
				return s.failPlan(current, reasonDomainHeld, hash), nil
			}
			setPrimary := current.SetPrimary
			if req.SetPrimary != nil {
				setPrimary = *req.SetPrimary
			}
			return &plan{
				to: domain.StatusRegistered,
				write: func(ctx context.Context, tx *gorm.DB, now time.Time) (bool, error) {
					return s.register(ctx, tx, current, hash, setPrimary, now)
				},
			}, nil
		case domain.StatusRegistered:
			if current.RegisterHash() == hash {
				return nil, nil
			}
			return nil, domain.NewStateError("confirm register", current.Status, "register tx hash mismatch")
		default:
			return nil, domain.NewStateError("confirm register", current.Status, "")
		}
	}

	tr, err := s.apply(ctx, "confirm register", intentID, req.Source, decide)
	if errors.Is(err, errDomainHeld) {
		// lost the insert race; decide again now that the holder is visible
		tr, err = s.apply(ctx, "confirm register", intentID, req.Source, decide)
	}
	if err == nil && tr.Changed && tr.To == domain.StatusFailed {
		obslogger.WithIntent(obslogger.WithContext(ctx, s.log), intentID).Warn("register confirmed for a domain held by another intent",
			zap.String("domain_name", tr.Intent.DomainName),
			zap.String("register_tx_hash", hash),
		)
	}
	return tr, err
}

// register moves the intent to registered and writes the registered domain row
// inside the caller's transaction. A domain row already held by another intent
// rolls the transaction back with errDomainHeld.
func (s *Service) register(ctx context.Context, tx *gorm.DB, current domain.Intent, hash string, setPrimary bool, now time.Time) (bool, error) {
	changed, err := s.repo.UpdateRegistered(ctx, tx, current.ID, current.Status, hash, now)
	if err != nil || !changed {
		return changed, err
	}

	inserted, err := s.repo.InsertRegisteredDomain(ctx, tx, &domain.RegisteredDomain{
		DomainName:   current.DomainName,
		OwnerID:      current.OwnerID,
		IntentID:     current.ID,
		TxHash:       hash,
		RegisteredAt: now,
	})
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, errDomainHeld
	}
	if setPrimary {
		if err := s.repo.ClearPrimary(ctx, tx, current.OwnerID); err != nil {
			return false, err
		}
		if err := s.repo.SetPrimary(ctx, tx, current.ID); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *Service) MarkFailed(ctx context.Context, req domain.MarkFailedRequest) (domain.Transition, error) {
	intentID, err := domain.NormalizeIntentID(req.IntentID)
	if err != nil {
		return domain.Transition{}, err
	}
	reason, err := domain.NormalizeReason(req.Reason)
	if err != nil {
		return domain.Transition{}, err
	}
	var hash string
	if strings.TrimSpace(req.TxHash) != "" {
		if hash, err = domain.NormalizeTxHash(req.TxHash); err != nil {
			return domain.Transition{}, err
		}
	}

	return s.apply(ctx, "mark failed", intentID, req.Source, func(current domain.Intent) (*plan, error) {
		if current.Status.Terminal() {
			return nil, nil
		}
		return s.failPlan(current, reason, hash), nil
	})
}

// failPlan fails current, recording hash against the tx the intent was
// waiting on.
func (s *Service) failPlan(current domain.Intent, reason, hash string) *plan {
	params := domain.FailParams{ID: current.ID, From: current.Status, Reason: reason}
	if hash != "" {
		if current.Status == domain.StatusPrepared {
			params.CommitTxHash = &hash
		} else {
			params.RegisterTxHash = &hash
		}
	}
	return &plan{
		to: domain.StatusFailed,
		write: func(ctx context.Context, tx *gorm.DB, now time.Time) (bool, error) {
			params.Now = now
			return s.repo.UpdateFailed(ctx, tx, params)
		},
	}
}

func (s *Service) PromoteRegisterable(ctx context.Context, req domain.TransitionRequest) (domain.Transition, error) {
	intentID, err := domain.NormalizeIntentID(req.IntentID)
	if err != nil {
		return domain.Transition{}, err
	}

	return s.apply(ctx, "promote registerable", intentID, req.Source, func(current domain.Intent) (*plan, error) {
		if req.From != "" && current.Status != req.From {
			return nil, nil
		}
		switch current.Status {
		case domain.StatusPrepared:
			return nil, domain.NewStateError("promote registerable", current.Status, "commit not confirmed")
		case domain.StatusCommitted:
			return &plan{
				to: domain.StatusRegisterable,
				write: func(ctx context.Context, tx *gorm.DB, now time.Time) (bool, error) {
					return s.repo.UpdateRegisterable(ctx, tx, intentID, now)
				},
			}, nil
		default:
			return nil, nil
		}
	})
}

func (s *Service) Expire(ctx context.Context, req domain.TransitionRequest) (domain.Transition, error) {
	intentID, err := domain.NormalizeIntentID(req.IntentID)
	if err != nil {
		return domain.Transition{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "deadline passed"
	}

	return s.apply(ctx, "expire", intentID, req.Source, func(current domain.Intent) (*plan, error) {
		if current.Status.Terminal() {
			return nil, nil
		}
		if req.From != "" && current.Status != req.From {
			return nil, nil
		}
		from := current.Status
		return &plan{
			to: domain.StatusExpired,
			write: func(ctx context.Context, tx *gorm.DB, now time.Time) (bool, error) {
				return s.repo.UpdateExpired(ctx, tx, intentID, from, reason, now)
			},
		}, nil
	})
}

func (s *Service) ListDue(ctx context.Context, olderThan, window time.Duration, limit int) ([]domain.Intent, error) {
	now := s.clock.Now()
	return s.repo.ListDue(ctx, s.db, domain.DueFilter{
		UpdatedBefore:   now.Add(-olderThan),
		Now:             now,
		CommittedBefore: now.Add(-window),
		Limit:           limit,
	})
}

func (s *Service) ListWatchable(ctx context.Context, limit int) ([]domain.Intent, error) {
	return s.repo.ListWatchable(ctx, s.db, limit)
}

func (s *Service) MarkChecked(ctx context.Context, ids []string) error {
	return s.repo.MarkChecked(ctx, s.db, ids, s.clock.Now())
}

func (s *Service) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	return s.repo.CountByStatus(ctx, s.db)
}

func (s *Service) CountStuck(ctx context.Context, olderThan time.Duration) (map[domain.Status]int64, error) {
	return s.repo.CountStuck(ctx, s.db, s.clock.Now().Add(-olderThan))
}

var (
	errConcurrentUpdate = errors.New("intent_concurrent_update")
	errDomainHeld       = errors.New("registered_domain_held")
)

const reasonDomainHeld = "domain registered by another intent"

// apply runs decide against the stored intent and executes its plan as a
// guarded update. When the guard misses because another writer got there
// first, the intent is reloaded and decide runs again on the new status.
func (s *Service) apply(ctx context.Context, op, intentID string, source domain.Source, decide decideFunc) (domain.Transition, error) {
	if source == "" {
		source = domain.SourceAPI
	}
	log := obslogger.WithIntent(obslogger.WithContext(ctx, s.log), intentID)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.load(ctx, intentID)
		if err != nil {
			return domain.Transition{}, err
		}

		p, err := decide(current)
		if err != nil {
			return domain.Transition{Intent: current, From: current.Status, To: current.Status}, err
		}
		if p == nil {
			return domain.Transition{Intent: current, From: current.Status, To: current.Status}, nil
		}
		if !domain.CanTransition(current.Status, p.to) {
			return domain.Transition{}, domain.NewStateError(op, current.Status, "illegal edge")
		}

		var changed bool
		now := s.clock.Now()
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var werr error
			changed, werr = p.write(ctx, tx, now)
			return werr
		})
		if err != nil {
			return domain.Transition{}, err
		}
		if !changed {
			log.Debug("intent moved concurrently, re-evaluating",
				zap.String("op", op),
				zap.String("observed_status", string(current.Status)),
			)
			continue
		}

		updated, err := s.load(ctx, intentID)
		if err != nil {
			return domain.Transition{}, err
		}
		s.metrics.IncIntentTransition(current.Status, p.to, source)
		log.Info("intent transition",
			zap.String("op", op),
			zap.String("from", string(current.Status)),
			zap.String("to", string(p.to)),
			zap.String("source", string(source)),
		)
		return domain.Transition{Intent: updated, From: current.Status, To: p.to, Changed: true}, nil
	}
	return domain.Transition{}, errConcurrentUpdate
}

func (s *Service) load(ctx context.Context, intentID string) (domain.Intent, error) {
	item, err := s.repo.FindByID(ctx, s.db, intentID)
	if err != nil {
		return domain.Intent{}, err
	}
	if item == nil {
		return domain.Intent{}, domain.ErrNotFound
	}
	return *item, nil
}

func normalizeIDAndHash(id, txHash string) (string, string, error) {
	intentID, err := domain.NormalizeIntentID(id)
	if err != nil {
		return "", "", err
	}
	hash, err := domain.NormalizeTxHash(txHash)
	if err != nil {
		return "", "", err
	}
	return intentID, hash, nil
}
