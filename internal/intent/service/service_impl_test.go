package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/ensmarket/internal/clock"
	"github.com/smallbiznis/ensmarket/internal/config"
	"github.com/smallbiznis/ensmarket/internal/dbtest"
	"github.com/smallbiznis/ensmarket/internal/intent/domain"
	"github.com/smallbiznis/ensmarket/internal/intent/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func txHash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func setupIntentService(t *testing.T) (domain.Service, *clock.FakeClock, *gorm.DB) {
	t.Helper()

	db := dbtest.Open(t)
	fake := clock.NewFakeClock(baseTime)
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Repo:  repository.Provide(),
		Clock: fake,
		Cfg: config.Config{ENS: config.ENSConfig{
			CommitDeadline:   10 * time.Minute,
			RegisterDeadline: 24 * time.Hour,
		}},
	})
	return svc, fake, db
}

func prepare(t *testing.T, svc domain.Service, owner, name string, setPrimary bool) domain.Intent {
	t.Helper()
	intent, err := svc.Prepare(context.Background(), domain.PrepareRequest{
		OwnerID:    owner,
		DomainName: name,
		SetPrimary: setPrimary,
	})
	require.NoError(t, err)
	return intent
}

func TestPrepareDefaultsDeadlines(t *testing.T) {
	svc, _, _ := setupIntentService(t)

	intent := prepare(t, svc, "user-1", "Alice.eth", false)

	assert.Equal(t, domain.StatusPrepared, intent.Status)
	assert.Equal(t, "alice.eth", intent.DomainName)
	require.NotNil(t, intent.CommitBy)
	require.NotNil(t, intent.RegisterBy)
	assert.True(t, intent.CommitBy.Equal(baseTime.Add(10*time.Minute)))
	assert.True(t, intent.RegisterBy.Equal(baseTime.Add(24*time.Hour)))

	stored, err := svc.Get(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, intent.ID, stored.ID)
	assert.Equal(t, domain.StatusPrepared, stored.Status)
}

func TestPrepareRejectsInvalidInput(t *testing.T) {
	svc, _, _ := setupIntentService(t)
	past := baseTime.Add(-time.Minute)
	commitBy := baseTime.Add(time.Hour)
	registerBy := baseTime.Add(30 * time.Minute)

	cases := []struct {
		name string
		req  domain.PrepareRequest
		want error
	}{
		{name: "missing_owner", req: domain.PrepareRequest{DomainName: "alice.eth"}, want: domain.ErrInvalidOwner},
		{name: "bad_domain", req: domain.PrepareRequest{OwnerID: "u", DomainName: "al.eth"}, want: domain.ErrInvalidDomain},
		{name: "commit_in_past", req: domain.PrepareRequest{OwnerID: "u", DomainName: "alice.eth", CommitBy: &past}, want: domain.ErrInvalidDeadline},
		{name: "register_before_commit", req: domain.PrepareRequest{OwnerID: "u", DomainName: "alice.eth", CommitBy: &commitBy, RegisterBy: &registerBy}, want: domain.ErrInvalidDeadline},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Prepare(context.Background(), tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestGetUnknownIntent(t *testing.T) {
	svc, _, _ := setupIntentService(t)

	_, err := svc.Get(context.Background(), "6f1c1f8e-8c1d-4a53-9d53-0c6d4b8f4e11")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Get(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestConfirmCommitIsIdempotent(t *testing.T) {
	svc, fake, _ := setupIntentService(t)
	ctx := context.Background()
	intent := prepare(t, svc, "user-1", "alice.eth", false)
	registerBy := baseTime.Add(48 * time.Hour)

	fake.Advance(time.Minute)
	first, err := svc.ConfirmCommit(ctx, domain.ConfirmCommitRequest{
		IntentID:   intent.ID,
		TxHash:     txHash(1),
		RegisterBy: &registerBy,
		Source:     domain.SourceWebhook,
	})
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, domain.StatusPrepared, first.From)
	assert.Equal(t, domain.StatusCommitted, first.To)
	assert.Equal(t, txHash(1), first.Intent.CommitHash())
	require.NotNil(t, first.Intent.CommittedAt)
	assert.True(t, first.Intent.CommittedAt.Equal(baseTime.Add(time.Minute)))
	assert.True(t, first.Intent.RegisterBy.Equal(registerBy))

	again, err := svc.ConfirmCommit(ctx, domain.ConfirmCommitRequest{IntentID: intent.ID, TxHash: txHash(1)})
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, domain.StatusCommitted, again.Intent.Status)

	_, err = svc.ConfirmCommit(ctx, domain.ConfirmCommitRequest{IntentID: intent.ID, TxHash: txHash(2)})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestConfirmRegisterRecordsDomainAndPrimary(t *testing.T) {
	svc, fake, db := setupIntentService(t)
	ctx := context.Background()
	repo := repository.Provide()

	first := prepare(t, svc, "user-1", "alice.eth", true)
	second := prepare(t, svc, "user-1", "bobby.eth", true)

	for i, intent := range []domain.Intent{first, second} {
		fake.Advance(time.Minute)
		_, err := svc.ConfirmCommit(ctx, domain.ConfirmCommitRequest{IntentID: intent.ID, TxHash: txHash(10 + i)})
		require.NoError(t, err)
		tr, err := svc.ConfirmRegister(ctx, domain.ConfirmRegisterRequest{IntentID: intent.ID, TxHash: txHash(20 + i)})
		require.NoError(t, err)
		require.True(t, tr.Changed)
		assert.Equal(t, domain.StatusRegistered, tr.Intent.Status)
	}

	alice, err := repo.FindRegisteredDomain(ctx, db, "alice.eth")
	require.NoError(t, err)
	require.NotNil(t, alice)
	bobby, err := repo.FindRegisteredDomain(ctx, db, "bobby.eth")
	require.NoError(t, err)
	require.NotNil(t, bobby)

	assert.False(t, alice.IsPrimary, "older primary must be cleared")
	assert.True(t, bobby.IsPrimary)
	assert.Equal(t, txHash(21), bobby.TxHash)

	replay, err := svc.ConfirmRegister(ctx, domain.ConfirmRegisterRequest{IntentID: second.ID, TxHash: txHash(21)})
	require.NoError(t, err)
	assert.False(t, replay.Changed)

	count, err := dbtest.CountRows(ctx, db, "registered_domains")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	_, err = svc.Prepare(ctx, domain.PrepareRequest{OwnerID: "user-2", DomainName: "alice.eth"})
	require.ErrorIs(t, err, domain.ErrDomainTaken)
}

func TestConfirmRegisterExplicitPrimaryOverridesIntent(t *testing.T) {
	svc, _, db := setupIntentService(t)
	ctx := context.Background()
	intent := prepare(t, svc, "user-1", "carol.eth", true)
	noPrimary := false

	_, err := svc.ConfirmCommit(ctx, domain.ConfirmCommitRequest{IntentID: intent.ID, TxHash: txHash(1)})
	require.NoError(t, err)
	_, err = svc.ConfirmRegister(ctx, domain.ConfirmRegisterRequest{IntentID: intent.ID, TxHash: txHash(2), SetPrimary: &noPrimary})
	require.NoError(t, err)

	row, err := repository.Provide().FindRegisteredDomain(ctx, db, "carol.eth")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.False(t, row.IsPrimary)
}

func TestTransitionsOutsideGraphAreRejected(t *testing.T) {
	svc, _, _ := setupIntentService(t)
	ctx := context.Background()

	prepared := prepare(t, svc, "user-1", "dave1.eth", false)
	_, err := svc.PromoteRegisterable(ctx, domain.TransitionRequest{IntentID: prepared.ID})
	require.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = svc.ConfirmRegister(ctx, domain.ConfirmRegisterRequest{IntentID: prepared.ID, TxHash: txHash(1)})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	failed := prepare(t, svc, "user-1", "dave2.eth", false)
	_, err = svc.MarkFailed(ctx, domain.MarkFailedRequest{IntentID: failed.ID, Reason: "reverted"})
	require.NoError(t, err)
	_, err = svc.ConfirmCommit(ctx, domain.ConfirmCommitRequest{IntentID: failed.ID, TxHash: txHash(2)})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	// terminal intents absorb repeated expiry and failure signals
	tr, err := svc.Expire(ctx, domain.TransitionRequest{IntentID: failed.ID})
	require.NoError(t, err)
	assert.False(t, tr.Changed)
	assert.Equal(t, domain.StatusFailed, tr.Intent.Status)

	tr, err = svc.MarkFailed(ctx, domain.MarkFailedRequest{IntentID: failed.ID, Reason: "again"})
	require.NoError(t, err)
	assert.False(t, tr.Changed)
}

func TestPromoteRegisterableAndExpire(t *testing.T) {
	svc, _, _ := setupIntentService(t)
	ctx := context.Background()
	intent := prepare(t, svc, "user-1", "erin1.eth", false)

	_, err := svc.ConfirmCommit(ctx, domain.ConfirmCommitRequest{IntentID: intent.ID, TxHash: txHash(1)})
	require.NoError(t, err)

	tr, err := svc.PromoteRegisterable(ctx, domain.TransitionRequest{IntentID: intent.ID, Source: domain.SourceReconcile})
	require.NoError(t, err)
	assert.True(t, tr.Changed)
	assert.Equal(t, domain.StatusRegisterable, tr.Intent.Status)
	require.NotNil(t, tr.Intent.RegisterableAt)

	tr, err = svc.PromoteRegisterable(ctx, domain.TransitionRequest{IntentID: intent.ID})
	require.NoError(t, err)
	assert.False(t, tr.Changed)

	tr, err = svc.Expire(ctx, domain.TransitionRequest{IntentID: intent.ID, Source: domain.SourceReconcile})
	require.NoError(t, err)
	assert.True(t, tr.Changed)
	assert.Equal(t, domain.StatusExpired, tr.Intent.Status)
	require.NotNil(t, tr.Intent.FailureReason)
	assert.Equal(t, "deadline passed", *tr.Intent.FailureReason)
}

func TestMarkFailedKeepsTxHash(t *testing.T) {
	svc, _, _ := setupIntentService(t)
	ctx := context.Background()
	intent := prepare(t, svc, "user-1", "frank.eth", false)

	_, err := svc.ConfirmCommit(ctx, domain.ConfirmCommitRequest{IntentID: intent.ID, TxHash: txHash(1)})
	require.NoError(t, err)

	tr, err := svc.MarkFailed(ctx, domain.MarkFailedRequest{IntentID: intent.ID, Reason: "register reverted", TxHash: txHash(9)})
	require.NoError(t, err)
	assert.True(t, tr.Changed)
	assert.Equal(t, domain.StatusFailed, tr.Intent.Status)
	assert.Equal(t, txHash(1), tr.Intent.CommitHash())
	assert.Equal(t, txHash(9), tr.Intent.RegisterHash())
	require.NotNil(t, tr.Intent.FailureReason)
	assert.Equal(t, "register reverted", *tr.Intent.FailureReason)

	_, err = svc.MarkFailed(ctx, domain.MarkFailedRequest{IntentID: intent.ID, Reason: "  "})
	require.ErrorIs(t, err, domain.ErrInvalidReason)
}

func TestPrepareAllowsOneActiveIntentPerOwnerAndDomain(t *testing.T) {
	svc, _, _ := setupIntentService(t)
	ctx := context.Background()
	first := prepare(t, svc, "user-1", "ivan.eth", false)

	_, err := svc.Prepare(ctx, domain.PrepareRequest{OwnerID: "user-1", DomainName: "IVAN.eth"})
	require.ErrorIs(t, err, domain.ErrIntentActive)

	other, err := svc.Prepare(ctx, domain.PrepareRequest{OwnerID: "user-2", DomainName: "ivan.eth"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	_, err = svc.MarkFailed(ctx, domain.MarkFailedRequest{IntentID: first.ID, Reason: "abandoned"})
	require.NoError(t, err)
	_, err = svc.Prepare(ctx, domain.PrepareRequest{OwnerID: "user-1", DomainName: "ivan.eth"})
	require.NoError(t, err, "a finished intent frees the name for its owner")
}

func TestConcurrentConfirmCommitChangesOnce(t *testing.T) {
	svc, _, _ := setupIntentService(t)
	ctx := context.Background()
	intent := prepare(t, svc, "user-1", "grace.eth", false)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr, err := svc.ConfirmCommit(ctx, domain.ConfirmCommitRequest{IntentID: intent.ID, TxHash: txHash(1)})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if tr.Changed {
				changed++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, changed)
}

func TestAttachTxHashes(t *testing.T) {
	svc, _, _ := setupIntentService(t)
	ctx := context.Background()
	intent := prepare(t, svc, "user-1", "heidi.eth", false)

	updated, err := svc.AttachCommitTx(ctx, intent.ID, txHash(1))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPrepared, updated.Status)
	assert.Equal(t, txHash(1), updated.CommitHash())

	_, err = svc.AttachRegisterTx(ctx, intent.ID, txHash(2))
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = svc.ConfirmCommit(ctx, domain.ConfirmCommitRequest{IntentID: intent.ID, TxHash: txHash(1)})
	require.NoError(t, err)
	updated, err = svc.AttachRegisterTx(ctx, intent.ID, txHash(2))
	require.NoError(t, err)
	assert.Equal(t, txHash(2), updated.RegisterHash())

	_, err = svc.AttachCommitTx(ctx, intent.ID, txHash(3))
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestListPaginatesByOwner(t *testing.T) {
	svc, fake, _ := setupIntentService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		fake.Advance(time.Second)
		prepare(t, svc, "user-1", fmt.Sprintf("name%d.eth", i), false)
	}
	prepare(t, svc, "user-2", "other.eth", false)

	page, err := svc.List(ctx, domain.ListIntentRequest{OwnerID: "user-1", PageSize: 3})
	require.NoError(t, err)
	require.Len(t, page.Intents, 3)
	assert.True(t, page.HasMore)
	assert.Equal(t, "name4.eth", page.Intents[0].DomainName)

	next, err := svc.List(ctx, domain.ListIntentRequest{OwnerID: "user-1", PageSize: 3, PageToken: page.NextPageToken})
	require.NoError(t, err)
	require.Len(t, next.Intents, 2)
	assert.False(t, next.HasMore)
	assert.Equal(t, "name0.eth", next.Intents[1].DomainName)

	_, err = svc.List(ctx, domain.ListIntentRequest{OwnerID: "user-1", Status: "bogus"})
	require.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestStaleAndStuckCounts(t *testing.T) {
	svc, fake, db := setupIntentService(t)
	ctx := context.Background()

	old := prepare(t, svc, "user-1", "old-one.eth", false)
	waiting := prepare(t, svc, "user-1", "waiting.eth", false)
	prepare(t, svc, "user-1", "new-one.eth", false)
	require.NoError(t, dbtest.Backdate(ctx, db, old.ID, baseTime.Add(-2*time.Hour)))
	require.NoError(t, dbtest.SetDeadlines(ctx, db, old.ID, baseTime.Add(-time.Hour), baseTime.Add(time.Hour)))
	require.NoError(t, dbtest.Backdate(ctx, db, waiting.ID, baseTime.Add(-2*time.Hour)))

	// waiting is stale but its commit deadline is still ahead
	due, err := svc.ListDue(ctx, time.Hour, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, old.ID, due[0].ID)

	stuck, err := svc.CountStuck(ctx, time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stuck[domain.StatusPrepared])

	counts, err := svc.CountByStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, counts[domain.StatusPrepared])

	fake.Advance(time.Minute)
	_, err = svc.AttachCommitTx(ctx, old.ID, txHash(1))
	require.NoError(t, err)
	watchable, err := svc.ListWatchable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, watchable, 1)
	require.NoError(t, svc.MarkChecked(ctx, []string{old.ID}))
	again, err := svc.ListWatchable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.NotNil(t, again[0].LastCheckedAt)
}

func TestListDueSelectsElapsedCommitWindows(t *testing.T) {
	svc, fake, _ := setupIntentService(t)
	ctx := context.Background()

	settled := prepare(t, svc, "user-1", "settled.eth", false)
	recent := prepare(t, svc, "user-1", "recent.eth", false)
	_, err := svc.ConfirmCommit(ctx, domain.ConfirmCommitRequest{IntentID: settled.ID, TxHash: txHash(1)})
	require.NoError(t, err)
	fake.Advance(50 * time.Second)
	_, err = svc.ConfirmCommit(ctx, domain.ConfirmCommitRequest{IntentID: recent.ID, TxHash: txHash(2)})
	require.NoError(t, err)
	fake.Advance(20 * time.Second)

	due, err := svc.ListDue(ctx, 0, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, settled.ID, due[0].ID)
}

func TestExpireLeavesIntentThatMovedOn(t *testing.T) {
	svc, _, _ := setupIntentService(t)
	ctx := context.Background()
	intent := prepare(t, svc, "user-1", "moved.eth", false)

	_, err := svc.ConfirmCommit(ctx, domain.ConfirmCommitRequest{IntentID: intent.ID, TxHash: txHash(1)})
	require.NoError(t, err)

	tr, err := svc.Expire(ctx, domain.TransitionRequest{
		IntentID: intent.ID,
		Reason:   "commit deadline passed",
		Source:   domain.SourceReconcile,
		From:     domain.StatusPrepared,
	})
	require.NoError(t, err)
	assert.False(t, tr.Changed)
	assert.Equal(t, domain.StatusCommitted, tr.Intent.Status)

	tr, err = svc.PromoteRegisterable(ctx, domain.TransitionRequest{IntentID: intent.ID, From: domain.StatusRegisterable})
	require.NoError(t, err)
	assert.False(t, tr.Changed)
	assert.Equal(t, domain.StatusCommitted, tr.Intent.Status)

	tr, err = svc.Expire(ctx, domain.TransitionRequest{IntentID: intent.ID, From: domain.StatusCommitted})
	require.NoError(t, err)
	assert.True(t, tr.Changed)
	assert.Equal(t, domain.StatusCommitted, tr.From)
	assert.Equal(t, domain.StatusExpired, tr.Intent.Status)
}

func TestConfirmRegisterFailsWhenDomainHeldByAnotherIntent(t *testing.T) {
	svc, _, db := setupIntentService(t)
	ctx := context.Background()

	winner := prepare(t, svc, "user-1", "contested.eth", false)
	loser := prepare(t, svc, "user-2", "contested.eth", true)
	for i, intent := range []domain.Intent{winner, loser} {
		_, err := svc.ConfirmCommit(ctx, domain.ConfirmCommitRequest{IntentID: intent.ID, TxHash: txHash(1 + i)})
		require.NoError(t, err)
	}

	_, err := svc.ConfirmRegister(ctx, domain.ConfirmRegisterRequest{IntentID: winner.ID, TxHash: txHash(10)})
	require.NoError(t, err)

	tr, err := svc.ConfirmRegister(ctx, domain.ConfirmRegisterRequest{IntentID: loser.ID, TxHash: txHash(11)})
	require.NoError(t, err)
	assert.True(t, tr.Changed)
	assert.Equal(t, domain.StatusFailed, tr.To)
	assert.Equal(t, domain.StatusFailed, tr.Intent.Status)
	assert.Equal(t, txHash(11), tr.Intent.RegisterHash())
	require.NotNil(t, tr.Intent.FailureReason)
	assert.Equal(t, "domain registered by another intent", *tr.Intent.FailureReason)

	row, err := repository.Provide().FindRegisteredDomain(ctx, db, "contested.eth")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, winner.ID, row.IntentID)
	assert.Equal(t, "user-1", row.OwnerID)
	assert.False(t, row.IsPrimary)
}

// insertRaceRepo hides the holder from the pre-check so the insert conflict
// path is taken.
type insertRaceRepo struct {
	domain.Repository
	hidden bool
}

func (r *insertRaceRepo) FindRegisteredDomain(ctx context.Context, db *gorm.DB, name string) (*domain.RegisteredDomain, error) {
	if !r.hidden {
		r.hidden = true
		return nil, nil
	}
	return r.Repository.FindRegisteredDomain(ctx, db, name)
}

func TestConfirmRegisterLosingInsertRaceFails(t *testing.T) {
	svc, fake, db := setupIntentService(t)
	ctx := context.Background()

	winner := prepare(t, svc, "user-1", "raced.eth", false)
	loser := prepare(t, svc, "user-2", "raced.eth", false)
	for i, intent := range []domain.Intent{winner, loser} {
		_, err := svc.ConfirmCommit(ctx, domain.ConfirmCommitRequest{IntentID: intent.ID, TxHash: txHash(1 + i)})
		require.NoError(t, err)
	}
	_, err := svc.ConfirmRegister(ctx, domain.ConfirmRegisterRequest{IntentID: winner.ID, TxHash: txHash(10)})
	require.NoError(t, err)

	racing := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Repo:  &insertRaceRepo{Repository: repository.Provide()},
		Clock: fake,
		Cfg:   config.Config{},
	})
	tr, err := racing.ConfirmRegister(ctx, domain.ConfirmRegisterRequest{IntentID: loser.ID, TxHash: txHash(11)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, tr.Intent.Status)

	count, err := dbtest.CountRows(ctx, db, "registered_domains")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestConfirmCommitLogsReplacedAttachedHash(t *testing.T) {
	db := dbtest.Open(t)
	core, logs := observer.New(zapcore.WarnLevel)
	svc := New(Params{
		DB:    db,
		Log:   zap.New(core),
		Repo:  repository.Provide(),
		Clock: clock.NewFakeClock(baseTime),
		Cfg:   config.Config{ENS: config.ENSConfig{CommitDeadline: 10 * time.Minute, RegisterDeadline: 24 * time.Hour}},
	})
	ctx := context.Background()
	intent := prepare(t, svc, "user-1", "swapped.eth", false)

	_, err := svc.AttachCommitTx(ctx, intent.ID, txHash(1))
	require.NoError(t, err)
	tr, err := svc.ConfirmCommit(ctx, domain.ConfirmCommitRequest{IntentID: intent.ID, TxHash: txHash(2)})
	require.NoError(t, err)
	assert.Equal(t, txHash(2), tr.Intent.CommitHash())

	entries := logs.FilterMessage("confirmed commit tx differs from attached tx").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, txHash(1), fields["attached_tx_hash"])
	assert.Equal(t, txHash(2), fields["confirmed_tx_hash"])
}
