package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	obsmetrics "github.com/smallbiznis/ensmarket/internal/observability/metrics"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestKeyForIsStable(t *testing.T) {
	if KeyFor("ens.reconcile") != KeyFor("ens.reconcile") {
		t.Fatalf("key must be deterministic")
	}
	if KeyFor("ens.reconcile") == KeyFor("ens.watch") {
		t.Fatalf("distinct resources should map to distinct keys")
	}
	// FNV-1a 64 of the empty string is the offset basis.
	if uint64(KeyFor("")) != 0xcbf29ce484222325 {
		t.Fatalf("unexpected FNV-1a basis %x", uint64(KeyFor("")))
	}
}

func TestRunExclusiveSkipsWhenHeld(t *testing.T) {
	coordinator := NewCoordinator(NewMemoryLocker(), zap.NewNop(), nil)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan Result[int], 1)
	go func() {
		result, _ := RunExclusive(ctx, coordinator, "ens.reconcile", func(context.Context) (int, error) {
			close(entered)
			<-release
			return 7, nil
		})
		done <- result
	}()
	<-entered

	ran := false
	skipped, err := RunExclusive(ctx, coordinator, "ens.reconcile", func(context.Context) (int, error) {
		ran = true
		return 1, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skipped.Acquired || ran {
		t.Fatalf("second caller must not run while the lock is held")
	}

	other, err := RunExclusive(ctx, coordinator, "ens.watch", func(context.Context) (int, error) { return 2, nil })
	if err != nil || !other.Acquired || other.Value != 2 {
		t.Fatalf("independent resource should run: %+v %v", other, err)
	}

	close(release)
	first := <-done
	if !first.Acquired || first.Value != 7 {
		t.Fatalf("unexpected first result %+v", first)
	}
}

func TestRunExclusiveReleasesOnErrorAndPanic(t *testing.T) {
	coordinator := NewCoordinator(NewMemoryLocker(), zap.NewNop(), nil)
	ctx := context.Background()
	boom := errors.New("boom")

	result, err := RunExclusive(ctx, coordinator, "job", func(context.Context) (struct{}, error) {
		return struct{}{}, boom
	})
	if !errors.Is(err, boom) || !result.Acquired {
		t.Fatalf("expected task error with acquired lock, got %+v %v", result, err)
	}

	func() {
		defer func() { _ = recover() }()
		_, _ = RunExclusive(ctx, coordinator, "job", func(context.Context) (struct{}, error) {
			panic("task panic")
		})
	}()

	again, err := RunExclusive(ctx, coordinator, "job", func(context.Context) (struct{}, error) {
		return struct{}{}, nil
	})
	if err != nil || !again.Acquired {
		t.Fatalf("lock should be free after error and panic: %+v %v", again, err)
	}
}

func TestRunExclusiveReleasesAfterCancel(t *testing.T) {
	coordinator := NewCoordinator(NewMemoryLocker(), zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := RunExclusive(ctx, coordinator, "job", func(ctx context.Context) (int, error) {
		cancel()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	result, err := RunExclusive(context.Background(), coordinator, "job", func(context.Context) (int, error) { return 1, nil })
	if err != nil || !result.Acquired {
		t.Fatalf("lock should be released after cancellation")
	}
}

func TestRunExclusiveMutualExclusion(t *testing.T) {
	coordinator := NewCoordinator(NewMemoryLocker(), zap.NewNop(), nil)

	var (
		active  int32
		maxSeen int32
		ran     int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = RunExclusive(context.Background(), coordinator, "ens.reconcile", func(context.Context) (struct{}, error) {
				n := atomic.AddInt32(&active, 1)
				for {
					seen := atomic.LoadInt32(&maxSeen)
					if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
						break
					}
				}
				atomic.AddInt32(&ran, 1)
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return struct{}{}, nil
			})
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most one concurrent holder, saw %d", maxSeen)
	}
	if ran == 0 {
		t.Fatalf("expected at least one run")
	}
}

func TestRunExclusiveRecordsLockAttempts(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obsmetrics.NewWorkerMetrics(registry, obsmetrics.Config{ServiceName: "ensmarket-test"})
	coordinator := NewCoordinator(NewMemoryLocker(), zap.NewNop(), metrics)
	ctx := context.Background()

	lease, ok, err := coordinator.locker.TryAcquire(ctx, "ens.watch")
	if err != nil || !ok {
		t.Fatalf("pre-acquire failed")
	}
	_, _ = RunExclusive(ctx, coordinator, "ens.watch", func(context.Context) (int, error) { return 0, nil })
	_ = lease.Release(ctx)
	_, _ = RunExclusive(ctx, coordinator, "ens.watch", func(context.Context) (int, error) { return 0, nil })

	if got := lockAttempts(t, registry, obsmetrics.LockResultHeld); got != 1 {
		t.Fatalf("expected one held attempt, got %v", got)
	}
	if got := lockAttempts(t, registry, obsmetrics.LockResultAcquired); got != 1 {
		t.Fatalf("expected one acquired attempt, got %v", got)
	}
}

func lockAttempts(t *testing.T, registry *prometheus.Registry, result string) float64 {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != "ens_lock_attempts_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelValue(metric, "result") == result {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelValue(metric *dto.Metric, name string) string {
	for _, label := range metric.GetLabel() {
		if label.GetName() == name {
			return label.GetValue()
		}
	}
	return ""
}

func TestRunExclusiveWithoutLocker(t *testing.T) {
	_, err := RunExclusive(context.Background(), nil, "job", func(context.Context) (int, error) { return 0, nil })
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestPostgresAdvisoryLock(t *testing.T) {
	dsn := os.Getenv("ENS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ENS_TEST_POSTGRES_DSN not set")
	}
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	first := NewPostgresLocker(sqlDB)
	second := NewPostgresLocker(sqlDB)
	ctx := context.Background()
	resource := "ens.test." + t.Name()

	lease, ok, err := first.TryAcquire(ctx, resource)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if _, ok, err := second.TryAcquire(ctx, resource); err != nil || ok {
		t.Fatalf("second acquire must fail while held: ok=%v err=%v", ok, err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	lease, ok, err = second.TryAcquire(ctx, resource)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
	_ = lease.Release(ctx)
}
