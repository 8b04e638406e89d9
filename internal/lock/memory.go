package lock

import (
	"context"
	"sync"
)

// MemoryLocker serialises jobs inside one process. It backs sqlite
// deployments, which run a single replica.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) Backend() string { return "memory" }

func (l *MemoryLocker) TryAcquire(_ context.Context, resource string) (Lease, bool, error) {
	if resource == "" {
		return nil, false, ErrEmptyResource
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[resource]; ok {
		return nil, false, nil
	}
	l.held[resource] = struct{}{}
	return &memoryLease{locker: l, resource: resource}, true, nil
}

type memoryLease struct {
	once     sync.Once
	locker   *MemoryLocker
	resource string
}

func (l *memoryLease) Release(context.Context) error {
	l.once.Do(func() {
		l.locker.mu.Lock()
		delete(l.locker.held, l.resource)
		l.locker.mu.Unlock()
	})
	return nil
}
