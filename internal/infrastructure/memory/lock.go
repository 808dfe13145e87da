package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"auction-marketplace/internal/domain"
)

// Lock is a process-local domain.DistributedLock with the same min/max hold
// semantics as the Redis lock.
type Lock struct {
	mu     sync.Mutex
	owners map[string]lockOwner
	now    func() time.Time
}

type lockOwner struct {
	token     string
	expiresAt time.Time
}

func NewLock() *Lock {
	return NewLockWithClock(time.Now)
}

func NewLockWithClock(now func() time.Time) *Lock {
	return &Lock{owners: make(map[string]lockOwner), now: now}
}

func (l *Lock) Acquire(ctx context.Context, name string, minHold, maxHold time.Duration) (domain.Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if owner, ok := l.owners[name]; ok && now.Before(owner.expiresAt) {
		return nil, false, nil
	}

	token := uuid.NewString()
	l.owners[name] = lockOwner{token: token, expiresAt: now.Add(maxHold)}
	return &memoryLease{lock: l, name: name, token: token, acquiredAt: now, minHold: minHold}, true, nil
}

type memoryLease struct {
	lock       *Lock
	name       string
	token      string
	acquiredAt time.Time
	minHold    time.Duration
}

// Release keeps the lock until minHold has elapsed since acquisition.
func (l *memoryLease) Release(ctx context.Context) error {
	l.lock.mu.Lock()
	defer l.lock.mu.Unlock()

	owner, ok := l.lock.owners[l.name]
	if !ok || owner.token != l.token {
		return nil
	}

	holdUntil := l.acquiredAt.Add(l.minHold)
	if l.lock.now().Before(holdUntil) {
		owner.expiresAt = holdUntil
		l.lock.owners[l.name] = owner
		return nil
	}
	delete(l.lock.owners, l.name)
	return nil
}
