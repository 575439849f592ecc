package coord

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	holder    string
	expiresAt time.Time
}

// MemoryLocker is an in-process Locker for tests and single-node development.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewMemoryLocker creates a MemoryLocker using the wall clock.
func NewMemoryLocker() *MemoryLocker {
	return NewMemoryLockerWithClock(time.Now)
}

// NewMemoryLockerWithClock creates a MemoryLocker driven by now.
func NewMemoryLockerWithClock(now func() time.Time) *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]lease), now: now}
}

func (l *MemoryLocker) TryAcquire(_ context.Context, key, holderID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.leases[key]; ok && now.Before(cur.expiresAt) {
		return false, nil
	}
	l.leases[key] = lease{holder: holderID, expiresAt: now.Add(ttl)}
	return true, nil
}

func (l *MemoryLocker) Renew(_ context.Context, key, holderID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cur, ok := l.leases[key]
	if !ok || cur.holder != holderID || !now.Before(cur.expiresAt) {
		return false, nil
	}
	l.leases[key] = lease{holder: holderID, expiresAt: now.Add(ttl)}
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, key, holderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.leases[key]; ok && cur.holder == holderID {
		delete(l.leases, key)
	}
	return nil
}

// Holder returns the live holder of key, if any.
func (l *MemoryLocker) Holder(key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.leases[key]
	if !ok || !l.now().Before(cur.expiresAt) {
		return "", false
	}
	return cur.holder, true
}
