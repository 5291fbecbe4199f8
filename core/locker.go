package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultLoopLockTTL = 30 * time.Second

type LockHandle interface {
	Unlock(ctx context.Context) error
}

// ConnectionLocker serializes loop execution per (tenant, loop) key. Acquire
// fails while another holder has the key and its TTL has not lapsed.
type ConnectionLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

// LoopLockKey builds the lock key enforcing concurrency 1 per loop per
// tenant. Refresh and sync use distinct keys so they may overlap.
func LoopLockKey(loop string, tenantID string) string {
	return strings.TrimSpace(loop) + "::" + strings.TrimSpace(tenantID)
}

type MemoryConnectionLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	nowFn func() time.Time
}

func NewMemoryConnectionLocker() *MemoryConnectionLocker {
	return &MemoryConnectionLocker{
		locks: make(map[string]time.Time),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryConnectionLocker) Acquire(_ context.Context, key string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: connection locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("core: lock key is required for lock acquisition")
	}
	if ttl <= 0 {
		ttl = defaultLoopLockTTL
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.locks[key]; ok && now.Before(until) {
		return nil, fmt.Errorf("core: refresh lock already held for key %q", key)
	}
	l.locks[key] = now.Add(ttl)
	return &memoryLockHandle{locker: l, key: key}, nil
}

type memoryLockHandle struct {
	locker *MemoryConnectionLocker
	key    string
	once   sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		delete(h.locker.locks, h.key)
		h.locker.mu.Unlock()
	})
	return nil
}

var _ ConnectionLocker = (*MemoryConnectionLocker)(nil)
