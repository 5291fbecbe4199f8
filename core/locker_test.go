package core

import (
	"context"
	"testing"
	"time"
)

func TestMemoryConnectionLocker_SerializesHolders(t *testing.T) {
	locker := NewMemoryConnectionLocker()
	key := LoopLockKey(LoopRefresh, "tenant_1")

	handle, err := locker.Acquire(context.Background(), key, time.Minute)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := locker.Acquire(context.Background(), key, time.Minute); err == nil {
		t.Fatalf("expected second acquire to fail while held")
	}
	// Different loop, same tenant, is a distinct key and may overlap.
	if _, err := locker.Acquire(context.Background(), LoopLockKey(LoopSync, "tenant_1"), time.Minute); err != nil {
		t.Fatalf("sync lock should not collide with refresh lock: %v", err)
	}

	if err := handle.Unlock(context.Background()); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := handle.Unlock(context.Background()); err != nil {
		t.Fatalf("unlock must be idempotent: %v", err)
	}
	if _, err := locker.Acquire(context.Background(), key, time.Minute); err != nil {
		t.Fatalf("expected reacquire after unlock: %v", err)
	}
}

func TestMemoryConnectionLocker_ExpiredHoldIsReclaimable(t *testing.T) {
	locker := NewMemoryConnectionLocker()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	locker.nowFn = func() time.Time { return base }

	if _, err := locker.Acquire(context.Background(), "sync::tenant_1", 30*time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	locker.nowFn = func() time.Time { return base.Add(31 * time.Second) }
	if _, err := locker.Acquire(context.Background(), "sync::tenant_1", 30*time.Second); err != nil {
		t.Fatalf("expected the lapsed hold to be reclaimable: %v", err)
	}
}
