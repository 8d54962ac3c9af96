package cache

import (
	"context"
	"testing"
	"time"
)

func TestRefreshLock_AcquireRelease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	lock := NewRefreshLock(NewMemoryStore(), 45*time.Second)

	token, held, _, err := lock.TryAcquire(ctx, "lock:k", "gaming")
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	if held {
		t.Fatal("fresh lock should not be held")
	}
	if token == "" {
		t.Fatal("expected a token on acquisition")
	}

	if err := lock.Release(ctx, "lock:k", token); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// A released lock is immediately reacquirable.
	_, held, _, err = lock.TryAcquire(ctx, "lock:k", "gaming")
	if err != nil {
		t.Fatalf("TryAcquire after release failed: %v", err)
	}
	if held {
		t.Error("lock should be free after release")
	}
}

func TestRefreshLock_ConflictReportsRemaining(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	store.SetClock(func() time.Time { return now })
	lock := NewRefreshLock(store, 45*time.Second)

	if _, held, _, err := lock.TryAcquire(ctx, "lock:k", "a"); err != nil || held {
		t.Fatalf("first acquire = (held=%v, err=%v)", held, err)
	}

	now = now.Add(20 * time.Second)
	token, held, remaining, err := lock.TryAcquire(ctx, "lock:k", "b")
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if !held {
		t.Fatal("second acquire should see the lock held")
	}
	if token != "" {
		t.Error("conflicting acquire should not hand out a token")
	}
	if remaining != 25*time.Second {
		t.Errorf("remaining = %v, want 25s", remaining)
	}
}

func TestRefreshLock_ExpiredLockIsReclaimable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	store.SetClock(func() time.Time { return now })
	lock := NewRefreshLock(store, 45*time.Second)

	staleToken, _, _, err := lock.TryAcquire(ctx, "lock:k", "crashed")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	now = now.Add(46 * time.Second)
	newToken, held, _, err := lock.TryAcquire(ctx, "lock:k", "fresh")
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if held {
		t.Fatal("expired lock should be reclaimable")
	}

	// The old holder's release must not free the new holder's lock.
	if err := lock.Release(ctx, "lock:k", staleToken); err != nil {
		t.Fatalf("stale release failed: %v", err)
	}
	_, held, _, err = lock.TryAcquire(ctx, "lock:k", "third")
	if err != nil {
		t.Fatalf("probe acquire failed: %v", err)
	}
	if !held {
		t.Error("new holder's lock should survive a stale release")
	}

	if err := lock.Release(ctx, "lock:k", newToken); err != nil {
		t.Fatalf("release failed: %v", err)
	}
}

func TestRefreshLock_ReleaseUnknownTokenIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	lock := NewRefreshLock(NewMemoryStore(), time.Minute)

	if err := lock.Release(ctx, "lock:k", "no-such-token"); err != nil {
		t.Fatalf("Release of absent lock should be a no-op, got %v", err)
	}
}

func TestNewRefreshLock_DefaultTTL(t *testing.T) {
	t.Parallel()
	lock := NewRefreshLock(NewMemoryStore(), 0)
	if lock.TTL() != DefaultLockTTL {
		t.Errorf("TTL = %v, want %v", lock.TTL(), DefaultLockTTL)
	}
}
