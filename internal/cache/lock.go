package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultLockTTL bounds how long a crashed refresher can block a
// signature before its lock is reclaimable.
const DefaultLockTTL = 45 * time.Second

// lockRecord is the stored shape of a held refresh lock.
type lockRecord struct {
	Token         string    `json:"token"`
	AcquiredAt    time.Time `json:"acquired_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	HolderProfile string    `json:"holder_profile"`
}

// RefreshLock is an advisory TTL lock over a Store. At most one holder
// exists per key at any instant; an expired lock is indistinguishable
// from an absent one and may be silently reclaimed. This is deliberately
// not a distributed lock: the design accepts rare double-fetches bounded
// by the TTL rather than paying for consensus.
type RefreshLock struct {
	store Store
	ttl   time.Duration
}

// NewRefreshLock creates a RefreshLock with the given TTL.
func NewRefreshLock(store Store, ttl time.Duration) *RefreshLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RefreshLock{store: store, ttl: ttl}
}

// TTL returns the configured lock lifetime.
func (l *RefreshLock) TTL() time.Duration {
	return l.ttl
}

// TryAcquire attempts to take the lock for key. On success it returns an
// opaque token that must be passed back to Release. On conflict it
// returns held=true along with the remaining lifetime of the current
// holder's lock, so callers can advertise a sensible retry-after.
func (l *RefreshLock) TryAcquire(ctx context.Context, key, holderProfile string) (token string, held bool, remaining time.Duration, err error) {
	now := time.Now()
	rec := lockRecord{
		Token:         uuid.New().String(),
		AcquiredAt:    now,
		ExpiresAt:     now.Add(l.ttl),
		HolderProfile: holderProfile,
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return "", false, 0, fmt.Errorf("marshal lock record: %w", err)
	}

	ok, err := l.store.SetNX(ctx, key, string(payload), l.ttl)
	if err != nil {
		return "", false, 0, fmt.Errorf("acquire refresh lock: %w", err)
	}
	if ok {
		return rec.Token, false, 0, nil
	}

	remaining, err = l.store.TTL(ctx, key)
	if err != nil || remaining <= 0 {
		// Holder unknown or just expired. Advertise the full TTL rather
		// than telling the caller to retry immediately.
		remaining = l.ttl
	}
	return "", true, remaining, nil
}

// Release frees the lock if the caller still holds it. It compares the
// stored token so a lock that expired and was reclaimed by someone else
// is left untouched.
func (l *RefreshLock) Release(ctx context.Context, key, token string) error {
	val, found, err := l.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read refresh lock: %w", err)
	}
	if !found {
		return nil
	}

	var rec lockRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil || rec.Token != token {
		return nil
	}

	if _, err := l.store.CompareDelete(ctx, key, val); err != nil {
		return fmt.Errorf("release refresh lock: %w", err)
	}
	return nil
}
