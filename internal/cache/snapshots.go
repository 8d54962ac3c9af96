package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/guildpulse/guildpulse/internal/model"
)

// Key prefixes for pipeline state. Everything derived from the resolved
// cache key lives under one of these so a purge can find it.
const (
	// BaseSnapshotKey is the live-cache key for the default signature;
	// non-default signatures append a hashed suffix (see stats.Resolve).
	BaseSnapshotKey = "guildpulse:stats"

	lockKeyPrefix     = "guildpulse:lock:"
	lastGoodKeyPrefix = "guildpulse:lastgood:"
	fallbackKeyPrefix = "guildpulse:fallback:"
	retryKeyPrefix    = "guildpulse:retryafter:"

	// snapshotIndexKey registers every snapshot cache key ever written,
	// purely for enumeration during a full purge.
	snapshotIndexKey = "guildpulse:keys"
)

// LockKey derives the refresh-lock key for a resolved cache key.
func LockKey(cacheKey string) string {
	return lockKeyPrefix + cacheKey
}

// StatsCache provides typed access to pipeline state on top of a Store.
type StatsCache struct {
	store Store
}

// NewStatsCache wraps a Store.
func NewStatsCache(store Store) *StatsCache {
	return &StatsCache{store: store}
}

// Store exposes the underlying Store for components that need the raw
// contract (the lock, the rate limiter).
func (s *StatsCache) Store() Store {
	return s.store
}

// GetSnapshot reads the live cached snapshot. Returns ErrCacheMiss when
// absent or expired.
func (s *StatsCache) GetSnapshot(ctx context.Context, cacheKey string) (*model.StatsSnapshot, error) {
	return s.getSnapshot(ctx, cacheKey)
}

// SetSnapshot writes the live cached snapshot and registers the key in
// the purge index.
func (s *StatsCache) SetSnapshot(ctx context.Context, cacheKey string, snap *model.StatsSnapshot, ttl time.Duration) error {
	if err := s.setSnapshot(ctx, cacheKey, snap, ttl); err != nil {
		return err
	}
	if err := s.store.AddToIndex(ctx, snapshotIndexKey, cacheKey); err != nil {
		return fmt.Errorf("register snapshot key: %w", err)
	}
	return nil
}

// GetLastGood reads the last-known-good snapshot for a cache key.
func (s *StatsCache) GetLastGood(ctx context.Context, cacheKey string) (*model.StatsSnapshot, error) {
	return s.getSnapshot(ctx, lastGoodKeyPrefix+cacheKey)
}

// SetLastGood persists a successful snapshot with no expiry. It is kept
// until explicitly cleared so the fallback ladder always has a rung
// above synthetic data.
func (s *StatsCache) SetLastGood(ctx context.Context, cacheKey string, snap *model.StatsSnapshot) error {
	return s.setSnapshot(ctx, lastGoodKeyPrefix+cacheKey, snap, 0)
}

// SetFallbackDetails records when and why the last fallback happened.
func (s *StatsCache) SetFallbackDetails(ctx context.Context, cacheKey string, details model.FallbackDetails) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal fallback details: %w", err)
	}
	if err := s.store.Set(ctx, fallbackKeyPrefix+cacheKey, string(payload), 0); err != nil {
		return fmt.Errorf("store fallback details: %w", err)
	}
	return nil
}

// GetFallbackDetails reads the last fallback record, if any.
func (s *StatsCache) GetFallbackDetails(ctx context.Context, cacheKey string) (*model.FallbackDetails, error) {
	val, found, err := s.store.Get(ctx, fallbackKeyPrefix+cacheKey)
	if err != nil {
		return nil, fmt.Errorf("read fallback details: %w", err)
	}
	if !found {
		return nil, ErrCacheMiss
	}
	var details model.FallbackDetails
	if err := json.Unmarshal([]byte(val), &details); err != nil {
		return nil, fmt.Errorf("decode fallback details: %w", err)
	}
	return &details, nil
}

// ClearFallbackState removes the fallback record and any stored
// retry-after hint. Called on every successful fetch.
func (s *StatsCache) ClearFallbackState(ctx context.Context, cacheKey string) error {
	return s.store.Delete(ctx, fallbackKeyPrefix+cacheKey, retryKeyPrefix+cacheKey)
}

// SetRetryHint stores an upstream-supplied Retry-After delay so it
// outlives the request that observed it. The hint expires on its own.
func (s *StatsCache) SetRetryHint(ctx context.Context, cacheKey string, delay time.Duration) error {
	secs := int64(delay.Seconds())
	if secs <= 0 {
		return nil
	}
	return s.store.Set(ctx, retryKeyPrefix+cacheKey, strconv.FormatInt(secs, 10), delay)
}

// TakeRetryHint reads and consumes a stored retry hint. The hint applies
// exactly once; a second caller sees nothing.
func (s *StatsCache) TakeRetryHint(ctx context.Context, cacheKey string) (time.Duration, error) {
	key := retryKeyPrefix + cacheKey
	val, found, err := s.store.Get(ctx, key)
	if err != nil || !found {
		return 0, err
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return 0, err
	}
	secs, perr := strconv.ParseInt(val, 10, 64)
	if perr != nil {
		return 0, nil
	}
	return time.Duration(secs) * time.Second, nil
}

// PurgeAll deletes every snapshot and all state derived from it, using
// the key index instead of a store scan.
func (s *StatsCache) PurgeAll(ctx context.Context) error {
	cacheKeys, err := s.store.IndexMembers(ctx, snapshotIndexKey)
	if err != nil {
		return fmt.Errorf("enumerate snapshot keys: %w", err)
	}

	keys := make([]string, 0, len(cacheKeys)*4+1)
	for _, ck := range cacheKeys {
		keys = append(keys, ck, lastGoodKeyPrefix+ck, fallbackKeyPrefix+ck, retryKeyPrefix+ck)
	}
	keys = append(keys, snapshotIndexKey)

	if err := s.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("purge snapshot keys: %w", err)
	}
	return nil
}

func (s *StatsCache) getSnapshot(ctx context.Context, key string) (*model.StatsSnapshot, error) {
	val, found, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if !found {
		return nil, ErrCacheMiss
	}
	var snap model.StatsSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *StatsCache) setSnapshot(ctx context.Context, key string, snap *model.StatsSnapshot, ttl time.Duration) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.store.Set(ctx, key, string(payload), ttl); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}
