package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by typed getters when a key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Store is the narrow key/value contract every pipeline component
// coordinates through. The only cross-process primitive the system
// assumes is this: get/set/delete with TTL, a conditional set for
// advisory locking, and a side index so a full purge can enumerate keys
// without a scan capability.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes a value. A non-positive ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX writes the value only if the key is absent (or expired).
	// Returns true when the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareDelete deletes the key only if it still holds value.
	// Returns true when the key was deleted.
	CompareDelete(ctx context.Context, key, value string) (bool, error)

	// TTL returns the remaining lifetime of a key: zero when the key is
	// absent, negative when the key has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// AddToIndex registers a member in a named side index.
	AddToIndex(ctx context.Context, index, member string) error

	// IndexMembers enumerates a side index.
	IndexMembers(ctx context.Context, index string) ([]string, error)
}

// compareDeleteScript atomically deletes a key only when it still holds
// the caller's value, so an expired lock reclaimed by another holder is
// never released by the previous one.
var compareDeleteScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Get implements Store.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set implements Store.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return c.client.Set(ctx, key, value, 0).Err()
	}
	return c.client.Set(ctx, key, value, ttl).Err()
}

// SetNX implements Store.
func (c *Cache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

// CompareDelete implements Store.
func (c *Cache) CompareDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := compareDeleteScript.Run(ctx, c.client, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// TTL implements Store.
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// go-redis reports a missing key as -2, a persistent key as -1.
	if d == -2 {
		return 0, nil
	}
	if d == -1 {
		return -1, nil
	}
	return d, nil
}

// Delete implements Store.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// AddToIndex implements Store.
func (c *Cache) AddToIndex(ctx context.Context, index, member string) error {
	return c.client.SAdd(ctx, index, member).Err()
}

// IndexMembers implements Store.
func (c *Cache) IndexMembers(ctx context.Context, index string) ([]string, error) {
	return c.client.SMembers(ctx, index).Result()
}
