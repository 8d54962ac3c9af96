package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// rateLimitKeyPrefix is the key prefix for public refresh markers.
	rateLimitKeyPrefix = "guildpulse:ratelimit:"
	// rateLimitIndexKey indexes all live rate-limit keys so a full purge
	// can enumerate them.
	rateLimitIndexKey = "guildpulse:ratelimit:index"
	// MinRefreshWindow is the floor for the public forced-refresh window.
	MinRefreshWindow = 10 * time.Second
)

// RateLimitResult is the outcome of a public refresh window check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RefreshLimiter throttles unauthenticated forced refreshes to one per
// window per anonymized client fingerprint.
type RefreshLimiter struct {
	store          Store
	window         time.Duration
	trustedHeaders []string
}

// NewRefreshLimiter creates a limiter. The effective window is the larger
// of the configured cache duration and MinRefreshWindow. trustedHeaders
// lists proxy headers the deployment has explicitly declared trustworthy
// for client identity; nil means trust none.
func NewRefreshLimiter(store Store, cacheDuration time.Duration, trustedHeaders []string) *RefreshLimiter {
	window := cacheDuration
	if window < MinRefreshWindow {
		window = MinRefreshWindow
	}
	return &RefreshLimiter{
		store:          store,
		window:         window,
		trustedHeaders: trustedHeaders,
	}
}

// Window returns the effective refresh window.
func (l *RefreshLimiter) Window() time.Duration {
	return l.window
}

// Check enforces the sliding window for one public forced-refresh attempt.
// An empty fingerprint or a store error fails open: blocking all anonymous
// traffic is worse than letting the odd extra refresh through.
func (l *RefreshLimiter) Check(ctx context.Context, r *http.Request) (*RateLimitResult, error) {
	fp := l.Fingerprint(r)
	if fp == "" {
		return &RateLimitResult{Allowed: true}, nil
	}

	key := rateLimitKeyPrefix + fp
	now := time.Now()

	val, found, err := l.store.Get(ctx, key)
	if err != nil {
		return &RateLimitResult{Allowed: true}, nil
	}
	if found {
		last, perr := strconv.ParseInt(val, 10, 64)
		if perr == nil {
			elapsed := now.Sub(time.Unix(last, 0))
			if elapsed < l.window {
				return &RateLimitResult{
					Allowed:    false,
					RetryAfter: l.window - elapsed,
				}, nil
			}
		}
	}

	if err := l.store.Set(ctx, key, strconv.FormatInt(now.Unix(), 10), l.window); err != nil {
		return &RateLimitResult{Allowed: true}, nil
	}
	// A missing index entry only means this marker escapes a later purge;
	// it never blocks the request.
	_ = l.store.AddToIndex(ctx, rateLimitIndexKey, key)

	return &RateLimitResult{Allowed: true}, nil
}

// PurgeAll deletes every registered rate-limit marker. Used when the
// administrator clears all cached data.
func (l *RefreshLimiter) PurgeAll(ctx context.Context) error {
	keys, err := l.store.IndexMembers(ctx, rateLimitIndexKey)
	if err != nil {
		return fmt.Errorf("enumerate rate limit keys: %w", err)
	}
	if err := l.store.Delete(ctx, append(keys, rateLimitIndexKey)...); err != nil {
		return fmt.Errorf("purge rate limit keys: %w", err)
	}
	return nil
}

// Fingerprint derives the anonymized client identity for a request. The
// client IP is masked before hashing so the stored marker never encodes a
// full address. Returns "" when the request carries no usable signal.
func (l *RefreshLimiter) Fingerprint(r *http.Request) string {
	ip := l.clientIP(r)
	ua := r.UserAgent()
	if ip == "" && ua == "" {
		return ""
	}
	return hashFingerprint(anonymizeIP(ip) + "|" + ua)
}

// clientIP resolves the caller's IP, honoring only explicitly trusted
// proxy headers.
func (l *RefreshLimiter) clientIP(r *http.Request) string {
	for _, h := range l.trustedHeaders {
		if v := r.Header.Get(h); v != "" {
			// Forwarded-style headers may list multiple hops.
			if i := strings.IndexByte(v, ','); i >= 0 {
				v = v[:i]
			}
			return strings.TrimSpace(v)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// anonymizeIP masks the low-order bits of an address: the last octet of
// an IPv4, everything past the /64 of an IPv6.
func anonymizeIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ip
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}
	return parsed.Mask(net.CIDRMask(64, 128)).String()
}

// hashFingerprint creates a truncated SHA256 hash of the identity string.
func hashFingerprint(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:8]) // 16 hex chars
}
