package stats

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/guildpulse/guildpulse/internal/cache"
	"github.com/guildpulse/guildpulse/internal/config"
)

// DefaultSignature is the signature for a request with no profile and no
// server override.
const DefaultSignature = "default"

// Options is the resolved upstream connection for one request.
type Options struct {
	ProfileKey string
	Label      string
	ServerID   string
	BotToken   string
}

// Resolved carries the options plus the derived identity strings.
type Resolved struct {
	Options
	Signature string
	CacheKey  string
}

// Resolve is pure: it combines the base configuration, an optional named
// profile and an optional server-id override into effective options, and
// derives the signature and cache key that name this combination.
// An unknown profile key returns ErrProfileNotFound, which callers must
// treat as non-retryable.
func Resolve(cfg *config.Config, profileKey, serverIDOverride string) (*Resolved, error) {
	opts := Options{
		ServerID: cfg.ServerID,
		BotToken: cfg.BotToken,
	}

	if profileKey != "" {
		profile, ok := cfg.Profiles()[profileKey]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, profileKey)
		}
		opts.ProfileKey = profileKey
		opts.Label = profile.Label
		opts.ServerID = profile.ServerID
		if profile.BotToken != "" {
			opts.BotToken = profile.BotToken
		}
	}

	if serverIDOverride != "" {
		opts.ServerID = serverIDOverride
	}

	sig := Signature(profileKey, serverIDOverride)

	return &Resolved{
		Options:   opts,
		Signature: sig,
		CacheKey:  CacheKey(sig),
	}, nil
}

// Signature builds the deterministic identity string for a
// (profile, server-id-override) combination.
func Signature(profileKey, serverIDOverride string) string {
	var parts []string
	if profileKey != "" {
		parts = append(parts, "profile:"+profileKey)
	}
	if serverIDOverride != "" {
		parts = append(parts, "server:"+serverIDOverride)
	}
	if len(parts) == 0 {
		return DefaultSignature
	}
	return strings.Join(parts, "|")
}

// CacheKey derives the live-cache key for a signature: the base key
// unchanged for the default signature, otherwise suffixed with a short
// hash so distinct combinations never collide.
func CacheKey(signature string) string {
	if signature == DefaultSignature {
		return cache.BaseSnapshotKey
	}
	sum := sha256.Sum256([]byte(signature))
	return cache.BaseSnapshotKey + "_" + hex.EncodeToString(sum[:8])
}
