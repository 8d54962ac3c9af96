// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Cache duration bounds. Values outside this range are clamped.
const (
	MinCacheDuration = 10 * time.Second
	MaxCacheDuration = 3600 * time.Second

	// MinFallbackWindow is the floor for the fallback retry window.
	MinFallbackWindow = 10 * time.Second
)

// Profile is one named upstream connection: a server id plus an optional
// bot credential for the detailed endpoint.
type Profile struct {
	ServerID string `json:"server_id"`
	Label    string `json:"label,omitempty"`
	BotToken string `json:"bot_token,omitempty"`
}

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL) for the durable job queue
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Default upstream connection
	ServerID string `env:"SERVER_ID" envDefault:""`
	BotToken string `env:"BOT_TOKEN" envDefault:""`

	// Named profiles as a JSON object: {"gaming":{"server_id":"...","bot_token":"..."}}
	ProfilesJSON string `env:"PROFILES" envDefault:""`

	// Upstream endpoints
	UpstreamBaseURL string `env:"UPSTREAM_BASE_URL" envDefault:"https://discord.com/api"`
	UpstreamCDNURL  string `env:"UPSTREAM_CDN_URL" envDefault:"https://cdn.discordapp.com"`

	// Pipeline tuning
	CacheDuration  time.Duration `env:"CACHE_DURATION" envDefault:"300s"`
	LockTTL        time.Duration `env:"REFRESH_LOCK_TTL" envDefault:"45s"`
	FallbackWindow time.Duration `env:"FALLBACK_RETRY_WINDOW" envDefault:"300s"`
	DemoMode       bool          `env:"DEMO_MODE" envDefault:"false"`

	// Background refresh jobs
	RefreshCron     string        `env:"REFRESH_CRON" envDefault:"*/5 * * * *"`
	JobMaxAttempts  int           `env:"JOB_MAX_ATTEMPTS" envDefault:"5"`
	JobBaseDelay    time.Duration `env:"JOB_BASE_DELAY" envDefault:"60s"`
	JobPollInterval time.Duration `env:"JOB_POLL_INTERVAL" envDefault:"5s"`
	JobBatchSize    int           `env:"JOB_BATCH_SIZE" envDefault:"25"`

	// Public rate limiting
	RateLimitPublicEnabled bool `env:"RATE_LIMIT_PUBLIC_ENABLED" envDefault:"true"`
	// Comma-separated list of proxy headers to trust for the client
	// identity (e.g. "CF-Connecting-IP"). Empty means trust none.
	TrustedProxyHeaders string `env:"TRUSTED_PROXY_HEADERS" envDefault:""`

	// CORS: comma-separated origin allowlist. Empty allows any origin,
	// which suits embeddable public stats.
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	profiles map[string]Profile
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Profiles returns the parsed named profiles. Never nil.
func (c *Config) Profiles() map[string]Profile {
	if c.profiles == nil {
		return map[string]Profile{}
	}
	return c.profiles
}

// GetCORSAllowedOrigins parses the comma-separated origin allowlist.
func (c *Config) GetCORSAllowedOrigins() []string {
	return splitCSV(c.CORSAllowedOrigins)
}

// GetTrustedProxyHeaders parses the comma-separated header list.
func (c *Config) GetTrustedProxyHeaders() []string {
	return splitCSV(c.TrustedProxyHeaders)
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))

	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// normalize clamps tunables into their documented bounds and parses the
// profiles JSON.
func (c *Config) normalize() error {
	if c.CacheDuration < MinCacheDuration {
		c.CacheDuration = MinCacheDuration
	}
	if c.CacheDuration > MaxCacheDuration {
		c.CacheDuration = MaxCacheDuration
	}
	if c.FallbackWindow < MinFallbackWindow {
		c.FallbackWindow = MinFallbackWindow
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 45 * time.Second
	}
	if c.JobMaxAttempts < 1 {
		c.JobMaxAttempts = 1
	}

	c.profiles = map[string]Profile{}
	if c.ProfilesJSON == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(c.ProfilesJSON), &c.profiles); err != nil {
		return fmt.Errorf("failed to parse PROFILES: %w", err)
	}
	for key, p := range c.profiles {
		if key == "" {
			return fmt.Errorf("PROFILES contains an empty profile key")
		}
		if p.ServerID == "" {
			return fmt.Errorf("profile %q has no server_id", key)
		}
	}
	return nil
}

// FromValues normalizes a hand-built Config. Intended for tests and
// embedding; Load is the production path.
func FromValues(cfg *Config) (*Config, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}
