package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// RequestTimeout is the fixed total timeout per upstream call.
	RequestTimeout = 10 * time.Second
	// DialTimeout is the connection timeout.
	DialTimeout = 5 * time.Second

	// maxResponseBytes caps how much of an upstream response is read.
	maxResponseBytes = 1 << 20
)

// Error is a typed upstream failure. RetryAfter is populated from the
// Retry-After header when the upstream supplied one.
type Error struct {
	Endpoint   string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s returned HTTP %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s failed: %v", e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// RetryAfterFrom extracts a Retry-After hint from any error chain.
func RetryAfterFrom(err error) time.Duration {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.RetryAfter
	}
	return 0
}

// Client issues the summary and detailed upstream calls.
type Client struct {
	baseURL string
	cdnURL  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates an upstream client against the given API base URL.
func NewClient(baseURL, cdnURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		cdnURL:  strings.TrimSuffix(cdnURL, "/"),
		logger:  logger.With("component", "upstream"),
		http: &http.Client{
			Timeout: RequestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   DialTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: DialTimeout,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// FetchSummary calls the public widget endpoint for a server.
func (c *Client) FetchSummary(ctx context.Context, serverID string) (*SummaryStats, error) {
	url := fmt.Sprintf("%s/guilds/%s/widget.json", c.baseURL, serverID)

	var summary SummaryStats
	if err := c.getJSON(ctx, "summary", url, "", &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// FetchDetailed calls the bot-authenticated with-counts endpoint.
func (c *Client) FetchDetailed(ctx context.Context, serverID, botToken string) (*DetailedStats, error) {
	url := fmt.Sprintf("%s/guilds/%s?with_counts=true", c.baseURL, serverID)

	var detailed DetailedStats
	if err := c.getJSON(ctx, "detailed", url, botToken, &detailed); err != nil {
		return nil, err
	}
	if detailed.Icon != "" && detailed.ID != "" {
		detailed.Icon = fmt.Sprintf("%s/icons/%s/%s.png", c.cdnURL, detailed.ID, detailed.Icon)
	}
	return &detailed, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, url, botToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Error{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if botToken != "" {
		req.Header.Set("Authorization", "Bot "+botToken)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.Warn("upstream request failed",
			"endpoint", endpoint,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return &Error{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	rate := parseRateLimitHeaders(resp.Header)
	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())

	c.logger.Info("upstream request",
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"rate_limit", rate.Limit,
		"rate_remaining", rate.Remaining,
		"rate_reset_after", rate.ResetAfter.Seconds(),
		"rate_bucket", rate.Bucket,
		"rate_global", rate.Global,
	)

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return &Error{Endpoint: endpoint, StatusCode: resp.StatusCode, RetryAfter: retryAfter}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Endpoint: endpoint, Err: fmt.Errorf("read body: %w", err)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Endpoint: endpoint, Err: fmt.Errorf("decode body: %w", err)}
	}
	return nil
}

// parseRetryAfter handles both forms the header may take: a delay in
// seconds or an HTTP-date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func parseRateLimitHeaders(h http.Header) RateLimitInfo {
	info := RateLimitInfo{
		Bucket: h.Get("X-RateLimit-Bucket"),
		Global: h.Get("X-RateLimit-Global") == "true",
	}
	if v, err := strconv.Atoi(h.Get("X-RateLimit-Limit")); err == nil {
		info.Limit = v
	}
	if v, err := strconv.Atoi(h.Get("X-RateLimit-Remaining")); err == nil {
		info.Remaining = v
	}
	if v, err := strconv.ParseFloat(h.Get("X-RateLimit-Reset-After"), 64); err == nil {
		info.ResetAfter = time.Duration(v * float64(time.Second))
	}
	return info
}
