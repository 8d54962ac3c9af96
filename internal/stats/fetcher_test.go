package stats

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/guildpulse/guildpulse/internal/model"
	"github.com/guildpulse/guildpulse/internal/upstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConnector scripts the two upstream calls and records what was asked.
type fakeConnector struct {
	summary     *upstream.SummaryStats
	summaryErr  error
	detailed    *upstream.DetailedStats
	detailedErr error

	summaryCalls  int
	detailedCalls int
	gotToken      string
}

func (f *fakeConnector) FetchSummary(ctx context.Context, serverID string) (*upstream.SummaryStats, error) {
	f.summaryCalls++
	return f.summary, f.summaryErr
}

func (f *fakeConnector) FetchDetailed(ctx context.Context, serverID, botToken string) (*upstream.DetailedStats, error) {
	f.detailedCalls++
	f.gotToken = botToken
	return f.detailed, f.detailedErr
}

func completeSummary() *upstream.SummaryStats {
	return &upstream.SummaryStats{
		Name:          "Test",
		MemberCount:   model.IntPtr(1000),
		PresenceCount: model.IntPtr(342),
	}
}

func TestFetcher_CompleteSummarySkipsDetailed(t *testing.T) {
	t.Parallel()

	conn := &fakeConnector{summary: completeSummary()}
	f := NewFetcher(conn, testLogger(), nil)

	result, err := f.Fetch(context.Background(), Options{ServerID: "1", BotToken: "secret-token"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if conn.detailedCalls != 0 {
		t.Error("detailed endpoint should not be called when the summary is complete")
	}
	if result.BotCalled {
		t.Error("BotCalled should be false")
	}
	if !result.HasUsableStats || result.Snapshot.Online != 342 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestFetcher_NoCredentialNeverCallsDetailed(t *testing.T) {
	t.Parallel()

	// An incomplete widget would normally warrant the detailed call.
	conn := &fakeConnector{
		summary: &upstream.SummaryStats{Name: "Test", PresenceCount: model.IntPtr(10)},
	}
	f := NewFetcher(conn, testLogger(), nil)

	result, err := f.Fetch(context.Background(), Options{ServerID: "1"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if conn.detailedCalls != 0 {
		t.Error("detailed endpoint must never be called without a credential")
	}
	if !result.WidgetIncomplete {
		t.Error("WidgetIncomplete should be true")
	}
	if !result.HasUsableStats {
		t.Error("an incomplete but present summary is still usable")
	}
}

func TestFetcher_IncompleteSummaryTriggersDetailed(t *testing.T) {
	t.Parallel()

	conn := &fakeConnector{
		summary: &upstream.SummaryStats{Name: "Test", PresenceCount: model.IntPtr(342)},
		detailed: &upstream.DetailedStats{
			Name:          "Test",
			ApproxMembers: model.IntPtr(15234),
		},
	}
	f := NewFetcher(conn, testLogger(), nil)

	result, err := f.Fetch(context.Background(), Options{ServerID: "1", BotToken: "secret-token"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if conn.detailedCalls != 1 {
		t.Fatalf("detailed calls = %d, want 1", conn.detailedCalls)
	}
	if conn.gotToken != "secret-token" {
		t.Errorf("token = %q, want secret-token", conn.gotToken)
	}
	if result.CredentialUsed != "****oken" {
		t.Errorf("CredentialUsed = %q, credential must be masked", result.CredentialUsed)
	}
	if result.Snapshot.Total == nil || *result.Snapshot.Total != 15234 {
		t.Errorf("merged Total = %v, want 15234", result.Snapshot.Total)
	}
}

func TestFetcher_SummaryFailureFallsThroughToDetailed(t *testing.T) {
	t.Parallel()

	conn := &fakeConnector{
		summaryErr: &upstream.Error{Endpoint: "summary", StatusCode: 503},
		detailed: &upstream.DetailedStats{
			Name:          "Test",
			ApproxMembers: model.IntPtr(15234),
			ApproxPresent: model.IntPtr(1800),
		},
	}
	f := NewFetcher(conn, testLogger(), nil)

	result, err := f.Fetch(context.Background(), Options{ServerID: "1", BotToken: "tok-1234"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !result.HasUsableStats || result.Snapshot.Online != 1800 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestFetcher_BothFail(t *testing.T) {
	t.Parallel()

	conn := &fakeConnector{
		summaryErr:  &upstream.Error{Endpoint: "summary", StatusCode: 503},
		detailedErr: &upstream.Error{Endpoint: "detailed", StatusCode: 500},
	}
	f := NewFetcher(conn, testLogger(), nil)

	result, err := f.Fetch(context.Background(), Options{ServerID: "1", BotToken: "tok-1234"})
	if err == nil {
		t.Fatal("expected an error when nothing usable was fetched")
	}
	if result.HasUsableStats {
		t.Error("HasUsableStats should be false")
	}
}

func TestFetcher_RetryAfterHintPropagates(t *testing.T) {
	t.Parallel()

	conn := &fakeConnector{
		summaryErr:  &upstream.Error{Endpoint: "summary", StatusCode: 429, RetryAfter: 30 * time.Second},
		detailedErr: &upstream.Error{Endpoint: "detailed", StatusCode: 429, RetryAfter: 120 * time.Second},
	}
	f := NewFetcher(conn, testLogger(), nil)

	result, err := f.Fetch(context.Background(), Options{ServerID: "1", BotToken: "tok-1234"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if result.RetryAfter != 120*time.Second {
		t.Errorf("RetryAfter = %v, want the largest hint 120s", result.RetryAfter)
	}

	var ue *upstream.Error
	if !errors.As(err, &ue) {
		t.Errorf("error should carry the upstream type, got %T", err)
	}
}
