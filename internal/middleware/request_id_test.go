package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestID_Minted(t *testing.T) {
	t.Parallel()

	var gotCtxID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCtxID = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	headerID := rec.Header().Get(RequestIDHeader)
	if headerID == "" {
		t.Fatal("response should carry a minted request ID")
	}
	if gotCtxID != headerID {
		t.Errorf("context ID %q does not match header ID %q", gotCtxID, headerID)
	}
}

func TestRequestID_CallerSuppliedHonored(t *testing.T) {
	t.Parallel()

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set(RequestIDHeader, "embed-7f3a")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "embed-7f3a" {
		t.Errorf("request ID = %q, want the caller supplied value", got)
	}
}
