package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func rateLimitedBackend(header string, bodyRetry int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if header != "" {
			w.Header().Set("Retry-After", header)
		}
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error":      "rate limited",
			"message":    "too many authentication attempts",
			"retryAfter": bodyRetry,
		})
	})
}

func TestCheckStatus_RateLimitHeaderOverridesBody(t *testing.T) {
	srv := httptest.NewServer(rateLimitedBackend("7", 99))
	t.Cleanup(srv.Close)

	_, err := NewClient(srv.Client()).Login(context.Background(), srv.URL, testUser, "hash")
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected structured error, got %v", err)
	}
	if se.Kind != KindRateLimit || se.Code != "RATE_LIMITED" {
		t.Fatalf("expected rate-limit error, got kind=%s code=%s", se.Kind, se.Code)
	}
	if se.RetryAfter != 7 {
		t.Fatalf("Retry-After header must win over the body value, got %d", se.RetryAfter)
	}
	if c := Classify(err); c.RetryAfterSeconds != 7 {
		t.Fatalf("classification must carry the wait, got %d", c.RetryAfterSeconds)
	}
}

func TestCheckStatus_RateLimitBodyFallback(t *testing.T) {
	srv := httptest.NewServer(rateLimitedBackend("", 42))
	t.Cleanup(srv.Close)

	_, err := NewClient(srv.Client()).Login(context.Background(), srv.URL, testUser, "hash")
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindRateLimit || se.RetryAfter != 42 {
		t.Fatalf("expected retryAfter 42 from the body, got %v", err)
	}
}
