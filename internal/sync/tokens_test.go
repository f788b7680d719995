package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lovincyrus/goalsync/internal/store"
)

// refreshBackend serves only /auth/refresh and counts calls.
type refreshBackend struct {
	calls  atomic.Int64
	reject bool
	pair   TokenPair
}

func (b *refreshBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/refresh" {
			http.NotFound(w, r)
			return
		}
		b.calls.Add(1)
		if b.reject {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid refresh token"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "tokens": b.pair})
	})
}

func newTokenStoreForTest(t *testing.T, backend http.Handler, now time.Time) (*TokenStore, *store.DB) {
	t.Helper()
	db := openTestDB(t)
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	if err := db.SetSetting(store.KeyServerURL, srv.URL); err != nil {
		t.Fatal(err)
	}
	ts := NewTokenStore(db, NewClient(srv.Client()))
	ts.now = func() time.Time { return now }
	return ts, db
}

func TestAccessToken_ValidSkipsRefresh(t *testing.T) {
	now := time.Now()
	backend := &refreshBackend{}
	ts, _ := newTokenStoreForTest(t, backend.handler(), now)

	ts.StoreTokens(&TokenPair{
		AccessToken:      "acc-1",
		AccessExpiresAt:  now.Add(10 * time.Minute).UnixMilli(),
		RefreshToken:     "ref-1",
		RefreshExpiresAt: now.Add(24 * time.Hour).UnixMilli(),
	})

	got, err := ts.AccessToken(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "acc-1" {
		t.Fatalf("expected stored token, got %q", got)
	}
	if backend.calls.Load() != 0 {
		t.Fatalf("expected no refresh call, got %d", backend.calls.Load())
	}
}

func TestAccessToken_ExpiredTriggersSingleRefresh(t *testing.T) {
	now := time.Now()
	backend := &refreshBackend{pair: TokenPair{
		AccessToken:      "acc-2",
		AccessExpiresAt:  now.Add(10 * time.Minute).UnixMilli(),
		RefreshToken:     "ref-2",
		RefreshExpiresAt: now.Add(24 * time.Hour).UnixMilli(),
	}}
	ts, _ := newTokenStoreForTest(t, backend.handler(), now)

	// Access token inside the 60s skew window counts as expired.
	ts.StoreTokens(&TokenPair{
		AccessToken:      "acc-1",
		AccessExpiresAt:  now.Add(30 * time.Second).UnixMilli(),
		RefreshToken:     "ref-1",
		RefreshExpiresAt: now.Add(24 * time.Hour).UnixMilli(),
	})

	got, err := ts.AccessToken(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "acc-2" {
		t.Fatalf("expected refreshed token, got %q", got)
	}
	if backend.calls.Load() != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", backend.calls.Load())
	}

	// The new pair is now the stored one; no further refresh needed.
	got, err = ts.AccessToken(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "acc-2" || backend.calls.Load() != 1 {
		t.Fatalf("expected cached refreshed token, got %q after %d calls", got, backend.calls.Load())
	}
}

func TestAccessToken_RejectedRefreshClearsTokens(t *testing.T) {
	now := time.Now()
	backend := &refreshBackend{reject: true}
	ts, db := newTokenStoreForTest(t, backend.handler(), now)

	ts.StoreTokens(&TokenPair{
		AccessToken:      "acc-1",
		AccessExpiresAt:  now.Add(-time.Minute).UnixMilli(),
		RefreshToken:     "ref-1",
		RefreshExpiresAt: now.Add(24 * time.Hour).UnixMilli(),
	})

	_, err := ts.AccessToken(context.Background())
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if ts.HasValidRefreshToken() {
		t.Fatal("tokens must be cleared after rejected refresh")
	}
	if v, _ := db.GetSetting(store.KeyAccessToken); v != "" {
		t.Fatal("access token must be removed from storage")
	}
}

func TestAccessToken_MissingRefreshToken(t *testing.T) {
	now := time.Now()
	backend := &refreshBackend{}
	ts, _ := newTokenStoreForTest(t, backend.handler(), now)

	_, err := ts.AccessToken(context.Background())
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if backend.calls.Load() != 0 {
		t.Fatal("no refresh call should be made without a refresh token")
	}
}

func TestAccessToken_StorageFailureSurfaces(t *testing.T) {
	now := time.Now()
	ts, db := newTokenStoreForTest(t, http.NotFoundHandler(), now)

	// A closed database makes the token cleanup fail; the storage error
	// must surface instead of being masked as an expired session.
	db.Close()
	_, err := ts.AccessToken(context.Background())
	if err == nil {
		t.Fatal("expected storage error")
	}
	if errors.Is(err, ErrSessionExpired) {
		t.Fatalf("storage failure must not masquerade as session expiry: %v", err)
	}
}

func TestHasValidRefreshToken_SkewWindow(t *testing.T) {
	now := time.Now()
	ts, _ := newTokenStoreForTest(t, http.NotFoundHandler(), now)

	ts.StoreTokens(&TokenPair{
		AccessToken:      "acc",
		AccessExpiresAt:  now.Add(time.Hour).UnixMilli(),
		RefreshToken:     "ref",
		RefreshExpiresAt: now.Add(30 * time.Second).UnixMilli(),
	})
	if ts.HasValidRefreshToken() {
		t.Fatal("refresh token inside the skew window must count as expired")
	}

	ts.StoreTokens(&TokenPair{
		AccessToken:      "acc",
		AccessExpiresAt:  now.Add(time.Hour).UnixMilli(),
		RefreshToken:     "ref",
		RefreshExpiresAt: now.Add(2 * time.Minute).UnixMilli(),
	})
	if !ts.HasValidRefreshToken() {
		t.Fatal("refresh token outside the skew window must count as valid")
	}
}
