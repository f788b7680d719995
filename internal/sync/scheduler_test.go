package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lovincyrus/goalsync/internal/server"
	"github.com/lovincyrus/goalsync/internal/store"
)

// newSchedulerEnv wires an enabled engine plus scheduler against a counting
// sync server. The counter tracks uploads (POST /sync).
func newSchedulerEnv(t *testing.T) (*testEnv, *Scheduler, *atomic.Int64) {
	t.Helper()
	var uploads atomic.Int64
	base := server.New(quietLogger()).Handler()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/sync" {
			uploads.Add(1)
		}
		base.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	env := newTestEnv(t, srv.URL)
	env.enable(true)
	env.db.SetSetting(store.KeyAutoSyncEnabled, "true")
	env.db.UpsertGoal(store.Goal{ID: "vacation", TargetPercent: 50})

	sched := NewScheduler(env.orch, env.creds, env.tokens, env.db, quietLogger())
	sched.debounceWindow = 20 * time.Millisecond
	sched.retryInterval = 10 * time.Millisecond
	t.Cleanup(sched.Stop)
	return env, sched, &uploads
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestScheduler_DebounceCollapsesBursts(t *testing.T) {
	_, sched, uploads := newSchedulerEnv(t)
	sched.Start()

	// A burst of edits within the debounce window yields one sync.
	for i := 0; i < 5; i++ {
		sched.NotifyChange()
	}

	if !waitFor(t, 2*time.Second, func() bool { return uploads.Load() == 1 }) {
		t.Fatalf("expected exactly 1 upload, got %d", uploads.Load())
	}
	// Settle, then confirm no extra fire.
	time.Sleep(100 * time.Millisecond)
	if uploads.Load() != 1 {
		t.Fatalf("burst must collapse to one sync, got %d", uploads.Load())
	}
}

func TestScheduler_StopCancelsPendingTimers(t *testing.T) {
	_, sched, uploads := newSchedulerEnv(t)
	sched.Start()

	sched.NotifyChange()
	sched.Stop()

	time.Sleep(150 * time.Millisecond)
	if uploads.Load() != 0 {
		t.Fatalf("no sync may fire after Stop, got %d uploads", uploads.Load())
	}
}

func TestScheduler_NotifyChangeIgnoredWhenStopped(t *testing.T) {
	_, sched, uploads := newSchedulerEnv(t)

	// Never started: change notifications are dropped.
	sched.NotifyChange()
	time.Sleep(150 * time.Millisecond)
	if uploads.Load() != 0 {
		t.Fatalf("expected no sync without Start, got %d", uploads.Load())
	}
}

func TestScheduler_GuardBlocksWhenAutoSyncDisabled(t *testing.T) {
	env, sched, uploads := newSchedulerEnv(t)
	env.db.SetSetting(store.KeyAutoSyncEnabled, "false")
	sched.Start()

	sched.NotifyChange()
	time.Sleep(150 * time.Millisecond)
	if uploads.Load() != 0 {
		t.Fatalf("guard must block background sync, got %d uploads", uploads.Load())
	}
}

func TestScheduler_IntervalClamped(t *testing.T) {
	db := openTestDB(t)
	sched := NewScheduler(nil, nil, nil, db, quietLogger())

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"absent defaults", "", 30 * time.Minute},
		{"below minimum", "1", 5 * time.Minute},
		{"in range", "30", 30 * time.Minute},
		{"above maximum", "99999", 1440 * time.Minute},
		{"garbage defaults", "soon", 30 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value == "" {
				if err := db.DeleteSetting(store.KeyAutoSyncInterval); err != nil {
					t.Fatal(err)
				}
			} else if err := db.SetSetting(store.KeyAutoSyncInterval, tt.value); err != nil {
				t.Fatal(err)
			}
			if got := sched.intervalLocked(); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestScheduler_RetriesWhileSyncInFlight(t *testing.T) {
	var uploads atomic.Int64
	entered := make(chan struct{})
	release := make(chan struct{})
	var blocked atomic.Bool

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/sync/") {
			if blocked.CompareAndSwap(false, true) {
				close(entered)
				<-release
			}
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "no sync data"})
			return
		}
		if r.Method == http.MethodPost && r.URL.Path == "/sync" {
			uploads.Add(1)
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]bool{"success": true})
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	env := newTestEnv(t, srv.URL)
	now := time.Now()
	env.db.SetSetting(store.KeySyncEnabled, "true")
	env.db.SetSetting(store.KeyAutoSyncEnabled, "true")
	env.db.SetSetting(store.KeyServerURL, srv.URL)
	env.db.SetSetting(store.KeyUserID, testUser)
	env.tokens.StoreTokens(&TokenPair{
		AccessToken:      "acc",
		AccessExpiresAt:  now.Add(time.Hour).UnixMilli(),
		RefreshToken:     "ref",
		RefreshExpiresAt: now.Add(24 * time.Hour).UnixMilli(),
	})
	env.creds.Unlock(testPassword)

	sched := NewScheduler(env.orch, env.creds, env.tokens, env.db, quietLogger())
	sched.debounceWindow = 10 * time.Millisecond
	sched.retryInterval = 10 * time.Millisecond
	t.Cleanup(sched.Stop)
	sched.Start()

	// A manual sync blocks in flight.
	done := make(chan error, 1)
	go func() {
		done <- env.orch.PerformSync(context.Background(), Options{Direction: DirectionBoth})
	}()
	<-entered

	// The change notification cannot run while the manual sync holds the
	// flag; the scheduler must keep retrying, not drop it.
	sched.NotifyChange()
	time.Sleep(100 * time.Millisecond)

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("manual sync failed: %v", err)
	}

	// Manual sync uploaded once; the retried background sync makes two.
	if !waitFor(t, 2*time.Second, func() bool { return uploads.Load() >= 2 }) {
		t.Fatalf("expected retried background sync to land, got %d uploads", uploads.Load())
	}
}
