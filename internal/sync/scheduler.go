package sync

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/lovincyrus/goalsync/internal/store"
)

const (
	debounceWindow      = 15 * time.Second
	inFlightRetry       = 3 * time.Second
	minIntervalMins     = 5
	maxIntervalMins     = 1440
	defaultIntervalMins = 30
)

// Scheduler drives background syncs from two independent triggers: a fixed
// periodic interval and a debounced local-change signal. Background
// failures are logged, never surfaced; a sync already in flight when the
// debounce fires is retried on a short loop until it lands, so a change
// notification is never dropped.
type Scheduler struct {
	orch   *Orchestrator
	creds  *CredentialManager
	tokens *TokenStore
	db     *store.DB
	logger *log.Logger

	// Overridable in tests; default to the production windows.
	debounceWindow time.Duration
	retryInterval  time.Duration

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	debounce *time.Timer
	retry    *time.Timer
}

// NewScheduler creates a scheduler over the given engine. If logger is nil
// a default logger writing to stderr is used.
func NewScheduler(orch *Orchestrator, creds *CredentialManager, tokens *TokenStore, db *store.DB, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(os.Stderr, "[autosync] ", log.LstdFlags)
	}
	return &Scheduler{
		orch:           orch,
		creds:          creds,
		tokens:         tokens,
		db:             db,
		logger:         logger,
		debounceWindow: debounceWindow,
		retryInterval:  inFlightRetry,
	}
}

// Start arms the periodic trigger using the stored interval setting,
// clamped to [5, 1440] minutes. Calling Start while running re-arms with
// the current settings.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.stopLocked()
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	interval := s.intervalLocked()
	s.mu.Unlock()

	go s.runPeriodic(interval, stopCh)
	s.logger.Printf("periodic sync armed (every %s)", interval)
}

// Stop cancels the periodic trigger and any pending debounce or retry
// timer. No timer fires after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	s.running = false
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

// NotifyChange signals a local configuration edit. Bursts of edits within
// the debounce window collapse into a single sync.
func (s *Scheduler) NotifyChange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if s.debounce != nil {
		s.debounce.Reset(s.debounceWindow)
		return
	}
	s.debounce = time.AfterFunc(s.debounceWindow, s.debounceFired)
}

func (s *Scheduler) debounceFired() {
	s.mu.Lock()
	s.debounce = nil
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}
	s.attempt()
}

// attempt runs one background sync. If another sync is in flight it re-arms
// a short retry instead of dropping the request.
func (s *Scheduler) attempt() {
	if !s.ready() {
		return
	}
	err := s.orch.PerformSync(context.Background(), Options{Direction: DirectionBoth})
	if err == nil {
		return
	}
	if errors.Is(err, ErrSyncInProgress) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.running || s.retry != nil {
			return
		}
		s.retry = time.AfterFunc(s.retryInterval, s.retryFired)
		return
	}
	// Background syncs never interrupt the user.
	s.logger.Printf("background sync failed: %v", err)
}

func (s *Scheduler) retryFired() {
	s.mu.Lock()
	s.retry = nil
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}
	s.attempt()
}

func (s *Scheduler) runPeriodic(interval time.Duration, stopCh chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.attempt()
		}
	}
}

// ready guards every background trigger: sync enabled, configured, a usable
// refresh token, and the session key in memory.
func (s *Scheduler) ready() bool {
	enabled, err := s.db.GetSetting(store.KeySyncEnabled)
	if err != nil || enabled != "true" {
		return false
	}
	auto, err := s.db.GetSetting(store.KeyAutoSyncEnabled)
	if err != nil || auto != "true" {
		return false
	}
	serverURL, _ := s.db.GetSetting(store.KeyServerURL)
	userID, _ := s.db.GetSetting(store.KeyUserID)
	if serverURL == "" || userID == "" {
		return false
	}
	return s.tokens.HasValidRefreshToken() && s.creds.HasSessionKey()
}

func (s *Scheduler) intervalLocked() time.Duration {
	mins := defaultIntervalMins
	if raw, err := s.db.GetSetting(store.KeyAutoSyncInterval); err == nil && raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			mins = v
		}
	}
	if mins < minIntervalMins {
		mins = minIntervalMins
	}
	if mins > maxIntervalMins {
		mins = maxIntervalMins
	}
	return time.Duration(mins) * time.Minute
}
