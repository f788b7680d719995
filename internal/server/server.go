// Package server implements the sync HTTP API used by goalsync clients:
// registration, login, token refresh, and encrypted-blob upload/download.
// Records are held in memory; this server backs local development and the
// engine's integration tests, not production deployments.
package server

import (
	"crypto/rand"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 30 * 24 * time.Hour

	serverVersion = "0.1.0"
)

type user struct {
	passwordHash string
}

type syncRecord struct {
	EncryptedData string `json:"encryptedData"`
	DeviceID      string `json:"deviceId"`
	Timestamp     int64  `json:"timestamp"`
	Version       int    `json:"version"`
}

type refreshSession struct {
	userID    string
	expiresAt time.Time
}

// rateLimiter tracks attempts within a time window.
type rateLimiter struct {
	mu       sync.Mutex
	attempts []time.Time
	max      int
	window   time.Duration
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{max: max, window: window}
}

// allow returns true if the request is within the rate limit.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	valid := rl.attempts[:0]
	for _, t := range rl.attempts {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	rl.attempts = valid

	if len(rl.attempts) >= rl.max {
		return false
	}
	rl.attempts = append(rl.attempts, now)
	return true
}

// retryAfter returns the seconds until the oldest counted attempt ages out.
func (rl *rateLimiter) retryAfter() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.attempts) == 0 {
		return 1
	}
	wait := rl.attempts[0].Add(rl.window).Sub(time.Now())
	secs := int(wait.Seconds()) + 1
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Server holds accounts, refresh sessions and sync records in memory.
type Server struct {
	mu       sync.Mutex
	users    map[string]user
	records  map[string]syncRecord
	sessions map[string]refreshSession

	secret    []byte
	now       func() time.Time
	authLimit *rateLimiter
	logger    *log.Logger
}

// New creates a server with a random JWT signing secret.
func New(logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stderr, "[syncd] ", log.LstdFlags)
	}
	secret := make([]byte, 32)
	rand.Read(secret)
	return &Server{
		users:     map[string]user{},
		records:   map[string]syncRecord{},
		sessions:  map[string]refreshSession{},
		secret:    secret,
		now:       func() time.Time { return time.Now() },
		authLimit: newRateLimiter(10, time.Minute),
		logger:    logger,
	}
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /sync", s.handleUpload)
	mux.HandleFunc("GET /sync/{userId}", s.handleDownload)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

type claims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

func (s *Server) signAccessToken(userID string, expiresAt time.Time) (string, error) {
	c := claims{
		UID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

func (s *Server) parseAccessToken(token string) (string, bool) {
	t, err := jwt.ParseWithClaims(token, &claims{}, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return "", false
	}
	if c, ok := t.Claims.(*claims); ok && t.Valid {
		return c.UID, true
	}
	return "", false
}
