package sync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind is the error taxonomy used for user-facing recovery guidance.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindNetwork    Kind = "network"
	KindRateLimit  Kind = "rate_limit"
	KindInProgress Kind = "in_progress"
	KindCrypto     Kind = "crypto"
	KindParse      Kind = "parse"
	KindServer     Kind = "server"
)

// Error is the structured error type used throughout the engine. Kind drives
// classification, Code is a stable machine-readable identifier, and
// RetryAfter carries the server-provided wait (seconds) for rate limits.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	RetryAfter int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches by code so sentinel comparisons via errors.Is work even after
// wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrSyncInProgress = &Error{Kind: KindInProgress, Code: "SYNC_IN_PROGRESS",
		Message: "a sync is already running"}
	ErrSessionExpired = &Error{Kind: KindAuth, Code: "SESSION_EXPIRED",
		Message: "session expired, please log in again"}
	ErrEncryptionKeyRequired = &Error{Kind: KindCrypto, Code: "ENCRYPTION_KEY_REQUIRED",
		Message: "encryption key not available, unlock with your password"}
	ErrNotConfigured = &Error{Kind: KindAuth, Code: "SYNC_NOT_CONFIGURED",
		Message: "sync is not enabled or not configured"}
	ErrInvalidServerResponse = &Error{Kind: KindParse, Code: "INVALID_SERVER_RESPONSE",
		Message: "server returned an unexpected response"}
	ErrInvalidResolution = &Error{Kind: KindServer, Code: "INVALID_RESOLUTION",
		Message: "resolution must be 'local' or 'remote'"}
	ErrNoConflict = &Error{Kind: KindServer, Code: "NO_PENDING_CONFLICT",
		Message: "no conflict to resolve"}
)

// Classification is the user-facing rendering of a failure.
type Classification struct {
	Category          Kind
	UserMessage       string
	PrimaryAction     string
	RetryAfterSeconds int
}

// ErrorState is the structured metadata the orchestrator records on failure
// for the caller to render.
type ErrorState struct {
	Category          Kind
	UserMessage       string
	PrimaryAction     string
	RetryAfterSeconds int
	LastAttemptAt     time.Time
}

var guidance = map[Kind]struct {
	message string
	action  string
}{
	KindAuth:       {"Your session has expired or sync is not set up.", "Log in again"},
	KindNetwork:    {"Could not reach the sync server.", "Retry sync"},
	KindRateLimit:  {"The server is asking us to slow down.", "Wait and retry"},
	KindInProgress: {"A sync is already running.", "Wait for it to finish"},
	KindCrypto:     {"Your data could not be encrypted or decrypted.", "Unlock with your password"},
	KindParse:      {"The server sent an unexpected response.", "Retry, or check server health"},
	KindServer:     {"The sync server reported an error.", "Retry later"},
}

// Classify maps any error into the taxonomy. Structured *Error values map by
// Kind; everything else is matched on message patterns, defaulting to server.
func Classify(err error) Classification {
	kind := KindServer
	retryAfter := 0

	var se *Error
	if errors.As(err, &se) {
		kind = se.Kind
		retryAfter = se.RetryAfter
	} else if isNetworkError(err) {
		kind = KindNetwork
	}

	g := guidance[kind]
	return Classification{
		Category:          kind,
		UserMessage:       g.message,
		PrimaryAction:     g.action,
		RetryAfterSeconds: retryAfter,
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, pattern := range []string{"connection refused", "no such host", "network is unreachable", "connection reset"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
