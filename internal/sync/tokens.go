package sync

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/lovincyrus/goalsync/internal/store"
)

// expirySkew absorbs clock drift and request latency: a token within the
// skew of its expiry is treated as already expired.
const expirySkew = 60 * time.Second

// TokenStore manages the persisted access/refresh token pair. It never
// caches: every read goes through the storage collaborator, so there is no
// in-memory state to drift.
type TokenStore struct {
	db     *store.DB
	client *Client
	now    func() time.Time

	mu sync.Mutex // serializes refresh attempts
}

// NewTokenStore creates a token store over the given database and client.
func NewTokenStore(db *store.DB, client *Client) *TokenStore {
	return &TokenStore{
		db:     db,
		client: client,
		now:    func() time.Time { return time.Now() },
	}
}

// StoreTokens persists a token pair.
func (t *TokenStore) StoreTokens(p *TokenPair) error {
	for key, value := range map[string]string{
		store.KeyAccessToken:   p.AccessToken,
		store.KeyAccessExpiry:  strconv.FormatInt(p.AccessExpiresAt, 10),
		store.KeyRefreshToken:  p.RefreshToken,
		store.KeyRefreshExpiry: strconv.FormatInt(p.RefreshExpiresAt, 10),
	} {
		if err := t.db.SetSetting(key, value); err != nil {
			return err
		}
	}
	return nil
}

// ClearTokens removes all stored tokens. Idempotent.
func (t *TokenStore) ClearTokens() error {
	for _, key := range []string{
		store.KeyAccessToken, store.KeyAccessExpiry,
		store.KeyRefreshToken, store.KeyRefreshExpiry,
	} {
		if err := t.db.DeleteSetting(key); err != nil {
			return err
		}
	}
	return nil
}

// HasValidRefreshToken reports whether a non-expired refresh token is
// stored. A valid refresh token is the precondition for any background
// operation.
func (t *TokenStore) HasValidRefreshToken() bool {
	token, expiry := t.readToken(store.KeyRefreshToken, store.KeyRefreshExpiry)
	return token != "" && t.isValid(expiry)
}

// AccessToken returns a valid access token, transparently refreshing it
// when expired. A failed refresh clears all tokens and returns
// ErrSessionExpired: the caller must re-authenticate.
func (t *TokenStore) AccessToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	token, expiry := t.readToken(store.KeyAccessToken, store.KeyAccessExpiry)
	if token != "" && t.isValid(expiry) {
		return token, nil
	}

	refresh, refreshExpiry := t.readToken(store.KeyRefreshToken, store.KeyRefreshExpiry)
	if refresh == "" || !t.isValid(refreshExpiry) {
		if err := t.ClearTokens(); err != nil {
			return "", err
		}
		return "", ErrSessionExpired
	}

	serverURL, err := t.db.GetSetting(store.KeyServerURL)
	if err != nil || serverURL == "" {
		return "", ErrNotConfigured
	}

	pair, err := t.client.Refresh(ctx, serverURL, refresh)
	if err != nil {
		if clearErr := t.ClearTokens(); clearErr != nil {
			return "", clearErr
		}
		return "", &Error{Kind: KindAuth, Code: "SESSION_EXPIRED",
			Message: "session expired, please log in again", Err: err}
	}
	if err := t.StoreTokens(pair); err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

func (t *TokenStore) readToken(tokenKey, expiryKey string) (string, int64) {
	token, err := t.db.GetSetting(tokenKey)
	if err != nil {
		return "", 0
	}
	raw, err := t.db.GetSetting(expiryKey)
	if err != nil {
		return "", 0
	}
	expiry, _ := strconv.ParseInt(raw, 10, 64)
	return token, expiry
}

// isValid reports whether an expiry (unix milliseconds) is still usable
// after subtracting the skew window.
func (t *TokenStore) isValid(expiryMillis int64) bool {
	if expiryMillis == 0 {
		return false
	}
	return t.now().Before(time.UnixMilli(expiryMillis).Add(-expirySkew))
}
