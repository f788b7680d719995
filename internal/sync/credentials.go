package sync

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/lovincyrus/goalsync/internal/crypto"
	"github.com/lovincyrus/goalsync/internal/store"
)

const minPasswordLen = 8

// CredentialManager owns the session master key and the account lifecycle:
// register, login, unlock, logout. The key is single-writer (only these
// operations set it) and multi-reader.
type CredentialManager struct {
	db     *store.DB
	client *Client
	tokens *TokenStore
	logger *log.Logger

	mu        sync.RWMutex
	masterKey []byte
}

// NewCredentialManager creates a credential manager. If logger is nil a
// default logger writing to stderr is used.
func NewCredentialManager(db *store.DB, client *Client, tokens *TokenStore, logger *log.Logger) *CredentialManager {
	if logger == nil {
		logger = log.New(os.Stderr, "[creds] ", log.LstdFlags)
	}
	return &CredentialManager{db: db, client: client, tokens: tokens, logger: logger}
}

// Register creates an account on the server and derives the session key.
func (c *CredentialManager) Register(ctx context.Context, serverURL, userID, password string) error {
	if len(password) < minPasswordLen {
		return &Error{Kind: KindAuth, Code: "PASSWORD_TOO_SHORT",
			Message: fmt.Sprintf("password must be at least %d characters", minPasswordLen)}
	}

	hash := crypto.HashPassword(password, userID)
	if err := c.client.Register(ctx, serverURL, userID, hash); err != nil {
		return err
	}

	if err := c.configure(serverURL, userID); err != nil {
		return err
	}
	c.setMasterKey(crypto.DeriveMasterKey(password))
	c.logger.Printf("registered %s", userID)
	return c.persistKeyIfRemembered()
}

// Login authenticates against the server, stores the issued tokens and
// derives the session key. The response must include a refresh token;
// without one no background operation is possible.
func (c *CredentialManager) Login(ctx context.Context, serverURL, userID, password string) error {
	hash := crypto.HashPassword(password, userID)
	pair, err := c.client.Login(ctx, serverURL, userID, hash)
	if err != nil {
		return err
	}
	if pair.RefreshToken == "" {
		return ErrInvalidServerResponse
	}

	if err := c.configure(serverURL, userID); err != nil {
		return err
	}
	if err := c.tokens.StoreTokens(pair); err != nil {
		return err
	}
	c.setMasterKey(crypto.DeriveMasterKey(password))
	c.logger.Printf("logged in %s", userID)
	return c.persistKeyIfRemembered()
}

// Unlock re-derives the session key from the password without touching the
// server. Used when tokens are still valid but the key was lost with the
// process.
func (c *CredentialManager) Unlock(password string) error {
	c.setMasterKey(crypto.DeriveMasterKey(password))
	return c.persistKeyIfRemembered()
}

// Logout clears tokens, the session key, and any remembered key material.
func (c *CredentialManager) Logout() error {
	if err := c.tokens.ClearTokens(); err != nil {
		return err
	}
	if err := c.db.DeleteSetting(store.KeyRememberedKey); err != nil {
		return err
	}
	c.clearMasterKey()
	c.logger.Printf("logged out")
	return nil
}

// MasterKey returns a copy of the session key, or nil if absent.
func (c *CredentialManager) MasterKey() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.masterKey == nil {
		return nil
	}
	cp := make([]byte, len(c.masterKey))
	copy(cp, c.masterKey)
	return cp
}

// HasSessionKey reports whether a session key is held.
func (c *CredentialManager) HasSessionKey() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.masterKey != nil
}

// SetRememberKey toggles persisting the master key at rest. Persisting is
// an explicit risk tradeoff: the key sits base64-encoded in local storage
// so sync can run without a password prompt after restart.
func (c *CredentialManager) SetRememberKey(remember bool) error {
	if !remember {
		if err := c.db.DeleteSetting(store.KeyRememberedKey); err != nil {
			return err
		}
		return c.db.SetSetting(store.KeyRememberKey, "false")
	}
	if err := c.db.SetSetting(store.KeyRememberKey, "true"); err != nil {
		return err
	}
	return c.persistKeyIfRemembered()
}

// RestoreRememberedKey loads a persisted master key on startup, if the user
// opted in. Returns true if a key was restored.
func (c *CredentialManager) RestoreRememberedKey() (bool, error) {
	encoded, err := c.db.GetSetting(store.KeyRememberedKey)
	if err != nil {
		return false, err
	}
	if encoded == "" {
		return false, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// Unreadable remembered key is dropped, not fatal.
		c.db.DeleteSetting(store.KeyRememberedKey)
		return false, nil
	}
	c.setMasterKey(key)
	return true, nil
}

// configure persists the server URL and user id. Switching either relative
// to the stored values clears existing tokens, preventing cross-account
// token reuse.
func (c *CredentialManager) configure(serverURL, userID string) error {
	prevURL, err := c.db.GetSetting(store.KeyServerURL)
	if err != nil {
		return err
	}
	prevUser, err := c.db.GetSetting(store.KeyUserID)
	if err != nil {
		return err
	}
	if (prevURL != "" && prevURL != serverURL) || (prevUser != "" && prevUser != userID) {
		if err := c.tokens.ClearTokens(); err != nil {
			return err
		}
	}
	if err := c.db.SetSetting(store.KeyServerURL, serverURL); err != nil {
		return err
	}
	return c.db.SetSetting(store.KeyUserID, userID)
}

func (c *CredentialManager) persistKeyIfRemembered() error {
	remember, err := c.db.GetSetting(store.KeyRememberKey)
	if err != nil {
		return err
	}
	if remember != "true" {
		return nil
	}
	key := c.MasterKey()
	if key == nil {
		return nil
	}
	return c.db.SetSetting(store.KeyRememberedKey, base64.StdEncoding.EncodeToString(key))
}

func (c *CredentialManager) setMasterKey(key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zeroKey()
	c.masterKey = make([]byte, len(key))
	copy(c.masterKey, key)
}

func (c *CredentialManager) clearMasterKey() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zeroKey()
}

func (c *CredentialManager) zeroKey() {
	for i := range c.masterKey {
		c.masterKey[i] = 0
	}
	c.masterKey = nil
}
