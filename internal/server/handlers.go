package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg, "message": msg})
}

type tokensPayload struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	AccessExpiresAt  int64  `json:"accessExpiresAt"`
	RefreshExpiresAt int64  `json:"refreshExpiresAt"`
}

// issueTokens mints a JWT access token and an opaque refresh token for
// userID. Caller must hold s.mu.
func (s *Server) issueTokens(userID string) (*tokensPayload, error) {
	accessExpiry := s.now().Add(accessTokenTTL)
	refreshExpiry := s.now().Add(refreshTokenTTL)

	access, err := s.signAccessToken(userID, accessExpiry)
	if err != nil {
		return nil, err
	}
	refresh := uuid.NewString()
	s.sessions[refresh] = refreshSession{userID: userID, expiresAt: refreshExpiry}

	return &tokensPayload{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExpiry.UnixMilli(),
		RefreshExpiresAt: refreshExpiry.UnixMilli(),
	}, nil
}

func (s *Server) rateLimited(w http.ResponseWriter) bool {
	if s.authLimit.allow() {
		return false
	}
	retryAfter := s.authLimit.retryAfter()
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":      "rate limited",
		"message":    "too many authentication attempts",
		"retryAfter": retryAfter,
	})
	return true
}

// POST /auth/register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if s.rateLimited(w) {
		return
	}

	var req struct {
		UserID       string `json:"userId"`
		PasswordHash string `json:"passwordHash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.PasswordHash == "" {
		writeError(w, http.StatusBadRequest, "userId and passwordHash required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[req.UserID]; exists {
		writeError(w, http.StatusConflict, "user already exists")
		return
	}
	s.users[req.UserID] = user{passwordHash: req.PasswordHash}
	s.logger.Printf("registered %s", req.UserID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// POST /auth/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.rateLimited(w) {
		return
	}

	var req struct {
		UserID       string `json:"userId"`
		PasswordHash string `json:"passwordHash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.PasswordHash == "" {
		writeError(w, http.StatusBadRequest, "userId and passwordHash required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.users[req.UserID]
	if !exists || u.passwordHash != req.PasswordHash {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	tokens, err := s.issueTokens(req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tokens": tokens})
}

// POST /auth/refresh with Authorization: Bearer <refreshToken>
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	refresh, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[refresh]
	if !exists || s.now().After(sess.expiresAt) {
		delete(s.sessions, refresh)
		writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}

	// Refresh tokens rotate: the old one dies with the exchange.
	delete(s.sessions, refresh)
	tokens, err := s.issueTokens(sess.userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tokens": tokens})
}

// POST /sync with Authorization: Bearer <accessToken>
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid access token")
		return
	}

	var req struct {
		EncryptedData string `json:"encryptedData"`
		DeviceID      string `json:"deviceId"`
		Timestamp     int64  `json:"timestamp"`
		Version       int    `json:"version"`
		UserID        string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EncryptedData == "" || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "encryptedData and deviceId required")
		return
	}
	if req.UserID != uid {
		writeError(w, http.StatusForbidden, "userId does not match token")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[uid] = syncRecord{
		EncryptedData: req.EncryptedData,
		DeviceID:      req.DeviceID,
		Timestamp:     req.Timestamp,
		Version:       req.Version,
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// GET /sync/{userId}
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid access token")
		return
	}
	if r.PathValue("userId") != uid {
		writeError(w, http.StatusForbidden, "userId does not match token")
		return
	}

	s.mu.Lock()
	rec, exists := s.records[uid]
	s.mu.Unlock()

	if !exists {
		writeError(w, http.StatusNotFound, "no sync data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rec})
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": serverVersion})
}

func (s *Server) authenticate(r *http.Request) (string, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return "", false
	}
	return s.parseAccessToken(token)
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	return token, token != ""
}
