package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TokenPair is the token set issued by the server on login, register and
// refresh. Expiries are unix milliseconds.
type TokenPair struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	AccessExpiresAt  int64  `json:"accessExpiresAt"`
	RefreshExpiresAt int64  `json:"refreshExpiresAt"`
}

// HealthInfo is the server's health endpoint response.
type HealthInfo struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Client wraps the server's HTTP endpoints. It holds no per-account state;
// the server URL and credentials are passed per call.
type Client struct {
	http *http.Client
}

// NewClient creates an API client. If httpClient is nil a default with a
// 30-second timeout is used.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{http: httpClient}
}

type authResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Tokens  *TokenPair `json:"tokens"`
}

// Register creates an account. The password hash, never the raw password,
// crosses the wire.
func (c *Client) Register(ctx context.Context, serverURL, userID, passwordHash string) error {
	resp, err := c.post(ctx, serverURL, "/auth/register", "", map[string]string{
		"userId":       userID,
		"passwordHash": passwordHash,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		var se *Error
		if errors.As(err, &se) && se.Kind == KindServer {
			return &Error{Kind: KindServer, Code: "REGISTRATION_FAILED",
				Message: "registration rejected by server", Err: err}
		}
		return err
	}
	return nil
}

// Login authenticates and returns the issued token pair.
func (c *Client) Login(ctx context.Context, serverURL, userID, passwordHash string) (*TokenPair, error) {
	resp, err := c.post(ctx, serverURL, "/auth/login", "", map[string]string{
		"userId":       userID,
		"passwordHash": passwordHash,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	var body authResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &Error{Kind: KindParse, Code: "INVALID_SERVER_RESPONSE",
			Message: "malformed login response", Err: err}
	}
	if body.Tokens == nil {
		return nil, ErrInvalidServerResponse
	}
	return body.Tokens, nil
}

// Refresh exchanges a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, serverURL, refreshToken string) (*TokenPair, error) {
	resp, err := c.post(ctx, serverURL, "/auth/refresh", refreshToken, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	var body authResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &Error{Kind: KindParse, Code: "INVALID_SERVER_RESPONSE",
			Message: "malformed refresh response", Err: err}
	}
	if body.Tokens == nil {
		return nil, ErrInvalidServerResponse
	}
	return body.Tokens, nil
}

// Upload stores the encrypted record for userID.
func (c *Client) Upload(ctx context.Context, serverURL, accessToken, userID string, rec Record) error {
	resp, err := c.post(ctx, serverURL, "/sync", accessToken, map[string]any{
		"encryptedData": rec.EncryptedData,
		"deviceId":      rec.DeviceID,
		"timestamp":     rec.Timestamp,
		"version":       rec.Version,
		"userId":        userID,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkStatus(resp)
}

// Download fetches the stored record for userID. A 404 means nothing has
// been uploaded yet and returns (nil, nil).
func (c *Client) Download(ctx context.Context, serverURL, accessToken, userID string) (*Record, error) {
	req, err := c.newRequest(ctx, http.MethodGet, serverURL, "/sync/"+userID, accessToken, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var body struct {
		Data *Record `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &Error{Kind: KindParse, Code: "INVALID_SERVER_RESPONSE",
			Message: "malformed sync record", Err: err}
	}
	if body.Data == nil {
		return nil, ErrInvalidServerResponse
	}
	return body.Data, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context, serverURL string) (*HealthInfo, error) {
	req, err := c.newRequest(ctx, http.MethodGet, serverURL, "/health", "", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	var info HealthInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, &Error{Kind: KindParse, Code: "INVALID_SERVER_RESPONSE",
			Message: "malformed health response", Err: err}
	}
	return &info, nil
}

func (c *Client) post(ctx context.Context, serverURL, path, bearer string, body any) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodPost, serverURL, path, bearer, body)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) newRequest(ctx context.Context, method, serverURL, path, bearer string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		bodyReader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(serverURL, "/")+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Code: "NETWORK_ERROR",
			Message: "request failed", Err: err}
	}
	return resp, nil
}

// checkStatus maps a non-2xx response to a structured error. The error body
// is `{error?, message?, retryAfter?}`; 429 honors Retry-After from the
// header or body.
func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var body struct {
		Error      string `json:"error"`
		Message    string `json:"message"`
		RetryAfter int    `json:"retryAfter"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	json.Unmarshal(raw, &body)

	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := body.RetryAfter
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				retryAfter = secs
			}
		}
		return &Error{Kind: KindRateLimit, Code: "RATE_LIMITED", Message: msg, RetryAfter: retryAfter}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &Error{Kind: KindAuth, Code: "UNAUTHORIZED", Message: msg}
	case resp.StatusCode >= 500:
		return &Error{Kind: KindServer, Code: "SERVER_ERROR", Message: msg}
	default:
		return &Error{Kind: KindServer, Code: "REQUEST_REJECTED", Message: msg}
	}
}
