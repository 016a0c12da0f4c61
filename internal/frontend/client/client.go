// Package client is the kinship API client used by the frontend core.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/kinship-app/kinship/internal/components/api"
	"github.com/kinship-app/kinship/internal/frontend/model"
	httpclient "github.com/kinship-app/kinship/internal/platform/http/client"
	"github.com/kinship-app/kinship/internal/platform/logutil"
)

// RemoteError is a non-2xx API response. Message is the server's
// human-readable text and may be empty.
type RemoteError struct {
	Status  int
	Reason  string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("kinship api: %d %s: %s", e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("kinship api: %d", e.Status)
}

// MessageOf returns the server message carried by err, or "" when there is none.
func MessageOf(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Message
	}
	return ""
}

// IsUnauthenticated reports whether err is a 401 from the API.
func IsUnauthenticated(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Status == http.StatusUnauthorized
}

// Client talks to one kinship server. The session token is sent as a bearer
// token; the server's cookie is kept too when the underlying client has a jar.
type Client struct {
	http httpclient.HTTPClient
	base string
	log  *slog.Logger

	mu    sync.RWMutex
	token string
}

// New creates a client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, hc httpclient.HTTPClient, log *slog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", httpclient.ErrInvalidURL, baseURL)
	}
	if hc == nil {
		return nil, errors.New("client: nil HTTP client")
	}
	return &Client{http: hc, base: strings.TrimSuffix(baseURL, "/"), log: logutil.NoopIfNil(log)}, nil
}

// SetToken replaces the session token, e.g. one loaded from disk.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login authenticates and keeps the returned token.
func (c *Client) Login(ctx context.Context, creds model.Credentials) (*model.Session, error) {
	var s model.Session
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", creds, &s); err != nil {
		return nil, err
	}
	c.SetToken(s.Token)
	return &s, nil
}

// Logout ends the session on the server and forgets the token. The token is
// dropped even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.SetToken("")
	return err
}

func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var u model.User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) GetProfile(ctx context.Context, username string) (*model.Profile, error) {
	var p model.Profile
	if err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(username), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProfile sends only the non-nil fields of upd and returns the saved profile.
func (c *Client) UpdateProfile(ctx context.Context, upd model.ProfileUpdate) (*model.Profile, error) {
	var p model.Profile
	if err := c.do(ctx, http.MethodPatch, "/api/users/me", upd, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) GetConnectionStatus(ctx context.Context, userID string) (model.StatusRecord, error) {
	var rec model.StatusRecord
	err := c.do(ctx, http.MethodGet, "/api/connections/status/"+url.PathEscape(userID), nil, &rec)
	return rec, err
}

func (c *Client) SendConnectionRequest(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "/api/connections/request/"+url.PathEscape(userID), nil, nil)
}

func (c *Client) AcceptRequest(ctx context.Context, requestID string) error {
	return c.do(ctx, http.MethodPut, "/api/connections/accept/"+url.PathEscape(requestID), nil, nil)
}

func (c *Client) RejectRequest(ctx context.Context, requestID string) error {
	return c.do(ctx, http.MethodPut, "/api/connections/reject/"+url.PathEscape(requestID), nil, nil)
}

func (c *Client) RemoveConnection(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, "/api/connections/"+url.PathEscape(userID), nil, nil)
}

// ListConnectionRequests returns the pending requests addressed to the viewer.
func (c *Client) ListConnectionRequests(ctx context.Context) ([]model.PendingRequest, error) {
	var reqs []model.PendingRequest
	if err := c.do(ctx, http.MethodGet, "/api/connections/requests", nil, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	// path is already escaped.
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := c.http.ReadBody(resp)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		re := &RemoteError{Status: resp.StatusCode}
		var env api.ErrorEnvelope
		if json.Unmarshal(data, &env) == nil {
			re.Reason = env.Error.ReasonCode
			re.Message = env.Error.Message
		}
		c.log.Debug("api error", "method", method, "path", path, "status", re.Status, "reason", re.Reason)
		return re
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}
	return nil
}
