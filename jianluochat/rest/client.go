package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jianluochat/jianluochat-sdk-go/jianluochat"
)

// TokenStore supplies and clears the persisted bearer token. The session
// package provides a SQLite-backed implementation.
type TokenStore interface {
	Token() (string, error)
	ClearToken() error
}

// StaticToken is a TokenStore holding a fixed in-memory token. ClearToken is
// a no-op; use it for short-lived tools and tests.
type StaticToken string

func (s StaticToken) Token() (string, error) { return string(s), nil }
func (StaticToken) ClearToken() error        { return nil }

// Client provides REST API access to the JianLuoChat backend. A single
// instance is meant to be shared by all callers; every request carries the
// stored bearer token and every failure is classified into the shared error
// taxonomy.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenStore
	logger     jianluochat.Logger

	onAuthExpired    func()
	ignoreSubstrings []string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTokenStore sets the persistent token collaborator.
func WithTokenStore(ts TokenStore) Option {
	return func(c *Client) {
		if ts != nil {
			c.tokens = ts
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l jianluochat.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithAuthExpiredHook registers the side effect fired when a 401 clears the
// stored token, e.g. a redirect to the login screen. It fires exactly once
// per failing request.
func WithAuthExpiredHook(fn func()) Option {
	return func(c *Client) { c.onAuthExpired = fn }
}

// WithIgnoreURLSubstrings exempts requests whose URL contains one of the
// substrings from error-handling side effects. Telemetry endpoints go here so
// background noise cannot log the user out.
func WithIgnoreURLSubstrings(subs ...string) Option {
	return func(c *Client) { c.ignoreSubstrings = append(c.ignoreSubstrings, subs...) }
}

// NewClient creates a REST client for the given base URL,
// e.g. "http://localhost:8080/api".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokens:     StaticToken(""),
		logger:     jianluochat.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authentication endpoints

// Login authenticates with existing credentials and returns a bearer token.
// Storing the token is the caller's responsibility.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	var resp TokenResponse
	if err := c.post(ctx, "/auth/login", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates a new user account and returns a bearer token.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*TokenResponse, error) {
	var resp TokenResponse
	if err := c.post(ctx, "/auth/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout invalidates the current session server-side.
func (c *Client) Logout(ctx context.Context) error {
	return c.post(ctx, "/auth/logout", nil, nil)
}

// CurrentUser returns the authenticated user's profile.
func (c *Client) CurrentUser(ctx context.Context) (*UserInfo, error) {
	var resp UserInfo
	if err := c.get(ctx, "/users/me", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Room endpoints

// ListRooms returns the rooms visible to the authenticated user.
func (c *Client) ListRooms(ctx context.Context) ([]RoomInfo, error) {
	var resp []RoomInfo
	if err := c.get(ctx, "/rooms", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetRoom returns a single room.
func (c *Client) GetRoom(ctx context.Context, roomID string) (*RoomInfo, error) {
	var resp RoomInfo
	if err := c.get(ctx, "/rooms/"+url.PathEscape(roomID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateRoom creates a new room.
func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (*RoomInfo, error) {
	var resp RoomInfo
	if err := c.post(ctx, "/rooms", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JoinRoom adds the authenticated user to a room.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	return c.post(ctx, "/rooms/"+url.PathEscape(roomID)+"/join", nil, nil)
}

// LeaveRoom removes the authenticated user from a room.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	return c.post(ctx, "/rooms/"+url.PathEscape(roomID)+"/leave", nil, nil)
}

// GetWorldChannel returns the shared world broadcast channel.
func (c *Client) GetWorldChannel(ctx context.Context) (*RoomInfo, error) {
	var resp RoomInfo
	if err := c.get(ctx, "/rooms/world", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Message endpoints

// GetMessages retrieves message history for a room with cursor-based
// pagination. before, when non-empty, returns messages older than that
// message ID.
func (c *Client) GetMessages(ctx context.Context, roomID string, limit int, before string) ([]MessageInfo, error) {
	path := fmt.Sprintf("/rooms/%s/messages?limit=%d", url.PathEscape(roomID), limit)
	if before != "" {
		path += "&before=" + url.QueryEscape(before)
	}
	var resp []MessageInfo
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetWorldMessages retrieves recent world channel messages.
func (c *Client) GetWorldMessages(ctx context.Context, limit int) ([]MessageInfo, error) {
	var resp []MessageInfo
	if err := c.get(ctx, fmt.Sprintf("/rooms/world/messages?limit=%d", limit), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SendMessage posts a message to a room and returns the server-assigned message.
func (c *Client) SendMessage(ctx context.Context, roomID string, req SendMessageRequest) (*MessageInfo, error) {
	var resp MessageInfo
	if err := c.post(ctx, "/rooms/"+url.PathEscape(roomID)+"/messages", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Invitation endpoints

// SendInvitation invites another user to a room.
func (c *Client) SendInvitation(ctx context.Context, req InvitationRequest) (*InvitationInfo, error) {
	var resp InvitationInfo
	if err := c.post(ctx, "/invitations", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PendingInvitations returns invitations awaiting a response from the user.
func (c *Client) PendingInvitations(ctx context.Context) ([]InvitationInfo, error) {
	var resp []InvitationInfo
	if err := c.get(ctx, "/invitations/pending", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SentInvitations returns invitations the user has sent.
func (c *Client) SentInvitations(ctx context.Context) ([]InvitationInfo, error) {
	var resp []InvitationInfo
	if err := c.get(ctx, "/invitations/sent", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// AcceptInvitation accepts a pending invitation.
func (c *Client) AcceptInvitation(ctx context.Context, invitationID string) error {
	return c.post(ctx, "/invitations/"+url.PathEscape(invitationID)+"/accept", nil, nil)
}

// RejectInvitation rejects a pending invitation.
func (c *Client) RejectInvitation(ctx context.Context, invitationID string) error {
	return c.post(ctx, "/invitations/"+url.PathEscape(invitationID)+"/reject", nil, nil)
}

// RevokeInvitation withdraws an invitation the user sent.
func (c *Client) RevokeInvitation(ctx context.Context, invitationID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/invitations/"+url.PathEscape(invitationID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Helper methods

func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	return c.do(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, dest)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, jianluochat.WrapError(jianluochat.ErrorSerialization, "marshal request", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, jianluochat.WrapError(jianluochat.ErrorUnknown, "create request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// The bearer token is attached unconditionally when present; endpoints
	// that do not need it just ignore it.
	if tok, err := c.tokens.Token(); err == nil && tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	} else if err != nil {
		c.logger.Warn("token store read failed", map[string]any{"error": err.Error()})
	}
	return req, nil
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return jianluochat.WrapError(jianluochat.ErrorNetwork, "read response", err)
	}

	if resp.StatusCode >= 400 {
		return c.classifyStatus(req, resp.StatusCode, body)
	}

	if dest != nil {
		if err := json.Unmarshal(body, dest); err != nil {
			return jianluochat.WrapError(jianluochat.ErrorSerialization, "unmarshal response", err)
		}
	}
	return nil
}

// classifyStatus turns a non-2xx response into a taxonomy error. A 401 also
// clears the stored token and fires the auth-expired hook, unless the request
// URL is on the ignore list.
func (c *Client) classifyStatus(req *http.Request, status int, body []byte) error {
	if status == http.StatusUnauthorized {
		if !c.exempt(req.URL.String()) {
			if err := c.tokens.ClearToken(); err != nil {
				c.logger.Warn("failed to clear expired token", map[string]any{"error": err.Error()})
			} else {
				c.logger.Info("token expired or invalid, cleared from storage", nil)
			}
			if c.onAuthExpired != nil {
				c.onAuthExpired()
			}
		}
		return &jianluochat.ChatError{
			Code:    jianluochat.ErrorAuthExpired,
			Message: "authentication expired",
			Status:  status,
			Body:    string(body),
		}
	}

	msg := "request failed"
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		if er.Error != "" {
			msg = er.Error
		} else if er.Message != "" {
			msg = er.Message
		}
	}
	return &jianluochat.ChatError{
		Code:    jianluochat.ErrorHTTP,
		Message: msg,
		Status:  status,
		Body:    string(body),
	}
}

func classifyTransport(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return jianluochat.WrapError(jianluochat.ErrorTimeout, "request timed out", err)
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		if ue.Timeout() {
			return jianluochat.WrapError(jianluochat.ErrorTimeout, "request timed out", err)
		}
		return jianluochat.WrapError(jianluochat.ErrorNetwork, "request failed", err)
	}
	return jianluochat.WrapError(jianluochat.ErrorUnknown, "request failed", err)
}

func (c *Client) exempt(requestURL string) bool {
	for _, sub := range c.ignoreSubstrings {
		if sub != "" && strings.Contains(requestURL, sub) {
			return true
		}
	}
	return false
}
