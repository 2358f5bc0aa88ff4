package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is a stateless HTTP client for the hosted auth (/auth/v1) and table
// (/rest/v1) endpoints. Callers pass access tokens explicitly; Auth keeps
// the session.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

// NewClient creates a new backend client
func NewClient(baseURL, anonKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetHTTPClient sets a custom HTTP client
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

type credentials struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

// signUpResponse is a session when confirmations are disabled, otherwise
// the bare user object
type signUpResponse struct {
	Session
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

// SignUp creates an account. extra is stored as user metadata.
func (c *Client) SignUp(ctx context.Context, email, password string, extra map[string]any) (*SignUpResult, error) {
	var resp signUpResponse
	if err := c.authCall(ctx, http.MethodPost, "/auth/v1/signup", "", credentials{Email: email, Password: password, Data: extra}, &resp); err != nil {
		return nil, err
	}

	if resp.AccessToken != "" {
		sess := resp.Session
		sess.normalize(time.Now())
		return &SignUpResult{User: sess.User, Session: &sess}, nil
	}

	return &SignUpResult{User: User{
		ID:               resp.ID,
		Email:            resp.Email,
		EmailConfirmedAt: resp.EmailConfirmedAt,
		CreatedAt:        resp.CreatedAt,
		UserMetadata:     resp.UserMetadata,
	}}, nil
}

// SignInWithPassword exchanges credentials for a session
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var sess Session
	if err := c.authCall(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", credentials{Email: email, Password: password}, &sess); err != nil {
		return nil, err
	}
	sess.normalize(time.Now())
	return &sess, nil
}

// RefreshSession exchanges a refresh token for a new session
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	body := map[string]string{"refresh_token": refreshToken}

	var sess Session
	if err := c.authCall(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "", body, &sess); err != nil {
		return nil, err
	}
	sess.normalize(time.Now())
	return &sess, nil
}

// SignOut revokes the session's refresh tokens
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.authCall(ctx, http.MethodPost, "/auth/v1/logout", accessToken, nil, nil)
}

// ResetPasswordForEmail sends a recovery email that links back to redirectTo
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	path := "/auth/v1/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	return c.authCall(ctx, http.MethodPost, path, "", map[string]string{"email": email}, nil)
}

// UpdateUser changes the signed-in user's password
func (c *Client) UpdateUser(ctx context.Context, accessToken, password string) (*User, error) {
	var user User
	if err := c.authCall(ctx, http.MethodPut, "/auth/v1/user", accessToken, map[string]string{"password": password}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUser returns the user the access token belongs to
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var user User
	if err := c.authCall(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetProfileByID loads one profile row by primary key. A missing row is
// not an error: it returns nil, nil.
func (c *Client) GetProfileByID(ctx context.Context, accessToken, userID string) (*ProfileRow, error) {
	path := fmt.Sprintf("/rest/v1/profiles?id=eq.%s&select=*", url.QueryEscape(userID))

	var rows []ProfileRow
	if err := c.tableCall(ctx, http.MethodGet, path, accessToken, nil, &rows); err != nil {
		return nil, err
	}

	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return &rows[0], nil
	default:
		return nil, &RequestError{Code: "PGRST116", Message: fmt.Sprintf("expected at most one profile row for %s, got %d", userID, len(rows))}
	}
}

// UpdateProfile applies a partial update to the user's profile row
func (c *Client) UpdateProfile(ctx context.Context, accessToken, userID string, fields map[string]any) error {
	if _, ok := fields["is_admin"]; ok {
		return ErrAdminFieldRejected
	}
	if _, ok := fields["role"]; ok {
		return ErrAdminFieldRejected
	}

	path := fmt.Sprintf("/rest/v1/profiles?id=eq.%s", url.QueryEscape(userID))
	return c.tableCall(ctx, http.MethodPatch, path, accessToken, fields, nil)
}

func (c *Client) authCall(ctx context.Context, method, path, accessToken string, body, out any) error {
	status, data, err := c.do(ctx, method, path, accessToken, body)
	if err != nil {
		return networkError(err)
	}
	if status < 200 || status >= 300 {
		code, msg := parseErrorBody(status, data)
		return &AuthError{Status: status, Code: code, Message: msg}
	}
	return decodeInto(data, out)
}

func (c *Client) tableCall(ctx context.Context, method, path, accessToken string, body, out any) error {
	status, data, err := c.do(ctx, method, path, accessToken, body)
	if err != nil {
		return &RequestError{Code: CodeNetworkFailure, Message: fmt.Sprintf("network request failed: %v", err)}
	}
	if status < 200 || status >= 300 {
		code, msg := parseErrorBody(status, data)
		return &RequestError{Status: status, Code: code, Message: msg}
	}
	return decodeInto(data, out)
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	bearer := accessToken
	if bearer == "" {
		bearer = c.anonKey
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if method == http.MethodPatch {
		req.Header.Set("Prefer", "return=minimal")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func decodeInto(data []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
