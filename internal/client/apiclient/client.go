// Package apiclient is a typed HTTP client for the auth API. It reads the
// bearer token from a session.Store and keeps the store in step with the
// server's answers.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/isdelr/gatekeeper-be/internal/client/session"
	"github.com/isdelr/gatekeeper-be/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

// ErrUnauthenticated is returned when the server rejects the stored token.
var ErrUnauthenticated = errors.New("unauthenticated")

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
	// RetryAfter is set on 429 responses.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// Is lets errors.Is match ErrUnauthenticated against a 401.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthenticated && e.Status == http.StatusUnauthorized
}

// TokenResponse is the body of register, login and refresh.
type TokenResponse struct {
	Message     string      `json:"message,omitempty"`
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        models.User `json:"user"`
	ExpiresIn   int64       `json:"expires_in"`
}

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// Client talks to the auth API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      *session.Store
	retries    uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetries sets how often idempotent requests are retried on transport
// errors and gateway failures.
func WithRetries(n uint64) Option {
	return func(c *Client) { c.retries = n }
}

// New creates a Client for baseURL, e.g. "http://localhost:8080/api".
func New(baseURL string, store *session.Store, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		store:      store,
		retries:    2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the session store the client reads its token from.
func (c *Client) Store() *session.Store {
	return c.store
}

// Register creates an account and stores the returned session.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (TokenResponse, error) {
	var resp TokenResponse
	if err := c.do(ctx, http.MethodPost, "/register", req, &resp, false); err != nil {
		return TokenResponse{}, err
	}
	if err := c.store.Login(resp.User, resp.AccessToken); err != nil {
		return TokenResponse{}, err
	}
	return resp, nil
}

// Login authenticates and stores the returned session.
func (c *Client) Login(ctx context.Context, email, password string) (TokenResponse, error) {
	body := map[string]string{"email": email, "password": password}

	var resp TokenResponse
	if err := c.do(ctx, http.MethodPost, "/login", body, &resp, false); err != nil {
		return TokenResponse{}, err
	}
	if err := c.store.Login(resp.User, resp.AccessToken); err != nil {
		return TokenResponse{}, err
	}
	return resp, nil
}

// Logout revokes the token on the server. The local session is cleared even
// when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	var serverErr error
	if c.store.IsAuthenticated() {
		serverErr = c.do(ctx, http.MethodPost, "/logout", nil, nil, false)
		if serverErr != nil && errors.Is(serverErr, ErrUnauthenticated) {
			serverErr = nil
		}
	}
	return errors.Join(serverErr, c.store.Logout())
}

// Me returns the current user.
func (c *Client) Me(ctx context.Context) (models.User, error) {
	if !c.store.IsAuthenticated() {
		return models.User{}, ErrUnauthenticated
	}
	var user models.User
	if err := c.do(ctx, http.MethodGet, "/me", nil, &user, true); err != nil {
		return models.User{}, err
	}
	return user, nil
}

// Refresh swaps the stored token for a new one.
func (c *Client) Refresh(ctx context.Context) (TokenResponse, error) {
	if !c.store.IsAuthenticated() {
		return TokenResponse{}, ErrUnauthenticated
	}
	var resp TokenResponse
	if err := c.do(ctx, http.MethodPost, "/refresh", nil, &resp, false); err != nil {
		return TokenResponse{}, err
	}
	if err := c.store.Login(resp.User, resp.AccessToken); err != nil {
		return TokenResponse{}, err
	}
	return resp, nil
}

// Users lists all registered users.
func (c *Client) Users(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := c.do(ctx, http.MethodGet, "/users", nil, &users, true); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, idempotent bool) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	attempt := func(ctx context.Context) error {
		err := c.send(ctx, method, path, payload, out)
		if idempotent && isTransient(err) {
			log.Debug().Err(err).Str("path", path).Msg("Retrying request")
			return retry.RetryableError(err)
		}
		return err
	}

	if !idempotent || c.retries == 0 {
		return attempt(ctx)
	}
	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(100*time.Millisecond))
	return retry.Do(ctx, backoff, attempt)
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.store.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transportError{err: fmt.Errorf("%s %s: %w", method, path, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, apiErr)
	}
	if secs := resp.Header.Get("Retry-After"); secs != "" {
		if d, err := time.ParseDuration(secs + "s"); err == nil {
			apiErr.RetryAfter = d
		}
	}

	// The server no longer accepts the stored token.
	if resp.StatusCode == http.StatusUnauthorized && c.store.IsAuthenticated() {
		if err := c.store.Logout(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear rejected session")
		}
	}
	return apiErr
}

// transportError marks failures that happened before a response arrived.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var tErr *transportError
	if !errors.As(err, &tErr) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
