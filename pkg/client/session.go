// Package client is the app side of the auth protocol. It stores the token
// pair, attaches the access token to requests and silently refreshes it once
// when the server answers 401.
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
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	accessTokenKey  = "edulite.accessToken"
	refreshTokenKey = "edulite.refreshToken"
)

var (
	ErrNoSession     = errors.New("no stored session")
	ErrRefreshFailed = errors.New("token refresh failed")
)

type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	Language   string    `json:"language"`
	AvatarURL  *string   `json:"avatarUrl"`
	IsVerified bool      `json:"isVerified"`
	CreatedAt  time.Time `json:"createdAt"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Language string `json:"language"`
}

// APIError is a non-2xx answer from the auth server.
type APIError struct {
	StatusCode int
	Message    string
	Fields     map[string]string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("auth api: %d %s", e.StatusCode, e.Message)
}

type tokenResponse struct {
	Message      string `json:"message"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         *User  `json:"user"`
}

type Client struct {
	baseURL string
	http    *http.Client
	store   SecretStore
	logger  *slog.Logger
	refresh singleflight.Group
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func New(baseURL string, store SecretStore, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		store:   store,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends req with the stored access token. On 401 it refreshes the token
// pair at most once and retries req once. If the refresh is rejected the
// stored tokens are cleared and the original 401 response is returned.
// Requests with a body that cannot be replayed are never retried.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	used, err := c.secret(ctx, accessTokenKey)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(req, used)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if !replayable(req) {
		return resp, nil
	}
	if refresh, err := c.secret(ctx, refreshTokenKey); err != nil || refresh == "" {
		return resp, nil
	}

	if err := c.refreshTokens(ctx, used); err != nil {
		c.logger.DebugContext(ctx, "silent refresh failed", "error", err)
		return resp, nil
	}

	retry, err := cloneForRetry(req)
	if err != nil {
		return resp, nil
	}
	current, err := c.secret(ctx, accessTokenKey)
	if err != nil {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return c.send(retry, current)
}

func (c *Client) Register(ctx context.Context, in RegisterRequest) (*User, error) {
	var out struct {
		User *User `json:"user"`
	}
	if err := c.postJSON(ctx, "/auth/register", in, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// Login authenticates and stores the returned token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	var out tokenResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.postJSON(ctx, "/auth/login", body, &out); err != nil {
		return nil, err
	}
	if err := c.storePair(ctx, out.AccessToken, out.RefreshToken); err != nil {
		return nil, err
	}
	return out.User, nil
}

// Logout revokes the refresh token on the server. Local tokens are cleared
// even when the server cannot be reached.
func (c *Client) Logout(ctx context.Context) error {
	refresh, err := c.secret(ctx, refreshTokenKey)
	if err != nil {
		return err
	}

	var callErr error
	if refresh != "" {
		callErr = c.postJSON(ctx, "/auth/logout", map[string]string{"refreshToken": refresh}, nil)
	}
	if err := c.clear(ctx); err != nil {
		return err
	}
	return callErr
}

// Session returns the signed in user, or nil when there is no valid session.
func (c *Client) Session(ctx context.Context) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/session", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, nil
	}
	var out struct {
		User            *User `json:"user"`
		IsAuthenticated bool  `json:"isAuthenticated"`
	}
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	if !out.IsAuthenticated {
		return nil, nil
	}
	return out.User, nil
}

// refreshTokens exchanges the stored refresh token for a new pair. Concurrent
// callers share one request. used is the access token the caller was refused
// with; if it has already been replaced there is nothing to do.
func (c *Client) refreshTokens(ctx context.Context, used string) error {
	_, err, _ := c.refresh.Do("refresh", func() (any, error) {
		// The shared call must not die with whichever caller started it.
		ctx := context.WithoutCancel(ctx)

		current, err := c.secret(ctx, accessTokenKey)
		if err != nil {
			return nil, err
		}
		if current != "" && current != used {
			return nil, nil
		}

		refresh, err := c.secret(ctx, refreshTokenKey)
		if err != nil {
			return nil, err
		}
		if refresh == "" {
			return nil, ErrNoSession
		}

		var out tokenResponse
		if err := c.postJSON(ctx, "/auth/refresh", map[string]string{"refreshToken": refresh}, &out); err != nil {
			if clearErr := c.clear(ctx); clearErr != nil {
				c.logger.WarnContext(ctx, "clear stored tokens", "error", clearErr)
			}
			return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		}
		return nil, c.storePair(ctx, out.AccessToken, out.RefreshToken)
	})
	return err
}

func (c *Client) send(req *http.Request, access string) (*http.Response, error) {
	out := req.Clone(req.Context())
	if access != "" {
		out.Header.Set("Authorization", "Bearer "+access)
	}
	return c.http.Do(out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		var body struct {
			Error  string            `json:"error"`
			Fields map[string]string `json:"fields"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return &APIError{StatusCode: resp.StatusCode, Message: body.Error, Fields: body.Fields}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", resp.Request.URL.Path, err)
	}
	return nil
}

func (c *Client) secret(ctx context.Context, key string) (string, error) {
	v, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrSecretNotFound) {
		return "", nil
	}
	return v, err
}

func (c *Client) storePair(ctx context.Context, access, refresh string) error {
	if err := c.store.Set(ctx, accessTokenKey, access); err != nil {
		return err
	}
	return c.store.Set(ctx, refreshTokenKey, refresh)
}

func (c *Client) clear(ctx context.Context) error {
	return errors.Join(
		c.store.Remove(ctx, accessTokenKey),
		c.store.Remove(ctx, refreshTokenKey),
	)
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func cloneForRetry(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	return retry, nil
}
