// Package api is the HTTP client for the vox backend.
package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/room4-2/vox/apperr"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 32 << 20
)

// TokenSource supplies the bearer credential for requests.
type TokenSource interface {
	Token() string
}

// Client talks to the backend's REST endpoints.
type Client struct {
	baseURL       string
	http          *http.Client
	tokens        TokenSource
	onAuthExpired func()
	log           zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request ceiling.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithTokenSource attaches bearer credentials to every request.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithAuthExpiredHook is called when an authenticated request is rejected
// with 401.
func WithAuthExpiredHook(fn func()) Option {
	return func(c *Client) { c.onAuthExpired = fn }
}

// WithLogger sets the client's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "api").Logger()
	return c
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Authenticated reports whether a bearer credential is available.
func (c *Client) Authenticated() bool {
	return c.token() != ""
}

func (c *Client) token() string {
	if c.tokens == nil {
		return ""
	}
	return c.tokens.Token()
}

// doJSON sends body as JSON and decodes the response into out.
func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := sonic.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.KindInvalid, op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalid, op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, op, out)
}

func (c *Client) send(req *http.Request, op string, out any) error {
	req.Header.Set("Accept", "application/json")
	token := c.token()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("op", op).Msg("Request failed without response")
		return &apperr.Error{Kind: apperr.KindNetwork, Op: op, Message: "network unreachable, check your connection", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return apperr.Wrap(apperr.KindNetwork, op, err)
	}
	c.log.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Request completed")

	switch {
	case resp.StatusCode == http.StatusUnauthorized && token != "":
		if c.onAuthExpired != nil {
			c.onAuthExpired()
		}
		return &apperr.Error{
			Kind:    apperr.KindAuthExpired,
			Op:      op,
			Status:  resp.StatusCode,
			Message: serverMessage(payload, "session expired, please sign in again"),
		}
	case resp.StatusCode == http.StatusUnauthorized:
		return &apperr.Error{
			Kind:    apperr.KindUnauthenticated,
			Op:      op,
			Status:  resp.StatusCode,
			Message: serverMessage(payload, "not signed in"),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return apperr.Server(op, resp.StatusCode, serverMessage(payload, http.StatusText(resp.StatusCode)))
	}

	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(payload, out); err != nil {
		return &apperr.Error{Kind: apperr.KindProtocol, Op: op, Message: "malformed response body", Err: err}
	}
	return nil
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
}

// serverMessage extracts the human-readable failure from an error payload.
func serverMessage(payload []byte, fallback string) string {
	var body errorBody
	if len(payload) > 0 && sonic.Unmarshal(payload, &body) == nil {
		for _, m := range []string{body.Message, body.Error, body.Detail} {
			if m != "" {
				return m
			}
		}
	}
	return fallback
}
