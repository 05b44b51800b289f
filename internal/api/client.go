// Package api is the authenticated HTTP client for the kotoba backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TokenSource supplies the bearer credential. An empty token means the
// user is signed out.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource for a fixed token.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// Options configures a Client.
type Options struct {
	BaseURL string

	// Timeout bounds each non-streaming request. Streams are bounded only
	// by their context. Default: 15s.
	Timeout time.Duration

	HTTPClient *http.Client
	Tokens     TokenSource
	Logger     *zap.Logger
}

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	tokens  TokenSource
	logger  *zap.Logger
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api: invalid base URL %q", opts.BaseURL)
	}
	c := &Client{
		baseURL: base,
		timeout: opts.Timeout,
		http:    opts.HTTPClient,
		tokens:  opts.Tokens,
		logger:  opts.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = 15 * time.Second
	}
	if c.http == nil {
		// No client-level timeout: it would cut streams short.
		c.http = &http.Client{}
	}
	if c.tokens == nil {
		c.tokens = StaticToken("")
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// BaseURL returns the backend root the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// HasCredential reports whether protected calls can be attempted.
func (c *Client) HasCredential() bool { return c.tokens.Token() != "" }

// request describes one call.
type request struct {
	method string
	path   string
	query  url.Values
	body   any
	auth   bool
	accept string
}

// open performs the request and returns the response with a 2xx status.
// Protected calls without a credential fail with ErrNoCredential before
// any network attempt.
func (c *Client) open(ctx context.Context, r request) (*http.Response, error) {
	var token string
	if r.auth {
		token = c.tokens.Token()
		if token == "" {
			return nil, ErrNoCredential
		}
	}

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", r.method, r.path, err)
		}
		body = bytes.NewReader(b)
	}

	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, err
	}
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.accept != "" {
		req.Header.Set("Accept", r.accept)
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	c.logger.Debug("api request",
		zap.String("method", r.method),
		zap.String("path", r.path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{
			Method:     r.method,
			Path:       r.path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
		}
	}
	return resp, nil
}

// do performs a bounded request and decodes the enveloped response into out
// when out is non-nil.
func (c *Client) do(ctx context.Context, r request, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.open(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", r.method, r.path, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(unwrapData(raw), out); err != nil {
		return fmt.Errorf("decode %s %s: %w", r.method, r.path, err)
	}
	return nil
}

// unwrapData returns the "data" member of a {"data": ...} envelope, or the
// payload itself when it is not enveloped.
func unwrapData(raw []byte) []byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return []byte("null")
	}
	if raw[0] != '{' {
		return raw
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return raw
	}
	if data, ok := env["data"]; ok && !isNull(data) {
		return data
	}
	return raw
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// errorMessage extracts a human-readable message from an error body.
func errorMessage(raw []byte) string {
	var body struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
		Detail  string          `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		var s string
		if json.Unmarshal(body.Error, &s) == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		if body.Detail != "" {
			return body.Detail
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// IsUnauthorized reports whether err is a 401 from the backend or a missing
// credential; either way the user has to sign in again.
func IsUnauthorized(err error) bool {
	if errors.Is(err, ErrNoCredential) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}
