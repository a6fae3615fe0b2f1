// Package api is the HTTP client for the heritage platform REST backend.
// It owns request timeouts, bearer authentication, error classification,
// and detection of session expiry; it never mutates session state itself.
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

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/heritage-client/internal/event"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 4 << 20

// Request describes a single call against the backend.
type Request struct {
	Method string
	Path   string
	Query  url.Values

	// JSON is marshaled as the request body when non-nil.
	JSON any

	// Form is sent form-encoded when non-nil; it takes precedence over JSON.
	Form url.Values

	// Token is the bearer credential; empty sends no Authorization header.
	Token string

	// NoExpirySignal suppresses the SessionExpired broadcast on 401. It is
	// set only for the token endpoint, where 401 means bad credentials.
	NoExpirySignal bool
}

func (r Request) op() string {
	return r.Method + " " + r.Path
}

// Client is a thin HTTP client for the platform REST API. It handles
// Bearer token authentication, JSON and form encoding, per-request
// timeouts, and broadcasting session expiry on 401.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	bus        *event.Bus
	logger     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger sets the client's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a new API client. The baseURL should be the root of
// the versioned API (e.g., http://localhost:8000/api/v1). Every request is
// bounded by timeout. 401 responses are broadcast on bus.
func NewClient(baseURL string, timeout time.Duration, bus *event.Bus, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    timeout,
		bus:        bus,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs an authenticated GET and unmarshals the JSON response.
func (c *Client) Get(ctx context.Context, path, token string, query url.Values, result any) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query, Token: token}, result)
}

// Post performs an HTTP POST with a JSON body and unmarshals the JSON
// response.
func (c *Client) Post(ctx context.Context, path, token string, body, result any) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, JSON: body, Token: token}, result)
}

// Put performs an HTTP PUT with a JSON body and unmarshals the JSON
// response.
func (c *Client) Put(ctx context.Context, path, token string, body, result any) error {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, JSON: body, Token: token}, result)
}

// Do is the core HTTP method that builds the request, applies the
// timeout, classifies failures, and decodes the JSON response into result
// (which may be nil).
func (c *Client) Do(ctx context.Context, r Request, result any) error {
	op := r.op()

	body, contentType, err := encodeBody(r)
	if err != nil {
		return &Error{Kind: KindValidation, Op: op, Message: "could not encode request", Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, r.Method, c.url(r), body)
	if err != nil {
		return NewError(KindUnknown, op, fmt.Errorf("creating request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return c.transportError(ctx, op, fmt.Errorf("reading response body: %w", err))
	}

	c.logger.Debug("api request",
		zap.String("method", r.Method),
		zap.String("path", r.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(r, resp.StatusCode, respBody)
	}

	// No content to parse (e.g. 204).
	if result == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return &Error{
			Kind:    KindServer,
			Status:  resp.StatusCode,
			Op:      op,
			Message: "The server returned an unexpected response.",
			Err:     fmt.Errorf("unmarshaling response: %w", err),
		}
	}

	return nil
}

func (c *Client) url(r Request) string {
	u := c.baseURL + r.Path
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}
	return u
}

func encodeBody(r Request) (io.Reader, string, error) {
	if r.Form != nil {
		return strings.NewReader(r.Form.Encode()), "application/x-www-form-urlencoded", nil
	}
	if r.JSON != nil {
		data, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("marshaling request body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
	return nil, "", nil
}

// transportError classifies a failure that produced no HTTP status.
// Caller cancellation is passed through so fallback chains stop.
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return &Error{Kind: KindUnknown, Op: op, Message: "Request cancelled.", Err: ctx.Err()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, op, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(KindTimeout, op, err)
	}
	return NewError(KindNetwork, op, err)
}

// statusError maps a non-2xx response to a typed Error. A 401 outside the
// token endpoint is broadcast as SessionExpired.
func (c *Client) statusError(r Request, status int, body []byte) error {
	op := r.op()
	e := &Error{Status: status, Op: op}

	switch {
	case status == http.StatusUnauthorized && r.NoExpirySignal:
		e.Kind = KindInvalidCredentials
	case status == http.StatusUnauthorized:
		e.Kind = KindSessionExpired
		c.logger.Info("session expired", zap.String("op", op))
		if c.bus != nil {
			c.bus.PublishSessionExpired(r.Token, "401 on "+op)
		}
	case status == http.StatusForbidden:
		e.Kind = KindForbidden
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case status >= 500:
		e.Kind = KindServer
	default:
		e.Kind = KindBadRequest
	}

	// Expiry and server failures always use the generic wording.
	if e.Kind != KindSessionExpired && e.Kind != KindServer {
		e.Message = extractMessage(body)
	}
	if e.Message == "" {
		e.Message = GenericMessage(e.Kind)
	}
	return e
}
