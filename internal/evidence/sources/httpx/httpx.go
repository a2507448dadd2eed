package httpx

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
	"unicode/utf8"

	"verity/internal/evidence/sources"
)

const (
	maxBodyBytes   = 1 << 20
	maxSnippetSize = 200
)

// Client performs JSON calls against one upstream and classifies failures
// into the source error taxonomy.
type Client struct {
	source  string
	baseURL string
	http    *http.Client
	headers http.Header
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithHeader sets a header on every request. Empty values are skipped.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if value != "" {
			c.headers.Set(key, value)
		}
	}
}

// New creates a client for source rooted at baseURL.
func New(source, baseURL string, opts ...Option) *Client {
	c := &Client{
		source:  source,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		headers: http.Header{"Accept": []string{"application/json"}},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJSON issues GET baseURL+path?query and decodes a 2xx body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return sources.NewPermanent(sources.ErrorInternal, c.source, "build request", err)
	}
	return c.do(req, out)
}

// PostJSON issues POST baseURL+path with a JSON body and decodes a 2xx body
// into out.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return sources.NewPermanent(sources.ErrorInternal, c.source, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return sources.NewPermanent(sources.ErrorInternal, c.source, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	for k, v := range c.headers {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return c.transportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ClassifyStatus(c.source, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return sources.NewPermanent(sources.ErrorBadData, c.source, "malformed response body", err)
	}
	return nil
}

func (c *Client) transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return sources.NewTransient(sources.ErrorTimeout, c.source, "request timed out", err)
	}
	return sources.NewTransient(sources.ErrorConnection, c.source, "connection failed", err)
}

// ClassifyStatus maps a non-2xx HTTP status onto the source error taxonomy.
func ClassifyStatus(source string, status int, body []byte) *sources.SourceError {
	msg := fmt.Sprintf("upstream returned %d", status)
	if snippet := strings.TrimSpace(string(body)); snippet != "" {
		msg += ": " + truncate(snippet, maxSnippetSize)
	}

	switch {
	case status == http.StatusNotFound:
		return sources.NewPermanent(sources.ErrorNotFound, source, "record not found", nil)
	case status == http.StatusTooManyRequests:
		return sources.NewTransient(sources.ErrorRateLimited, source, msg, nil)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return sources.NewTransient(sources.ErrorTimeout, source, msg, nil)
	case status >= 500:
		return sources.NewTransient(sources.ErrorProviderOutage, source, msg, nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return sources.NewPermanent(sources.ErrorAuthentication, source, msg, nil)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return sources.NewPermanent(sources.ErrorInvalidInput, source, msg, nil)
	default:
		return sources.NewPermanent(sources.ErrorContractMismatch, source, msg, nil)
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
