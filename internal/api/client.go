// Package api implements the authenticated JSON transport shared by every
// migrator: retry with backoff, rate pacing, offset pagination, batch POST
// with recursive splitting, and presigned-URL blob transfer.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/config"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/telemetry"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/ui"
)

// DefaultBaseURL is the hosted platform endpoint used when no base URL is
// configured.
const DefaultBaseURL = "https://api.smith.langchain.com"

const patchTimeout = 15 * time.Second

// Client provides HTTP access to one LangSmith instance. Safe for concurrent
// use; all mutable state is the pacing clock behind its own mutex.
type Client struct {
	BaseURL    string
	APIKey     string
	Side       string // "source" or "destination", for logs and metrics
	HTTPClient *http.Client

	MaxRetries int
	RateDelay  time.Duration

	Logger  *ui.Logger
	Metrics *telemetry.ClientMetrics

	paceMu   sync.Mutex
	lastSent time.Time
}

// NormalizeBaseURL trims trailing slashes and appends /api/v1 when the URL
// does not already carry an API version segment.
func NormalizeBaseURL(raw string) string {
	if raw == "" {
		raw = DefaultBaseURL
	}
	raw = strings.TrimSuffix(raw, "/")
	if !strings.Contains(raw, "/api/v1") {
		raw += "/api/v1"
	}
	return raw
}

// NewClient creates a client for one side of the migration.
func NewClient(conn config.Connection, side string, logger *ui.Logger, metrics *telemetry.ClientMetrics) *Client {
	transport := http.DefaultTransport
	if !conn.VerifyTLS {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	maxRetries := conn.MaxRetries
	if maxRetries <= 0 {
		maxRetries = config.DefaultMaxRetries
	}
	return &Client{
		BaseURL: NormalizeBaseURL(conn.BaseURL),
		APIKey:  conn.APIKey,
		Side:    side,
		HTTPClient: &http.Client{
			Timeout:   conn.Timeout(),
			Transport: transport,
		},
		MaxRetries: maxRetries,
		Logger:     logger,
		Metrics:    metrics,
	}
}

// TestConnection probes the instance with a one-item dataset listing.
func (c *Client) TestConnection(ctx context.Context) error {
	q := url.Values{"limit": {"1"}}
	if _, err := c.Get(ctx, "/datasets", q); err != nil {
		return fmt.Errorf("connection test (%s): %w", c.Side, err)
	}
	return nil
}

// Get issues a GET and returns the raw response body.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

// GetJSON issues a GET and decodes the response into v.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, v interface{}) error {
	body, err := c.Get(ctx, path, query)
	if err != nil {
		return err
	}
	return c.decode(http.MethodGet, path, body, v)
}

// Post issues a POST with a JSON body and returns the raw response body.
func (c *Client) Post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, nil, body)
}

// PostJSON issues a POST and decodes the response into v.
func (c *Client) PostJSON(ctx context.Context, path string, payload, v interface{}) error {
	body, err := c.Post(ctx, path, payload)
	if err != nil {
		return err
	}
	return c.decode(http.MethodPost, path, body, v)
}

// Patch issues a PATCH with a single attempt and a 15-second timeout. The
// server treats idempotent overwrites as expensive, so no retries.
func (c *Client) Patch(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", path, err)
	}
	ctx, cancel := context.WithTimeout(ctx, patchTimeout)
	defer cancel()
	c.pace()
	return c.attempt(ctx, http.MethodPatch, path, nil, body)
}

// do runs one request with retry. RateLimited, ServerError, and Network
// failures are retried with exponential backoff; everything else returns
// immediately.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	bo := newRequestBackoff()
	attempts := 0
	for {
		c.pace()
		resp, err := c.attempt(ctx, method, path, query, body)
		if err == nil {
			return resp, nil
		}
		apiErr := AsError(err)
		if apiErr == nil || !apiErr.Retryable() {
			return nil, err
		}
		attempts++
		if attempts > c.MaxRetries {
			return nil, fmt.Errorf("giving up after %d retries: %w", c.MaxRetries, err)
		}
		wait := nextWait(bo, apiErr.RetryAfter)
		if wait == backoff.Stop {
			return nil, fmt.Errorf("retry budget exhausted: %w", err)
		}
		c.Metrics.Retry(ctx, method, c.Side)
		c.Logger.Debugf("[%s] retrying %s %s in %v (%v)", c.Side, method, path, wait, apiErr.Kind)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// attempt performs exactly one request round trip.
func (c *Client) attempt(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Method: method, Path: path, Detail: err.Error()}
	}
	req.Header.Set("X-API-Key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	c.Logger.Debugf("[%s] %s %s", c.Side, method, u)
	c.Metrics.Request(ctx, method, c.Side)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.Metrics.Error(ctx, method, c.Side, 0)
		return nil, &Error{Kind: KindNetwork, Method: method, Path: path, Detail: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.Metrics.Error(ctx, method, c.Side, resp.StatusCode)
		return nil, &Error{Kind: KindNetwork, Method: method, Path: path, Detail: "read body: " + err.Error()}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	c.Metrics.Error(ctx, method, c.Side, resp.StatusCode)
	apiErr := &Error{
		Kind:       classifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Method:     method,
		Path:       path,
		Detail:     errorDetail(data),
	}
	if apiErr.Kind == KindRateLimited {
		apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return nil, apiErr
}

// decode unmarshals a 2xx body, tagging malformed JSON as a protocol error.
func (c *Client) decode(method, path string, body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &Error{Kind: KindProtocol, Method: method, Path: path, Detail: "malformed JSON response: " + err.Error()}
	}
	return nil
}

// pace enforces the minimum inter-request delay.
func (c *Client) pace() {
	if c.RateDelay <= 0 {
		return
	}
	c.paceMu.Lock()
	wait := c.RateDelay - time.Since(c.lastSent)
	if wait > 0 {
		time.Sleep(wait)
	}
	c.lastSent = time.Now()
	c.paceMu.Unlock()
}

// errorDetail pulls the server's detail field out of an error body, falling
// back to the raw text.
func errorDetail(body []byte) string {
	var payload struct {
		Detail interface{} `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != nil {
		switch d := payload.Detail.(type) {
		case string:
			return d
		default:
			if b, err := json.Marshal(d); err == nil {
				return string(b)
			}
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 500 {
		s = s[:500]
	}
	return s
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
