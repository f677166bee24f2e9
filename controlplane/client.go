// Package controlplane is a typed HTTP client for the remote
// container-orchestration API that hosts tenant agent instances.
//
// Transient failures (transport errors, 5xx responses) are retried with
// exponential backoff; 4xx responses signal a caller bug or invalid state
// and propagate immediately.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	retryWaitMin       = 500 * time.Millisecond
	retryWaitMax       = 8 * time.Second
)

// Config holds connection settings for the control plane.
type Config struct {
	// BaseURL includes any API prefix, e.g. https://cp.example.com/api/v1.
	BaseURL string
	Token   string

	// Timeout bounds each individual request attempt. Zero means 30s.
	Timeout time.Duration

	// MaxAttempts is the total number of attempts per call, including the
	// first. Zero means 3.
	MaxAttempts int

	// RetryWaitMin/RetryWaitMax bound the exponential backoff between
	// attempts. Zero values use the package defaults.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	base  string
	token string
	http  *retryablehttp.Client
	log   *slog.Logger
}

// APIError is returned for any non-2xx control-plane response.
type APIError struct {
	Status   int
	Body     string
	Endpoint string
}

func (e *APIError) Error() string {
	body := e.Body
	if body == "" {
		body = http.StatusText(e.Status)
	}
	return fmt.Sprintf("control plane %s returned %d: %s", e.Endpoint, e.Status, body)
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	waitMin := cfg.RetryWaitMin
	if waitMin <= 0 {
		waitMin = retryWaitMin
	}
	waitMax := cfg.RetryWaitMax
	if waitMax <= 0 {
		waitMax = retryWaitMax
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = attempts - 1
	rc.RetryWaitMin = waitMin
	rc.RetryWaitMax = waitMax
	rc.CheckRetry = checkRetry
	rc.Backoff = retryablehttp.DefaultBackoff
	// Hand back the final 5xx response instead of a generic giving-up error
	// so callers see the real status and body.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil

	return &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		token: cfg.Token,
		http:  rc,
		log:   slog.Default().With("component", "controlplane"),
	}
}

// checkRetry retries transport failures and 5xx responses only.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// do issues one API call and decodes the JSON response into out (ignored
// when out is nil).
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request for %s: %w", path, err)
		}
		payload = b
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response from %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Status:   resp.StatusCode,
			Body:     strings.TrimSpace(string(responseBody)),
			Endpoint: path,
		}
	}

	if out == nil || len(responseBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

// Healthcheck probes the control plane itself.
func (c *Client) Healthcheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Version returns the control plane version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/version", nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}
