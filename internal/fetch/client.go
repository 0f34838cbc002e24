package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/testgate/testgate/internal/safety"
)

const (
	defaultRetryCount   = 3
	defaultMaxBodyBytes = 8 << 20
	errorBodyLimit      = 4096
)

// HTTPError represents a non-2xx HTTP response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}

// Client performs JSON-over-HTTP requests with retry logic and bounded
// response reads.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string

	// RetryCount bounds attempts per request. Zero means 3.
	RetryCount int
	// MaxBodyBytes caps how much of a response body is read. Zero means 8 MiB.
	MaxBodyBytes int64

	// backoffFunc returns the wait before the given retry attempt. Tests
	// replace it to avoid real sleeps.
	backoffFunc func(attempt int) time.Duration
}

// NewClient creates a fetch client with the given per-request timeout.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient:  safety.NewHTTPClient(timeout),
		logger:      logger,
		userAgent:   "testgate/1.0",
		backoffFunc: calculateBackoffDelay,
	}
}

// Get fetches the URL and returns the response body.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url, nil)
}

// GetJSON fetches the URL and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out interface{}) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", url, err)
	}
	return nil
}

// PostJSON posts the payload as JSON and decodes the response into out. A
// nil out discards the response body.
func (c *Client) PostJSON(ctx context.Context, url string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request payload: %w", err)
	}
	respBody, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", url, err)
	}
	return nil
}

// do runs the request with retries. Context errors and non-429 4xx
// responses stop the retry loop immediately.
func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	if _, err := safety.ValidateHTTPURL(url); err != nil {
		return nil, err
	}

	retries := c.RetryCount
	if retries <= 0 {
		retries = defaultRetryCount
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
		default:
		}

		respBody, err := c.attempt(ctx, method, url, body)
		if err == nil {
			return respBody, nil
		}

		lastErr = err
		c.logger.Warn("request attempt failed",
			"method", method, "url", url, "attempt", attempt, "error", err)

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if shouldNotRetry(err) {
			return nil, err
		}

		if attempt < retries {
			delay := c.backoffFunc(attempt)
			c.logger.Debug("retrying request", "url", url, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("request cancelled during retry: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", retries, lastErr)
}

// attempt performs a single request.
func (c *Client) attempt(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := safety.ReadAllWithLimit(resp.Body, errorBodyLimit)
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(errBody),
		}
	}

	limit := c.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	data, err := safety.ReadAllWithLimit(resp.Body, limit)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return data, nil
}

// calculateBackoffDelay calculates exponential backoff with jitter.
// Base delay is 1s, doubles each attempt, plus random jitter up to half the delay.
func calculateBackoffDelay(attempt int) time.Duration {
	baseDelay := time.Second
	exponentialDelay := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
	maxJitter := exponentialDelay / 2
	jitter := time.Duration(rand.Int63n(int64(maxJitter)))
	return exponentialDelay + jitter
}

// shouldNotRetry returns true if the error should not trigger a retry.
func shouldNotRetry(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		// Don't retry on 4xx errors except 429 (Too Many Requests)
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != 429 {
			return true
		}
	}
	return false
}
