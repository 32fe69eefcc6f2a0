package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxErrorBody caps how much of a failed response is kept on StatusError.
const maxErrorBody = 4096

// RetryConfig holds configuration for retry behavior.
type RetryConfig struct {
	// MaxRetries is the number of extra attempts after the first one
	MaxRetries int
	// BaseDelay is the initial delay before first retry
	BaseDelay time.Duration
	// MaxDelay caps the backoff
	MaxDelay time.Duration
	// Timeout bounds each individual request
	Timeout time.Duration
}

// DefaultRetryConfig is used for upstream launcher calls: a single attempt
// bounded by a 15s timeout. The next scheduled cycle is the retry.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 0,
		BaseDelay:  1 * time.Second,
		MaxDelay:   4 * time.Second,
		Timeout:    15 * time.Second,
	}
}

// RetryableHTTPClient wraps an HTTP client with optional retry on 5xx/429
// and JSON helpers for the launcher APIs.
type RetryableHTTPClient struct {
	client    *http.Client
	config    RetryConfig
	delayFunc func(context.Context, time.Duration) error
	headers   map[string]string
}

// NewRetryableHTTPClient creates a client with DefaultRetryConfig.
func NewRetryableHTTPClient() *RetryableHTTPClient {
	return NewRetryableHTTPClientWithConfig(DefaultRetryConfig())
}

// NewRetryableHTTPClientWithConfig creates a client with a custom retry configuration.
func NewRetryableHTTPClientWithConfig(config RetryConfig) *RetryableHTTPClient {
	return &RetryableHTTPClient{
		client:    &http.Client{Timeout: config.Timeout},
		config:    config,
		delayFunc: sleepContext,
		headers:   map[string]string{"Accept": "application/json"},
	}
}

// SetHTTPClient sets a custom underlying HTTP client (useful for testing).
func (c *RetryableHTTPClient) SetHTTPClient(client *http.Client) {
	c.client = client
}

// SetDelayFunc overrides the backoff sleep (useful for testing).
func (c *RetryableHTTPClient) SetDelayFunc(fn func(context.Context, time.Duration) error) {
	c.delayFunc = fn
}

// SetHeader adds a header sent with every request.
func (c *RetryableHTTPClient) SetHeader(key, value string) {
	c.headers[key] = value
}

// Config returns the current retry configuration.
func (c *RetryableHTTPClient) Config() RetryConfig {
	return c.config
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DoWithContext executes req, retrying network errors and 5xx/429 answers
// up to MaxRetries times with exponential backoff. Request bodies are
// replayed through req.GetBody.
func (c *RetryableHTTPClient) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	for k, v := range c.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt > 0 {
			if err := c.delayFunc(ctx, c.calculateDelay(attempt)); err != nil {
				return nil, err
			}
		}

		reqCopy := req.Clone(ctx)
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			reqCopy.Body = body
		}

		resp, err := c.client.Do(reqCopy)
		if err != nil {
			lastErr = err
			continue
		}

		if attempt < c.config.MaxRetries && shouldRetry(resp.StatusCode) {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: status %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// calculateDelay returns baseDelay * 2^(attempt-1), capped at MaxDelay.
func (c *RetryableHTTPClient) calculateDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := c.config.BaseDelay * time.Duration(1<<(attempt-1))
	if delay > c.config.MaxDelay {
		delay = c.config.MaxDelay
	}
	return delay
}

// shouldRetry reports whether a status code is worth another attempt.
func shouldRetry(statusCode int) bool {
	return statusCode >= 500 || statusCode == http.StatusTooManyRequests
}

// GetJSON fetches url and decodes a 2xx JSON body into v.
func (c *RetryableHTTPClient) GetJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return c.doJSON(ctx, req, v)
}

// PostJSON posts body (JSON-encoded unless nil) and decodes a 2xx JSON answer into v.
func (c *RetryableHTTPClient) PostJSON(ctx context.Context, url string, body, v any) error {
	req, err := c.newPost(ctx, url, body)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, req, v)
}

// PostForBytes posts a JSON body and returns the raw 2xx response body.
func (c *RetryableHTTPClient) PostForBytes(ctx context.Context, url string, body any) ([]byte, error) {
	req, err := c.newPost(ctx, url, body)
	if err != nil {
		return nil, err
	}
	return c.read(ctx, req)
}

func (c *RetryableHTTPClient) newPost(ctx context.Context, url string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *RetryableHTTPClient) doJSON(ctx context.Context, req *http.Request, v any) error {
	data, err := c.read(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrParse, req.URL, err)
	}
	return nil
}

func (c *RetryableHTTPClient) read(ctx context.Context, req *http.Request) ([]byte, error) {
	resp, err := c.DoWithContext(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{URL: req.URL.String(), StatusCode: resp.StatusCode, Body: string(body)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrFetch, req.URL, err)
	}
	return data, nil
}
