package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPChecker probes a URL with GET and treats 2xx and 3xx as healthy.
type HTTPChecker struct {
	url       string
	userAgent string
	client    *http.Client
}

// HTTPOption configures an HTTPChecker.
type HTTPOption func(*HTTPChecker)

// WithUserAgent sets the User-Agent header sent with every probe.
func WithUserAgent(ua string) HTTPOption {
	return func(c *HTTPChecker) {
		c.userAgent = ua
	}
}

// WithHTTPClient replaces the probe client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPChecker) {
		if client != nil {
			c.client = client
		}
	}
}

// NewHTTPChecker creates a checker for url.
func NewHTTPChecker(url string, timeout time.Duration, opts ...HTTPOption) *HTTPChecker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &HTTPChecker{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check performs an HTTP health check.
func (c *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return failed(start, "failed to create request", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return failed(start, "HTTP request failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	result := Result{
		Message:   fmt.Sprintf("HTTP %d", resp.StatusCode),
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		result.Healthy = true
	} else {
		result.Error = fmt.Sprintf("unhealthy status code: %d", resp.StatusCode)
	}
	return result
}

// Type returns the checker type.
func (c *HTTPChecker) Type() string {
	return "http"
}
