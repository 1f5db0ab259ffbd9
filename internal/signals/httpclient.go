package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Default HTTP client settings.
const (
	DefaultHTTPTimeout = 5 * time.Second
	DefaultMaxRetries  = 2
	DefaultRetryDelay  = 200 * time.Millisecond
	DefaultMaxDelay    = 2 * time.Second
	DefaultBackoffMult = 2.0
)

// httpGetter performs JSON GET requests with retries and exponential backoff.
type httpGetter struct {
	client      *http.Client
	userAgent   string
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures HTTP-backed sources.
type ClientOption func(*httpGetter)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(g *httpGetter) {
		g.client = c
	}
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) ClientOption {
	return func(g *httpGetter) {
		g.maxRetries = n
	}
}

// WithRetryDelay sets the initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(g *httpGetter) {
		g.retryDelay = d
	}
}

func newHTTPGetter(opts ...ClientOption) *httpGetter {
	g := &httpGetter{
		client:      &http.Client{Timeout: DefaultHTTPTimeout},
		userAgent:   "agent-engine/1.0",
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// getJSON fetches url into out. 404 maps to ErrUnavailable and is not retried.
func (g *httpGetter) getJSON(ctx context.Context, url string, out any) error {
	delay := g.retryDelay
	var lastErr error

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * g.backoffMult)
			if delay > g.maxDelay {
				delay = g.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", g.userAgent)

		resp, err := g.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return ErrUnavailable
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
			continue
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
