// Package upstream is the shared fasthttp JSON transport used by the
// explorer, price, DEX and explore clients.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/tzwallet/service/metrics"
	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("upstream resource not found")

// StatusError is returned for any other non-200 response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Options configures a Client.
type Options struct {
	// Service labels metrics and logs (e.g. "tzkt").
	Service string
	BaseURL string
	Timeout time.Duration

	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64

	// MaxAttempts bounds retries on 429 responses. Defaults to 3.
	MaxAttempts int
	// Backoff is the first retry delay, doubled on each attempt. Defaults to 1s.
	Backoff time.Duration
}

// Client issues GET requests and decodes JSON responses.
type Client struct {
	http        *fasthttp.Client
	service     string
	baseURL     string
	timeout     time.Duration
	limiter     *rate.Limiter
	maxAttempts int
	backoff     time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates a Client. If metrics is nil, no metrics will be recorded.
func New(opts Options, m *metrics.Metrics, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		http: &fasthttp.Client{
			Name:                "tzwallet",
			MaxIdleConnDuration: time.Minute,
		},
		service:     opts.Service,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		metrics:     m,
		logger:      logger.With("service", opts.Service),
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetJSON requests baseURL+path and decodes the body into v. method labels
// the call in metrics.
func (c *Client) GetJSON(ctx context.Context, method, path string, v any) error {
	url := c.baseURL + path

	var lastErr error
	for attempt := range c.maxAttempts {
		if attempt > 0 {
			delay := c.backoff << uint(attempt-1)
			c.logger.WarnContext(ctx, "rate limited, sleeping before retry",
				"url", url,
				"attempt", attempt+1,
				"backoff_seconds", delay.Seconds(),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		body, status, err := c.do(ctx, method, url)
		if err != nil {
			return err
		}

		switch {
		case status == fasthttp.StatusOK:
			if err := json.Unmarshal(body, v); err != nil {
				return fmt.Errorf("failed to decode response from %s: %w", url, err)
			}
			return nil
		case status == fasthttp.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, url)
		case status == fasthttp.StatusTooManyRequests:
			lastErr = &StatusError{URL: url, StatusCode: status, Body: truncate(body)}
			continue
		default:
			return &StatusError{URL: url, StatusCode: status, Body: truncate(body)}
		}
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, method, url string) ([]byte, int, error) {
	if c.limiter != nil {
		waitStart := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("rate limiter: %w", err)
		}
		c.metrics.RecordRateLimitWait(c.service, metrics.Since(waitStart))
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	c.logger.DebugContext(ctx, "upstream request", "url", url)

	start := time.Now()
	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.http.DoDeadline(req, resp, deadline)
	} else {
		err = c.http.DoTimeout(req, resp, c.timeout)
	}
	duration := metrics.Since(start)

	if err != nil {
		c.metrics.RecordAPICall(c.service, method, "error", duration)
		c.logger.ErrorContext(ctx, "upstream request failed", "url", url, "error", err)
		return nil, 0, fmt.Errorf("failed to execute request to %s: %w", url, err)
	}

	status := resp.StatusCode()
	c.metrics.RecordAPICall(c.service, method, fmt.Sprintf("%d", status), duration)

	// resp is released on return, so the body must be copied.
	body := append([]byte(nil), resp.Body()...)
	return body, status, nil
}

func truncate(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
