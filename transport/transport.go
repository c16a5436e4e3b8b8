// Package transport sends HTTP requests to LLM providers with a bounded
// retry policy.
//
// Non-success statuses and connection failures are retried following a
// fixed backoff schedule. Cancellation of the caller's context is never
// retried: it is returned as soon as it is observed.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultSchedule is the delay before each retry, indexed by retry number.
// Retries beyond its length reuse the last value.
var DefaultSchedule = []time.Duration{
	1 * time.Second,
	3 * time.Second,
	5 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

// maxErrorBody caps how much of a failed response body is kept.
const maxErrorBody = 64 << 10

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestFunc builds a fresh request for each attempt, so that request
// bodies can be replayed.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Client is a retrying HTTP sender.
type Client struct {
	httpClient Doer
	schedule   []time.Duration
	sleep      SleepFunc
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.httpClient = d
		}
	}
}

// WithSchedule replaces the backoff schedule.
func WithSchedule(schedule ...time.Duration) Option {
	return func(c *Client) {
		if len(schedule) > 0 {
			c.schedule = schedule
		}
	}
}

// WithSleep replaces the function used to wait between attempts.
func WithSleep(fn SleepFunc) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// WithLogger sets the logger used to report retries.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client. Without options it uses http.DefaultClient and
// DefaultSchedule.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		schedule:   DefaultSchedule,
		sleep:      sleepContext,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backoff returns the delay before the given retry (zero-based).
func (c *Client) Backoff(retry int) time.Duration {
	if len(c.schedule) == 0 {
		return 0
	}
	if retry < 0 {
		retry = 0
	}
	if retry >= len(c.schedule) {
		retry = len(c.schedule) - 1
	}
	return c.schedule[retry]
}

// Send issues the request built by build, trying at most maxAttempts
// times. On success the caller owns the response body, which may be read
// as a stream; nothing read from it is ever retried.
//
// When every attempt fails, Send returns a *Error describing the last
// failure. Context cancellation is returned unchanged and immediately.
func (c *Client) Send(ctx context.Context, build RequestFunc, maxAttempts int) (*http.Response, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr *Error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if attempt > 1 {
			delay := c.Backoff(attempt - 2)
			c.logger.WarnContext(ctx, "retrying request",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", maxAttempts),
				slog.Int("last_status", lastErr.StatusCode),
				slog.Duration("delay", delay),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if IsCancellation(err) || ctx.Err() != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, err
			}
			lastErr = &Error{Attempts: attempt, Err: err}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		lastErr = &Error{
			StatusCode: resp.StatusCode,
			Body:       body,
			Attempts:   attempt,
		}
	}

	return nil, lastErr
}

// IsCancellation reports whether err stems from a cancelled or expired
// context.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
