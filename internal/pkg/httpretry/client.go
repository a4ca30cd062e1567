// Package httpretry retries outbound HTTP calls on transient failures with
// jittered exponential backoff. It is used for calls where a duplicate
// delivery is acceptable to the receiver, such as signed org webhooks.
package httpretry

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/campaign-delivery/internal/pkg/logger"
)

// HTTPDoer executes a request. *http.Client and *RetryClient both satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient wraps an HTTPDoer and retries 429, 5xx gateway-style statuses
// and transport errors.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	base       time.Duration
	max        time.Duration
	log        *logger.Logger
}

// Option customises a RetryClient.
type Option func(*RetryClient)

// WithBackoff sets the first retry delay and the ceiling. The ceiling also
// caps any Retry-After the server asks for.
func WithBackoff(base, max time.Duration) Option {
	return func(rc *RetryClient) { rc.base, rc.max = base, max }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *logger.Logger) Option {
	return func(rc *RetryClient) { rc.log = l }
}

// NewRetryClient wraps client, or a 30s-timeout http.Client when nil.
// maxRetries counts retries after the first attempt and defaults to 3.
func NewRetryClient(client HTTPDoer, maxRetries int, opts ...Option) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	rc := &RetryClient{client: client, maxRetries: maxRetries, base: time.Second, max: 30 * time.Second}
	for _, opt := range opts {
		opt(rc)
	}
	if rc.log == nil {
		rc.log = logger.Default()
	}
	return rc
}

// Do sends req until it gets a non-retryable answer, retries run out, or the
// request context ends. When retries run out on a retryable status the last
// response is returned unread so the caller can inspect it.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var lastErr error

	for attempt := 0; ; attempt++ {
		resp, err := rc.client.Do(req)
		final := attempt == rc.maxRetries

		switch {
		case err != nil:
			if ctx.Err() != nil || final {
				return nil, err
			}
			lastErr = err
		case !IsRetryableStatus(resp.StatusCode) || final:
			return resp, nil
		default:
			lastErr = fmt.Errorf("httpretry: %s %s returned %d", req.Method, req.URL.Host, resp.StatusCode)
		}

		delay := rc.backoff(attempt + 1)
		if resp != nil {
			if ra, ok := retryAfter(resp, rc.max); ok {
				delay = ra
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		rc.log.Debug("retrying request", "attempt", attempt+1, "max", rc.maxRetries,
			"method", req.Method, "host", req.URL.Host, "wait", delay.String(), "cause", lastErr)
		if err := sleep(ctx, delay); err != nil {
			return nil, lastErr
		}
		if err := rewind(req); err != nil {
			return nil, err
		}
	}
}

// backoff is full jitter over base*2^(n-1), capped at max, never below
// min(base, 100ms).
func (rc *RetryClient) backoff(n int) time.Duration {
	ceiling := rc.base << (n - 1)
	if ceiling <= 0 || ceiling > rc.max {
		ceiling = rc.max
	}
	d := time.Duration(rand.Int63n(int64(ceiling) + 1))
	if floor := min(rc.base, 100*time.Millisecond); d < floor {
		d = floor
	}
	return d
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(resp *http.Response, ceiling time.Duration) (time.Duration, bool) {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0, false
	}
	return min(time.Duration(secs)*time.Second, ceiling), true
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rewind restores the body for the next attempt. Requests built from
// bytes, strings or nil bodies always have GetBody.
func rewind(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("httpretry: reset request body: %w", err)
	}
	req.Body = body
	return nil
}

// IsRetryableStatus reports whether a status is worth retrying.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
