// Package httputil provides the retrying HTTP fetch layer used by all
// registry and deny-list requests.
//
// The central type is [Client], which retries transient failures with
// exponential backoff, honors server-supplied rate-limit delays, and
// admits requests to the primary registry origin through a shared
// concurrency limiter so a strictly rate-limited upstream is never
// overwhelmed by concurrent scans.
package httputil

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mlindner/depsentry/pkg/errors"
)

const (
	// DefaultTimeout is the per-request timeout for registry fetches.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3

	// DefaultPrimaryLimit bounds in-flight requests to the primary origin.
	DefaultPrimaryLimit = 5
)

// RetryableError wraps an error to indicate it should trigger a retry.
// Delay, when non-zero, is the exact wait before the next attempt;
// a zero Delay means the client applies exponential backoff instead.
type RetryableError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Response is a fully-read HTTP response. Reading the body eagerly keeps
// the primary-origin limiter honest: a slot is held only while the
// request is actually in flight.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NotFound reports whether the response was an HTTP 404. A 404 is not an
// error; callers interpret it as "absent".
func (r *Response) NotFound() bool { return r.StatusCode == http.StatusNotFound }

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error { return json.Unmarshal(r.Body, v) }

// Limiter bounds concurrent in-flight requests to a single origin.
// A single Limiter is shared across all concurrent scans that talk to
// that origin. The zero value is unusable; use [NewLimiter].
type Limiter struct {
	sem chan struct{}
}

// NewLimiter creates a limiter admitting at most n concurrent requests.
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{sem: make(chan struct{}, n)}
}

func (l *Limiter) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) release() { <-l.sem }

// Options configures a single fetch.
type Options struct {
	// Headers are added to the request.
	Headers map[string]string

	// PrimaryOrigin routes the request through the shared origin limiter.
	// Requests to mirror origins leave this false and bypass the limiter.
	PrimaryOrigin bool

	// MaxRetries overrides the client default when > 0.
	MaxRetries int
}

// Config configures a [Client].
type Config struct {
	Timeout      time.Duration // per-request timeout (default 10s)
	MaxRetries   int           // retries after the first attempt (default 3)
	PrimaryLimit int           // primary-origin concurrency bound (default 5)
	Logf         func(format string, args ...any)
}

// Client is a retrying HTTP client with backpressure handling.
//
// Retry policy, per attempt:
//   - 429: wait the server-supplied Retry-After if present, otherwise
//     2^attempt seconds.
//   - Transport errors (connection reset class): 2^attempt seconds.
//   - Any other non-2xx except 404: flat 1 second.
//   - 404 and 2xx: returned to the caller, no retry.
//
// The error from the final attempt is returned to the caller.
type Client struct {
	http    *http.Client
	limiter *Limiter
	retries int
	logf    func(string, ...any)

	// sleep is replaced in tests to observe backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Client. The limiter may be shared with other
// clients targeting the same primary origin; pass nil to create a
// private one from cfg.PrimaryLimit.
func NewClient(cfg Config, limiter *Limiter) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if limiter == nil {
		limit := cfg.PrimaryLimit
		if limit <= 0 {
			limit = DefaultPrimaryLimit
		}
		limiter = NewLimiter(limit)
	}
	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		retries: cfg.MaxRetries,
		logf:    logf,
		sleep:   sleepCtx,
	}
}

// Fetch performs a GET against url, retrying transient failures.
// A 404 is returned as a normal response; see [Response.NotFound].
func (c *Client) Fetch(ctx context.Context, url string, opts Options) (*Response, error) {
	retries := c.retries
	if opts.MaxRetries > 0 {
		retries = opts.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		resp, err := c.do(ctx, url, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var re *RetryableError
		if !stderrors.As(err, &re) {
			return nil, err
		}
		if attempt == retries {
			break
		}

		delay := re.Delay
		if delay <= 0 {
			delay = time.Duration(1<<attempt) * time.Second
		}
		c.logf("fetch retry %d/%d for %s in %s: %v", attempt+1, retries, url, delay, err)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// do performs one attempt and classifies the outcome.
func (c *Client) do(ctx context.Context, url string, opts Options) (*Response, error) {
	if opts.PrimaryOrigin {
		if err := c.limiter.acquire(ctx); err != nil {
			return nil, err
		}
		defer c.limiter.release()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "build request for %s", url)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Connection resets, timeouts and friends: exponential backoff.
		return nil, &RetryableError{Err: errors.Wrap(errors.ErrCodeNetwork, err, "request %s", url)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RetryableError{Err: errors.Wrap(errors.ErrCodeNetwork, err, "read body from %s", url)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
	case resp.StatusCode == http.StatusNotFound:
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header)
		rateErr := &errors.RateLimitedError{RetryAfter: retryAfter, Message: url}
		var delay time.Duration
		if retryAfter > 0 {
			delay = time.Duration(retryAfter) * time.Second
		}
		return nil, &RetryableError{Err: rateErr, Delay: delay}
	default:
		err := errors.New(errors.ErrCodeNetwork, "unexpected status %d from %s", resp.StatusCode, url)
		return nil, &RetryableError{Err: err, Delay: time.Second}
	}
}

// parseRetryAfter reads the Retry-After header as whole seconds.
// Returns 0 when absent or unparseable.
func parseRetryAfter(h http.Header) int {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
