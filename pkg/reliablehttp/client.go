// Package reliablehttp wraps outbound HTTP calls with bounded retry,
// per-attempt timeouts and exponential backoff. Only transport-level
// failures are retried; a received HTTP response is always returned to
// the caller as-is, whatever its status.
package reliablehttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"
)

const (
	DefaultMaxAttempts = 2
	DefaultTimeout     = 30 * time.Second

	baseBackoff = 1 * time.Second
	maxBackoff  = 5 * time.Second
)

// TransportError is returned when all attempts are exhausted without
// ever receiving an HTTP response.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RetryHook is invoked before sleeping between attempts.
type RetryHook func(attempt int, err error)

type Option func(*Client)

func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithRetryHook(hook RetryHook) Option {
	return func(c *Client) {
		c.onRetry = hook
	}
}

// WithCACertFile adds a single operator-supplied CA certificate to the
// system trust store. The file is read once, at construction.
// Certificate validation itself cannot be disabled.
func WithCACertFile(path string) Option {
	return func(c *Client) {
		c.caCertFile = path
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

type Client struct {
	httpClient  *http.Client
	maxAttempts int
	timeout     time.Duration
	onRetry     RetryHook
	caCertFile  string
}

func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		maxAttempts: DefaultMaxAttempts,
		timeout:     DefaultTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		transport, err := newTLSTransport(c.caCertFile)
		if err != nil {
			return nil, err
		}
		c.httpClient = &http.Client{Transport: transport}
	}

	return c, nil
}

// Do executes the request with retry. Each attempt is bounded by the
// client timeout independently of the parent context deadline; an
// attempt that times out aborts that attempt only. Requests with a
// body must be rebuildable via GetBody so retries can replay it.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.doAttempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt >= c.maxAttempts || !Retryable(err) {
			break
		}

		if c.onRetry != nil {
			c.onRetry(attempt, err)
		}

		select {
		case <-time.After(Backoff(attempt)):
		case <-ctx.Done():
			return nil, &TransportError{Attempts: attempt, Err: ctx.Err()}
		}
	}

	return nil, &TransportError{Attempts: c.maxAttempts, Err: lastErr}
}

func (c *Client) doAttempt(ctx context.Context, req *http.Request) (*http.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)

	attemptReq := req.Clone(attemptCtx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("rebuilding request body: %w", err)
		}
		attemptReq.Body = body
	}

	resp, err := c.httpClient.Do(attemptReq)
	if err != nil {
		cancel()
		return nil, err
	}

	// The body outlives this function; tie the context to its closing.
	resp.Body = &cancelOnCloseBody{body: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnCloseBody struct {
	body   io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Read(p []byte) (int, error) { return b.body.Read(p) }

func (b *cancelOnCloseBody) Close() error {
	b.cancel()
	return b.body.Close()
}

// Backoff returns the delay before attempt k+1.
func Backoff(attempt int) time.Duration {
	d := baseBackoff << (attempt - 1)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Retryable classifies transport failures. Timeouts, cancellations and
// network-layer errors are retryable; anything that made it to the
// application layer is not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	return false
}

// LogRetries is a RetryHook that logs each retry with slog.
func LogRetries(component string) RetryHook {
	return func(attempt int, err error) {
		slog.Warn("retrying request", "component", component, "attempt", attempt, "error", err)
	}
}
