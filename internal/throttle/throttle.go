// Package throttle provides the shared outbound rate limiter and retry
// controller. Every evidence-provider call, whether triggered by a live
// command or by the background scheduler, goes through one Controller so
// both call sites compete for the same budget.
package throttle

import (
	"context"
	"errors"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/pendergraft/rolewarden/internal/config"
)

// RetryableError marks an error as a transient upstream failure that may
// succeed on retry (HTTP 429/502/503/504, timeouts, connection errors).
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps an error to mark it transient
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether an error is a transient failure. Context
// deadline and network timeout errors count as transient even without an
// explicit wrap.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re *RetryableError
	if errors.As(err, &re) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// RetryableStatus reports whether an HTTP status code is a transient
// failure class. 4xx other than 429 is terminal.
func RetryableStatus(status int) bool {
	switch status {
	case 429, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Controller throttles outbound calls to a requests-per-second ceiling and
// retries transient failures with exponential backoff.
type Controller struct {
	limiter    *rate.Limiter
	maxRetries int
	timeout    time.Duration
	backoff    time.Duration

	// sleep is swapped out in tests to avoid real waits
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Controller from configuration
func New(cfg config.ThrottleConfig) *Controller {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	backoff := time.Duration(cfg.RetryBackoffMs) * time.Millisecond
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &Controller{
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		maxRetries: cfg.MaxRetries,
		timeout:    timeout,
		backoff:    backoff,
		sleep:      sleepCtx,
	}
}

// Do runs fn through the rate limiter with a per-call timeout, retrying
// transient failures up to the configured maximum. The wait before retry n
// is backoff * 2^(n-1). A terminal error returns immediately; exhausting
// retries returns the last error, still marked retryable, so the caller
// can distinguish "evidence temporarily unknown" from a genuine negative.
func (c *Controller) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff << (attempt - 1)
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return err
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
