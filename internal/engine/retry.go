package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rendis/stepflow/pkg/schema"
)

// Backoff strategies for RetryPolicy.
const (
	BackoffNone        = "none"
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// DefaultMaxDelay caps backoff delays when a policy sets no MaxDelay.
const DefaultMaxDelay = time.Hour

// RetryPolicy configures WithRetry. Max is the number of retries after the
// first attempt. MaxDelay caps every delay; zero means DefaultMaxDelay.
type RetryPolicy struct {
	Max      int
	Backoff  string
	Delay    time.Duration
	MaxDelay time.Duration

	// Retryable overrides IsRetryableError when set.
	Retryable func(error) bool
}

// WithRetry wraps a handler so failed attempts are retried per policy.
// The engine itself never retries; callers opt in per handler.
func WithRetry(h Handler, policy RetryPolicy) Handler {
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsRetryableError
	}
	return func(ctx context.Context, input map[string]any) (any, error) {
		var lastErr error
		for attempt := 0; attempt <= policy.Max; attempt++ {
			out, err := h(ctx, input)
			if err == nil {
				return out, nil
			}
			lastErr = err
			if attempt == policy.Max || !retryable(err) {
				break
			}
			if werr := WaitForBackoff(ctx, ComputeBackoff(policy, attempt)); werr != nil {
				return nil, werr
			}
		}
		return nil, lastErr
	}
}

// WithTimeout wraps a handler so each invocation gets a deadline. A handler
// that ignores its context is abandoned when the deadline passes.
func WithTimeout(h Handler, d time.Duration) Handler {
	if d <= 0 {
		return h
	}
	return func(ctx context.Context, input map[string]any) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type outcome struct {
			out any
			err error
		}
		done := make(chan outcome, 1)
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					done <- outcome{err: schema.NewErrorf(schema.ErrCodeExecution, "step handler panicked: %v", rec)}
				}
			}()
			out, err := h(ctx, input)
			done <- outcome{out, err}
		}()

		select {
		case o := <-done:
			return o.out, o.err
		case <-ctx.Done():
			return nil, schema.NewErrorf(schema.ErrCodeTimeout, "handler timed out after %s", d).WithCause(ctx.Err())
		}
	}
}

// IsRetryableError classifies whether an error should be retried.
// Retryable by default: network errors, timeouts, context.DeadlineExceeded.
// Non-retryable: cancellation and FlowErrors with non-retryable codes.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.IsRetryable()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// String heuristics for common retryable patterns.
	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"too many requests",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Default: retryable; the policy's Max bounds the attempts.
	return true
}

// ComputeBackoff calculates the delay before retry number attempt+1. The
// result never exceeds the policy's cap, however large attempt is.
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	if policy.Delay <= 0 {
		return 0
	}
	ceiling := policy.MaxDelay
	if ceiling <= 0 {
		ceiling = DefaultMaxDelay
	}
	if policy.Delay >= ceiling {
		return ceiling
	}

	delay := policy.Delay
	switch policy.Backoff {
	case BackoffExponential:
		for i := 0; i < attempt && delay < ceiling; i++ {
			delay *= 2
		}
	case BackoffLinear:
		if steps := int64(ceiling / policy.Delay); int64(attempt) < steps {
			delay = policy.Delay * time.Duration(attempt+1)
		} else {
			delay = ceiling
		}
	}
	return min(delay, ceiling)
}

// WaitForBackoff sleeps for the computed backoff duration or returns early if the context is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
