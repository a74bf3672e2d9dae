package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/TIZ36/chatflow/pkg/schema"
)

// nonRetryableCodes are failure classes retrying cannot fix.
var nonRetryableCodes = map[string]struct{}{
	schema.ErrCodeInvalidDefinition: {},
	schema.ErrCodeCycleDetected:     {},
	schema.ErrCodeCancelled:         {},
	schema.ErrCodeExpression:        {},
	schema.ErrCodeNotFound:          {},
	schema.ErrCodeConflict:          {},
}

// IsRetryableError classifies whether a node failure should be retried.
// Attempt timeouts and transport-level errors are retryable; cancellation and
// definition-level errors are not.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// An attempt timeout folds into the retry loop as an ordinary failure.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Cancellation means the whole execution is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var flowErr *schema.FlowError
	if errors.As(err, &flowErr) {
		if _, nonRetryable := nonRetryableCodes[flowErr.Code]; nonRetryable {
			return false
		}
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// String heuristics for transient transport failures from collaborators
	// that return plain errors.
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

	// Default retryable; the policy's max_retries bounds the damage.
	return true
}

// ComputeBackoff calculates the delay before retry attempt `attempt` (zero
// based: the delay after the first failure is attempt 0). Exponential backoff
// is the default when the policy does not name one.
func ComputeBackoff(policy *schema.RetryPolicy, attempt int) time.Duration {
	if policy == nil || policy.Delay == "" {
		return 0
	}

	base, err := time.ParseDuration(policy.Delay)
	if err != nil {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case "none":
		delay = 0
	case "constant":
		delay = base
	case "linear":
		delay = base * time.Duration(attempt+1)
	default: // "exponential" or empty
		multiplier := time.Duration(1)
		for i := 0; i < attempt; i++ {
			multiplier *= 2
		}
		delay = base * multiplier
	}

	if policy.MaxDelay != "" {
		if maxDelay, parseErr := time.ParseDuration(policy.MaxDelay); parseErr == nil && delay > maxDelay {
			delay = maxDelay
		}
	}

	return delay
}

// WaitForBackoff sleeps for the computed delay or returns early if the
// context is cancelled during the wait.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
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
