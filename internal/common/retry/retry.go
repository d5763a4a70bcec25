// internal/common/retry/retry.go
package retry

import (
	"context"
	"math"
	"time"
)

const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = 2 * time.Second
	DefaultMaxDelay   = time.Minute
)

// Policy controls how Do retries a failing operation.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration

	// MaxDelay caps a single wait when positive.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth another attempt.
	// A nil predicate never retries.
	Retryable func(error) bool

	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is invoked before each wait with the 1-based retry number.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns the 5 retries / 2s base policy used for GenAI calls,
// with single waits capped at a minute.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Retryable:  retryable,
	}
}

// Delay returns the wait before retry number attempt+1, i.e. BaseDelay * 2^attempt,
// capped at MaxDelay. Without a cap the result saturates at math.MaxInt64.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	limit := time.Duration(math.MaxInt64)
	if p.MaxDelay > 0 {
		limit = p.MaxDelay
	}
	if attempt >= 63 || p.BaseDelay > limit>>uint(attempt) {
		return limit
	}
	return p.BaseDelay << uint(attempt)
}

// Do runs op until it succeeds, fails with a non-retryable error, or
// MaxRetries retries have been spent. The last error is returned as-is.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		if p.Retryable == nil || !p.Retryable(err) || attempt >= maxRetries {
			return result, err
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			var zero T
			return zero, serr
		}
	}
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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
