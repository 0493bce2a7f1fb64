// Package retry provides the single retry-with-backoff policy applied to every
// ChunkStore and Manifest store call.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	goretry "github.com/sethvargo/go-retry"
)

// Policy describes how a failing call is retried.
//
// MaxAttempts counts the first call, so MaxAttempts=3 means up to two retries.
// Delays grow exponentially from BaseDelay and are capped at MaxDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// JitterPercent spreads delays by up to ±N percent. Zero disables jitter.
	JitterPercent uint64

	// Retryable decides whether an error is transient. Nil means common.IsRetryable.
	Retryable func(error) bool

	// OnRetry is called before each retry with the attempt that just failed.
	OnRetry func(attempt int, err error)
}

// Default matches the original service behaviour: three attempts, starting at
// half a second.
func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}
}

func (p Policy) backoff() goretry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	b := goretry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = goretry.WithCappedDuration(p.MaxDelay, b)
	}
	if p.JitterPercent > 0 {
		b = goretry.WithJitterPercent(p.JitterPercent, b)
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return goretry.WithMaxRetries(uint64(attempts-1), b)
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done.
//
// Non-retryable errors are returned unchanged. When attempts run out the
// last error is wrapped with common.ErrUpstreamUnavailable.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = common.IsRetryable
	}

	attempt := 0
	exhausted := false
	err := goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return err
		}
		if attempt >= max(p.MaxAttempts, 1) {
			exhausted = true
			return err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		return goretry.RetryableError(err)
	})
	if err != nil && exhausted {
		return fmt.Errorf("%w: after %d attempts: %w", common.ErrUpstreamUnavailable, attempt, err)
	}
	return err
}
