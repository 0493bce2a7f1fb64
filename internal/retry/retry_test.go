package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var retried []int
	p := fastPolicy(3)
	p.OnRetry = func(attempt int, err error) { retried = append(retried, attempt) }

	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ExhaustedWrapsUpstreamUnavailable(t *testing.T) {
	calls := 0
	transient := errors.New("503 slow down")

	err := fastPolicy(2).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return transient
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, common.ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, transient)
}

func TestDo_NonRetryableReturnedImmediately(t *testing.T) {
	for _, sentinel := range []error{common.ErrIntegrity, common.ErrAccessDenied, common.ErrNotFound, common.ErrValidation} {
		calls := 0
		err := fastPolicy(5).Do(context.Background(), func(ctx context.Context) error {
			calls++
			return &common.ChunkError{Index: 1, Key: "k", Err: sentinel}
		})

		assert.Equal(t, 1, calls, sentinel.Error())
		assert.ErrorIs(t, err, sentinel)
		assert.NotErrorIs(t, err, common.ErrUpstreamUnavailable)
	}
}

func TestDo_CustomPredicate(t *testing.T) {
	calls := 0
	p := fastPolicy(4)
	p.Retryable = func(error) bool { return false }

	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("x")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}

	err := p.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SingleAttempt(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("down")
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, common.ErrUpstreamUnavailable)
}
