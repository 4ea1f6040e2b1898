package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Fixed(3, 0), isTransient, func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Fixed(3, 0), isTransient, func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Fixed(3, 0), isTransient, func() error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryableSurfacesImmediately(t *testing.T) {
	fatal := errors.New("business rule violated")
	calls := 0
	err := Do(context.Background(), Fixed(5, 0), isTransient, func() error {
		calls++
		return fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, Fixed(5, time.Minute), isTransient, func() error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExponential_DoublesDelay(t *testing.T) {
	start := time.Now()
	calls := 0
	err := Do(context.Background(), Exponential(3, 5*time.Millisecond), isTransient, func() error {
		calls++
		return errTransient
	})

	// Delays: 5ms + 10ms between three attempts.
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}
