package retry

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Duration(0), Backoff(0, time.Second, time.Minute))
	assert.Equal(t, time.Second, Backoff(1, time.Second, time.Minute))
	assert.Equal(t, 2*time.Second, Backoff(2, time.Second, time.Minute))
	assert.Equal(t, 8*time.Second, Backoff(4, 0, time.Minute))
	assert.Equal(t, 30*time.Second, Backoff(10, time.Second, 30*time.Second))
	assert.Equal(t, time.Minute, Backoff(200, time.Second, time.Minute))
}

func TestJitter(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for range 100 {
		j := Jitter(r, 10*time.Millisecond)
		require.GreaterOrEqual(t, j, time.Duration(0))
		require.LessOrEqual(t, j, 10*time.Millisecond)
	}
	assert.Zero(t, Jitter(nil, 0))
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, BaseDelay: time.Millisecond}, func(_ context.Context, attempt int) error {
		calls++
		require.Equal(t, calls, attempt)
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ZeroPolicyTriesOnce(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), Policy{}, func(context.Context, int) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDo_PermanentStops(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 5, BaseDelay: time.Millisecond}, func(context.Context, int) error {
		calls++
		return Permanent(boom)
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Nil(t, Permanent(nil))
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	transient := errors.New("transient")
	err := Do(ctx, Policy{Attempts: 3, BaseDelay: time.Hour}, func(context.Context, int) error {
		cancel()
		return transient
	})
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, transient)
}
