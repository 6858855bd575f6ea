// Package retry runs an operation with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Policy configures Do. The zero value makes a single attempt.
type Policy struct {
	Attempts   int
	BaseDelay  time.Duration
	MaxBackoff time.Duration
	MaxJitter  time.Duration
	Rand       *rand.Rand
}

// Backoff returns base * 2^(attempt-1), capped at maxBackoff.
func Backoff(attempt int, base, maxBackoff time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if base <= 0 {
		base = time.Second
	}
	f := math.Pow(2, float64(attempt-1)) * float64(base)
	if f >= math.MaxInt64 {
		if maxBackoff > 0 {
			return maxBackoff
		}
		return time.Duration(math.MaxInt64)
	}
	d := time.Duration(f)
	if maxBackoff > 0 && d > maxBackoff {
		return maxBackoff
	}
	return d
}

var (
	randMu  sync.Mutex
	randSrc = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
)

// Jitter returns a random duration in [0, maxJitter].
func Jitter(r *rand.Rand, maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 {
		return 0
	}
	if r == nil {
		randMu.Lock()
		defer randMu.Unlock()
		r = randSrc
	}
	return time.Duration(r.Int63n(int64(maxJitter) + 1)) //nolint:gosec
}

type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, or the attempts
// are used up. attempt starts at 1. The last error is returned unwrapped.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := max(p.Attempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := Backoff(attempt-1, p.BaseDelay, p.MaxBackoff) + Jitter(p.Rand, p.MaxJitter)
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return errors.Join(lastErr, ctx.Err())
			case <-t.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var perm *permanent
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
	}
	return lastErr
}
