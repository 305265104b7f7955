package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func fastConfig() Config {
	return Config{Operation: "test", MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastConfig(), func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := Do(context.Background(), fastConfig(), func() error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent errors stop immediately", func(t *testing.T) {
		calls := 0
		invalid := errors.New("invalid")
		err := Do(context.Background(), fastConfig(), func() error {
			calls++
			return Permanent(invalid)
		})
		assert.Equal(t, invalid, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("deadline errors are not retried", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastConfig(), func() error {
			calls++
			return context.DeadlineExceeded
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, calls)
	})

	t.Run("custom predicate", func(t *testing.T) {
		transient := errors.New("transient")
		cfg := fastConfig()
		cfg.Retryable = func(err error) bool { return errors.Is(err, transient) }

		calls := 0
		err := Do(context.Background(), cfg, func() error {
			calls++
			return errors.New("bad input")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("on retry hook", func(t *testing.T) {
		var attempts []int
		cfg := fastConfig()
		cfg.OnRetry = func(attempt int, err error) { attempts = append(attempts, attempt) }
		_ = Do(context.Background(), cfg, func() error { return errors.New("down") })
		assert.Equal(t, []int{1, 2}, attempts)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := Do(ctx, fastConfig(), func() error { calls++; return nil })
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, calls)
	})
}

func TestJitteredStaysWithinFraction(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := time.Duration(rapid.Int64Range(1, int64(time.Minute)).Draw(t, "delay"))
		fraction := rapid.Float64Range(0, 0.5).Draw(t, "fraction")

		got := jittered(d, fraction)
		spread := time.Duration(fraction*float64(d)) + 1
		if got < d-spread || got > d+spread {
			t.Fatalf("jittered(%v, %v) = %v", d, fraction, got)
		}
	})
}
