package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dynbus/errors"
)

func fast(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fast(3), func() error {
		attempts++
		if attempts < 3 {
			return stderrors.New("nats: timeout")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoGivesUp(t *testing.T) {
	attempts := 0
	cause := stderrors.New("bucket unavailable")
	err := Do(context.Background(), fast(3), func() error {
		attempts++
		return cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"marked", NonRetryable(stderrors.New("corrupt record"))},
		{"invalid input", errors.WrapInvalid(errors.ErrInvalidData, "KVStore", "Put", "encode")},
		{"codec error", &errors.RangeError{Path: "depth", Value: 1e99, Min: -2147483648, Max: 2147483647}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Do(context.Background(), fast(5), func() error {
				attempts++
				return tt.err
			})
			assert.Equal(t, tt.err, err)
			assert.Equal(t, 1, attempts)
		})
	}
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: 200 * time.Millisecond, MaxDelay: time.Second}

	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, cfg, func() error {
		attempts++
		return stderrors.New("unavailable")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDoBackoffIsCapped(t *testing.T) {
	cfg := Config{MaxAttempts: 4, InitialDelay: 10 * time.Millisecond, MaxDelay: 15 * time.Millisecond, Multiplier: 10}

	start := time.Now()
	_ = Do(context.Background(), cfg, func() error { return stderrors.New("unavailable") })
	elapsed := time.Since(start)

	// 10ms + 15ms + 15ms
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	rev, err := DoWithResult(context.Background(), fast(3), func() (uint64, error) {
		attempts++
		if attempts == 1 {
			return 0, stderrors.New("unavailable")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), rev)
}

func TestConfigValidation(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{}, func() error {
		attempts++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, attempts, "zero attempts still runs once")

	err = Do(context.Background(), Config{InitialDelay: -1}, func() error { return nil })
	assert.Error(t, err)
	err = Do(context.Background(), Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}, func() error { return nil })
	assert.Error(t, err)

	assert.Equal(t, 3, DefaultConfig().MaxAttempts)
	assert.Equal(t, 10, Quick().MaxAttempts)
}
