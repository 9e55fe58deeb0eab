package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestPolicy_Do_Success(t *testing.T) {
	attempts := 0
	p := Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, sleep: noSleep}

	err := p.Do(context.Background(), func() error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts, "should succeed on first try")
}

func TestPolicy_Do_EventualSuccess(t *testing.T) {
	attempts := 0
	p := Policy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, sleep: noSleep}

	err := p.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts, "should succeed on third attempt")
}

func TestPolicy_Do_AllAttemptsFail(t *testing.T) {
	attempts := 0
	expectedErr := errors.New("persistent error")
	p := Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, sleep: noSleep}

	err := p.Do(context.Background(), func() error {
		attempts++
		return expectedErr
	})

	require.Error(t, err)
	assert.Equal(t, expectedErr, err, "should return the original error")
	assert.Equal(t, 3, attempts, "should attempt exactly MaxAttempts times")
}

func TestPolicy_Do_InvalidMaxAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 0}

	err := p.Do(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}

func TestPolicy_Do_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	p := Policy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, sleep: noSleep}

	err := p.Do(ctx, func() error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("failing")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, attempts, "should stop after cancellation")
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{5, 8 * time.Second},
		{6, 10 * time.Second}, // capped
		{9, 10 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestPolicy_Do_JitterBounded(t *testing.T) {
	var slept []time.Duration
	p := Policy{
		MaxAttempts: 4,
		BaseDelay:   100 * time.Millisecond,
		Jitter:      0.5,
		sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}

	_ = p.Do(context.Background(), func() error { return errors.New("x") })

	require.Len(t, slept, 3)
	for i, d := range slept {
		base := p.Delay(i + 2)
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, base+time.Duration(0.5*float64(base)))
	}
}
