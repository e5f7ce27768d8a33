package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoblog/internal/apperr"
)

func recordingPolicy(max int, delays *[]time.Duration) Policy {
	p := Default()
	p.MaxRetries = max
	p.BaseDelay = 10 * time.Millisecond
	p.MaxDelay = 25 * time.Millisecond
	p.Sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return p
}

func TestDoValueSucceedsOnThirdAttempt(t *testing.T) {
	var delays []time.Duration
	p := recordingPolicy(3, &delays)

	calls := 0
	v, err := DoValue(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", apperr.FromStatus("op", 503, nil)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, 3, calls)
	require.Len(t, delays, 2)
	for _, d := range delays {
		require.LessOrEqual(t, d, p.MaxDelay)
	}
}

func TestAuthErrorShortCircuits(t *testing.T) {
	var delays []time.Duration
	p := recordingPolicy(5, &delays)

	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return apperr.FromStatus("op", 401, []byte("bad key"))
	})

	require.True(t, apperr.Is(err, apperr.KindAuth))
	require.Equal(t, 1, calls)
	require.Empty(t, delays)
}

func TestUnclassifiedErrorIsNotRetried(t *testing.T) {
	var delays []time.Duration
	p := recordingPolicy(5, &delays)
	boom := errors.New("boom")

	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestExhaustionReturnsLastError(t *testing.T) {
	var delays []time.Duration
	p := recordingPolicy(2, &delays)

	calls := 0
	var last error
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		last = apperr.Transport("op", errors.New("refused"))
		return last
	})
	require.Same(t, last, err)
	require.Equal(t, 3, calls)
	require.Len(t, delays, 2)
}

func TestBackoffBounds(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 60 * time.Second, Multiplier: 2, Jitter: true}

	p.Rand = func() float64 { return 1 }
	require.Equal(t, 1250*time.Millisecond, p.Backoff(0))
	require.Equal(t, 60*time.Second, p.Backoff(10))

	p.Rand = func() float64 { return 0 }
	require.Equal(t, 750*time.Millisecond, p.Backoff(0))
	require.Equal(t, 45*time.Second, p.Backoff(10))

	p.Jitter = false
	require.Equal(t, 4*time.Second, p.Backoff(2))
}
