package chrono

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeSleepAdvancesClock(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeImpl(start)

	require.NoError(t, clock.Sleep(context.Background(), 10*time.Second))
	require.NoError(t, clock.Sleep(context.Background(), 5*time.Second))

	require.Equal(t, start.Add(15*time.Second), clock.Now())
	require.Equal(t, []time.Duration{10 * time.Second, 5 * time.Second}, clock.Slept())
}

func TestFakeSleepCancelled(t *testing.T) {
	clock := NewFakeImpl(time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := clock.Sleep(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, clock.Slept())
}

func TestStandardSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := NewStandardImpl().Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
