package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRangeRandomStaysInBounds(t *testing.T) {
	t.Parallel()

	r := Range{Min: 100 * time.Millisecond, Max: 250 * time.Millisecond}
	for i := 0; i < 1000; i++ {
		d := r.Random()
		require.GreaterOrEqual(t, d, r.Min)
		require.LessOrEqual(t, d, r.Max)
	}

	require.Equal(t, time.Second, Range{Min: time.Second, Max: time.Second}.Random())
	require.Equal(t, time.Duration(0), Range{}.Random())
}

func TestRangeValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Range{Min: 0, Max: time.Second}.Validate())
	require.Error(t, Range{Min: 2 * time.Second, Max: time.Second}.Validate())
	require.Error(t, Range{Min: -time.Second, Max: time.Second}.Validate())
}

func TestSleepHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := Sleep(ctx, Range{Min: time.Minute, Max: time.Minute})
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)

	require.NoError(t, Sleep(context.Background(), Range{Min: time.Millisecond, Max: 2 * time.Millisecond}))
}

func TestPickUserAgent(t *testing.T) {
	t.Parallel()

	require.Contains(t, DefaultUserAgents, PickUserAgent(nil))
	require.Equal(t, "only", PickUserAgent([]string{"only"}))
}
