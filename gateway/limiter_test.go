package gateway

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindow_ThirdCallIsDelayedNotRejected(t *testing.T) {
	w := NewSlidingWindow(2, 100*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	waited, err := w.Wait(ctx)
	require.NoError(t, err)
	assert.Zero(t, waited)
	waited, err = w.Wait(ctx)
	require.NoError(t, err)
	assert.Zero(t, waited)

	waited, err = w.Wait(ctx)
	require.NoError(t, err)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, waited, 80*time.Millisecond)
	assert.LessOrEqual(t, waited, 100*time.Millisecond)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
}

func TestSlidingWindow_NeverExceedsMaxCallsPerPeriod(t *testing.T) {
	const (
		maxCalls = 3
		period   = 60 * time.Millisecond
		callers  = 10
	)
	w := NewSlidingWindow(maxCalls, period)

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Wait(context.Background())
			if err != nil {
				t.Errorf("wait failed: %v", err)
				return
			}
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, times, callers)
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	// any maxCalls+1 consecutive admissions must span at least one period
	// (small slack covers the gap between admission and the recorded time)
	for i := 0; i+maxCalls < len(times); i++ {
		span := times[i+maxCalls].Sub(times[i])
		assert.GreaterOrEqual(t, span, period-15*time.Millisecond, "window starting at admission %d", i)
	}
}

func TestSlidingWindow_CancelledWaitLeavesWindowIntact(t *testing.T) {
	w := NewSlidingWindow(1, time.Second)
	_, err := w.Wait(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = w.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, w.Count())
	assert.Equal(t, 0, w.Remaining())
}

func TestSlidingWindow_Unlimited(t *testing.T) {
	w := NewSlidingWindow(0, time.Second)
	for i := 0; i < 100; i++ {
		waited, err := w.Wait(context.Background())
		require.NoError(t, err)
		require.Zero(t, waited)
	}
	assert.Equal(t, -1, w.Remaining())
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Multiplier: 2, Max: 500 * time.Millisecond}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 500 * time.Millisecond},
		{10, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestNewHTTPClient(t *testing.T) {
	c := NewHTTPClient(10*time.Second, 30*time.Second)
	assert.Equal(t, 30*time.Second, c.Timeout)
	require.NotNil(t, c.Transport)
}
