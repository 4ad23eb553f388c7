package gateway

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow admits at most maxCalls calls within any period. It is safe
// for concurrent use and is meant to be shared by every agent drawing on the
// same external quota.
type SlidingWindow struct {
	maxCalls int
	period   time.Duration
	calls    []time.Time // admission timestamps, oldest first
	mu       sync.Mutex
}

// NewSlidingWindow creates a window admitting maxCalls per period. A
// non-positive maxCalls disables limiting.
func NewSlidingWindow(maxCalls int, period time.Duration) *SlidingWindow {
	return &SlidingWindow{maxCalls: maxCalls, period: period}
}

// Wait blocks until the caller may make a call and records the admission.
// The wait is re-evaluated after every sleep since other callers may take
// the freed slot first. It returns the total time spent waiting. If ctx ends
// first, nothing is recorded and ctx.Err() is returned.
func (w *SlidingWindow) Wait(ctx context.Context) (time.Duration, error) {
	var waited time.Duration
	for {
		wait, admitted := w.tryAdmit(time.Now())
		if admitted {
			return waited, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return waited, ctx.Err()
		case <-timer.C:
			waited += wait
		}
	}
}

// tryAdmit records now and reports true if a slot is free; otherwise it
// returns how long until the oldest call leaves the window.
func (w *SlidingWindow) tryAdmit(now time.Time) (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxCalls <= 0 {
		return 0, true
	}
	w.evictLocked(now)
	if len(w.calls) < w.maxCalls {
		w.calls = append(w.calls, now)
		return 0, true
	}
	wait := w.period - now.Sub(w.calls[0])
	if wait <= 0 {
		// oldest is exactly on the boundary; the next pass evicts it
		wait = time.Millisecond
	}
	return wait, false
}

// evictLocked drops timestamps that left the window; caller holds mu.
func (w *SlidingWindow) evictLocked(now time.Time) {
	i := 0
	for i < len(w.calls) && now.Sub(w.calls[i]) >= w.period {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}

// Count returns the number of admissions inside the current window.
func (w *SlidingWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evictLocked(time.Now())
	return len(w.calls)
}

// Remaining returns how many calls can be admitted right now, or -1 when
// limiting is disabled.
func (w *SlidingWindow) Remaining() int {
	if w.maxCalls <= 0 {
		return -1 // unlimited
	}
	return w.maxCalls - w.Count()
}
