package events

import (
	"sync"
	"time"
)

// SpamTracker counts messages per user in a sliding window.
type SpamTracker struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu    sync.Mutex
	times map[string][]time.Time
}

// NewSpamTracker flags users sending more than limit messages within window.
func NewSpamTracker(window time.Duration, limit int) *SpamTracker {
	return &SpamTracker{window: window, limit: limit, now: time.Now, times: make(map[string][]time.Time)}
}

// Record notes a message from userID and reports whether the user is now
// over the limit.
func (t *SpamTracker) Record(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	kept := prune(t.times[userID], now.Add(-t.window))
	kept = append(kept, now)
	t.times[userID] = kept
	return len(kept) > t.limit
}

// Sweep drops timestamps outside the window and forgets idle users. It
// returns the number of users still tracked.
func (t *SpamTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.window)
	for id, ts := range t.times {
		kept := prune(ts, cutoff)
		if len(kept) == 0 {
			delete(t.times, id)
			continue
		}
		t.times[id] = kept
	}
	return len(t.times)
}

// Len returns the number of tracked users.
func (t *SpamTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.times)
}

// prune keeps timestamps at or after cutoff. ts is in ascending order.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}
