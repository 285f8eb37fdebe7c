package dispatch

import (
	"sync"
	"time"
)

// tracker counts consecutive hook failures per addon inside a sliding
// window. Any success resets the streak, so only uninterrupted failure
// runs quarantine an addon.
type tracker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	streaks   map[string]*streak
}

type streak struct {
	count int
	first time.Time
}

func newTracker(threshold int, window time.Duration) *tracker {
	return &tracker{
		threshold: threshold,
		window:    window,
		streaks:   make(map[string]*streak),
	}
}

// fail records one failure and reports whether the addon just crossed
// the threshold. A streak older than the window starts over, and a
// crossing resets it so the same streak cannot trigger twice.
func (t *tracker) fail(addonID string, now time.Time) bool {
	if t.threshold <= 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.streaks[addonID]
	if current == nil || (t.window > 0 && now.Sub(current.first) > t.window) {
		current = &streak{first: now}
		t.streaks[addonID] = current
	}
	current.count++
	if current.count >= t.threshold {
		delete(t.streaks, addonID)
		return true
	}
	return false
}

// ok resets the addon's failure streak.
func (t *tracker) ok(addonID string) {
	if t.threshold <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.streaks, addonID)
}
