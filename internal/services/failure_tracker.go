package services

import "sync"

// failureTracker counts consecutive billing infrastructure failures per call.
// A run reaching the limit forces termination so a call can neither keep
// running unbilled nor keep charging without recorded service. Counters reset
// on any successful tick and are evicted when the call terminates.
type failureTracker struct {
	mu     sync.Mutex
	limit  int
	counts map[int64]int
}

func newFailureTracker(limit int) *failureTracker {
	if limit <= 0 {
		limit = 3
	}
	return &failureTracker{
		limit:  limit,
		counts: make(map[int64]int),
	}
}

// recordFailure increments the call's run and reports whether this failure is
// the one that hits the limit. Only the exact crossing reports true, so the
// forced termination it triggers cannot re-trigger itself if that termination
// also fails.
func (t *failureTracker) recordFailure(callID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[callID]++
	return t.counts[callID] == t.limit
}

func (t *failureTracker) reset(callID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, callID)
}

func (t *failureTracker) evict(callID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, callID)
}
