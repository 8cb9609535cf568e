package services

import (
	"sync"
	"testing"
)

func TestFailureTrackerFiresExactlyOnceAtLimit(t *testing.T) {
	tracker := newFailureTracker(3)

	if tracker.recordFailure(7) {
		t.Fatal("first failure should not reach limit")
	}
	if tracker.recordFailure(7) {
		t.Fatal("second failure should not reach limit")
	}
	if !tracker.recordFailure(7) {
		t.Fatal("third failure should reach limit")
	}
	if tracker.recordFailure(7) {
		t.Fatal("limit must only fire on the exact crossing")
	}
}

func TestFailureTrackerResetClearsRun(t *testing.T) {
	tracker := newFailureTracker(2)

	tracker.recordFailure(1)
	tracker.reset(1)
	if tracker.recordFailure(1) {
		t.Fatal("run should restart after reset")
	}
	if !tracker.recordFailure(1) {
		t.Fatal("second failure after reset should reach limit")
	}
}

func TestFailureTrackerTracksCallsIndependently(t *testing.T) {
	tracker := newFailureTracker(2)

	tracker.recordFailure(1)
	if tracker.recordFailure(2) {
		t.Fatal("calls must not share failure runs")
	}
	tracker.evict(1)
	if tracker.recordFailure(1) {
		t.Fatal("evicted call should start a fresh run")
	}
}

func TestFailureTrackerConcurrentRecording(t *testing.T) {
	tracker := newFailureTracker(100)

	var wg sync.WaitGroup
	hits := make(chan struct{}, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.recordFailure(42) {
				hits <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(hits)

	count := 0
	for range hits {
		count++
	}
	if count != 1 {
		t.Fatalf("limit crossing reported %d times, want exactly 1", count)
	}
}
