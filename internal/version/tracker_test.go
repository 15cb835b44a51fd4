package version

import (
	"fmt"
	"testing"
	"time"
)

func TestUnseenRecordHasNoVersion(t *testing.T) {
	tracker := New(10)
	if _, ok := tracker.Current("recA"); ok {
		t.Error("Current() on an unseen record should report not found")
	}
}

func TestConflictProtocol(t *testing.T) {
	tracker := New(10)
	// Make successive mutations visibly distinct even on a coarse clock.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	step := 0
	tracker.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Millisecond)
	}

	t0 := tracker.RecordMutation("recA")

	// A write carrying the current token succeeds
	if tracker.Check("recA", Token(t0)) {
		t.Fatal("write with matching token should not conflict")
	}
	t1 := tracker.RecordMutation("recA")
	if !t1.After(t0) {
		t.Fatalf("RecordMutation() did not advance: %v -> %v", t0, t1)
	}

	// A later write still carrying the stale token is rejected
	if !tracker.Check("recA", Token(t0)) {
		t.Error("write with stale token should conflict")
	}
	if tracker.Check("recA", Token(t1)) {
		t.Error("write with fresh token should not conflict")
	}
}

func TestEmptyTokenForcesWrite(t *testing.T) {
	tracker := New(10)
	tracker.RecordMutation("recA")
	if tracker.Check("recA", "") {
		t.Error("empty token should be treated as a forced write")
	}
}

func TestUnseenRecordNeverConflicts(t *testing.T) {
	tracker := New(10)
	if tracker.Check("recB", Token(time.Now())) {
		t.Error("a record the tracker has never seen cannot conflict")
	}
}

func TestEvictionBoundsGrowth(t *testing.T) {
	tracker := New(5)
	for i := 0; i < 20; i++ {
		tracker.RecordMutation(fmt.Sprintf("rec%02d", i))
	}
	if got := tracker.Len(); got != 5 {
		t.Fatalf("Len() = %d, want capacity 5", got)
	}
	// Evicted records read as never-seen
	if _, ok := tracker.Current("rec00"); ok {
		t.Error("oldest record should have been evicted")
	}
	if _, ok := tracker.Current("rec19"); !ok {
		t.Error("newest record should still be tracked")
	}
}
