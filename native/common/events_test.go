package common

import (
	"strconv"
	"testing"
)

func TestRecorderRetainsEvents(t *testing.T) {
	recorder := NewRecorder(0)
	recorder.Emit(Event{Type: "a"})
	recorder.Emit(Event{Type: "b"})

	snapshot := recorder.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 events, got %d", len(snapshot))
	}
	if snapshot[0].Type != "a" || snapshot[1].Type != "b" {
		t.Fatalf("unexpected order: %+v", snapshot)
	}
}

func TestRecorderEvictsOldest(t *testing.T) {
	recorder := NewRecorder(3)
	for i := 0; i < 5; i++ {
		recorder.Emit(Event{Type: strconv.Itoa(i)})
	}

	snapshot := recorder.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("expected capacity of 3, got %d", len(snapshot))
	}
	if snapshot[0].Type != "2" || snapshot[2].Type != "4" {
		t.Fatalf("expected oldest entries evicted, got %+v", snapshot)
	}
}

func TestRecorderSnapshotIsCopy(t *testing.T) {
	recorder := NewRecorder(0)
	recorder.Emit(Event{Type: "a"})
	snapshot := recorder.Snapshot()
	snapshot[0].Type = "mutated"
	if recorder.Snapshot()[0].Type != "a" {
		t.Fatal("snapshot must not alias internal storage")
	}
}
