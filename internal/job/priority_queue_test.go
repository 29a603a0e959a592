package job

import (
	"testing"
	"time"
)

func TestPriorityOrdering(t *testing.T) {
	pq := NewPriorityQueue()
	pq.Enqueue("A", 1)
	pq.Enqueue("B", 10)
	pq.Enqueue("C", 5)

	want := []string{"B", "C", "A"}
	for _, w := range want {
		got, ok := pq.Dequeue()
		if !ok || got != w {
			t.Fatalf("want %s, got %s (ok=%v)", w, got, ok)
		}
	}
	if _, ok := pq.Dequeue(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestFIFOWithinPriority(t *testing.T) {
	pq := NewPriorityQueue()
	pq.Enqueue("first", 5)
	pq.Enqueue("second", 5)
	pq.Enqueue("third", 5)

	for _, want := range []string{"first", "second", "third"} {
		got, ok := pq.Dequeue()
		if !ok || got != want {
			t.Fatalf("want %s, got %s", want, got)
		}
	}
}

func TestEmptyQueueNeverRaises(t *testing.T) {
	pq := NewPriorityQueue()
	if _, ok := pq.Peek(); ok {
		t.Fatalf("expected no item")
	}
	if _, ok := pq.Dequeue(); ok {
		t.Fatalf("expected no item")
	}
	if !pq.IsEmpty() {
		t.Fatalf("expected empty")
	}
}

func TestToArrayNonDestructive(t *testing.T) {
	pq := NewPriorityQueue()
	pq.Enqueue("A", 1)
	pq.Enqueue("B", 10)

	snap := pq.ToArray()
	if len(snap) != 2 || snap[0] != "B" || snap[1] != "A" {
		t.Fatalf("unexpected snapshot: %v", snap)
	}
	if pq.Size() != 2 {
		t.Fatalf("expected snapshot to leave queue untouched, size=%d", pq.Size())
	}
}

func TestScoreDominatesAcrossLargeAgeGap(t *testing.T) {
	old := &entry{priority: 1, enqueuedAt: time.Now().Add(-365 * 24 * time.Hour)}
	recent := &entry{priority: 2, enqueuedAt: time.Now()}

	if recent.score() <= old.score() {
		t.Fatalf("expected higher priority to dominate a year-old low-priority job: old=%d recent=%d", old.score(), recent.score())
	}
}

func TestRemove(t *testing.T) {
	pq := NewPriorityQueue()
	pq.Enqueue("A", 1)
	pq.Enqueue("B", 10)

	if !pq.Remove("B") {
		t.Fatalf("expected removal to succeed")
	}
	got, ok := pq.Dequeue()
	if !ok || got != "A" {
		t.Fatalf("expected A remaining, got %s", got)
	}
}
