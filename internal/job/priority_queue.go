package job

import (
	"container/heap"
	"sync"
	"time"
)

// ScoreK scales the priority term of the composite score
// priority*ScoreK - enqueuedAtMillis. It operates on millisecond-resolution
// timestamps (matching the spec's queuedAt wall-clock-ms field, and keeping
// priority*ScoreK well under float64's 2^53 exact-integer range for the
// Redis sorted-set variant of this same formula). At 1e13 milliseconds
// (~317 years), one priority step outweighs any realistic difference in
// enqueue time between two jobs, so priority always dominates timestamp
// ordering, per spec's composite-score invariant. Storage adapters that
// keep their own priority index (e.g. a Redis sorted set) use the same
// constant and unit so ordering is identical across backends.
const ScoreK int64 = 10_000_000_000_000

const scoreK = ScoreK

// entry is one id waiting in a queue's priority index.
type entry struct {
	id         string
	priority   int
	enqueuedAt time.Time
	seq        uint64 // tie-break when the clock doesn't advance between enqueues
	index      int
}

func (e *entry) score() int64 {
	return int64(e.priority)*scoreK - e.enqueuedAt.UnixMilli()
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	si, sj := h[i].score(), h[j].score()
	if si != sj {
		return si > sj // higher score first
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// PriorityQueue is a max-heap of job ids keyed by (priority, enqueuedAt),
// higher priority first and FIFO within a priority (spec C1 / §4.1).
// Safe for concurrent use.
type PriorityQueue struct {
	mu   sync.Mutex
	h    entryHeap
	seq  uint64
}

// NewPriorityQueue returns an empty queue ready for use.
func NewPriorityQueue() *PriorityQueue {
	pq := &PriorityQueue{}
	heap.Init(&pq.h)
	return pq
}

// Enqueue inserts id with the given priority, timestamped now. Re-enqueued
// retries should call this again with a fresh timestamp to land at the
// tail of their priority bucket.
func (pq *PriorityQueue) Enqueue(id string, priority int) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.seq++
	heap.Push(&pq.h, &entry{id: id, priority: priority, enqueuedAt: time.Now(), seq: pq.seq})
}

// Dequeue removes and returns the highest-priority id, or ("", false) if
// the queue is empty. Never blocks or raises.
func (pq *PriorityQueue) Dequeue() (string, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if pq.h.Len() == 0 {
		return "", false
	}
	e := heap.Pop(&pq.h).(*entry)
	return e.id, true
}

// Peek returns the highest-priority id without removing it.
func (pq *PriorityQueue) Peek() (string, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if pq.h.Len() == 0 {
		return "", false
	}
	return pq.h[0].id, true
}

// Size returns the number of ids currently waiting.
func (pq *PriorityQueue) Size() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.h.Len()
}

// IsEmpty reports whether the queue has no waiting ids.
func (pq *PriorityQueue) IsEmpty() bool {
	return pq.Size() == 0
}

// Clear removes every waiting id.
func (pq *PriorityQueue) Clear() {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.h = entryHeap{}
}

// Remove drops the first occurrence of id from the queue, if present. Used
// when a job is cancelled while still queued.
func (pq *PriorityQueue) Remove(id string) bool {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	for i, e := range pq.h {
		if e.id == id {
			heap.Remove(&pq.h, i)
			return true
		}
	}
	return false
}

// ToArray returns a non-destructive snapshot of waiting ids in priority
// order. O(n log n): it pops from a copy of the heap.
func (pq *PriorityQueue) ToArray() []string {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	cp := make(entryHeap, len(pq.h))
	copy(cp, pq.h)
	heap.Init(&cp)
	out := make([]string, 0, len(cp))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(&cp).(*entry).id)
	}
	return out
}
