package pqueue

import (
	"container/heap"
	"errors"
	"sync"
)

// ErrEmpty is returned by Pop when no item is queued. It is distinct from a
// nil item so callers can tell "nothing to do" apart from a bad entry.
var ErrEmpty = errors.New("priority queue empty")

type entry struct {
	priority int
	seq      uint64
	value    any
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq // FIFO within a priority
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Queue is an unbounded priority queue. Lower priority numbers pop first;
// priority 1 is reserved for flush/exit control items so they jump ahead of
// all pending work.
type Queue struct {
	mu  sync.Mutex
	h   entryHeap
	seq uint64
}

func New() *Queue { return &Queue{} }

// Push never blocks; growth is bounded only by the mover's high-watermark
// backpressure check on Len.
func (q *Queue) Push(priority int, value any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.h, entry{priority: priority, seq: q.seq, value: value})
}

// Pop returns the most urgent item, or ErrEmpty.
func (q *Queue) Pop() (int, any, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return 0, nil, ErrEmpty
	}
	e := heap.Pop(&q.h).(entry)
	return e.priority, e.value, nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
