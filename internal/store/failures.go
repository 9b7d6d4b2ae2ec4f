package store

import "sync"

// FailureQueue is a FIFO of forced outcomes consumed one entry per
// action request. A popped true forces the request to be dropped at
// the transport level; false lets processing proceed normally.
type FailureQueue struct {
	mu      sync.Mutex
	pending []bool
}

// NewFailureQueue creates an empty queue.
func NewFailureQueue() *FailureQueue {
	return &FailureQueue{}
}

// Push appends outcomes to the tail of the queue, preserving order.
func (q *FailureQueue) Push(outcomes []bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, outcomes...)
}

// Next pops the head of the queue. An empty queue yields false: no
// forced outcome.
func (q *FailureQueue) Next() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return false
	}
	forced := q.pending[0]
	q.pending = q.pending[1:]
	return forced
}

// Pending returns a copy of the queued outcomes, head first.
func (q *FailureQueue) Pending() []bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]bool, len(q.pending))
	copy(out, q.pending)
	return out
}

// Load replaces the queue contents.
func (q *FailureQueue) Load(outcomes []bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = make([]bool, len(outcomes))
	copy(q.pending, outcomes)
}

// Reset discards all queued outcomes.
func (q *FailureQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
}
