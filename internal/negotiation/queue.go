package negotiation

import (
	"sync"

	"github.com/1ureka/p2pchan/internal/engine"
)

// CandidateQueue buffers remote candidates that arrive before the session's
// remote description is set. It is FIFO and safe for concurrent use.
type CandidateQueue struct {
	mu    sync.Mutex
	items []engine.Candidate
}

// Enqueue appends c.
func (q *CandidateQueue) Enqueue(c engine.Candidate) {
	q.mu.Lock()
	q.items = append(q.items, c)
	q.mu.Unlock()
}

// Drain returns every buffered candidate in arrival order and empties the
// queue. Draining an empty queue returns nil.
func (q *CandidateQueue) Drain() []engine.Candidate {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	return out
}

// Len returns the number of buffered candidates.
func (q *CandidateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
