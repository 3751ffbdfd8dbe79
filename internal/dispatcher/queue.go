// internal/dispatcher/queue.go
package dispatcher

import (
	"sync"
	"time"

	"github.com/trafi/big-querier/internal/domain"
)

// item is one pending row plus the time used to route it.
type item struct {
	ts  time.Time
	row domain.Row
}

// queue is a bounded FIFO shared by producers and the coordinator. It never
// blocks: Enqueue rejects at capacity and Dequeue returns what is available.
type queue struct {
	mu    sync.Mutex
	items []item
	max   int
}

func newQueue(max int) *queue {
	return &queue{max: max}
}

// Enqueue appends it unless the queue already holds max items. It returns the
// size after the call.
func (q *queue) Enqueue(it item) (bool, int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.max {
		return false, len(q.items)
	}
	q.items = append(q.items, it)
	return true, len(q.items)
}

// Dequeue removes and returns up to n items from the head.
func (q *queue) Dequeue(n int) []item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.items) {
		n = len(q.items)
	}
	if n <= 0 {
		return nil
	}
	out := make([]item, n)
	copy(out, q.items)
	// Clear the references so rows can be collected before the backing array
	// is reallocated.
	clear(q.items[:n])
	q.items = q.items[n:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return out
}

func (q *queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
