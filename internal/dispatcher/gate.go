// internal/dispatcher/gate.go
package dispatcher

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// gate bounds the number of concurrent dispatch workers and hands out stable
// worker indexes.
type gate struct {
	sem *semaphore.Weighted

	mu    sync.Mutex
	slots []bool
	inUse int
}

func newGate(size int) *gate {
	return &gate{
		sem:   semaphore.NewWeighted(int64(size)),
		slots: make([]bool, size),
	}
}

// Entry is an occupied gate slot. It must be released exactly once by its
// owner; further Release calls are ignored.
type Entry struct {
	g     *gate
	index int
	once  sync.Once
}

// Acquire waits for a free slot. If ctx is done first, no slot is taken.
func (g *gate) Acquire(ctx context.Context) (*Entry, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	idx := 0
	for idx < len(g.slots) && g.slots[idx] {
		idx++
	}
	g.slots[idx] = true
	g.inUse++
	return &Entry{g: g, index: idx}, nil
}

// InUse reports the number of occupied slots.
func (g *gate) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inUse
}

// WorkerIndex is in [0, ConcurrentDispatches) and unique among held entries.
func (e *Entry) WorkerIndex() int {
	return e.index
}

func (e *Entry) Release() {
	e.once.Do(func() {
		e.g.mu.Lock()
		e.g.slots[e.index] = false
		e.g.inUse--
		e.g.mu.Unlock()
		e.g.sem.Release(1)
	})
}
