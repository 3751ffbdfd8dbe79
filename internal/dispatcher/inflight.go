// internal/dispatcher/inflight.go
package dispatcher

import "sync"

// inFlightSet tracks batches handed to workers, keyed by a sequence number.
type inFlightSet struct {
	mu      sync.Mutex
	next    uint64
	batches map[uint64]int
}

func (s *inFlightSet) Add(size int) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.batches[s.next] = size
	return s.next
}

func (s *inFlightSet) Remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, id)
}

func (s *inFlightSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// Rows returns the number of rows held by in-flight batches.
func (s *inFlightSet) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, size := range s.batches {
		n += size
	}
	return n
}
