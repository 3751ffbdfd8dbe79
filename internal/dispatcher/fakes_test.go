package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trafi/big-querier/internal/domain"
)

var day1 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func rowN(n int) domain.Row {
	return domain.Row{InsertID: fmt.Sprintf("row-%d", n), Values: map[string]any{"n": int64(n)}}
}

type insertCall struct {
	destination string
	rows        []domain.Row
}

// fakeStore records inserts. When release is set, every Insert waits for a
// value on it or for ctx to be done.
type fakeStore struct {
	mu       sync.Mutex
	created  map[string]int
	started  []insertCall
	inserted []insertCall
	getErr   map[string]error
	release  chan struct{}

	current atomic.Int32
	peak    atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{created: map[string]int{}, getErr: map[string]error{}}
}

func (s *fakeStore) GetOrCreate(_ context.Context, name string, _ domain.Schema) (domain.Destination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.getErr[name]; err != nil {
		return nil, err
	}
	s.created[name]++
	return &fakeDestination{store: s, name: name}, nil
}

func (s *fakeStore) Started() []insertCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]insertCall(nil), s.started...)
}

func (s *fakeStore) Inserted() []insertCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]insertCall(nil), s.inserted...)
}

type fakeDestination struct {
	store *fakeStore
	name  string
}

func (d *fakeDestination) Insert(ctx context.Context, rows []domain.Row) error {
	s := d.store
	call := insertCall{destination: d.name, rows: append([]domain.Row(nil), rows...)}

	n := s.current.Add(1)
	defer s.current.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	s.mu.Lock()
	s.started = append(s.started, call)
	s.mu.Unlock()

	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	s.inserted = append(s.inserted, call)
	s.mu.Unlock()
	return nil
}

type insertFailure struct {
	err  error
	rows []domain.Row
}

type storedEvent struct {
	count         int
	remaining     int
	correlationID string
	worker        int
}

type recordingSink struct {
	mu       sync.Mutex
	dropped  []domain.Row
	accepted []int
	failures []insertFailure
	stored   []storedEvent
	unsent   []domain.Row
	waiting  int
}

func (s *recordingSink) OnCannotEnqueue(row domain.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped = append(s.dropped, row)
}

func (s *recordingSink) OnRowsAccepted(count int, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted = append(s.accepted, count)
}

func (s *recordingSink) OnInsertError(err error, rows []domain.Row, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, insertFailure{err: err, rows: rows})
}

func (s *recordingSink) OnStored(stored int, _ int64, remaining int, correlationID string, worker int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, storedEvent{count: stored, remaining: remaining, correlationID: correlationID, worker: worker})
}

func (s *recordingSink) OnUnsentOnShutdown(rows []domain.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsent = append(s.unsent, rows...)
}

func (s *recordingSink) OnWaitingForDrain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiting++
}

func (s *recordingSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dropped)
}

func (s *recordingSink) Stored() []storedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storedEvent(nil), s.stored...)
}

func (s *recordingSink) Failures() []insertFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]insertFailure(nil), s.failures...)
}

func (s *recordingSink) Unsent() []domain.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Row(nil), s.unsent...)
}
