// internal/infra/memory/memory_store.go
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"

	"github.com/trafi/big-querier/internal/domain"
)

// Store keeps destinations in process memory. Used in dev mode and tests.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
	logger *slog.Logger
}

type table struct {
	schema   domain.Schema
	rows     []map[string]any
	inserted map[string]struct{}
}

func NewStore(logger *slog.Logger) *Store {
	return &Store{
		tables: make(map[string]*table),
		logger: logger.With("component", "memory-store"),
	}
}

func (s *Store) GetOrCreate(_ context.Context, name string, schema domain.Schema) (domain.Destination, error) {
	if name == "" {
		return nil, fmt.Errorf("destination name cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[name]; !ok {
		s.tables[name] = &table{schema: schema, inserted: make(map[string]struct{})}
		s.logger.Info("created destination", "destination", name)
	}
	return &destination{store: s, name: name}, nil
}

func (s *Store) Read(_ context.Context, name string, limit int) ([]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, name)
	}
	n := len(t.rows)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = maps.Clone(t.rows[i])
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[name]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, name)
	}
	delete(s.tables, name)
	return nil
}

// Destinations lists the existing destination names in order.
func (s *Store) Destinations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type destination struct {
	store *Store
	name  string
}

// Insert appends rows. Rows whose insert id was already seen are skipped,
// like BigQuery's best-effort de-duplication.
func (d *destination) Insert(ctx context.Context, rows []domain.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	t, ok := d.store.tables[d.name]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, d.name)
	}
	for _, r := range rows {
		if r.InsertID != "" {
			if _, dup := t.inserted[r.InsertID]; dup {
				continue
			}
			t.inserted[r.InsertID] = struct{}{}
		}
		t.rows = append(t.rows, maps.Clone(r.Values))
	}
	return nil
}

var (
	_ domain.DestinationStore   = (*Store)(nil)
	_ domain.DestinationReader  = (*Store)(nil)
	_ domain.DestinationDeleter = (*Store)(nil)
)
