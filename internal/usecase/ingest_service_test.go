package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/trafi/big-querier/internal/domain"
	"github.com/trafi/big-querier/internal/infra/memory"
)

type dispatched struct {
	at  time.Time
	row domain.Row
}

type fakeDispatcher struct {
	mu        sync.Mutex
	rows      []dispatched
	accepting bool
	// capacity > 0 makes Dispatch refuse rows once that many are queued.
	capacity int
}

func (f *fakeDispatcher) Dispatch(t time.Time, row domain.Row) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.capacity > 0 && len(f.rows) >= f.capacity {
		return false
	}
	f.rows = append(f.rows, dispatched{at: t, row: row})
	return true
}

func (f *fakeDispatcher) Close(context.Context) error { return nil }
func (f *fakeDispatcher) Accepting() bool { return f.accepting }

var now = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func newService(t *testing.T, store domain.DestinationStore) (*IngestService, *fakeDispatcher) {
	t.Helper()
	d := &fakeDispatcher{accepting: true}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewIngestService(d, store, clocktesting.NewFakeClock(now), logger), d
}

func TestIngest(t *testing.T) {
	svc, d := newService(t, memory.NewStore(slog.New(slog.NewTextHandler(io.Discard, nil))))
	at := time.Date(2024, 2, 29, 10, 0, 0, 0, time.UTC)

	res, err := svc.Ingest(context.Background(), []*domain.Event{
		{Name: "ride_started", Source: "ios", OccurredAt: at},
		{Name: "", Source: "ios"},
		nil,
		{ID: "fixed", Name: "ride_ended", Source: "android"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Accepted)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, 1, res.Rejected[0].Index)
	assert.Contains(t, res.Rejected[0].Error, "name")
	assert.Equal(t, 2, res.Rejected[1].Index)

	require.Len(t, d.rows, 2)
	assert.Equal(t, at, d.rows[0].at)
	assert.NotEmpty(t, d.rows[0].row.Values["id"])
	assert.Equal(t, now, d.rows[1].at, "missing time is stamped with the receive time")
	assert.Equal(t, "fixed", d.rows[1].row.Values["id"])
}

func TestIngestWhenClosed(t *testing.T) {
	svc, d := newService(t, memory.NewStore(slog.New(slog.NewTextHandler(io.Discard, nil))))
	d.accepting = false

	_, err := svc.Ingest(context.Background(), []*domain.Event{{Name: "a", Source: "b"}})
	assert.ErrorIs(t, err, domain.ErrDispatcherClosed)
	assert.Empty(t, d.rows)
}

func TestIngestCountsOnlyQueuedRows(t *testing.T) {
	svc, d := newService(t, memory.NewStore(slog.New(slog.NewTextHandler(io.Discard, nil))))
	d.capacity = 2

	res, err := svc.Ingest(context.Background(), []*domain.Event{
		{Name: "a", Source: "web"},
		{Name: "b", Source: "web"},
		{Name: "c", Source: "web"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Accepted)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 2, res.Rejected[0].Index)
	assert.Equal(t, errNotQueued, res.Rejected[0].Error)
	assert.Len(t, d.rows, 2)
}

func TestRecentRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc, d := newService(t, store)

	user := "u-1"
	value := 4.2
	in := &domain.Event{
		ID:         "e-1",
		Name:       "ride_started",
		Source:     "ios",
		OccurredAt: now,
		UserID:     &user,
		Value:      &value,
		Count:      3,
		Tags:       []string{"promo"},
		Attributes: []domain.Attribute{{Key: "city", Value: "vilnius"}},
		Device:     &domain.Device{Platform: "ios", AppVersion: "7.1"},
	}
	_, err := svc.Ingest(ctx, []*domain.Event{in})
	require.NoError(t, err)

	dest, err := store.GetOrCreate(ctx, "events_20240301", EventContract().Schema())
	require.NoError(t, err)
	require.NoError(t, dest.Insert(ctx, []domain.Row{d.rows[0].row}))

	events, err := svc.Recent(ctx, "events_20240301", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, *in, events[0])

	_, err = svc.Recent(ctx, "events_19990101", 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, svc.DeleteDestination(ctx, "events_20240301"))
	assert.ErrorIs(t, svc.DeleteDestination(ctx, "events_20240301"), domain.ErrNotFound)
}

type writeOnlyStore struct{}

func (writeOnlyStore) GetOrCreate(context.Context, string, domain.Schema) (domain.Destination, error) {
	return nil, errors.New("unused")
}

func TestRecentUnsupported(t *testing.T) {
	svc, _ := newService(t, writeOnlyStore{})
	assert.False(t, svc.CanRead())

	_, err := svc.Recent(context.Background(), "x", 1)
	assert.ErrorIs(t, err, errors.ErrUnsupported)
	assert.ErrorIs(t, svc.DeleteDestination(context.Background(), "x"), errors.ErrUnsupported)
}

func TestEventContractSchema(t *testing.T) {
	schema := EventContract().Schema()
	require.NoError(t, schema.Validate())

	names := make([]string, len(schema))
	for i, f := range schema {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"id", "name", "source", "occurred_at", "user_id", "value", "count", "tags", "attributes", "device"}, names)
	assert.Equal(t, domain.KindRecord, schema[8].Kind)
	assert.True(t, schema[8].Repeated)
}
