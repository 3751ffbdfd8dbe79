package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/trafi/big-querier/internal/domain"
	"github.com/trafi/big-querier/internal/partition"
)

const interval = 2 * time.Second

type harness struct {
	d     *Dispatcher
	store *fakeStore
	sink  *recordingSink
	clock *clocktesting.FakeClock
}

func newHarness(t *testing.T, store *fakeStore, resolve domain.DestinationResolver, opts Options) *harness {
	t.Helper()
	h := &harness{
		store: store,
		sink:  &recordingSink{},
		clock: clocktesting.NewFakeClock(day1),
	}
	if resolve == nil {
		resolve = partition.Resolver("r", partition.Day)
	}
	opts.SendBatchInterval = interval
	opts.Clock = h.clock
	opts.Sink = h.sink
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	d, err := New(store, domain.Schema{{Name: "n", Kind: domain.KindInt64}}, resolve, opts)
	require.NoError(t, err)
	h.d = d
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return h
}

func (h *harness) close(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.d.Close(ctx))
}

func insertedIDs(calls []insertCall) []string {
	var ids []string
	for _, c := range calls {
		for _, r := range c.rows {
			ids = append(ids, r.InsertID)
		}
	}
	sort.Strings(ids)
	return ids
}

func TestNewValidatesOptions(t *testing.T) {
	resolve := partition.Resolver("r", partition.Day)

	_, err := New(newFakeStore(), nil, resolve, Options{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = New(newFakeStore(), nil, resolve, Options{BatchSize: 10, ConcurrentDispatches: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = New(newFakeStore(), nil, resolve, Options{BatchSize: 10, MaxQueueLength: -5})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = New(nil, nil, resolve, Options{BatchSize: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = New(newFakeStore(), nil, nil, Options{BatchSize: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestDefaults(t *testing.T) {
	opts, err := Options{BatchSize: 1}.withDefaults()
	require.NoError(t, err)
	assert.Equal(t, DefaultConcurrentDispatches, opts.ConcurrentDispatches)
	assert.Equal(t, DefaultMaxQueueLength, opts.MaxQueueLength)
	assert.Equal(t, DefaultSendBatchInterval, opts.SendBatchInterval)
	assert.NotNil(t, opts.Clock)
	assert.NotNil(t, opts.Sink)
	assert.NotNil(t, opts.Logger)
}

func TestNoLossUnderCapacity(t *testing.T) {
	store := newFakeStore()
	h := newHarness(t, store, nil, Options{BatchSize: 10, ConcurrentDispatches: 2})

	var want []string
	for i := 0; i < 95; i++ {
		row := rowN(i)
		want = append(want, row.InsertID)
		h.d.Dispatch(day1, row)
	}
	h.close(t)

	sort.Strings(want)
	assert.Equal(t, want, insertedIDs(store.Inserted()))
	assert.Zero(t, h.sink.Dropped())
	assert.Empty(t, h.sink.Failures())
	assert.Empty(t, h.sink.Unsent())
}

func TestOverflowIsDroppedAndReported(t *testing.T) {
	store := newFakeStore()
	h := newHarness(t, store, nil, Options{BatchSize: 1000, MaxQueueLength: 100})

	for i := 0; i < 103; i++ {
		assert.Equal(t, i < 100, h.d.Dispatch(day1, rowN(i)), "row %d", i)
	}

	assert.Equal(t, 3, h.sink.Dropped())
	assert.Equal(t, 100, h.d.Stats().Queued)
	for i, r := range h.sink.dropped {
		assert.Equal(t, rowN(100+i).InsertID, r.InsertID)
	}

	h.close(t)
	assert.Len(t, insertedIDs(store.Inserted()), 100)
}

func TestBatchSizingAndGateBound(t *testing.T) {
	store := newFakeStore()
	store.release = make(chan struct{})
	h := newHarness(t, store, nil, Options{BatchSize: 10, ConcurrentDispatches: 3})

	for i := 0; i < 33; i++ {
		h.d.Dispatch(day1, rowN(i))
	}

	require.Eventually(t, func() bool { return len(store.Started()) == 3 }, 5*time.Second, time.Millisecond)
	for _, call := range store.Started() {
		assert.Len(t, call.rows, 10)
	}
	assert.Equal(t, 3, h.d.Stats().BusyWorkers)

	// The remaining partial batch waits for the send interval.
	require.Eventually(t, func() bool {
		return h.clock.HasWaiters() && h.d.Stats().Queued == 3
	}, 5*time.Second, time.Millisecond)
	assert.Len(t, store.Started(), 3)

	h.clock.Step(interval)
	// All slots are busy, so the partial batch is cut only when one frees.
	require.Eventually(t, func() bool { return h.d.Stats().Queued == 3 }, time.Second, time.Millisecond)
	assert.Len(t, store.Started(), 3)

	store.release <- struct{}{}
	require.Eventually(t, func() bool { return len(store.Started()) == 4 }, 5*time.Second, time.Millisecond)
	assert.Len(t, store.Started()[3].rows, 3)

	close(store.release)
	h.close(t)

	assert.Len(t, insertedIDs(store.Inserted()), 33)
	assert.LessOrEqual(t, store.peak.Load(), int32(3))

	workers := map[int]bool{}
	for _, ev := range h.sink.Stored() {
		assert.GreaterOrEqual(t, ev.worker, 0)
		assert.Less(t, ev.worker, 3)
		workers[ev.worker] = true
	}
	assert.Len(t, workers, 3)
}

func TestPartialBatchIsSentAfterInterval(t *testing.T) {
	store := newFakeStore()
	h := newHarness(t, store, nil, Options{BatchSize: 10})

	for i := 0; i < 4; i++ {
		h.d.Dispatch(day1, rowN(i))
	}
	require.Eventually(t, h.clock.HasWaiters, 5*time.Second, time.Millisecond)
	assert.Empty(t, store.Started())

	h.clock.Step(interval)
	require.Eventually(t, func() bool { return len(store.Inserted()) == 1 }, 5*time.Second, time.Millisecond)
	assert.Len(t, store.Inserted()[0].rows, 4)
	require.Eventually(t, func() bool { return h.d.Stats().LastBatchSize == 4 }, 5*time.Second, time.Millisecond)
}

func TestRoutesByDestinationKeepingOrder(t *testing.T) {
	store := newFakeStore()
	h := newHarness(t, store, nil, Options{BatchSize: 10})

	dayA := day1
	dayB := day1.AddDate(0, 0, 1)
	n := 0
	dispatch := func(ts time.Time, count int) {
		for i := 0; i < count; i++ {
			h.d.Dispatch(ts, rowN(n))
			n++
		}
	}
	dispatch(dayA, 7)
	dispatch(dayB, 5)
	dispatch(dayA, 8)
	h.close(t)

	var got []string
	for _, c := range store.Inserted() {
		got = append(got, fmt.Sprintf("%s:%d", c.destination, len(c.rows)))
	}
	assert.Equal(t, []string{"r20240101:7", "r20240102:3", "r20240102:2", "r20240101:8"}, got)

	perDestination := map[string][]int64{}
	for _, c := range store.Inserted() {
		for _, r := range c.rows {
			perDestination[c.destination] = append(perDestination[c.destination], r.Values["n"].(int64))
		}
	}
	for dest, ns := range perDestination {
		assert.True(t, sort.SliceIsSorted(ns, func(i, j int) bool { return ns[i] < ns[j] }), dest)
	}
	assert.Equal(t, 2, store.created["r20240101"])
	assert.Equal(t, 2, store.created["r20240102"])

	// Sub-batches of one batch share a correlation id.
	stored := h.sink.Stored()
	require.Len(t, stored, 4)
	assert.Equal(t, stored[0].correlationID, stored[1].correlationID)
	assert.Equal(t, stored[2].correlationID, stored[3].correlationID)
	assert.NotEqual(t, stored[0].correlationID, stored[2].correlationID)
}

func TestDrainOnClose(t *testing.T) {
	store := newFakeStore()
	h := newHarness(t, store, nil, Options{BatchSize: 10})

	for i := 0; i < 66; i++ {
		h.d.Dispatch(day1, rowN(i))
	}
	// The clock never advances: the final partial batch must be flushed by
	// the drain, not by the send interval.
	h.close(t)

	var sizes []int
	for _, ev := range h.sink.Stored() {
		sizes = append(sizes, ev.count)
	}
	sort.Ints(sizes)
	assert.Equal(t, []int{6, 10, 10, 10, 10, 10, 10}, sizes)
	assert.Empty(t, h.sink.Unsent())
	assert.Equal(t, 1, h.sink.waiting)

	stats := h.d.Stats()
	assert.Zero(t, stats.InFlightBatches)
	assert.Zero(t, stats.Queued)
	assert.Equal(t, Stopped.String(), stats.State)

	h.d.Dispatch(day1, rowN(100))
	assert.Equal(t, 1, h.sink.Dropped())

	// Close is idempotent.
	h.close(t)
	assert.Equal(t, 1, h.sink.waiting)
}

func TestRoutingFailureIsIsolated(t *testing.T) {
	store := newFakeStore()
	day2 := day1.AddDate(0, 0, 1)
	day3 := day1.AddDate(0, 0, 2)
	resolve := func(ts time.Time) (string, error) {
		switch ts.Day() {
		case day2.Day():
			return "", errors.New("no destination for day 2")
		case day3.Day():
			panic("resolver exploded")
		}
		return partition.Name("r", partition.Day, ts)
	}
	h := newHarness(t, store, resolve, Options{BatchSize: 20})

	for i := 0; i < 5; i++ {
		h.d.Dispatch(day1, rowN(i))
		h.d.Dispatch(day2, rowN(100+i))
		h.d.Dispatch(day3, rowN(200+i))
	}
	h.close(t)

	inserted := store.Inserted()
	require.Len(t, inserted, 1)
	assert.Equal(t, "r20240101", inserted[0].destination)
	assert.Len(t, inserted[0].rows, 5)

	failures := h.sink.Failures()
	require.Len(t, failures, 2)
	assert.ErrorContains(t, failures[0].err, "no destination for day 2")
	assert.Len(t, failures[0].rows, 5)
	assert.ErrorContains(t, failures[1].err, "resolver exploded")
	assert.Len(t, failures[1].rows, 5)
}

func TestStoreFailureIsIsolated(t *testing.T) {
	store := newFakeStore()
	store.getErr["r20240102"] = errors.New("permission denied")
	h := newHarness(t, store, nil, Options{BatchSize: 10})

	for i := 0; i < 4; i++ {
		h.d.Dispatch(day1, rowN(i))
		h.d.Dispatch(day1.AddDate(0, 0, 1), rowN(10+i))
	}
	h.close(t)

	require.Len(t, store.Inserted(), 1)
	failures := h.sink.Failures()
	require.Len(t, failures, 1)

	var destErr *domain.DestinationError
	require.ErrorAs(t, failures[0].err, &destErr)
	assert.Equal(t, "r20240102", destErr.Destination)
	assert.Len(t, failures[0].rows, 4)
}

func TestCloseAbortsWhenContextExpires(t *testing.T) {
	store := newFakeStore()
	store.release = make(chan struct{})
	h := newHarness(t, store, nil, Options{BatchSize: 10})

	for i := 0; i < 25; i++ {
		h.d.Dispatch(day1, rowN(i))
	}
	require.Eventually(t, func() bool { return len(store.Started()) == 1 }, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := h.d.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The blocked insert is cancelled, the rest never left the queue.
	failures := h.sink.Failures()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0].err, context.Canceled)
	assert.Len(t, failures[0].rows, 10)
	assert.Len(t, h.sink.Unsent(), 15)
	assert.Equal(t, Stopped, h.d.State())
	assert.Zero(t, h.d.Stats().BusyWorkers)
}

func TestIdleCyclesRestartTheInterval(t *testing.T) {
	store := newFakeStore()
	h := newHarness(t, store, nil, Options{BatchSize: 10})

	// Empty cycles keep pausing for a full interval each.
	for i := 0; i < 3; i++ {
		require.Eventually(t, h.clock.HasWaiters, 5*time.Second, time.Millisecond)
		h.clock.Step(interval)
	}
	require.Eventually(t, h.clock.HasWaiters, 5*time.Second, time.Millisecond)
	h.clock.Step(interval / 2)

	// A long idle period does not make the next row go out immediately; it
	// leaves with the end of the current interval.
	require.True(t, h.d.Dispatch(h.clock.Now(), rowN(0)))
	assert.Never(t, func() bool { return len(store.Started()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	h.clock.Step(interval/2 - time.Millisecond)
	assert.Never(t, func() bool { return len(store.Started()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	h.clock.Step(time.Millisecond)
	require.Eventually(t, func() bool { return len(store.Inserted()) == 1 }, 5*time.Second, time.Millisecond)
	assert.Len(t, store.Inserted()[0].rows, 1)
}

func TestCloseAfterStopIgnoresExpiredContext(t *testing.T) {
	h := newHarness(t, newFakeStore(), nil, Options{BatchSize: 10})
	h.d.Dispatch(day1, rowN(0))
	h.close(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 200; i++ {
		require.NoError(t, h.d.Close(ctx))
	}
	assert.Equal(t, Stopped, h.d.State())
	assert.Empty(t, h.sink.Unsent())
}

func TestStopReleasesAbortContext(t *testing.T) {
	h := newHarness(t, newFakeStore(), nil, Options{BatchSize: 10})
	h.close(t)

	assert.ErrorIs(t, h.d.abortCtx.Err(), context.Canceled)
}
