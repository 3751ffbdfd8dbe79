// internal/dispatcher/dispatcher.go
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/trafi/big-querier/internal/domain"
)

// State is the lifecycle state of a Dispatcher.
type State int32

const (
	Running State = iota
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Dispatcher buffers rows and writes them in batches to destinations derived
// from each row's time, with a bounded number of concurrent writers.
type Dispatcher struct {
	store   domain.DestinationStore
	schema  domain.Schema
	resolve domain.DestinationResolver

	opts   Options
	clock  clock.Clock
	sink   domain.EventSink
	logger *slog.Logger
	tracer trace.Tracer

	queue *queue
	gate  *gate

	// mu orders Dispatch against the Running -> Draining transition so that
	// no row is enqueued after the coordinator may have seen an empty queue.
	mu    sync.RWMutex
	state atomic.Int32

	wake        chan struct{}
	drain       chan struct{}
	closeOnce   sync.Once
	done        chan struct{}
	abortCtx    context.Context
	abort       context.CancelFunc
	workers     errgroup.Group
	inFlight    inFlightSet
	lastBatch   atomic.Int64
	lastBatchNs atomic.Int64
}

// New validates opts and starts the coordinator goroutine. Call Close to
// drain and stop it.
func New(store domain.DestinationStore, schema domain.Schema, resolve domain.DestinationResolver, opts Options) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: destination store is required", domain.ErrInvalidConfig)
	}
	if resolve == nil {
		return nil, fmt.Errorf("%w: destination resolver is required", domain.ErrInvalidConfig)
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	abortCtx, abort := context.WithCancel(context.Background())
	d := &Dispatcher{
		store:    store,
		schema:   schema,
		resolve:  resolve,
		opts:     opts,
		clock:    opts.Clock,
		sink:     opts.Sink,
		logger:   opts.Logger.With("component", "dispatcher"),
		tracer:   otel.Tracer("big-querier-dispatcher"),
		queue:    newQueue(opts.MaxQueueLength),
		gate:     newGate(opts.ConcurrentDispatches),
		wake:     make(chan struct{}, 1),
		drain:    make(chan struct{}),
		done:     make(chan struct{}),
		abortCtx: abortCtx,
		abort:    abort,
		inFlight: inFlightSet{batches: make(map[uint64]int)},
	}

	d.logger.Info("dispatcher started",
		"batch_size", opts.BatchSize,
		"concurrent_dispatches", opts.ConcurrentDispatches,
		"max_queue_length", opts.MaxQueueLength,
		"send_batch_interval", opts.SendBatchInterval,
	)
	go d.run()
	return d, nil
}

// Dispatch queues row for delivery to the destination resolved from t and
// reports whether it was queued. It never blocks; rows are reported to
// OnCannotEnqueue when the queue is full or Close has been called.
func (d *Dispatcher) Dispatch(t time.Time, row domain.Row) bool {
	d.mu.RLock()
	if State(d.state.Load()) != Running {
		d.mu.RUnlock()
		d.sink.OnCannotEnqueue(row)
		return false
	}
	accepted, size := d.queue.Enqueue(item{ts: t, row: row})
	d.mu.RUnlock()

	if !accepted {
		d.sink.OnCannotEnqueue(row)
		return false
	}
	if size == d.opts.BatchSize {
		select {
		case d.wake <- struct{}{}:
		default:
		}
	}
	return true
}

// Close stops accepting rows, flushes the queue and waits for in-flight
// batches. If ctx expires first, pending gate waits and inserts are
// cancelled, the rows that were never attempted are reported through
// OnUnsentOnShutdown and ctx's error is returned. Close may be called more
// than once.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.state.Store(int32(Draining))
		d.mu.Unlock()

		d.logger.Info("waiting for dispatcher to drain", "queued", d.queue.Size(), "in_flight", d.inFlight.Len())
		d.sink.OnWaitingForDrain()
		close(d.drain)
	})

	// A stopped dispatcher reports success even when ctx is already done.
	select {
	case <-d.done:
		return nil
	default:
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
	}
	select {
	case <-d.done:
		return nil
	default:
	}

	d.logger.Warn("drain deadline exceeded, aborting", "queued", d.queue.Size(), "in_flight", d.inFlight.Len())
	d.abort()
	<-d.done
	return ctx.Err()
}

func (d *Dispatcher) Accepting() bool {
	return d.State() == Running
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

var _ domain.Dispatcher = (*Dispatcher)(nil)
