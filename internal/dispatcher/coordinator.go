// internal/dispatcher/coordinator.go
package dispatcher

import (
	"time"

	"github.com/trafi/big-querier/internal/domain"
)

// run is the coordinator loop. Each cycle decides whether to cut a batch now
// or pause until the batch fills up, the send interval elapses or Close is
// called. Once draining, it cuts batches back to back until the queue is
// empty and then waits for the in-flight workers.
func (d *Dispatcher) run() {
	defer close(d.done)

	last := d.clock.Now()
	for {
		size := d.queue.Size()
		draining := d.draining()
		if size == 0 && draining {
			break
		}

		if size < d.opts.BatchSize && !draining {
			if remaining := d.opts.SendBatchInterval - d.clock.Since(last); remaining > 0 {
				d.pause(remaining)
			}
		}
		last = d.clock.Now()

		if d.queue.Size() == 0 {
			continue
		}
		if !d.cut() {
			break
		}
	}

	d.workers.Wait()

	if d.abortCtx.Err() != nil {
		if rows := d.queue.Dequeue(d.queue.Size()); len(rows) > 0 {
			d.logger.Warn("rows left in queue after aborted drain", "count", len(rows))
			d.sink.OnUnsentOnShutdown(rowsOf(rows))
		}
	}
	d.abort()
	d.state.Store(int32(Stopped))
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) draining() bool {
	select {
	case <-d.drain:
		return true
	default:
		return false
	}
}

// pause blocks for up to wait, returning early when the queue reaches a full
// batch or Close is called.
func (d *Dispatcher) pause(wait time.Duration) {
	// A wake signal may be left over from a batch that was already cut.
	select {
	case <-d.wake:
	default:
	}
	if d.queue.Size() >= d.opts.BatchSize {
		return
	}

	timer := d.clock.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-d.wake:
	case <-d.drain:
	}
}

// cut takes a gate slot, dequeues up to one batch and hands it to a worker.
// It returns false when the gate wait was aborted.
func (d *Dispatcher) cut() bool {
	entry, err := d.gate.Acquire(d.abortCtx)
	if err != nil {
		d.logger.Warn("gate acquisition aborted", "error", err)
		return false
	}

	batch := d.queue.Dequeue(d.opts.BatchSize)
	if len(batch) == 0 {
		entry.Release()
		return true
	}

	id := d.inFlight.Add(len(batch))
	d.logger.Debug("batch cut", "size", len(batch), "worker", entry.WorkerIndex(), "queued", d.queue.Size())
	d.workers.Go(func() error {
		defer d.inFlight.Remove(id)
		defer entry.Release()
		d.work(entry.WorkerIndex(), batch)
		return nil
	})
	return true
}

func rowsOf(items []item) []domain.Row {
	rows := make([]domain.Row, len(items))
	for i, it := range items {
		rows[i] = it.row
	}
	return rows
}
