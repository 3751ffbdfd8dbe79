// internal/dispatcher/worker.go
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/trafi/big-querier/internal/domain"
)

// subBatch is the part of a batch bound for one destination. Rows whose
// destination could not be resolved are grouped by error instead.
type subBatch struct {
	destination string
	err         error
	rows        []domain.Row
}

// work delivers one batch. It never returns an error: every failure is
// reported to the sink for the sub-batch it affects.
func (d *Dispatcher) work(worker int, batch []item) {
	start := d.clock.Now()
	correlationID := uuid.NewString()

	ctx, span := d.tracer.Start(d.abortCtx, "dispatcher.Batch", trace.WithAttributes(
		attribute.String("correlation_id", correlationID),
		attribute.Int("batch.size", len(batch)),
		attribute.Int("worker", worker),
	))
	defer span.End()

	groups := d.group(batch)
	span.SetAttributes(attribute.Int("batch.destinations", len(groups)))

	for i, sb := range groups {
		if ctx.Err() != nil {
			var unsent []domain.Row
			for _, rest := range groups[i:] {
				unsent = append(unsent, rest.rows...)
			}
			d.logger.Warn("drain aborted, rows not sent", "count", len(unsent), "correlation_id", correlationID)
			span.SetStatus(codes.Error, "drain aborted")
			d.sink.OnUnsentOnShutdown(unsent)
			break
		}
		d.send(ctx, sb, correlationID, worker)
	}

	d.lastBatch.Store(int64(len(batch)))
	d.lastBatchNs.Store(int64(d.clock.Since(start)))
}

// group splits batch by destination, keeping the order of first appearance
// and the order of rows within each group.
func (d *Dispatcher) group(batch []item) []*subBatch {
	var groups []*subBatch
	byKey := make(map[string]*subBatch)
	for _, it := range batch {
		name, err := d.destinationOf(it.ts)
		key := name
		if err != nil {
			key = "\x00" + err.Error()
		}
		sb, ok := byKey[key]
		if !ok {
			sb = &subBatch{destination: name, err: err}
			byKey[key] = sb
			groups = append(groups, sb)
		}
		sb.rows = append(sb.rows, it.row)
	}
	return groups
}

func (d *Dispatcher) destinationOf(t time.Time) (name string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("destination resolver panicked: %v", r)
		}
	}()
	return d.resolve(t)
}

// send resolves the destination of sb and inserts its rows.
func (d *Dispatcher) send(ctx context.Context, sb *subBatch, correlationID string, worker int) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.Insert", trace.WithAttributes(
		attribute.String("destination", sb.destination),
		attribute.Int("rows", len(sb.rows)),
	))
	defer span.End()

	fail := func(err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to insert rows")
		d.logger.Error("failed to insert rows",
			"destination", sb.destination,
			"rows", len(sb.rows),
			"correlation_id", correlationID,
			"error", err,
		)
		d.sink.OnInsertError(err, sb.rows, correlationID)
	}
	defer func() {
		if r := recover(); r != nil {
			fail(fmt.Errorf("panic while inserting into %q: %v", sb.destination, r))
		}
	}()

	if sb.err != nil {
		fail(fmt.Errorf("resolve destination: %w", sb.err))
		return
	}

	start := d.clock.Now()
	dest, err := d.store.GetOrCreate(ctx, sb.destination, d.schema)
	if err != nil {
		var destErr *domain.DestinationError
		if !errors.As(err, &destErr) {
			err = &domain.DestinationError{Destination: sb.destination, Op: "get or create", Err: err}
		}
		fail(err)
		return
	}

	d.sink.OnRowsAccepted(len(sb.rows), correlationID)
	if err := dest.Insert(ctx, sb.rows); err != nil {
		var destErr *domain.DestinationError
		if !errors.As(err, &destErr) {
			err = &domain.DestinationError{Destination: sb.destination, Op: "insert", Err: err}
		}
		fail(err)
		return
	}

	elapsed := d.clock.Since(start)
	d.logger.Debug("rows stored",
		"destination", sb.destination,
		"rows", len(sb.rows),
		"elapsed", elapsed,
		"correlation_id", correlationID,
		"worker", worker,
	)
	d.sink.OnStored(len(sb.rows), elapsed.Milliseconds(), d.queue.Size(), correlationID, worker)
}
