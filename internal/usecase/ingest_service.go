// internal/usecase/ingest_service.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/trafi/big-querier/internal/domain"
	"github.com/trafi/big-querier/internal/record"
)

// Rejection explains why one event of a request was not dispatched.
type Rejection struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// errNotQueued is reported for events the dispatcher refused because its
// queue is full or it started closing.
const errNotQueued = "dispatcher queue is full or closing"

// IngestResult summarizes one Ingest call. Accepted counts events that were
// queued for delivery.
type IngestResult struct {
	Accepted int         `json:"accepted"`
	Rejected []Rejection `json:"rejected,omitempty"`
}

// IngestService validates events and hands them to the dispatcher. It also
// reads and drops destinations when the store supports it.
type IngestService struct {
	dispatcher domain.Dispatcher
	contract   *record.Contract[domain.Event]
	reader     domain.DestinationReader
	deleter    domain.DestinationDeleter
	clock      clock.PassiveClock
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewIngestService creates a new IngestService. store is checked for
// domain.DestinationReader and domain.DestinationDeleter support.
func NewIngestService(dispatcher domain.Dispatcher, store domain.DestinationStore, clk clock.PassiveClock, logger *slog.Logger) *IngestService {
	s := &IngestService{
		dispatcher: dispatcher,
		contract:   EventContract(),
		clock:      clk,
		logger:     logger.With("component", "ingest-service"),
		tracer:     otel.Tracer("big-querier-usecase"),
	}
	s.reader, _ = store.(domain.DestinationReader)
	s.deleter, _ = store.(domain.DestinationDeleter)
	return s
}

// Ingest dispatches every valid event. Events missing an id get one, events
// missing a time are stamped with the receive time.
func (s *IngestService) Ingest(ctx context.Context, events []*domain.Event) (IngestResult, error) {
	_, span := s.tracer.Start(ctx, "service.Ingest")
	defer span.End()
	span.SetAttributes(attribute.Int("events", len(events)))

	var result IngestResult
	if !s.dispatcher.Accepting() {
		span.SetStatus(codes.Error, "dispatcher is closed")
		return result, domain.ErrDispatcherClosed
	}

	now := s.clock.Now()
	for i, e := range events {
		if e == nil {
			result.Rejected = append(result.Rejected, Rejection{Index: i, Error: "event is null"})
			continue
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.OccurredAt.IsZero() {
			e.OccurredAt = now
		}
		if err := e.Validate(); err != nil {
			result.Rejected = append(result.Rejected, Rejection{Index: i, Error: err.Error()})
			continue
		}
		if !s.dispatcher.Dispatch(e.OccurredAt, s.contract.ToRow(*e)) {
			result.Rejected = append(result.Rejected, Rejection{Index: i, Error: errNotQueued})
			continue
		}
		result.Accepted++
	}

	span.SetAttributes(attribute.Int("accepted", result.Accepted), attribute.Int("rejected", len(result.Rejected)))
	if len(result.Rejected) > 0 {
		s.logger.Debug("rejected events", "count", len(result.Rejected))
	}
	return result, nil
}

// Recent reads back up to limit events of a destination.
func (s *IngestService) Recent(ctx context.Context, destination string, limit int) ([]domain.Event, error) {
	ctx, span := s.tracer.Start(ctx, "service.Recent")
	defer span.End()
	span.SetAttributes(attribute.String("destination", destination), attribute.Int("limit", limit))

	if s.reader == nil {
		return nil, fmt.Errorf("%w: store cannot read destinations", errors.ErrUnsupported)
	}
	rows, err := s.reader.Read(ctx, destination, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read destination")
		return nil, err
	}

	events := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		e, err := s.contract.FromRow(row)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to decode row")
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// DeleteDestination drops a destination.
func (s *IngestService) DeleteDestination(ctx context.Context, destination string) error {
	ctx, span := s.tracer.Start(ctx, "service.DeleteDestination")
	defer span.End()
	span.SetAttributes(attribute.String("destination", destination))

	if s.deleter == nil {
		return fmt.Errorf("%w: store cannot delete destinations", errors.ErrUnsupported)
	}
	if err := s.deleter.Delete(ctx, destination); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete destination")
		return err
	}
	s.logger.Info("deleted destination", "destination", destination)
	return nil
}

// CanRead reports whether Recent is supported by the store.
func (s *IngestService) CanRead() bool {
	return s.reader != nil
}
