// internal/metrics/sink.go
package metrics

import (
	"time"

	"github.com/trafi/big-querier/internal/domain"
)

// Sink records dispatcher events as Prometheus metrics.
type Sink struct{}

func NewSink() Sink {
	Draining.Set(0)
	return Sink{}
}

func (Sink) OnCannotEnqueue(domain.Row) {
	RowsTotal.WithLabelValues(OutcomeDropped).Inc()
}

func (Sink) OnRowsAccepted(count int, _ string) {
	RowsTotal.WithLabelValues(OutcomeAccepted).Add(float64(count))
}

func (Sink) OnInsertError(_ error, rows []domain.Row, _ string) {
	RowsTotal.WithLabelValues(OutcomeFailed).Add(float64(len(rows)))
}

func (Sink) OnStored(stored int, elapsedMs int64, remainingInQueue int, _ string, _ int) {
	RowsTotal.WithLabelValues(OutcomeStored).Add(float64(stored))
	InsertDuration.Observe((time.Duration(elapsedMs) * time.Millisecond).Seconds())
	QueueLength.Set(float64(remainingInQueue))
}

func (Sink) OnUnsentOnShutdown(rows []domain.Row) {
	RowsTotal.WithLabelValues(OutcomeUnsent).Add(float64(len(rows)))
}

func (Sink) OnWaitingForDrain() {
	Draining.Set(1)
}

var _ domain.EventSink = Sink{}
