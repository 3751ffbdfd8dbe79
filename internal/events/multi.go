// internal/events/multi.go
package events

import "github.com/trafi/big-querier/internal/domain"

// Multi fans every callback out to all sinks in order.
type Multi []domain.EventSink

// Combine returns a single sink for sinks, skipping nil entries.
func Combine(sinks ...domain.EventSink) domain.EventSink {
	var m Multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	switch len(m) {
	case 0:
		return domain.NopEventSink{}
	case 1:
		return m[0]
	}
	return m
}

func (m Multi) OnCannotEnqueue(row domain.Row) {
	for _, s := range m {
		s.OnCannotEnqueue(row)
	}
}

func (m Multi) OnRowsAccepted(count int, correlationID string) {
	for _, s := range m {
		s.OnRowsAccepted(count, correlationID)
	}
}

func (m Multi) OnInsertError(err error, rows []domain.Row, correlationID string) {
	for _, s := range m {
		s.OnInsertError(err, rows, correlationID)
	}
}

func (m Multi) OnStored(stored int, elapsedMs int64, remainingInQueue int, correlationID string, worker int) {
	for _, s := range m {
		s.OnStored(stored, elapsedMs, remainingInQueue, correlationID, worker)
	}
}

func (m Multi) OnUnsentOnShutdown(rows []domain.Row) {
	for _, s := range m {
		s.OnUnsentOnShutdown(rows)
	}
}

func (m Multi) OnWaitingForDrain() {
	for _, s := range m {
		s.OnWaitingForDrain()
	}
}
