// internal/domain/events.go
package domain

// EventSink receives lifecycle and telemetry callbacks from the dispatcher.
//
// Callbacks run on the dispatcher's goroutines (the producer for
// OnCannotEnqueue, a worker for the insert callbacks), so they must be quick
// and must not call back into the dispatcher.
type EventSink interface {
	// OnCannotEnqueue is called when a row is dropped because the queue is
	// full or the dispatcher is closed.
	OnCannotEnqueue(row Row)
	// OnRowsAccepted is called right before a sub-batch is inserted.
	OnRowsAccepted(count int, correlationID string)
	// OnInsertError is called when a sub-batch could not be routed, its
	// destination could not be resolved, or the insert failed.
	OnInsertError(err error, rows []Row, correlationID string)
	// OnStored is called after a sub-batch was inserted successfully.
	OnStored(stored int, elapsedMs int64, remainingInQueue int, correlationID string, worker int)
	// OnUnsentOnShutdown is called with rows that were never attempted
	// because the drain was aborted.
	OnUnsentOnShutdown(rows []Row)
	// OnWaitingForDrain is called once when Close starts waiting.
	OnWaitingForDrain()
}

// NopEventSink ignores every callback. Embed it to implement only a subset of
// EventSink.
type NopEventSink struct{}

func (NopEventSink) OnCannotEnqueue(Row) {}
func (NopEventSink) OnRowsAccepted(int, string) {}
func (NopEventSink) OnInsertError(error, []Row, string) {}
func (NopEventSink) OnStored(int, int64, int, string, int) {}
func (NopEventSink) OnUnsentOnShutdown([]Row) {}
func (NopEventSink) OnWaitingForDrain() {}

var _ EventSink = NopEventSink{}
