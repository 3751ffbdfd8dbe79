// internal/domain/dispatcher.go
package domain

import (
	"context"
	"time"
)

// Dispatcher accepts rows for asynchronous, batched delivery to a destination
// derived from the row's time.
type Dispatcher interface {
	// Dispatch never blocks. It reports whether the row was queued; rows that
	// cannot be queued are also reported to the configured EventSink.
	Dispatch(t time.Time, row Row) bool
	// Close drains queued rows and waits for in-flight deliveries. If ctx
	// expires first, the remaining rows are reported as unsent.
	Close(ctx context.Context) error
	// Accepting reports whether Dispatch still queues rows.
	Accepting() bool
}

// DestinationResolver maps a row time to the name of the destination it
// belongs to, e.g. one table per calendar day.
type DestinationResolver func(t time.Time) (string, error)
