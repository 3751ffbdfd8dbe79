// internal/domain/destination.go
package domain

import (
	"context"
	"fmt"
)

// Destination is a handle to a named remote table/partition.
type Destination interface {
	// Insert writes rows to the destination. Implementations may retry
	// internally; the dispatcher never retries a failed insert.
	Insert(ctx context.Context, rows []Row) error
}

// DestinationStore resolves destination handles, creating the underlying
// table when it does not exist yet.
type DestinationStore interface {
	GetOrCreate(ctx context.Context, name string, schema Schema) (Destination, error)
}

// DestinationError annotates a store failure with the destination it
// happened on.
type DestinationError struct {
	Destination string
	Op          string
	Err         error
}

func (e *DestinationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Destination, e.Err)
}

func (e *DestinationError) Unwrap() error {
	return e.Err
}

// DestinationReader is implemented by stores that can read rows back.
type DestinationReader interface {
	// Read returns up to limit rows of the destination as field name -> value
	// maps. It returns ErrNotFound if the destination does not exist.
	Read(ctx context.Context, name string, limit int) ([]map[string]any, error)
}

// DestinationDeleter is implemented by stores that can drop a destination.
type DestinationDeleter interface {
	Delete(ctx context.Context, name string) error
}
