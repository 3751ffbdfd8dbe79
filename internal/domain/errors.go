// internal/domain/errors.go
package domain

import "errors"

var (
	// ErrInvalidConfig is wrapped by every construction-time validation error.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrDispatcherClosed is returned by operations that need a running dispatcher.
	ErrDispatcherClosed = errors.New("dispatcher is closed")
	// ErrNotFound is returned by stores when a destination does not exist.
	ErrNotFound = errors.New("destination not found")
)
