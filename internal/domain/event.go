// internal/domain/event.go
package domain

import (
	"fmt"
	"time"
)

// Attribute is a free-form key/value pair attached to an Event.
type Attribute struct {
	Key   string
	Value string
}

// Device describes the client that produced an Event.
type Device struct {
	Platform   string
	AppVersion string
}

// Event is the application record ingested by the service and written to the
// period destination derived from OccurredAt.
type Event struct {
	ID         string
	Name       string
	Source     string
	OccurredAt time.Time
	UserID     *string
	Value      *float64
	Count      int
	Tags       []string
	Attributes []Attribute
	Device     *Device
}

// Validate checks the fields every event must carry.
func (e *Event) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("event name cannot be empty")
	}
	if e.Source == "" {
		return fmt.Errorf("event source cannot be empty")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("event occurred_at cannot be empty")
	}
	for _, a := range e.Attributes {
		if a.Key == "" {
			return fmt.Errorf("event attribute key cannot be empty")
		}
	}
	return nil
}
