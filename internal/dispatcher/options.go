// internal/dispatcher/options.go
package dispatcher

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"k8s.io/utils/clock"

	"github.com/trafi/big-querier/internal/domain"
)

const (
	DefaultConcurrentDispatches = 1
	DefaultMaxQueueLength       = 1_000_000
	DefaultSendBatchInterval    = 2 * time.Second
)

// Options configures a Dispatcher. Zero values select the defaults, except
// for BatchSize which is required.
type Options struct {
	// BatchSize is the maximum number of rows handed to one worker.
	BatchSize int `validate:"gt=0"`
	// ConcurrentDispatches bounds the number of batches in flight.
	ConcurrentDispatches int `validate:"gte=0"`
	// MaxQueueLength is the queue capacity; rows beyond it are dropped.
	MaxQueueLength int `validate:"gte=0"`
	// SendBatchInterval is the longest a partial batch waits in the queue.
	SendBatchInterval time.Duration `validate:"gte=0"`

	Clock  clock.Clock
	Sink   domain.EventSink
	Logger *slog.Logger
}

var validate = validator.New()

func (o Options) withDefaults() (Options, error) {
	if err := validate.Struct(o); err != nil {
		return o, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	if o.ConcurrentDispatches == 0 {
		o.ConcurrentDispatches = DefaultConcurrentDispatches
	}
	if o.MaxQueueLength == 0 {
		o.MaxQueueLength = DefaultMaxQueueLength
	}
	if o.SendBatchInterval == 0 {
		o.SendBatchInterval = DefaultSendBatchInterval
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.Sink == nil {
		o.Sink = domain.NopEventSink{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o, nil
}
