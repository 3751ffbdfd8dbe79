// internal/dispatcher/stats.go
package dispatcher

import "time"

// Stats is a point-in-time view of a Dispatcher.
type Stats struct {
	State             string        `json:"state"`
	Queued            int           `json:"queued"`
	InFlightBatches   int           `json:"in_flight_batches"`
	InFlightRows      int           `json:"in_flight_rows"`
	BusyWorkers       int           `json:"busy_workers"`
	MaxWorkers        int           `json:"max_workers"`
	LastBatchSize     int           `json:"last_batch_size"`
	LastBatchDuration time.Duration `json:"last_batch_duration"`
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		State:             d.State().String(),
		Queued:            d.queue.Size(),
		InFlightBatches:   d.inFlight.Len(),
		InFlightRows:      d.inFlight.Rows(),
		BusyWorkers:       d.gate.InUse(),
		MaxWorkers:        d.opts.ConcurrentDispatches,
		LastBatchSize:     int(d.lastBatch.Load()),
		LastBatchDuration: time.Duration(d.lastBatchNs.Load()),
	}
}
