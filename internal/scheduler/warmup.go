// internal/scheduler/warmup.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"github.com/trafi/big-querier/internal/domain"
	"github.com/trafi/big-querier/internal/partition"
)

// WarmupTaskName is the task and lock name of the destination warmup.
const WarmupTaskName = "destination-warmup"

// NewWarmupTask returns a task that creates the destinations of the current
// and the next period, so the first rows of a period do not pay for table
// creation.
func NewWarmupTask(store domain.DestinationStore, schema domain.Schema, prefix string, period partition.Period, clk clock.PassiveClock, logger *slog.Logger) domain.Task {
	logger = logger.With("component", "warmup")
	return func(ctx context.Context) error {
		now := clk.Now()
		for _, t := range []time.Time{now, partition.Next(now, period)} {
			name, err := partition.Name(prefix, period, t)
			if err != nil {
				return err
			}
			if _, err := store.GetOrCreate(ctx, name, schema); err != nil {
				return fmt.Errorf("warm up destination %s: %w", name, err)
			}
			logger.Info("destination ready", "destination", name)
		}
		return nil
	}
}
