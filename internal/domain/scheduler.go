// internal/domain/scheduler.go
package domain

import "context"

// Task is a unit of periodic background work.
type Task func(ctx context.Context) error

// Scheduler runs named tasks on cron schedules.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()

	AddTask(name, spec string, task Task) error
	RemoveTask(name string) error
}
