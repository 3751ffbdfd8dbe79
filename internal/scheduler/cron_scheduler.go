// internal/scheduler/cron_scheduler.go
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/trafi/big-querier/internal/domain"
	"github.com/trafi/big-querier/internal/metrics"
)

// DefaultTaskTimeout bounds a single task run.
const DefaultTaskTimeout = time.Minute

// cronScheduler runs background tasks on cron schedules. When a locker is
// set, a run is skipped unless this instance holds the task's lock.
type cronScheduler struct {
	cron    *cron.Cron
	locker  domain.Locker
	timeout time.Duration

	mu    sync.Mutex
	tasks map[string]cron.EntryID
	ctx   context.Context

	logger *slog.Logger
	tracer trace.Tracer
}

// NewCronScheduler creates a scheduler. Specs include a seconds field. locker
// may be nil for a single instance deployment.
func NewCronScheduler(locker domain.Locker, timeout time.Duration, logger *slog.Logger) domain.Scheduler {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	logger = logger.With("component", "cron-scheduler")
	return &cronScheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
		),
		locker:  locker,
		timeout: timeout,
		tasks:   make(map[string]cron.EntryID),
		ctx:     context.Background(),
		logger:  logger,
		tracer:  otel.Tracer("big-querier-scheduler"),
	}
}

// Start runs the scheduler until ctx is done, then waits for running tasks.
func (s *cronScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.logger.Info("cron scheduler started")
	s.cron.Start()
	<-ctx.Done()
	s.logger.Info("cron scheduler stopping...")
	s.Stop()
	s.logger.Info("cron scheduler stopped")
	return ctx.Err()
}

func (s *cronScheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *cronScheduler) AddTask(name, spec string, task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.tasks[name]; ok {
		s.cron.Remove(entryID)
	}
	entryID, err := s.cron.AddFunc(spec, func() { s.run(name, task) })
	if err != nil {
		s.logger.Error("failed to add task to cron", "task", name, "error", err)
		return fmt.Errorf("invalid schedule %q for task %s: %w", spec, name, err)
	}
	s.tasks[name] = entryID
	s.logger.Info("added task to scheduler", "task", name, "schedule", spec)
	return nil
}

func (s *cronScheduler) RemoveTask(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.tasks[name]; ok {
		s.cron.Remove(entryID)
		delete(s.tasks, name)
		s.logger.Info("removed task from scheduler", "task", name)
	}
	return nil
}

// run executes one scheduled run of task.
func (s *cronScheduler) run(name string, task domain.Task) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "scheduler.Run", trace.WithAttributes(attribute.String("task.name", name)))
	defer span.End()

	logger := s.logger.With("task", name)

	if s.locker != nil {
		lock, err := s.locker.Lock(ctx, name)
		if errors.Is(err, domain.ErrLockNotAcquired) {
			logger.Debug("task is running on another instance, skipping")
			metrics.TaskRunsTotal.WithLabelValues(name, "skipped").Inc()
			return
		}
		if err != nil {
			logger.Error("failed to acquire task lock", "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to acquire lock")
			metrics.TaskRunsTotal.WithLabelValues(name, "failed").Inc()
			return
		}
		defer func() {
			// The run context may already be done; unlock with a fresh one.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Unlock(unlockCtx); err != nil {
				logger.Warn("failed to release task lock", "error", err)
			}
		}()
	}

	if err := task(ctx); err != nil {
		logger.Error("task failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "task failed")
		metrics.TaskRunsTotal.WithLabelValues(name, "failed").Inc()
		return
	}
	metrics.TaskRunsTotal.WithLabelValues(name, "success").Inc()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
