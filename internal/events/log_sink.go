// internal/events/log_sink.go
package events

import (
	"log/slog"

	"github.com/trafi/big-querier/internal/domain"
)

// LogSink writes every dispatcher event as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "dispatch-events")}
}

func (s *LogSink) OnCannotEnqueue(row domain.Row) {
	s.logger.Warn("row dropped, queue full or closed", "insert_id", row.InsertID)
}

func (s *LogSink) OnRowsAccepted(count int, correlationID string) {
	s.logger.Debug("inserting rows", "count", count, "correlation_id", correlationID)
}

func (s *LogSink) OnInsertError(err error, rows []domain.Row, correlationID string) {
	s.logger.Error("rows not inserted", "count", len(rows), "correlation_id", correlationID, "error", err)
}

func (s *LogSink) OnStored(stored int, elapsedMs int64, remainingInQueue int, correlationID string, worker int) {
	s.logger.Info("rows stored",
		"count", stored,
		"elapsed_ms", elapsedMs,
		"queued", remainingInQueue,
		"correlation_id", correlationID,
		"worker", worker,
	)
}

func (s *LogSink) OnUnsentOnShutdown(rows []domain.Row) {
	s.logger.Warn("rows not sent before shutdown", "count", len(rows))
}

func (s *LogSink) OnWaitingForDrain() {
	s.logger.Info("waiting for queued rows to be sent")
}

var _ domain.EventSink = (*LogSink)(nil)
