// internal/ingest/nats/subscriber.go
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apihttp "github.com/trafi/big-querier/internal/api/http"
	"github.com/trafi/big-querier/internal/domain"
	"github.com/trafi/big-querier/internal/metrics"
	"github.com/trafi/big-querier/internal/usecase"
)

const transport = "nats"

// Message statuses reported to metrics.IngestMessagesTotal.
const (
	StatusOK       = "ok"
	StatusPartial  = "partial"
	StatusInvalid  = "invalid"
	StatusRejected = "rejected"
)

// Config 是 NATS 入口的配置
type Config struct {
	URL           string        `mapstructure:"url"`
	Subject       string        `mapstructure:"subject" validate:"required_with=URL"`
	Queue         string        `mapstructure:"queue"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
}

// Ingester is the part of usecase.IngestService used by the subscriber.
type Ingester interface {
	Ingest(ctx context.Context, events []*domain.Event) (usecase.IngestResult, error)
}

// Connect opens a NATS connection with reconnect handling and logging.
func Connect(cfg Config, logger *slog.Logger) (*nats.Conn, error) {
	log := logger.With("component", "nats")
	reconnectWait := cfg.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = -1
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("big-querier"),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				log.Error("NATS error", "subject", sub.Subject, "queue", sub.Queue, "error", err)
				return
			}
			log.Error("NATS error", "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info("connected to NATS", "url", nc.ConnectedUrl())
	return nc, nil
}

// Subscriber feeds events published on a subject into the ingest service.
// A message carries one JSON event or an array of events, the same body the
// HTTP API accepts. Requests with a reply subject get the IngestResult back.
type Subscriber struct {
	conn     *nats.Conn
	subject  string
	queue    string
	ingester Ingester
	validate *validator.Validate
	logger   *slog.Logger
	tracer   trace.Tracer
	sub      *nats.Subscription
}

func NewSubscriber(conn *nats.Conn, subject, queue string, ingester Ingester, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		conn:     conn,
		subject:  subject,
		queue:    queue,
		ingester: ingester,
		validate: validator.New(),
		logger:   logger.With("component", "nats-subscriber", "subject", subject),
		tracer:   otel.Tracer("big-querier-ingest"),
	}
}

// Start subscribes to the subject. With a queue group, messages are load
// balanced across all instances.
func (s *Subscriber) Start() error {
	var (
		sub *nats.Subscription
		err error
	)
	handler := func(msg *nats.Msg) { s.onMessage(msg) }
	if s.queue != "" {
		sub, err = s.conn.QueueSubscribe(s.subject, s.queue, handler)
	} else {
		sub, err = s.conn.Subscribe(s.subject, handler)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	s.sub = sub
	s.logger.Info("subscribed", "queue", s.queue)
	return nil
}

// Stop drains the subscription so already delivered messages are still
// processed before the dispatcher is closed.
func (s *Subscriber) Stop(ctx context.Context) error {
	if s.sub == nil {
		return nil
	}
	if err := s.sub.Drain(); err != nil {
		return fmt.Errorf("failed to drain subscription: %w", err)
	}
	for s.sub.IsValid() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	s.logger.Info("subscription drained")
	return nil
}

func (s *Subscriber) onMessage(msg *nats.Msg) {
	reply, status := s.Handle(context.Background(), msg.Data)
	metrics.IngestMessagesTotal.WithLabelValues(transport, status).Inc()

	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(reply); err != nil {
		s.logger.Warn("failed to respond", "reply", msg.Reply, "error", err)
	}
}

// Handle processes one message body and returns the JSON reply and the
// status reported to metrics.
func (s *Subscriber) Handle(ctx context.Context, data []byte) ([]byte, string) {
	ctx, span := s.tracer.Start(ctx, "nats.Handle", trace.WithAttributes(
		attribute.String("messaging.system", "nats"),
		attribute.String("messaging.destination", s.subject),
	))
	defer span.End()

	events, invalid, err := apihttp.ParseEvents(s.validate, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid message")
		s.logger.Warn("dropping invalid message", "error", err)
		return errorReply(err), StatusInvalid
	}

	result, err := s.ingester.Ingest(ctx, events)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to ingest")
		if !errors.Is(err, domain.ErrDispatcherClosed) {
			s.logger.Error("error ingesting message", "error", err)
		}
		return errorReply(err), StatusRejected
	}
	result.Rejected = apihttp.MergeRejections(result.Rejected, invalid)
	span.SetAttributes(attribute.Int("accepted", result.Accepted), attribute.Int("rejected", len(result.Rejected)))

	status := StatusOK
	switch {
	case result.Accepted == 0 && len(result.Rejected) > 0:
		status = StatusInvalid
	case len(result.Rejected) > 0:
		status = StatusPartial
	}

	reply, err := json.Marshal(result)
	if err != nil {
		return errorReply(err), status
	}
	return reply, status
}

func errorReply(err error) []byte {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return b
}
