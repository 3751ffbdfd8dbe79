// internal/api/http/event_handler.go
package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/trafi/big-querier/internal/dispatcher"
	"github.com/trafi/big-querier/internal/domain"
	"github.com/trafi/big-querier/internal/metrics"
	"github.com/trafi/big-querier/internal/usecase"
)

const (
	maxBodyBytes = 5 << 20
	defaultLimit = 100
	maxLimit     = 1000
)

// StatsSource exposes dispatcher statistics.
type StatsSource interface {
	Stats() dispatcher.Stats
}

// EventHandler 负责处理与事件写入相关的 HTTP 请求。
type EventHandler struct {
	service  *usecase.IngestService
	stats    StatsSource
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewEventHandler(service *usecase.IngestService, stats StatsSource, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		service:  service,
		stats:    stats,
		logger:   logger.With("component", "event-handler"),
		validate: validator.New(),
		tracer:   otel.Tracer("big-querier-api"),
	}
}

// A helper struct to capture the status code
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RegisterRoutes registers the event routes to the http.ServeMux.
func (h *EventHandler) RegisterRoutes(mux *http.ServeMux) {
	h.handle(mux, "POST /events", h.handleIngest)
	h.handle(mux, "GET /stats", h.handleStats)
	h.handle(mux, "GET /destinations/{name}/events", h.handleRecent)
	h.handle(mux, "DELETE /destinations/{name}", h.handleDeleteDestination)
}

// handle wraps a route with a server span and the request counter.
func (h *EventHandler) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "HTTP "+pattern, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		fn(iw, r.WithContext(ctx))

		metrics.HttpRequestsTotal.WithLabelValues(pattern, r.Method, strconv.Itoa(iw.statusCode)).Inc()
		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	}))
}

// handleIngest accepts a single event object or an array of events
// (POST /events).
func (h *EventHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.Ingest")
	defer span.End()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to read request body")
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	events, invalid, err := ParseEvents(h.validate, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to decode request body")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("events", len(events)))

	// Invalid requests are passed as nil and replaced by the validation
	// messages below, so indexes stay aligned with the request.
	result, err := h.service.Ingest(ctx, events)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to ingest events")
		if errors.Is(err, domain.ErrDispatcherClosed) {
			http.Error(w, "Service is shutting down", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("error ingesting events", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	result.Rejected = MergeRejections(result.Rejected, invalid)

	status := http.StatusAccepted
	if result.Accepted == 0 && len(result.Rejected) > 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, result)
}

// handleStats returns dispatcher statistics (GET /stats).
func (h *EventHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.Stats())
}

// handleRecent reads events back from a destination
// (GET /destinations/{name}/events?limit=N).
func (h *EventHandler) handleRecent(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.Recent")
	defer span.End()

	name := r.PathValue("name")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	span.SetAttributes(attribute.String("destination", name), attribute.Int("limit", limit))

	events, err := h.service.Recent(ctx, name, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to read destination")
		h.writeServiceError(w, "error reading destination", name, err)
		return
	}

	resp := make([]EventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, newEventResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteDestination drops a destination (DELETE /destinations/{name}).
func (h *EventHandler) handleDeleteDestination(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.DeleteDestination")
	defer span.End()

	name := r.PathValue("name")
	span.SetAttributes(attribute.String("destination", name))

	if err := h.service.DeleteDestination(ctx, name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to delete destination")
		h.writeServiceError(w, "error deleting destination", name, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EventHandler) writeServiceError(w http.ResponseWriter, msg, name string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, errors.ErrUnsupported):
		http.Error(w, err.Error(), http.StatusNotImplemented)
	default:
		h.logger.Error(msg, "destination", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
