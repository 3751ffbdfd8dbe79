// internal/infra/http/webhook_store.go
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/trafi/big-querier/internal/domain"
)

type WebhookConfig struct {
	URL     string             `mapstructure:"url" validate:"required,url"`
	Timeout time.Duration      `mapstructure:"timeout"`
	Retry   domain.RetryPolicy `mapstructure:"retry"`
	Headers map[string]string  `mapstructure:"headers"`
}

// WebhookStore forwards destinations and rows to a remote HTTP service:
//
//	PUT    {url}/{destination}        create the destination, body {"schema": [...]}
//	POST   {url}/{destination}/rows   insert rows, body {"rows": [...]}
//	GET    {url}/{destination}/rows   read rows back
//	DELETE {url}/{destination}        drop the destination
type WebhookStore struct {
	client *http.Client
	cfg    WebhookConfig
	logger *slog.Logger
}

func NewWebhookStore(cfg WebhookConfig, logger *slog.Logger) *WebhookStore {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &WebhookStore{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cfg:    cfg,
		logger: logger.With("component", "webhook-store"),
	}
}

// statusError is returned for non-2xx responses.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http request returned %d %s: %s", e.code, http.StatusText(e.code), e.body)
}

type wireRow struct {
	InsertID string         `json:"insert_id,omitempty"`
	Values   map[string]any `json:"values"`
}

func (s *WebhookStore) GetOrCreate(ctx context.Context, name string, schema domain.Schema) (domain.Destination, error) {
	body := map[string]any{"schema": schema}
	if _, err := s.do(ctx, http.MethodPut, s.endpoint(name), body); err != nil {
		return nil, &domain.DestinationError{Destination: name, Op: "create", Err: err}
	}
	return &webhookDestination{store: s, name: name}, nil
}

func (s *WebhookStore) Read(ctx context.Context, name string, limit int) ([]map[string]any, error) {
	endpoint := s.endpoint(name, "rows")
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	data, err := s.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, name)
		}
		return nil, &domain.DestinationError{Destination: name, Op: "read", Err: err}
	}

	var resp struct {
		Rows []map[string]any `json:"rows"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &domain.DestinationError{Destination: name, Op: "read", Err: fmt.Errorf("decode response: %w", err)}
	}
	return resp.Rows, nil
}

func (s *WebhookStore) Delete(ctx context.Context, name string) error {
	if _, err := s.do(ctx, http.MethodDelete, s.endpoint(name), nil); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, name)
		}
		return &domain.DestinationError{Destination: name, Op: "delete", Err: err}
	}
	return nil
}

type webhookDestination struct {
	store *WebhookStore
	name  string
}

func (d *webhookDestination) Insert(ctx context.Context, rows []domain.Row) error {
	payload := make([]wireRow, len(rows))
	for i, r := range rows {
		payload[i] = wireRow{InsertID: r.InsertID, Values: r.Values}
	}
	if _, err := d.store.do(ctx, http.MethodPost, d.store.endpoint(d.name, "rows"), map[string]any{"rows": payload}); err != nil {
		return &domain.DestinationError{Destination: d.name, Op: "insert", Err: err}
	}
	return nil
}

func (s *WebhookStore) endpoint(parts ...string) string {
	u, err := url.JoinPath(s.cfg.URL, parts...)
	if err != nil {
		return s.cfg.URL
	}
	return u
}

// do sends the request, retrying on timeouts and 5xx responses according to
// the configured retry policy.
func (s *WebhookStore) do(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	retries := s.cfg.Retry.MaxRetries
	if retries < 0 {
		retries = 0
	}

	var data []byte
	err := retry.Do(
		func() error {
			resp, err := s.doOnce(ctx, method, endpoint, payload)
			if err != nil {
				return err
			}
			data = resp
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(retries)+1),
		retry.Delay(s.cfg.Retry.Backoff),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retriable),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("webhook request attempt failed", "method", method, "url", endpoint, "attempt", n+1, "error", err)
		}),
	)
	if err == nil {
		return data, nil
	}
	if retries > 0 && retriable(err) {
		return nil, fmt.Errorf("request failed after %d retries: %w", retries, err)
	}
	return nil, err
}

func (s *WebhookStore) doOnce(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		if len(data) > 1024 {
			data = data[:1024]
		}
		return nil, &statusError{code: resp.StatusCode, body: string(data)}
	}
	return data, nil
}

func retriable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var se *statusError
	return errors.As(err, &se) && se.code >= 500
}

func isStatus(err error, code int) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == code
}

var (
	_ domain.DestinationStore   = (*WebhookStore)(nil)
	_ domain.DestinationReader  = (*WebhookStore)(nil)
	_ domain.DestinationDeleter = (*WebhookStore)(nil)
)
