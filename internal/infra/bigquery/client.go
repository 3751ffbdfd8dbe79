// internal/infra/bigquery/client.go
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/trafi/big-querier/internal/domain"
)

// Config selects the dataset destinations are created in.
type Config struct {
	ProjectID       string `mapstructure:"project_id" validate:"required"`
	DatasetID       string `mapstructure:"dataset_id" validate:"required"`
	Location        string `mapstructure:"location"`
	CredentialsFile string `mapstructure:"credentials_file"`
	// TableExpiration, when set, makes new tables expire that long after
	// creation.
	TableExpiration time.Duration `mapstructure:"table_expiration"`
	// PartitionField, when set, day-partitions new tables on that timestamp
	// column.
	PartitionField string `mapstructure:"partition_field"`
}

// Store creates one BigQuery table per destination name and streams rows
// into it.
type Store struct {
	client *bigquery.Client
	cfg    Config

	mu           sync.Mutex
	datasetReady bool
	tables       map[string]*table // cache of resolved tables

	logger *slog.Logger
	tracer trace.Tracer
}

// NewClient creates a BigQuery client from cfg.
func NewClient(ctx context.Context, cfg Config) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}
	return client, nil
}

func NewStore(client *bigquery.Client, cfg Config, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		cfg:    cfg,
		tables: make(map[string]*table),
		logger: logger.With("component", "bigquery-store"),
		tracer: otel.Tracer("big-querier-bigquery"),
	}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// GetOrCreate returns the table called name, creating the dataset and the
// table when they do not exist yet.
func (s *Store) GetOrCreate(ctx context.Context, name string, schema domain.Schema) (domain.Destination, error) {
	s.mu.Lock()
	if t, ok := s.tables[name]; ok {
		s.mu.Unlock()
		return t, nil
	}
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "bigquery.GetOrCreate", trace.WithAttributes(
		attribute.String("dataset", s.cfg.DatasetID),
		attribute.String("table", name),
	))
	defer span.End()

	bqSchema, err := toBQSchema(schema)
	if err != nil {
		return nil, s.fail(span, name, "convert schema", err)
	}
	if err := s.ensureDataset(ctx); err != nil {
		return nil, s.fail(span, name, "create dataset", err)
	}
	if err := s.ensureTable(ctx, name, bqSchema); err != nil {
		return nil, s.fail(span, name, "create table", err)
	}

	t := &table{
		store:  s,
		name:   name,
		ref:    s.client.Dataset(s.cfg.DatasetID).Table(name),
		schema: bqSchema,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.tables[name]; ok {
		return cached, nil
	}
	s.tables[name] = t
	return t, nil
}

func (s *Store) fail(span trace.Span, name, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "failed to "+op)
	return &domain.DestinationError{Destination: s.cfg.DatasetID + "." + name, Op: op, Err: err}
}

func (s *Store) ensureDataset(ctx context.Context) error {
	s.mu.Lock()
	ready := s.datasetReady
	s.mu.Unlock()
	if ready {
		return nil
	}

	ds := s.client.Dataset(s.cfg.DatasetID)
	if _, err := ds.Metadata(ctx); err != nil {
		if !isStatus(err, http.StatusNotFound) {
			return err
		}
		err = ds.Create(ctx, &bigquery.DatasetMetadata{Location: s.cfg.Location})
		if err != nil && !isStatus(err, http.StatusConflict) {
			return err
		}
		s.logger.Info("created dataset", "dataset", s.cfg.DatasetID)
	}

	s.mu.Lock()
	s.datasetReady = true
	s.mu.Unlock()
	return nil
}

func (s *Store) ensureTable(ctx context.Context, name string, schema bigquery.Schema) error {
	t := s.client.Dataset(s.cfg.DatasetID).Table(name)
	if _, err := t.Metadata(ctx); err == nil {
		return nil
	} else if !isStatus(err, http.StatusNotFound) {
		return err
	}

	md := &bigquery.TableMetadata{Schema: schema}
	if s.cfg.TableExpiration > 0 {
		md.ExpirationTime = time.Now().Add(s.cfg.TableExpiration)
	}
	if s.cfg.PartitionField != "" {
		md.TimePartitioning = &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: s.cfg.PartitionField,
		}
	}
	// Another instance may have created the table in the meantime.
	if err := t.Create(ctx, md); err != nil && !isStatus(err, http.StatusConflict) {
		return err
	}
	s.logger.Info("created table", "dataset", s.cfg.DatasetID, "table", name)
	return nil
}

// Read returns up to limit rows of the table called name.
func (s *Store) Read(ctx context.Context, name string, limit int) ([]map[string]any, error) {
	ctx, span := s.tracer.Start(ctx, "bigquery.Read", trace.WithAttributes(attribute.String("table", name)))
	defer span.End()

	if _, err := s.client.Dataset(s.cfg.DatasetID).Table(name).Metadata(ctx); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, name)
		}
		return nil, s.fail(span, name, "read table metadata", err)
	}

	sql := fmt.Sprintf("SELECT * FROM `%s.%s.%s`", s.client.Project(), s.cfg.DatasetID, name)
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", limit)
	}
	it, err := s.client.Query(sql).Read(ctx)
	if err != nil {
		return nil, s.fail(span, name, "query", err)
	}

	var out []map[string]any
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, s.fail(span, name, "read rows", err)
		}
		out = append(out, fromBQRow(row))
	}
	return out, nil
}

// Delete drops the table called name.
func (s *Store) Delete(ctx context.Context, name string) error {
	ctx, span := s.tracer.Start(ctx, "bigquery.Delete", trace.WithAttributes(attribute.String("table", name)))
	defer span.End()

	s.mu.Lock()
	delete(s.tables, name)
	s.mu.Unlock()

	if err := s.client.Dataset(s.cfg.DatasetID).Table(name).Delete(ctx); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, name)
		}
		return s.fail(span, name, "delete table", err)
	}
	s.logger.Info("deleted table", "dataset", s.cfg.DatasetID, "table", name)
	return nil
}

func isStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

var (
	_ domain.DestinationStore   = (*Store)(nil)
	_ domain.DestinationReader  = (*Store)(nil)
	_ domain.DestinationDeleter = (*Store)(nil)
)
