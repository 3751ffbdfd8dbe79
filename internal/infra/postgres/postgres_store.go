// internal/infra/postgres/postgres_store.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/trafi/big-querier/internal/domain"
)

// insertIDColumn holds domain.Row.InsertID next to the schema columns.
const insertIDColumn = "_insert_id"

const undefinedTable = "42P01"

type Config struct {
	DSN      string `mapstructure:"dsn" validate:"required"`
	Schema   string `mapstructure:"schema"`
	MaxConns int32  `mapstructure:"max_conns" validate:"gte=0"`
}

// NewPool opens and pings a connection pool.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Store keeps one table per destination in a PostgreSQL schema. Scalar
// fields map to native columns, records and repeated fields to jsonb.
type Store struct {
	pool   *pgxpool.Pool
	schema string

	mu     sync.Mutex
	tables map[string]*table

	logger *slog.Logger
	tracer trace.Tracer
}

func NewStore(pool *pgxpool.Pool, cfg Config, logger *slog.Logger) *Store {
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	return &Store{
		pool:   pool,
		schema: schema,
		tables: make(map[string]*table),
		logger: logger.With("component", "postgres-store"),
		tracer: otel.Tracer("big-querier-postgres"),
	}
}

func (s *Store) GetOrCreate(ctx context.Context, name string, schema domain.Schema) (domain.Destination, error) {
	s.mu.Lock()
	if t, ok := s.tables[name]; ok {
		s.mu.Unlock()
		return t, nil
	}
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "postgres.GetOrCreate", trace.WithAttributes(attribute.String("table", name)))
	defer span.End()

	ddl, err := createTableSQL(s.schema, name, schema)
	if err != nil {
		return nil, s.fail(span, name, "build table definition", err)
	}
	if _, err := s.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{s.schema}.Sanitize()); err != nil {
		return nil, s.fail(span, name, "create schema", err)
	}
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return nil, s.fail(span, name, "create table", err)
	}

	t := &table{store: s, name: name, columns: columnNames(schema), fields: schema}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.tables[name]; ok {
		return cached, nil
	}
	s.tables[name] = t
	s.logger.Info("destination ready", "schema", s.schema, "table", name)
	return t, nil
}

func (s *Store) Read(ctx context.Context, name string, limit int) ([]map[string]any, error) {
	ctx, span := s.tracer.Start(ctx, "postgres.Read", trace.WithAttributes(attribute.String("table", name)))
	defer span.End()

	sql := "SELECT * FROM " + pgx.Identifier{s.schema, name}.Sanitize()
	args := []any{}
	if limit > 0 {
		sql += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, s.notFoundOr(span, name, "query", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, s.fail(span, name, "scan row", err)
		}
		row := make(map[string]any, len(values))
		for i, fd := range rows.FieldDescriptions() {
			if fd.Name == insertIDColumn {
				continue
			}
			row[fd.Name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, s.notFoundOr(span, name, "read rows", err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	ctx, span := s.tracer.Start(ctx, "postgres.Delete", trace.WithAttributes(attribute.String("table", name)))
	defer span.End()

	s.mu.Lock()
	delete(s.tables, name)
	s.mu.Unlock()

	if _, err := s.pool.Exec(ctx, "DROP TABLE "+pgx.Identifier{s.schema, name}.Sanitize()); err != nil {
		return s.notFoundOr(span, name, "drop table", err)
	}
	s.logger.Info("dropped table", "schema", s.schema, "table", name)
	return nil
}

func (s *Store) notFoundOr(span trace.Span, name, op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, name)
	}
	return s.fail(span, name, op, err)
}

func (s *Store) fail(span trace.Span, name, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "failed to "+op)
	return &domain.DestinationError{Destination: s.schema + "." + name, Op: op, Err: err}
}

type table struct {
	store   *Store
	name    string
	columns []string
	fields  domain.Schema
}

// Insert copies rows into the table in one COPY statement.
func (t *table) Insert(ctx context.Context, rows []domain.Row) error {
	ctx, span := t.store.tracer.Start(ctx, "postgres.Insert", trace.WithAttributes(
		attribute.String("table", t.name),
		attribute.Int("rows", len(rows)),
	))
	defer span.End()

	_, err := t.store.pool.CopyFrom(
		ctx,
		pgx.Identifier{t.store.schema, t.name},
		t.columns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			return rowValues(rows[i], t.fields), nil
		}),
	)
	if err != nil {
		return t.store.fail(span, t.name, "insert", err)
	}
	return nil
}

func columnType(f domain.Field) (string, error) {
	if f.Repeated || f.Kind == domain.KindRecord {
		return "jsonb", nil
	}
	switch f.Kind {
	case domain.KindString:
		return "text", nil
	case domain.KindInt64:
		return "bigint", nil
	case domain.KindFloat64:
		return "double precision", nil
	case domain.KindBool:
		return "boolean", nil
	case domain.KindTimestamp:
		return "timestamptz", nil
	}
	return "", fmt.Errorf("field %s: unsupported kind %q", f.Name, f.Kind)
}

func createTableSQL(schemaName, name string, schema domain.Schema) (string, error) {
	cols := []string{pgx.Identifier{insertIDColumn}.Sanitize() + " text"}
	for _, f := range schema {
		typ, err := columnType(f)
		if err != nil {
			return "", err
		}
		cols = append(cols, pgx.Identifier{f.Name}.Sanitize()+" "+typ)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		pgx.Identifier{schemaName, name}.Sanitize(),
		strings.Join(cols, ", "),
	), nil
}

func columnNames(schema domain.Schema) []string {
	names := make([]string, 0, len(schema)+1)
	names = append(names, insertIDColumn)
	for _, f := range schema {
		names = append(names, f.Name)
	}
	return names
}

func rowValues(r domain.Row, schema domain.Schema) []any {
	values := make([]any, 0, len(schema)+1)
	values = append(values, r.InsertID)
	for _, f := range schema {
		values = append(values, r.Values[f.Name])
	}
	return values
}

var (
	_ domain.DestinationStore   = (*Store)(nil)
	_ domain.DestinationReader  = (*Store)(nil)
	_ domain.DestinationDeleter = (*Store)(nil)
)
