// internal/infra/bigquery/table.go
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/trafi/big-querier/internal/domain"
)

type table struct {
	store  *Store
	name   string
	ref    *bigquery.Table
	schema bigquery.Schema
}

// Insert streams rows into the table. Unknown fields are ignored.
func (t *table) Insert(ctx context.Context, rows []domain.Row) error {
	ctx, span := t.store.tracer.Start(ctx, "bigquery.Insert", trace.WithAttributes(
		attribute.String("table", t.name),
		attribute.Int("rows", len(rows)),
	))
	defer span.End()

	savers, err := toSavers(rows, t.schema)
	if err != nil {
		return t.store.fail(span, t.name, "convert rows", err)
	}

	ins := t.ref.Inserter()
	ins.IgnoreUnknownValues = true
	if err := ins.Put(ctx, savers); err != nil {
		var multi bigquery.PutMultiError
		if errors.As(err, &multi) {
			err = summarizePutErrors(multi, len(rows))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to insert rows")
		return &domain.DestinationError{Destination: t.store.cfg.DatasetID + "." + t.name, Op: "insert", Err: err}
	}
	return nil
}

func toSavers(rows []domain.Row, schema bigquery.Schema) ([]bigquery.ValueSaver, error) {
	savers := make([]bigquery.ValueSaver, 0, len(rows))
	for i, r := range rows {
		values, err := toBQValues(r.Values, schema)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		savers = append(savers, &bigquery.ValuesSaver{
			Schema:   schema,
			InsertID: r.InsertID,
			Row:      values,
		})
	}
	return savers, nil
}

// summarizePutErrors keeps the first few row errors of a partial failure.
func summarizePutErrors(multi bigquery.PutMultiError, total int) error {
	const maxShown = 3
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d rows rejected", len(multi), total)
	for i, rowErr := range multi {
		if i == maxShown {
			fmt.Fprintf(&b, "; and %d more", len(multi)-maxShown)
			break
		}
		fmt.Fprintf(&b, "; row %d (%s): %v", rowErr.RowIndex, rowErr.InsertID, rowErr.Errors)
	}
	return errors.New(b.String())
}
