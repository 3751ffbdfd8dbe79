// internal/record/contract.go
package record

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/trafi/big-querier/internal/domain"
)

// Contract describes how values of type T map to rows and back. Contracts are
// built once at startup from explicit field registrations.
type Contract[T any] struct {
	fields []Field[T]
	schema domain.Schema
}

// NewContract builds a contract from the given fields. Field names must be
// non-empty and unique.
func NewContract[T any](fields ...Field[T]) (*Contract[T], error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: record contract has no fields", domain.ErrInvalidConfig)
	}
	schema := make(domain.Schema, 0, len(fields))
	for _, f := range fields {
		schema = append(schema, f.schema)
	}
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return &Contract[T]{fields: fields, schema: schema}, nil
}

// MustContract is like NewContract but panics on error. Intended for
// package-level contract variables.
func MustContract[T any](fields ...Field[T]) *Contract[T] {
	c, err := NewContract(fields...)
	if err != nil {
		panic(err)
	}
	return c
}

// Schema returns the destination schema. The caller must not modify it.
func (c *Contract[T]) Schema() domain.Schema {
	return c.schema
}

// Values encodes v into a field name -> value map.
func (c *Contract[T]) Values(v T) map[string]any {
	out := make(map[string]any, len(c.fields))
	for _, f := range c.fields {
		out[f.schema.Name] = f.encode(v)
	}
	return out
}

// ToRow encodes v into a row with a fresh insert id.
func (c *Contract[T]) ToRow(v T) domain.Row {
	return domain.Row{
		InsertID: uuid.NewString(),
		Values:   c.Values(v),
	}
}

// FromRow decodes a value map back into T. Missing keys and values of an
// unexpected type are skipped, leaving the zero value in place.
func (c *Contract[T]) FromRow(values map[string]any) (T, error) {
	var out T
	if values == nil {
		return out, fmt.Errorf("cannot decode nil row")
	}
	for _, f := range c.fields {
		if f.decode == nil {
			continue
		}
		raw, ok := values[f.schema.Name]
		if !ok {
			continue
		}
		f.decode(&out, raw)
	}
	return out, nil
}
