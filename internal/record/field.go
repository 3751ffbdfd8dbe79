// internal/record/field.go
package record

import (
	"math"
	"time"

	"github.com/trafi/big-querier/internal/domain"
)

// Primitive lists the Go types a scalar field can hold.
type Primitive interface {
	string | int64 | int | float64 | bool | time.Time
}

// Field is one registered field of a Contract. Build it with Value, Nullable,
// Repeated, Nested or RepeatedNested.
type Field[T any] struct {
	schema domain.Field
	encode func(T) any
	// decode is nil for write-only fields.
	decode func(*T, any)
}

// Value registers a required scalar field. set may be nil.
func Value[T any, V Primitive](name string, get func(T) V, set func(*T, V)) Field[T] {
	f := Field[T]{
		schema: domain.Field{Name: name, Kind: kindOf[V]()},
		encode: func(v T) any { return encodeScalar(get(v)) },
	}
	if set != nil {
		f.decode = func(out *T, raw any) {
			if x, ok := decodeScalar[V](raw); ok {
				set(out, x)
			}
		}
	}
	return f
}

// Nullable registers an optional scalar field; a nil pointer is stored as
// NULL.
func Nullable[T any, V Primitive](name string, get func(T) *V, set func(*T, *V)) Field[T] {
	f := Field[T]{
		schema: domain.Field{Name: name, Kind: kindOf[V]()},
		encode: func(v T) any {
			p := get(v)
			if p == nil {
				return nil
			}
			return encodeScalar(*p)
		},
	}
	if set != nil {
		f.decode = func(out *T, raw any) {
			if raw == nil {
				set(out, nil)
				return
			}
			if x, ok := decodeScalar[V](raw); ok {
				set(out, &x)
			}
		}
	}
	return f
}

// Repeated registers a list of scalars.
func Repeated[T any, V Primitive](name string, get func(T) []V, set func(*T, []V)) Field[T] {
	f := Field[T]{
		schema: domain.Field{Name: name, Kind: kindOf[V](), Repeated: true},
		encode: func(v T) any {
			items := get(v)
			out := make([]any, 0, len(items))
			for _, item := range items {
				out = append(out, encodeScalar(item))
			}
			return out
		},
	}
	if set != nil {
		f.decode = func(out *T, raw any) {
			list, ok := raw.([]any)
			if !ok {
				return
			}
			items := make([]V, 0, len(list))
			for _, r := range list {
				if x, ok := decodeScalar[V](r); ok {
					items = append(items, x)
				}
			}
			set(out, items)
		}
	}
	return f
}

// Nested registers an optional nested record described by its own contract.
func Nested[T, N any](name string, c *Contract[N], get func(T) *N, set func(*T, *N)) Field[T] {
	f := Field[T]{
		schema: domain.Field{Name: name, Kind: domain.KindRecord, Fields: c.Schema()},
		encode: func(v T) any {
			p := get(v)
			if p == nil {
				return nil
			}
			return c.Values(*p)
		},
	}
	if set != nil {
		f.decode = func(out *T, raw any) {
			if raw == nil {
				set(out, nil)
				return
			}
			m, ok := raw.(map[string]any)
			if !ok {
				return
			}
			n, err := c.FromRow(m)
			if err != nil {
				return
			}
			set(out, &n)
		}
	}
	return f
}

// RepeatedNested registers a list of nested records.
func RepeatedNested[T, N any](name string, c *Contract[N], get func(T) []N, set func(*T, []N)) Field[T] {
	f := Field[T]{
		schema: domain.Field{Name: name, Kind: domain.KindRecord, Repeated: true, Fields: c.Schema()},
		encode: func(v T) any {
			items := get(v)
			out := make([]any, 0, len(items))
			for _, item := range items {
				out = append(out, c.Values(item))
			}
			return out
		},
	}
	if set != nil {
		f.decode = func(out *T, raw any) {
			list, ok := raw.([]any)
			if !ok {
				return
			}
			items := make([]N, 0, len(list))
			for _, r := range list {
				m, ok := r.(map[string]any)
				if !ok {
					continue
				}
				if n, err := c.FromRow(m); err == nil {
					items = append(items, n)
				}
			}
			set(out, items)
		}
	}
	return f
}

func kindOf[V Primitive]() domain.FieldKind {
	var zero V
	switch any(zero).(type) {
	case string:
		return domain.KindString
	case int64, int:
		return domain.KindInt64
	case float64:
		return domain.KindFloat64
	case bool:
		return domain.KindBool
	case time.Time:
		return domain.KindTimestamp
	}
	panic("unreachable")
}

func encodeScalar[V Primitive](v V) any {
	switch x := any(v).(type) {
	case int:
		return int64(x)
	case time.Time:
		return x.UTC()
	default:
		return x
	}
}

// decodeScalar converts a stored value back to V. Integers are accepted for
// both int and int64 targets; an int64 that does not fit into int is
// rejected.
func decodeScalar[V Primitive](raw any) (V, bool) {
	var out V
	switch target := any(&out).(type) {
	case *string:
		s, ok := raw.(string)
		*target = s
		return out, ok
	case *int64:
		switch r := raw.(type) {
		case int64:
			*target = r
		case int:
			*target = int64(r)
		default:
			return out, false
		}
		return out, true
	case *int:
		switch r := raw.(type) {
		case int:
			*target = r
		case int64:
			if r > math.MaxInt || r < math.MinInt {
				return out, false
			}
			*target = int(r)
		default:
			return out, false
		}
		return out, true
	case *float64:
		f, ok := raw.(float64)
		*target = f
		return out, ok
	case *bool:
		b, ok := raw.(bool)
		*target = b
		return out, ok
	case *time.Time:
		ts, ok := raw.(time.Time)
		*target = ts
		return out, ok
	}
	return out, false
}
