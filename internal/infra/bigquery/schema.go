// internal/infra/bigquery/schema.go
package bigquery

import (
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/trafi/big-querier/internal/domain"
)

func toBQSchema(schema domain.Schema) (bigquery.Schema, error) {
	out := make(bigquery.Schema, 0, len(schema))
	for _, f := range schema {
		fs := &bigquery.FieldSchema{Name: f.Name, Repeated: f.Repeated}
		switch f.Kind {
		case domain.KindString:
			fs.Type = bigquery.StringFieldType
		case domain.KindInt64:
			fs.Type = bigquery.IntegerFieldType
		case domain.KindFloat64:
			fs.Type = bigquery.FloatFieldType
		case domain.KindBool:
			fs.Type = bigquery.BooleanFieldType
		case domain.KindTimestamp:
			fs.Type = bigquery.TimestampFieldType
		case domain.KindRecord:
			fs.Type = bigquery.RecordFieldType
			nested, err := toBQSchema(f.Fields)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			fs.Schema = nested
		default:
			return nil, fmt.Errorf("field %s: unsupported kind %q", f.Name, f.Kind)
		}
		out = append(out, fs)
	}
	return out, nil
}

// toBQValues orders values by schema. Records become nested []bigquery.Value
// as bigquery.ValuesSaver expects.
func toBQValues(values map[string]any, schema bigquery.Schema) ([]bigquery.Value, error) {
	out := make([]bigquery.Value, len(schema))
	for i, fs := range schema {
		v, ok := values[fs.Name]
		if !ok || v == nil {
			if fs.Repeated {
				out[i] = []bigquery.Value{}
			}
			continue
		}
		converted, err := toBQValue(v, fs)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fs.Name, err)
		}
		out[i] = converted
	}
	return out, nil
}

func toBQValue(v any, fs *bigquery.FieldSchema) (bigquery.Value, error) {
	if fs.Repeated {
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("expected list, got %T", v)
		}
		item := *fs
		item.Repeated = false
		out := make([]bigquery.Value, 0, len(list))
		for _, x := range list {
			cx, err := toBQValue(x, &item)
			if err != nil {
				return nil, err
			}
			out = append(out, cx)
		}
		return out, nil
	}
	if fs.Type == bigquery.RecordFieldType {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected record, got %T", v)
		}
		return toBQValues(m, fs.Schema)
	}
	return v, nil
}

func fromBQRow(row map[string]bigquery.Value) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = fromBQValue(v)
	}
	return out
}

func fromBQValue(v bigquery.Value) any {
	switch x := v.(type) {
	case map[string]bigquery.Value:
		return fromBQRow(x)
	case []bigquery.Value:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = fromBQValue(item)
		}
		return out
	default:
		return x
	}
}
