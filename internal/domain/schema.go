// internal/domain/schema.go
package domain

import "fmt"

// FieldKind is the storage type of a schema field.
type FieldKind string

const (
	KindString    FieldKind = "string"
	KindInt64     FieldKind = "int64"
	KindFloat64   FieldKind = "float64"
	KindBool      FieldKind = "bool"
	KindTimestamp FieldKind = "timestamp"
	KindRecord    FieldKind = "record"
)

// Field describes one column of a destination.
type Field struct {
	Name     string    `json:"name"`
	Kind     FieldKind `json:"kind"`
	Repeated bool      `json:"repeated,omitempty"`
	// Fields is set only for KindRecord.
	Fields Schema `json:"fields,omitempty"`
}

// Schema is the ordered list of fields of a destination.
type Schema []Field

// Validate checks that names are present and unique on every level and that
// only record fields carry sub-fields.
func (s Schema) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for _, f := range s {
		if f.Name == "" {
			return fmt.Errorf("schema field name cannot be empty")
		}
		if _, ok := seen[f.Name]; ok {
			return fmt.Errorf("duplicate schema field %q", f.Name)
		}
		seen[f.Name] = struct{}{}

		switch f.Kind {
		case KindString, KindInt64, KindFloat64, KindBool, KindTimestamp:
			if len(f.Fields) > 0 {
				return fmt.Errorf("field %q of kind %s cannot have sub-fields", f.Name, f.Kind)
			}
		case KindRecord:
			if len(f.Fields) == 0 {
				return fmt.Errorf("record field %q has no sub-fields", f.Name)
			}
			if err := f.Fields.Validate(); err != nil {
				return fmt.Errorf("record field %q: %w", f.Name, err)
			}
		default:
			return fmt.Errorf("field %q has unknown kind %q", f.Name, f.Kind)
		}
	}
	return nil
}
