// internal/domain/row.go
package domain

// Row is a single serialized record ready to be inserted into a destination.
//
// Values holds only string, int64, float64, bool, time.Time, nil,
// map[string]any (nested records) and []any (repeated fields).
type Row struct {
	// InsertID is used by stores that support best-effort de-duplication.
	InsertID string
	Values   map[string]any
}

// Len returns the number of top-level values in the row.
func (r Row) Len() int {
	return len(r.Values)
}
