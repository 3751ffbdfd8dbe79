// internal/usecase/event_contract.go
package usecase

import (
	"time"

	"github.com/trafi/big-querier/internal/domain"
	"github.com/trafi/big-querier/internal/record"
)

var attributeContract = record.MustContract(
	record.Value("key", func(a domain.Attribute) string { return a.Key }, func(a *domain.Attribute, v string) { a.Key = v }),
	record.Value("value", func(a domain.Attribute) string { return a.Value }, func(a *domain.Attribute, v string) { a.Value = v }),
)

var deviceContract = record.MustContract(
	record.Value("platform", func(d domain.Device) string { return d.Platform }, func(d *domain.Device, v string) { d.Platform = v }),
	record.Value("app_version", func(d domain.Device) string { return d.AppVersion }, func(d *domain.Device, v string) { d.AppVersion = v }),
)

var eventContract = record.MustContract(
	record.Value("id", func(e domain.Event) string { return e.ID }, func(e *domain.Event, v string) { e.ID = v }),
	record.Value("name", func(e domain.Event) string { return e.Name }, func(e *domain.Event, v string) { e.Name = v }),
	record.Value("source", func(e domain.Event) string { return e.Source }, func(e *domain.Event, v string) { e.Source = v }),
	record.Value("occurred_at", func(e domain.Event) time.Time { return e.OccurredAt }, func(e *domain.Event, v time.Time) { e.OccurredAt = v }),
	record.Nullable("user_id", func(e domain.Event) *string { return e.UserID }, func(e *domain.Event, v *string) { e.UserID = v }),
	record.Nullable("value", func(e domain.Event) *float64 { return e.Value }, func(e *domain.Event, v *float64) { e.Value = v }),
	record.Value("count", func(e domain.Event) int { return e.Count }, func(e *domain.Event, v int) { e.Count = v }),
	record.Repeated("tags", func(e domain.Event) []string { return e.Tags }, func(e *domain.Event, v []string) { e.Tags = v }),
	record.RepeatedNested("attributes", attributeContract,
		func(e domain.Event) []domain.Attribute { return e.Attributes },
		func(e *domain.Event, v []domain.Attribute) { e.Attributes = v }),
	record.Nested("device", deviceContract,
		func(e domain.Event) *domain.Device { return e.Device },
		func(e *domain.Event, v *domain.Device) { e.Device = v }),
)

// EventContract maps domain.Event to destination rows.
func EventContract() *record.Contract[domain.Event] {
	return eventContract
}
