package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trafi/big-querier/internal/domain"
	"github.com/trafi/big-querier/internal/usecase"
)

// AttributeRequest is the DTO for one event attribute.
type AttributeRequest struct {
	Key   string `json:"key" validate:"required,max=256"`
	Value string `json:"value" validate:"max=4096"`
}

// DeviceRequest is the DTO for the device that produced an event.
type DeviceRequest struct {
	Platform   string `json:"platform" validate:"required,max=64"`
	AppVersion string `json:"app_version" validate:"max=64"`
}

// EventRequest is the Data Transfer Object for ingesting one event.
type EventRequest struct {
	ID         string             `json:"id" validate:"omitempty,max=128"`
	Name       string             `json:"name" validate:"required,min=1,max=128"`
	Source     string             `json:"source" validate:"required,max=128"`
	OccurredAt *time.Time         `json:"occurred_at,omitempty"`
	UserID     *string            `json:"user_id,omitempty" validate:"omitempty,max=128"`
	Value      *float64           `json:"value,omitempty"`
	Count      int                `json:"count" validate:"gte=0"`
	Tags       []string           `json:"tags,omitempty" validate:"max=50,dive,max=128"`
	Attributes []AttributeRequest `json:"attributes,omitempty" validate:"max=100,dive"`
	Device     *DeviceRequest     `json:"device,omitempty"`
}

// ToDomainEvent converts an EventRequest DTO to a domain.Event object.
func (r *EventRequest) ToDomainEvent() *domain.Event {
	e := &domain.Event{
		ID:     r.ID,
		Name:   r.Name,
		Source: r.Source,
		UserID: r.UserID,
		Value:  r.Value,
		Count:  r.Count,
		Tags:   r.Tags,
	}
	if r.OccurredAt != nil {
		e.OccurredAt = r.OccurredAt.UTC()
	}
	for _, a := range r.Attributes {
		e.Attributes = append(e.Attributes, domain.Attribute{Key: a.Key, Value: a.Value})
	}
	if r.Device != nil {
		e.Device = &domain.Device{Platform: r.Device.Platform, AppVersion: r.Device.AppVersion}
	}
	return e
}

// EventResponse is the JSON view of a stored event.
type EventResponse struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Source     string             `json:"source"`
	OccurredAt time.Time          `json:"occurred_at"`
	UserID     *string            `json:"user_id,omitempty"`
	Value      *float64           `json:"value,omitempty"`
	Count      int                `json:"count"`
	Tags       []string           `json:"tags,omitempty"`
	Attributes []AttributeRequest `json:"attributes,omitempty"`
	Device     *DeviceRequest     `json:"device,omitempty"`
}

func newEventResponse(e domain.Event) EventResponse {
	resp := EventResponse{
		ID:         e.ID,
		Name:       e.Name,
		Source:     e.Source,
		OccurredAt: e.OccurredAt,
		UserID:     e.UserID,
		Value:      e.Value,
		Count:      e.Count,
		Tags:       e.Tags,
	}
	for _, a := range e.Attributes {
		resp.Attributes = append(resp.Attributes, AttributeRequest{Key: a.Key, Value: a.Value})
	}
	if e.Device != nil {
		resp.Device = &DeviceRequest{Platform: e.Device.Platform, AppVersion: e.Device.AppVersion}
	}
	return resp
}

// ParseEvents decodes a body holding one event object or an array of events
// and validates each of them. Events that fail validation are returned as nil
// together with a Rejection at the same index, so the slice can be passed
// to the ingest service as is.
func ParseEvents(validate *validator.Validate, body []byte) ([]*domain.Event, []usecase.Rejection, error) {
	reqs, err := decodeEvents(body)
	if err != nil {
		return nil, nil, err
	}

	events := make([]*domain.Event, len(reqs))
	var invalid []usecase.Rejection
	for i := range reqs {
		if err := validate.Struct(&reqs[i]); err != nil {
			invalid = append(invalid, usecase.Rejection{Index: i, Error: validationMessage(err)})
			continue
		}
		events[i] = reqs[i].ToDomainEvent()
	}
	return events, invalid, nil
}

func decodeEvents(body []byte) ([]EventRequest, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("request body is empty")
	}
	if trimmed[0] == '[' {
		var reqs []EventRequest
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			return nil, fmt.Errorf("invalid event array: %w", err)
		}
		return reqs, nil
	}
	var req EventRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	return []EventRequest{req}, nil
}

// MergeRejections replaces the service's "event is null" entries with the
// validation messages of the same index.
func MergeRejections(fromService, invalid []usecase.Rejection) []usecase.Rejection {
	if len(invalid) == 0 {
		return fromService
	}
	byIndex := make(map[int]string, len(invalid))
	for _, rej := range invalid {
		byIndex[rej.Index] = rej.Error
	}
	out := make([]usecase.Rejection, 0, len(fromService))
	for _, rej := range fromService {
		if msg, ok := byIndex[rej.Index]; ok {
			rej.Error = msg
		}
		out = append(out, rej)
	}
	return out
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("Field '%s' failed on the '%s' tag.", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
