package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/internal/entity"
)

// Event is a domain event produced by business logic, such as "deal.won".
// It is immutable once dispatched.
type Event struct {
	entity.Entity

	// ID is the unique TypeID for this event.
	ID id.ID `json:"id"`

	// Type is the dot-separated event type name (e.g. "record.created").
	Type string `json:"type"`

	// Payload is the event body. It must be a JSON object.
	Payload json.RawMessage `json:"payload"`

	// OccurredAt is when the fact happened in the producing system.
	OccurredAt time.Time `json:"occurred_at"`
}

// New builds an event of the given type, marshalling payload to JSON.
// A payload that is already json.RawMessage or []byte is used as is.
func New(eventType string, payload any) (*Event, error) {
	var raw json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	evt := &Event{
		Type:       eventType,
		Payload:    raw,
		OccurredAt: time.Now().UTC(),
	}
	return evt, evt.Validate()
}

// Validate checks that the event has a type and a JSON object payload.
func (e *Event) Validate() error {
	if e.Type == "" {
		return errors.New("type is required")
	}
	trimmed := bytes.TrimSpace(e.Payload)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return errors.New("payload must be a JSON object")
	}
	return nil
}

// ListOpts configures filtering and pagination for event listing.
type ListOpts struct {
	Offset int
	Limit  int
	Type   string
	From   *time.Time
	To     *time.Time
}
