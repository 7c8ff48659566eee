package catalog

import "encoding/json"

// Definition describes an event type producers may dispatch.
type Definition struct {
	// Name is the dot-separated event type name, e.g. "deal.won".
	Name string `json:"name"`

	// Description explains when the event fires.
	Description string `json:"description"`

	// Group is an optional category for organizing event types.
	Group string `json:"group,omitempty"`

	// Schema is an optional JSON Schema describing the payload. When set,
	// dispatch validates the payload against it.
	Schema json.RawMessage `json:"schema,omitempty"`

	// Version is the version of this event type, e.g. "2025-01-01".
	Version string `json:"version,omitempty"`

	// Example is an optional example payload.
	Example json.RawMessage `json:"example,omitempty"`
}
