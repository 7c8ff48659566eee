package catalog

import (
	"time"

	"github.com/xraph/beacon/internal/entity"
)

// EventType is a registered Definition with its lifecycle state.
type EventType struct {
	entity.Entity

	Definition Definition `json:"definition"`

	// IsDeprecated marks a type that may no longer be dispatched.
	IsDeprecated bool       `json:"deprecated"`
	DeprecatedAt *time.Time `json:"deprecated_at,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListOpts configures filtering and pagination for event type listing.
type ListOpts struct {
	Offset int
	Limit  int
	Group  string

	// Pattern filters names with Match, e.g. "deal.*".
	Pattern string

	IncludeDeprecated bool
}
