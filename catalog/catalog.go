// Package catalog keeps the registry of known event types. Registering a
// type is optional; when a type carries a JSON Schema, dispatch validates
// payloads against it.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xraph/beacon/internal/entity"
)

var (
	// ErrUnknownType is returned for a type that was never registered.
	ErrUnknownType = errors.New("catalog: unknown event type")

	// ErrDeprecated is returned when dispatching a deprecated type.
	ErrDeprecated = errors.New("catalog: event type is deprecated")

	// ErrInvalidPayload wraps schema validation failures.
	ErrInvalidPayload = errors.New("catalog: payload does not match schema")
)

// Catalog is the in-memory registry of event types.
type Catalog struct {
	mu        sync.RWMutex
	types     map[string]*EventType
	validator *Validator
	logger    *slog.Logger
}

// New creates an empty catalog.
func New(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		types:     make(map[string]*EventType),
		validator: NewValidator(),
		logger:    logger,
	}
}

// Register adds or replaces the definition for def.Name. Re-registering a
// deprecated type keeps it deprecated.
func (c *Catalog) Register(def Definition, metadata map[string]string) (*EventType, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, errors.New("catalog: name is required")
	}
	if strings.ContainsAny(def.Name, "*?") {
		return nil, fmt.Errorf("catalog: name %q must not contain wildcards", def.Name)
	}
	if len(def.Schema) > 0 {
		if err := c.validator.Compile(def.Schema); err != nil {
			return nil, fmt.Errorf("catalog: %s: %w", def.Name, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.types[def.Name]; ok {
		existing.Definition = def
		existing.Metadata = metadata
		existing.Touch()
		return existing, nil
	}

	et := &EventType{
		Entity:     entity.New(),
		Definition: def,
		Metadata:   metadata,
	}
	c.types[def.Name] = et
	c.logger.Debug("event type registered", "name", def.Name)
	return et, nil
}

// Get returns the event type called name.
func (c *Catalog) Get(name string) (*EventType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	et, ok := c.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return et, nil
}

// List returns event types sorted by name.
func (c *Catalog) List(opts ListOpts) []*EventType {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*EventType, 0, len(c.types))
	for _, et := range c.types {
		if !opts.IncludeDeprecated && et.IsDeprecated {
			continue
		}
		if opts.Group != "" && et.Definition.Group != opts.Group {
			continue
		}
		if opts.Pattern != "" && !Match(opts.Pattern, et.Definition.Name) {
			continue
		}
		out = append(out, et)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Definition.Name < out[j].Definition.Name
	})
	return paginate(out, opts.Offset, opts.Limit)
}

// Deprecate marks name as deprecated. Dispatching it is rejected afterwards.
func (c *Catalog) Deprecate(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	et, ok := c.types[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	if !et.IsDeprecated {
		now := time.Now().UTC()
		et.IsDeprecated = true
		et.DeprecatedAt = &now
		et.Touch()
	}
	return nil
}

// Check validates a dispatch of eventType with payload. An unregistered
// type passes unless strict is set.
func (c *Catalog) Check(eventType string, payload json.RawMessage, strict bool) error {
	c.mu.RLock()
	et, ok := c.types[eventType]
	c.mu.RUnlock()

	if !ok {
		if strict {
			return fmt.Errorf("%w: %s", ErrUnknownType, eventType)
		}
		return nil
	}
	if et.IsDeprecated {
		return fmt.Errorf("%w: %s", ErrDeprecated, eventType)
	}
	if len(et.Definition.Schema) == 0 {
		return nil
	}
	if err := c.validator.ValidatePayload(et.Definition.Schema, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
