package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the structure of an event type catalog file:
//
//	event_types:
//	  - name: deal.won
//	    description: A deal was marked as won.
//	    group: deals
//	    schema:
//	      type: object
//	      required: [deal_id]
type File struct {
	EventTypes []FileEntry `yaml:"event_types"`
}

// FileEntry is one event type in a catalog file.
type FileEntry struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Group       string            `yaml:"group"`
	Version     string            `yaml:"version"`
	Deprecated  bool              `yaml:"deprecated"`
	Schema      map[string]any    `yaml:"schema"`
	Example     map[string]any    `yaml:"example"`
	Metadata    map[string]string `yaml:"metadata"`
}

// LoadFile reads a YAML catalog file and registers its event types.
func (c *Catalog) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading catalog file: %w", err)
	}
	return c.Load(data)
}

// Load registers the event types of a YAML catalog document.
func (c *Catalog) Load(data []byte) (int, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("parsing catalog YAML: %w", err)
	}

	var err error
	for i, e := range f.EventTypes {
		def := Definition{
			Name:        e.Name,
			Description: e.Description,
			Group:       e.Group,
			Version:     e.Version,
		}
		if e.Schema != nil {
			if def.Schema, err = json.Marshal(e.Schema); err != nil {
				return i, fmt.Errorf("event type %q: schema: %w", e.Name, err)
			}
		}
		if e.Example != nil {
			if def.Example, err = json.Marshal(e.Example); err != nil {
				return i, fmt.Errorf("event type %q: example: %w", e.Name, err)
			}
		}

		if _, err := c.Register(def, e.Metadata); err != nil {
			return i, err
		}
		if e.Deprecated {
			if err := c.Deprecate(e.Name); err != nil {
				return i, err
			}
		}
	}
	return len(f.EventTypes), nil
}
