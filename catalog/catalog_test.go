package catalog_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xraph/beacon/catalog"
)

var dealSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"deal_id": {"type": "string"}, "amount": {"type": "number"}},
	"required": ["deal_id"]
}`)

func TestCatalogRegisterAndGet(t *testing.T) {
	c := catalog.New(nil)

	_, err := c.Register(catalog.Definition{
		Name:        "deal.won",
		Description: "Deal won",
		Group:       "deals",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	got, err := c.Get("deal.won")
	if err != nil {
		t.Fatal(err)
	}
	if got.Definition.Group != "deals" {
		t.Fatalf("got group %q", got.Definition.Group)
	}

	if _, err := c.Get("does.not.exist"); !errors.Is(err, catalog.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestCatalogRegisterRejectsBadDefinitions(t *testing.T) {
	c := catalog.New(nil)

	if _, err := c.Register(catalog.Definition{}, nil); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := c.Register(catalog.Definition{Name: "deal.*"}, nil); err == nil {
		t.Fatal("expected error for wildcard name")
	}
	if _, err := c.Register(catalog.Definition{Name: "bad.schema", Schema: json.RawMessage(`{"type": 12}`)}, nil); err == nil {
		t.Fatal("expected error for invalid schema")
	}
}

func TestCatalogUpsert(t *testing.T) {
	c := catalog.New(nil)

	_, _ = c.Register(catalog.Definition{Name: "deal.won", Description: "v1"}, nil)
	_, _ = c.Register(catalog.Definition{Name: "deal.won", Description: "v2"}, map[string]string{"k": "v"})

	got, _ := c.Get("deal.won")
	if got.Definition.Description != "v2" {
		t.Fatalf("expected v2, got %q", got.Definition.Description)
	}
	if got.Metadata["k"] != "v" {
		t.Fatal("expected metadata")
	}
	if n := len(c.List(catalog.ListOpts{})); n != 1 {
		t.Fatalf("expected 1 type, got %d", n)
	}
}

func TestCatalogList(t *testing.T) {
	c := catalog.New(nil)
	for _, name := range []string{"deal.won", "deal.lost", "record.created", "campaign.completed"} {
		if _, err := c.Register(catalog.Definition{Name: name}, nil); err != nil {
			t.Fatal(err)
		}
	}
	_ = c.Deprecate("deal.lost")

	all := c.List(catalog.ListOpts{})
	if len(all) != 3 {
		t.Fatalf("expected 3 non-deprecated, got %d", len(all))
	}
	if all[0].Definition.Name != "campaign.completed" {
		t.Fatalf("expected sorted by name, got %q first", all[0].Definition.Name)
	}

	deals := c.List(catalog.ListOpts{Pattern: "deal.*", IncludeDeprecated: true})
	if len(deals) != 2 {
		t.Fatalf("expected 2 deal types, got %d", len(deals))
	}

	page := c.List(catalog.ListOpts{Offset: 1, Limit: 1})
	if len(page) != 1 || page[0].Definition.Name != "deal.won" {
		t.Fatalf("unexpected page %v", page)
	}
}

func TestCatalogCheck(t *testing.T) {
	c := catalog.New(nil)
	if _, err := c.Register(catalog.Definition{Name: "deal.won", Schema: dealSchema}, nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		eventType string
		payload   string
		strict    bool
		want      error
	}{
		{"valid payload", "deal.won", `{"deal_id":"d1","amount":10}`, false, nil},
		{"missing required", "deal.won", `{"amount":10}`, false, catalog.ErrInvalidPayload},
		{"wrong type", "deal.won", `{"deal_id":1}`, false, catalog.ErrInvalidPayload},
		{"unknown lenient", "other.event", `{}`, false, nil},
		{"unknown strict", "other.event", `{}`, true, catalog.ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Check(tt.eventType, json.RawMessage(tt.payload), tt.strict)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCatalogCheckDeprecated(t *testing.T) {
	c := catalog.New(nil)
	_, _ = c.Register(catalog.Definition{Name: "legacy.event"}, nil)

	if err := c.Deprecate("legacy.event"); err != nil {
		t.Fatal(err)
	}
	if err := c.Check("legacy.event", json.RawMessage(`{}`), false); !errors.Is(err, catalog.ErrDeprecated) {
		t.Fatalf("expected ErrDeprecated, got %v", err)
	}

	if err := c.Deprecate("missing.event"); !errors.Is(err, catalog.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestCatalogLoadFile(t *testing.T) {
	doc := `
event_types:
  - name: deal.won
    description: A deal was marked as won.
    group: deals
    schema:
      type: object
      required: [deal_id]
      properties:
        deal_id:
          type: string
  - name: record.created
    group: records
  - name: legacy.event
    deprecated: true
`
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	c := catalog.New(nil)
	n, err := c.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 loaded, got %d", n)
	}

	if err := c.Check("deal.won", json.RawMessage(`{"deal_id":"d1"}`), true); err != nil {
		t.Fatal(err)
	}
	if err := c.Check("deal.won", json.RawMessage(`{}`), true); !errors.Is(err, catalog.ErrInvalidPayload) {
		t.Fatalf("expected schema from YAML to apply, got %v", err)
	}
	if err := c.Check("legacy.event", json.RawMessage(`{}`), false); !errors.Is(err, catalog.ErrDeprecated) {
		t.Fatalf("expected deprecated, got %v", err)
	}
}

func TestCatalogLoadInvalidYAML(t *testing.T) {
	c := catalog.New(nil)
	if _, err := c.Load([]byte("event_types: [")); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := c.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected read error")
	}
}
