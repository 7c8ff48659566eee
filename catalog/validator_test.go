package catalog_test

import (
	"testing"

	"github.com/xraph/beacon/catalog"
)

const dealWonSchema = `{
	"type": "object",
	"properties": {
		"deal_id": {"type": "string"},
		"amount":  {"type": "number", "minimum": 0},
		"seats":   {"type": "integer"}
	},
	"required": ["deal_id", "amount"]
}`

func TestValidatePayload(t *testing.T) {
	v := catalog.NewValidator()

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid", `{"deal_id":"d_1","amount":1200.5}`, false},
		{"extra fields allowed", `{"deal_id":"d_1","amount":0,"owner":"sam"}`, false},
		{"integer seats", `{"deal_id":"d_1","amount":10,"seats":3}`, false},
		{"missing required", `{"deal_id":"d_1"}`, true},
		{"wrong type", `{"deal_id":42,"amount":10}`, true},
		{"negative amount", `{"deal_id":"d_1","amount":-1}`, true},
		{"fractional seats", `{"deal_id":"d_1","amount":10,"seats":2.5}`, true},
		{"truncated", `{"deal_id":`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidatePayload([]byte(dealWonSchema), []byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePayload(%s) error = %v, wantErr %v", tt.payload, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePayloadEmptySchema(t *testing.T) {
	v := catalog.NewValidator()
	if err := v.ValidatePayload(nil, []byte(`{"anything":true}`)); err != nil {
		t.Fatalf("empty schema should skip validation, got %v", err)
	}
}

func TestCompile(t *testing.T) {
	v := catalog.NewValidator()

	if err := v.Compile([]byte(dealWonSchema)); err != nil {
		t.Fatalf("compile: %v", err)
	}
	// Cached schemas compile again without error.
	if err := v.Compile([]byte(dealWonSchema)); err != nil {
		t.Fatalf("compile cached: %v", err)
	}
	if err := v.Compile([]byte(`{"type": 12}`)); err == nil {
		t.Fatal("expected error for invalid schema")
	}
	if err := v.Compile([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for malformed schema")
	}
}
