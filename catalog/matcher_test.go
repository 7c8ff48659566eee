package catalog

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		// Wildcard "*" matches everything.
		{"*", "deal.created", true},
		{"*", "user.deleted", true},
		{"*", "x", true},

		// Exact match.
		{"deal.created", "deal.created", true},
		{"user.deleted", "user.deleted", true},

		// Exact mismatch.
		{"deal.created", "deal.paid", false},
		{"deal.created", "user.created", false},

		// Single-segment wildcard.
		{"deal.*", "deal.created", true},
		{"deal.*", "deal.paid", true},
		{"deal.*", "user.created", false},
		{"*.created", "deal.created", true},
		{"*.created", "user.created", true},
		{"*.created", "deal.paid", false},

		// Multi-segment with wildcard.
		{"deal.*.completed", "deal.payment.completed", true},
		{"deal.*.completed", "deal.payment.failed", false},
		{"*.payment.*", "deal.payment.completed", true},
		{"*.payment.*", "deal.refund.completed", false},

		// Segment count mismatch.
		{"deal.*", "deal.payment.completed", false},
		{"deal.*.completed", "deal.paid", false},
		{"invoice", "deal.created", false},

		// Edge cases.
		{"", "", true},
		{"a", "a", true},
		{"a", "b", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"_vs_"+tt.name, func(t *testing.T) {
			got := Match(tt.pattern, tt.name)
			if got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.name, got, tt.want)
			}
		})
	}
}
