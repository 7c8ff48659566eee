package catalog

import "strings"

// Match reports whether an event type name matches a discovery pattern.
// Patterns only filter catalog listings; subscriptions always match event
// types exactly.
//
//	"deal.won"  → exact match
//	"deal.*"    → one segment wildcard: deal.won, deal.lost
//	"*"         → everything
func Match(pattern, name string) bool {
	if pattern == "" || pattern == "*" || pattern == name {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	nameParts := strings.Split(name, ".")
	if len(patternParts) != len(nameParts) {
		return false
	}

	for i, pp := range patternParts {
		if pp != "*" && pp != nameParts[i] {
			return false
		}
	}
	return true
}
