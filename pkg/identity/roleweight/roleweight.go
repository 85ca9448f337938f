// Package roleweight maps provider role and permission names to a sensitivity
// weight in [0,1]. Role vocabularies differ per provider and are open-ended,
// so classification is an ordered keyword table rather than a closed enum:
// new provider vocabularies are added by extending the table, not by touching
// any consumer.
package roleweight

import "strings"

// Rule pairs a lowercase keyword with the sensitivity assigned to any role
// name containing it. Rules are evaluated in order; the first match wins, so
// more specific keywords must precede more general ones ("administratoraccess"
// before "admin").
type Rule struct {
	Keyword string
	Weight  float64
}

// Table is the ordered sensitivity table for common IAM role names.
var Table = []Rule{
	{"administratoraccess", 1.0},
	{"superadmin", 1.0},
	{"owner", 0.95},
	{"globaladmin", 0.95},
	{"root", 1.0},
	{"admin", 0.9},
	{"contributor", 0.6},
	{"editor", 0.6},
	{"readwrite", 0.5},
	{"developer", 0.4},
	{"reader", 0.2},
	{"viewer", 0.1},
}

// Weight returns the sensitivity of a role name. Lookup is a case-insensitive
// substring scan over Table; roles matching no rule fall back to coarse
// heuristics. Always returns a value in [0,1].
func Weight(role string) float64 {
	lower := strings.ToLower(role)
	for _, r := range Table {
		if strings.Contains(lower, r.Keyword) {
			return r.Weight
		}
	}
	switch {
	case strings.Contains(lower, "admin"):
		return 0.9
	case strings.Contains(lower, "write"), strings.Contains(lower, "manage"):
		return 0.5
	case strings.Contains(lower, "read"), strings.Contains(lower, "view"):
		return 0.15
	}
	return 0.3
}

// Max returns the highest sensitivity across a set of roles, or 0 for an
// empty set.
func Max(roles []string) float64 {
	max := 0.0
	for _, r := range roles {
		if w := Weight(r); w > max {
			max = w
		}
	}
	return max
}

// IsAdmin reports whether any role name contains "admin" (case-insensitive).
// This is the admin criterion shared by the risk, graph, and summary code.
func IsAdmin(roles []string) bool {
	for _, r := range roles {
		if strings.Contains(strings.ToLower(r), "admin") {
			return true
		}
	}
	return false
}
