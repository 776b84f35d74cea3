// Package flow holds the value types that move between flow nodes.
package flow

import (
	"strconv"
	"strings"

	"github.com/touchon/flowbus/internal/shared/hubprotocol/touchon"
)

// Predicate selects the events a consumer node forwards. Each part is
// optional: an empty string, or a TargetID of zero or less, matches any
// value. Parts are ANDed.
type Predicate struct {
	TargetType string
	TargetID   int
	EventName  string
}

// NewPredicate builds a Predicate from node configuration. A target id
// that is not an integer places no constraint on the target.
func NewPredicate(targetType, targetID, eventName string) Predicate {
	return Predicate{
		TargetType: strings.TrimSpace(targetType),
		TargetID:   ParseTargetID(targetID),
		EventName:  strings.TrimSpace(eventName),
	}
}

// Matches reports whether ev passes every constrained part.
func (p Predicate) Matches(ev *touchon.Event) bool {
	if ev == nil {
		return false
	}
	if p.TargetType != "" && p.TargetType != string(ev.TargetType) {
		return false
	}
	if p.TargetID > 0 && p.TargetID != ev.TargetID {
		return false
	}
	if p.EventName != "" && p.EventName != ev.Name {
		return false
	}
	return true
}

// ParseTargetID parses a configured target id. Empty, non-numeric and
// negative values all yield 0.
func ParseTargetID(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
