package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/touchon/flowbus/internal/shared/hubprotocol/touchon"
)

func TestPredicate_Matches(t *testing.T) {
	ev := &touchon.Event{Name: "onChange", TargetType: touchon.TargetObject, TargetID: 5}

	tests := []struct {
		name string
		p    Predicate
		want bool
	}{
		{"empty matches all", Predicate{}, true},
		{"type match", Predicate{TargetType: "object"}, true},
		{"type mismatch", Predicate{TargetType: "item"}, false},
		{"id match", Predicate{TargetID: 5}, true},
		{"id mismatch", Predicate{TargetID: 6}, false},
		{"id zero is any", Predicate{TargetID: 0}, true},
		{"negative id is any", Predicate{TargetID: -1}, true},
		{"name match", Predicate{EventName: "onChange"}, true},
		{"name mismatch", Predicate{EventName: "onCheck"}, false},
		{"all match", Predicate{TargetType: "object", TargetID: 5, EventName: "onChange"}, true},
		{"one part off", Predicate{TargetType: "object", TargetID: 5, EventName: "onCheck"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Matches(ev))
		})
	}

	assert.False(t, Predicate{}.Matches(nil))
}

func TestPredicate_TargetIDZeroEvent(t *testing.T) {
	ev := &touchon.Event{Name: "onStart", TargetType: touchon.TargetService}

	assert.True(t, NewPredicate("service", "0", "").Matches(ev))
	assert.False(t, NewPredicate("service", "1", "").Matches(ev))
}

func TestNewPredicate(t *testing.T) {
	assert.Equal(t, Predicate{TargetType: "object", TargetID: 5, EventName: "onChange"},
		NewPredicate(" object ", "5", "onChange"))
	assert.Equal(t, 0, NewPredicate("", "abc", "").TargetID)
	assert.Equal(t, 0, NewPredicate("", "-3", "").TargetID)
	assert.Equal(t, 0, NewPredicate("", "", "").TargetID)
}

func TestParseTargetID(t *testing.T) {
	assert.Equal(t, 12, ParseTargetID("12"))
	assert.Equal(t, 12, ParseTargetID(" 12 "))
	assert.Equal(t, 0, ParseTargetID("1.5"))
	assert.Equal(t, 0, ParseTargetID("x"))
}
