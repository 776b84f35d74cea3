package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/touchon/flowbus/internal/shared/hubprotocol/touchon"
	"github.com/touchon/flowbus/internal/shared/id"
)

func TestNewMessage(t *testing.T) {
	m := NewMessage("on")
	assert.True(t, id.HasPrefix(m.ID, id.PrefixMessage))
	assert.Equal(t, "on", m.Payload)
}

func TestMessage_CloneIsDeep(t *testing.T) {
	orig := NewMessage(map[string]any{
		"props": map[string]any{"value": 1},
		"list":  []any{map[string]any{"a": 1}},
	})
	orig.OldMessage = NewMessage("trigger")

	c := orig.Clone()
	require.NotNil(t, c)
	assert.NotEqual(t, orig.ID, c.ID)
	assert.Equal(t, orig.OldMessage.ID, c.OldMessage.ID)
	assert.Equal(t, orig.Payload, c.Payload)

	c.Payload.(map[string]any)["props"].(map[string]any)["value"] = 2
	c.Payload.(map[string]any)["list"].([]any)[0].(map[string]any)["a"] = 2

	assert.Equal(t, 1, orig.Payload.(map[string]any)["props"].(map[string]any)["value"])
	assert.Equal(t, 1, orig.Payload.(map[string]any)["list"].([]any)[0].(map[string]any)["a"])
}

func TestMessage_CloneEvent(t *testing.T) {
	ev := &touchon.Event{Name: "onChange", Props: map[string]any{"value": 1}}
	c := NewMessage(ev).Clone()

	cev := c.Payload.(*touchon.Event)
	cev.Props["value"] = 2
	cev.Name = "other"

	assert.Equal(t, 1, ev.Props["value"])
	assert.Equal(t, "onChange", ev.Name)
	assert.Nil(t, (*Message)(nil).Clone())
}

func TestReshapeProps(t *testing.T) {
	m := map[string]any{"id": 5, "payload": map[string]any{"on": true}}
	ReshapeProps(m)
	assert.Equal(t, map[string]any{"id": 5, "props": map[string]any{"on": true}}, m)

	empty := map[string]any{"id": 5}
	ReshapeProps(empty)
	assert.Equal(t, map[string]any{"id": 5}, empty)
	assert.NotContains(t, empty, "props")

	ReshapeProps(nil)
}
