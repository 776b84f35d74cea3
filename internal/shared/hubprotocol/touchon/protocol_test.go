package touchon

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/touchon/flowbus/internal/shared/errors"
)

func TestDecodeEvent_ServerFrame(t *testing.T) {
	raw := []byte(`{"payload":{"publisher":"core","type":"event","name":"onChange",` +
		`"target_type":"object","target_id":5,"payload":{"value":1},` +
		`"sent_at":"2024-01-02T03:04:05Z","received_at":"2024-01-02T03:04:05Z"}}`)

	frame, err := DecodeEvent(raw)
	require.NoError(t, err)
	require.NotNil(t, frame.Payload)

	ev := frame.Payload
	assert.Equal(t, "core", ev.Publisher)
	assert.Equal(t, "onChange", ev.Name)
	assert.Equal(t, TargetObject, ev.TargetType)
	assert.Equal(t, 5, ev.TargetID)
	assert.Equal(t, map[string]any{"value": float64(1)}, ev.Payload)
	assert.Equal(t, "2024-01-02T03:04:05Z", ev.SentAt)
}

func TestDecodeEvent_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `not json`},
		{"array", `[1,2]`},
		{"missing payload", `{"type":"event"}`},
		{"null payload", `{"payload":null}`},
		{"payload not object", `{"payload":"x"}`},
		{"target id string", `{"payload":{"target_id":"5"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeEvent([]byte(tt.raw))
			assert.Nil(t, frame)
			assert.True(t, flowerrors.IsDecodeError(err), "got %v", err)
		})
	}
}

func TestDecodeEvent_FreshObjectPerCall(t *testing.T) {
	raw := []byte(`{"payload":{"name":"onChange","payload":{"value":1}}}`)

	a, err := DecodeEvent(raw)
	require.NoError(t, err)
	b, err := DecodeEvent(raw)
	require.NoError(t, err)

	a.Payload.Reshape()

	assert.Nil(t, a.Payload.Payload)
	assert.Equal(t, map[string]any{"value": float64(1)}, a.Payload.Props)
	assert.Equal(t, map[string]any{"value": float64(1)}, b.Payload.Payload)
	assert.Nil(t, b.Payload.Props)
}

func TestEvent_ReshapeJSON(t *testing.T) {
	ev := &Event{Name: "onChange", TargetType: TargetObject, TargetID: 5, Payload: map[string]any{"value": 1}}
	ev.Reshape()

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"onChange","target_type":"object","target_id":5,"props":{"value":1}}`, string(data))
}

func TestEvent_JSONKeepsZeroTarget(t *testing.T) {
	ev := &Event{Name: "onStart", TargetType: TargetNotMatters, TargetID: 0, Payload: map[string]any{"mode": "auto"}}
	ev.Reshape()

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"onStart","target_type":"not_matters","target_id":0,"props":{"mode":"auto"}}`, string(data))

	data, err = json.Marshal(&Event{Name: "ping"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"ping","target_type":"","target_id":0}`, string(data))
}

func TestEncodeCommand_WireShape(t *testing.T) {
	data, err := EncodeCommand(NewCommand(TargetObject, 5, "toggle", nil))
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"command","target_type":"object","target_id":5,"name":"toggle","payload":{}}`, string(data))
}

func TestCommand_RoundTrip(t *testing.T) {
	in := NewCommand(TargetItem, 12, "set", map[string]any{"value": "on", "level": float64(3)})

	data, err := EncodeCommand(in)
	require.NoError(t, err)
	out, err := DecodeCommand(data)
	require.NoError(t, err)

	assert.Equal(t, in, out)
}

func TestEvent_RoundTrip(t *testing.T) {
	in := &Event{Type: MsgTypeEvent, Name: "onCheck", TargetType: TargetScript, TargetID: 3,
		Payload: map[string]any{"ok": true}}

	data, err := EncodeEvent(in)
	require.NoError(t, err)
	frame, err := DecodeEvent(data)
	require.NoError(t, err)

	assert.Equal(t, in, frame.Payload)
}

func TestDecodeCommand_RejectsEvents(t *testing.T) {
	_, err := DecodeCommand([]byte(`{"type":"event","name":"x"}`))
	assert.True(t, flowerrors.IsDecodeError(err))
}

func TestTargetType_Valid(t *testing.T) {
	for _, tt := range []TargetType{TargetNotMatters, TargetObject, TargetItem, TargetScript, TargetService} {
		assert.True(t, tt.Valid(), string(tt))
	}
	assert.False(t, TargetType("device").Valid())
	assert.False(t, TargetType("").Valid())
}
