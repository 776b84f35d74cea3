package flow

import (
	"github.com/touchon/flowbus/internal/shared/hubprotocol/touchon"
	"github.com/touchon/flowbus/internal/shared/id"
)

// Message is what flows along a wire between nodes.
type Message struct {
	ID         string   `json:"_msgid"`
	Payload    any      `json:"payload"`
	OldMessage *Message `json:"oldMessage,omitempty"`
}

// NewMessage wraps payload in a message with a fresh id.
func NewMessage(payload any) *Message {
	return &Message{ID: id.NewMessageID(), Payload: payload}
}

// Clone returns a deep copy of m with a new id. Maps, slices and events in
// the payload are copied; other values are shared.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := &Message{
		ID:      id.NewMessageID(),
		Payload: cloneValue(m.Payload),
	}
	if m.OldMessage != nil {
		old := m.OldMessage.Clone()
		old.ID = m.OldMessage.ID
		c.OldMessage = old
	}
	return c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case *touchon.Event:
		if t == nil {
			return t
		}
		ev := *t
		ev.Payload = cloneMap(t.Payload)
		ev.Props = cloneMap(t.Props)
		return &ev
	default:
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// ReshapeProps renames the "payload" key of a state response to "props".
// The map is modified in place; without a "payload" key it is untouched.
func ReshapeProps(m map[string]any) {
	if m == nil {
		return
	}
	if v, ok := m["payload"]; ok {
		m["props"] = v
		delete(m, "payload")
	}
}
