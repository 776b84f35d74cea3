// Package touchon defines the JSON frames exchanged with the touchon bus.
// The server wraps every event as {"payload": <event>}; clients send bare
// command objects.
package touchon

import (
	"encoding/json"
	"fmt"

	flowerrors "github.com/touchon/flowbus/internal/shared/errors"
)

// Message type constants.
const (
	MsgTypeEvent   = "event"
	MsgTypeCommand = "command"
)

// TargetType names the kind of entity an event or command is about.
type TargetType string

const (
	TargetNotMatters TargetType = "not_matters"
	TargetObject     TargetType = "object"
	TargetItem       TargetType = "item"
	TargetScript     TargetType = "script"
	TargetService    TargetType = "service"
)

var targetTypes = map[TargetType]struct{}{
	TargetNotMatters: {},
	TargetObject:     {},
	TargetItem:       {},
	TargetScript:     {},
	TargetService:    {},
}

// Valid reports whether t is one of the known target types.
func (t TargetType) Valid() bool {
	_, ok := targetTypes[t]
	return ok
}

// Event is a bus event as seen by consumers.
// Payload holds the event arguments as sent; after Reshape they live in
// Props and Payload is cleared.
type Event struct {
	Publisher  string         `json:"publisher,omitempty"`
	Type       string         `json:"type,omitempty"`
	Name       string         `json:"name"`
	TargetType TargetType     `json:"target_type"`
	TargetID   int            `json:"target_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	Props      map[string]any `json:"props,omitempty"`
	SentAt     string         `json:"sent_at,omitempty"`
	ReceivedAt string         `json:"received_at,omitempty"`
}

// Reshape renames payload to props.
func (e *Event) Reshape() {
	e.Props = e.Payload
	e.Payload = nil
}

// EventFrame is the inbound message envelope.
type EventFrame struct {
	Type    string `json:"type,omitempty"`
	Payload *Event `json:"payload"`
}

// Command is the outbound message sent by producer nodes.
type Command struct {
	Type       string         `json:"type"`
	TargetType TargetType     `json:"target_type"`
	TargetID   int            `json:"target_id"`
	Name       string         `json:"name"`
	Payload    map[string]any `json:"payload"`
}

// NewCommand returns a command envelope with Type set.
func NewCommand(targetType TargetType, targetID int, name string, args map[string]any) *Command {
	if args == nil {
		args = map[string]any{}
	}
	return &Command{
		Type:       MsgTypeCommand,
		TargetType: targetType,
		TargetID:   targetID,
		Name:       name,
		Payload:    args,
	}
}

// DecodeEvent parses one inbound frame into a freshly allocated EventFrame.
// A frame that is not a JSON object with an object payload is a DecodeError.
func DecodeEvent(data []byte) (*EventFrame, error) {
	var frame EventFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, flowerrors.Wrap(flowerrors.ErrorTypeDecode, "malformed event frame", err)
	}
	if frame.Payload == nil {
		return nil, flowerrors.NewDecodeError("malformed event frame", "missing payload object")
	}
	return &frame, nil
}

// EncodeEvent wraps ev in an event frame.
func EncodeEvent(ev *Event) ([]byte, error) {
	data, err := json.Marshal(EventFrame{Payload: ev})
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return data, nil
}

// EncodeCommand serializes cmd as a bare JSON object.
func EncodeCommand(cmd *Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}
	return data, nil
}

// DecodeCommand parses a command frame. Used by bus-side tooling and tests.
func DecodeCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, flowerrors.Wrap(flowerrors.ErrorTypeDecode, "malformed command frame", err)
	}
	if cmd.Type != MsgTypeCommand {
		return nil, flowerrors.NewDecodeError("malformed command frame", fmt.Sprintf("unexpected type %q", cmd.Type))
	}
	return &cmd, nil
}
