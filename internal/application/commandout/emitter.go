// Package commandout implements producer nodes: each trigger builds a
// fresh command envelope from static configuration and sends it on the
// shared connection.
package commandout

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/touchon/flowbus/internal/domain/flow"
	flowerrors "github.com/touchon/flowbus/internal/shared/errors"
	"github.com/touchon/flowbus/internal/shared/hubprotocol/touchon"
)

// Config is the static configuration of a producer node.
type Config struct {
	TargetType  string
	TargetID    string
	CommandName string
	// Args is a JSON object; empty means {}.
	Args string
}

// Template is a validated Config. It is immutable.
type Template struct {
	targetType touchon.TargetType
	targetID   int
	name       string
	args       map[string]any
}

// Build validates cfg. A target id that does not parse as a non-negative
// integer becomes 0. Args that are not a JSON object are a
// ConfigurationError.
func Build(cfg Config) (*Template, error) {
	args := map[string]any{}
	if raw := strings.TrimSpace(cfg.Args); raw != "" {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return nil, flowerrors.NewConfigurationError("invalid command args", err.Error())
		}
		if parsed == nil {
			return nil, flowerrors.NewConfigurationError("invalid command args", "args must be a JSON object")
		}
		args = parsed
	}

	return &Template{
		targetType: touchon.TargetType(strings.TrimSpace(cfg.TargetType)),
		targetID:   flow.ParseTargetID(cfg.TargetID),
		name:       cfg.CommandName,
		args:       args,
	}, nil
}

// Envelope returns a new command with its own copy of the args.
func (t *Template) Envelope() *touchon.Command {
	return touchon.NewCommand(t.targetType, t.targetID, t.name, copyArgs(t.args))
}

func (t *Template) TargetType() touchon.TargetType { return t.targetType }

func (t *Template) TargetID() int { return t.targetID }

func (t *Template) CommandName() string { return t.name }

func copyArgs(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyArgs(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// Sender writes one encoded frame.
type Sender interface {
	Send(ctx context.Context, frame []byte) error
}

// Emit encodes a fresh envelope from t and sends it. The send outcome is
// returned unchanged.
func Emit(ctx context.Context, sender Sender, t *Template) error {
	frame, err := touchon.EncodeCommand(t.Envelope())
	if err != nil {
		return err
	}
	return sender.Send(ctx, frame)
}
