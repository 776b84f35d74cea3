package handlers

import (
	"context"

	"github.com/touchon/flowbus/internal/application/flowhost"
	"github.com/touchon/flowbus/internal/domain/flow"
)

// FlowRuntime is the part of flowhost.Runtime the node endpoints use.
type FlowRuntime interface {
	Statuses() []flowhost.NodeStatus
	Status(nodeID string) (flowhost.NodeStatus, bool)
	Trigger(ctx context.Context, nodeID string, msg *flow.Message) error
}
