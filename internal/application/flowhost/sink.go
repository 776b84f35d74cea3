package flowhost

import (
	"context"
	"time"

	"github.com/touchon/flowbus/internal/application/status"
	"github.com/touchon/flowbus/internal/domain/flow"
	"github.com/touchon/flowbus/internal/infrastructure/pubsub"
	"github.com/touchon/flowbus/internal/shared/goroutine"
	"github.com/touchon/flowbus/internal/shared/logger"
)

// OutputSink observes every message a node forwards. Deliver runs on the
// forwarding goroutine, which may be a connection's dispatch loop, so it
// must not block.
type OutputSink interface {
	Deliver(nodeID string, output int, msg *flow.Message)
}

// StatusObserver is implemented by sinks that also want node status changes.
type StatusObserver interface {
	StatusChanged(nodeID string, s status.Status)
}

// LogSink writes forwarded messages at debug level and status changes at
// info level.
type LogSink struct {
	log logger.Interface
}

func NewLogSink(log logger.Interface) *LogSink {
	if log == nil {
		log = logger.NewDiscard()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Deliver(nodeID string, output int, msg *flow.Message) {
	s.log.Debugw("node output",
		"node", nodeID,
		"output", output,
		"msg_id", msg.ID,
	)
}

func (s *LogSink) StatusChanged(nodeID string, st status.Status) {
	s.log.Infow("node status changed",
		"node", nodeID,
		"severity", st.Severity,
		"text", st.Text,
	)
}

const defaultPublishTimeout = 5 * time.Second

// RelaySink publishes forwarded messages and status changes to other hosts.
// Each publish runs on its own goroutine bounded by a timeout.
type RelaySink struct {
	pub     pubsub.Publisher
	log     logger.Interface
	timeout time.Duration
}

func NewRelaySink(pub pubsub.Publisher, log logger.Interface) *RelaySink {
	if log == nil {
		log = logger.NewDiscard()
	}
	return &RelaySink{pub: pub, log: log, timeout: defaultPublishTimeout}
}

func (s *RelaySink) Deliver(nodeID string, output int, msg *flow.Message) {
	event := pubsub.OutputEvent{NodeID: nodeID, Output: output, Message: msg}
	goroutine.SafeGo(s.log, "relay-output-"+nodeID, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		// The relay logs publish failures itself.
		_ = s.pub.PublishOutput(ctx, event)
	})
}

func (s *RelaySink) StatusChanged(nodeID string, st status.Status) {
	event := pubsub.StatusEvent{
		NodeID:   nodeID,
		Severity: string(st.Severity),
		Shape:    string(st.Shape),
		Text:     st.Text,
	}
	goroutine.SafeGo(s.log, "relay-status-"+nodeID, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_ = s.pub.PublishStatus(ctx, event)
	})
}
