// Package flowhost instantiates a flow definition: it builds its nodes on
// shared bus connections, routes their outputs along wires and exposes
// their status.
package flowhost

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/touchon/flowbus/internal/application/commandout"
	"github.com/touchon/flowbus/internal/application/eventin"
	"github.com/touchon/flowbus/internal/application/statequery"
	"github.com/touchon/flowbus/internal/application/status"
	"github.com/touchon/flowbus/internal/domain/flow"
	"github.com/touchon/flowbus/internal/infrastructure/flowfile"
	"github.com/touchon/flowbus/internal/infrastructure/pubsub"
	"github.com/touchon/flowbus/internal/infrastructure/stateapi"
	"github.com/touchon/flowbus/internal/infrastructure/wsconn"
	flowerrors "github.com/touchon/flowbus/internal/shared/errors"
	"github.com/touchon/flowbus/internal/shared/logger"
)

var (
	ErrUnknownNode = errors.New("unknown node")
	ErrStopped     = errors.New("flow runtime stopped")
)

// FetcherFactory returns the state fetcher for nodes on server.
type FetcherFactory func(server flowfile.Server) statequery.Fetcher

// NodeStatus is the rendered view of one node.
type NodeStatus struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Server string         `json:"server,omitempty"`
	Status status.Status  `json:"status"`
	Stats  *eventin.Stats `json:"stats,omitempty"`
}

type node struct {
	def      flowfile.Node
	reporter *status.Reporter
	endpoint *wsconn.Endpoint

	input func(ctx context.Context, msg *flow.Message) error
	close func()
	stats func() eventin.Stats
}

// targets returns the downstream node ids of one output.
func (n *node) targets(output int) []string {
	if n.def.Type == flowfile.TypeCopy {
		if output < len(n.def.Wires) {
			return n.def.Wires[output : output+1]
		}
		return nil
	}
	if output == 0 {
		return n.def.Wires
	}
	return nil
}

// Runtime runs the nodes of one flow definition.
type Runtime struct {
	registry     *wsconn.Registry
	log          logger.Interface
	sinks        []OutputSink
	metrics      *Metrics
	fetchers     FetcherFactory
	stateTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	nodes   map[string]*node
	order   []string
	stopped atomic.Bool
}

type Option func(*Runtime)

// WithRegistry shares connections through reg instead of a private registry.
func WithRegistry(reg *wsconn.Registry) Option {
	return func(r *Runtime) {
		r.registry = reg
	}
}

func WithLogger(log logger.Interface) Option {
	return func(r *Runtime) {
		if log != nil {
			r.log = log
		}
	}
}

// WithSinks adds observers of every forwarded message.
func WithSinks(sinks ...OutputSink) Option {
	return func(r *Runtime) {
		r.sinks = append(r.sinks, sinks...)
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Runtime) {
		r.metrics = m
	}
}

func WithFetcherFactory(f FetcherFactory) Option {
	return func(r *Runtime) {
		r.fetchers = f
	}
}

// WithStateTimeout bounds every state API request of the default fetchers.
func WithStateTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.stateTimeout = d
		}
	}
}

// New builds every node of def. Nodes on a defined server share one
// connection per endpoint; nodes without one run as "no server".
func New(def *flowfile.Definition, opts ...Option) (*Runtime, error) {
	if def == nil {
		return nil, flowerrors.NewConfigurationError("flow definition is nil")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{
		log:          logger.NewDiscard(),
		stateTimeout: stateapi.DefaultTimeout,
		nodes:        make(map[string]*node, len(def.Nodes)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.registry == nil {
		r.registry = wsconn.NewRegistry(wsconn.WithLogger(r.log))
	}
	if r.fetchers == nil {
		r.fetchers = func(s flowfile.Server) statequery.Fetcher {
			return stateapi.NewClient(s.Host, s.Port, stateapi.WithTimeout(r.stateTimeout))
		}
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	for _, nd := range def.Nodes {
		srv, ok := def.ServerByID(nd.Server)
		r.nodes[nd.ID] = r.build(nd, srv, ok)
		r.order = append(r.order, nd.ID)
	}

	r.log.Infow("flow runtime started",
		"nodes", len(r.order),
		"connections", r.registry.Len(),
	)
	return r, nil
}

func (r *Runtime) build(nd flowfile.Node, srv flowfile.Server, hasServer bool) *node {
	n := &node{def: nd}
	n.reporter = status.NewReporter(status.Disconnected(), func(s status.Status) {
		for _, sink := range r.sinks {
			if o, ok := sink.(StatusObserver); ok {
				o.StatusChanged(nd.ID, s)
			}
		}
	})
	log := r.log.With("node", nd.ID, "type", nd.Type)

	var mgr *wsconn.Manager
	if hasServer && nd.Type != flowfile.TypeCopy {
		ep := wsconn.NewEndpoint(srv.Host, srv.Port, srv.Path)
		mgr = r.registry.Acquire(ep)
		n.endpoint = &ep
	} else if nd.Type != flowfile.TypeCopy && nd.Server != "" {
		log.Warnw("node references an undefined server", "server", nd.Server)
	}

	switch nd.Type {
	case flowfile.TypeIn:
		opts := []eventin.Option{eventin.WithName(nd.ID), eventin.WithLogger(log), eventin.WithReporter(n.reporter)}
		var d *eventin.Dispatcher
		if mgr != nil {
			pred := flow.NewPredicate(nd.TargetType, nd.TargetID, nd.EventName)
			d = eventin.Attach(mgr, pred, func(msg *flow.Message) { r.forward(n, 0, msg) }, opts...)
		} else {
			d = eventin.NewInert(opts...)
		}
		n.input = func(context.Context, *flow.Message) error {
			return flowerrors.NewConfigurationError("node has no input", nd.ID)
		}
		n.close = d.Detach
		n.stats = d.Stats

	case flowfile.TypeOut:
		opts := []commandout.Option{commandout.WithName(nd.ID), commandout.WithLogger(log), commandout.WithReporter(n.reporter)}
		var out *commandout.Node
		if mgr != nil {
			out = commandout.NewNode(mgr, commandout.Config{
				TargetType:  nd.TargetType,
				TargetID:    nd.TargetID,
				CommandName: nd.CommandName,
				Args:        nd.Args,
			}, opts...)
		} else {
			out = commandout.NewInertNode(opts...)
		}
		n.input = out.Trigger
		n.close = out.Close

	case flowfile.TypeState:
		opts := []statequery.Option{statequery.WithName(nd.ID), statequery.WithLogger(log), statequery.WithReporter(n.reporter)}
		var sq *statequery.Node
		if mgr != nil {
			cfg := statequery.Config{TargetType: nd.TargetType, TargetID: nd.TargetID}
			sq = statequery.NewNode(mgr, r.fetchers(srv), cfg, func(msg *flow.Message) { r.forward(n, 0, msg) }, opts...)
		} else {
			sq = statequery.NewInertNode(opts...)
		}
		// Fetches run under the runtime context, not the caller's.
		n.input = func(_ context.Context, msg *flow.Message) error {
			sq.Trigger(r.ctx, msg)
			return nil
		}
		n.close = sq.Close

	case flowfile.TypeCopy:
		n.reporter.Set(status.Status{Severity: status.SeverityOK, Shape: status.ShapeDot, Text: fmt.Sprintf("%d outputs", nd.Outputs)})
		n.input = func(_ context.Context, msg *flow.Message) error {
			for i := 0; i < nd.Outputs; i++ {
				r.forward(n, i, msg.Clone())
			}
			return nil
		}
		n.close = func() {}
	}
	return n
}

// forward hands msg from one output of n to every sink and wired node.
// Wired nodes after the first receive their own clone.
func (r *Runtime) forward(n *node, output int, msg *flow.Message) {
	if r.stopped.Load() || msg == nil {
		return
	}
	r.metrics.forward(n.def.ID, output)
	for _, sink := range r.sinks {
		sink.Deliver(n.def.ID, output, msg)
	}

	for i, id := range n.targets(output) {
		next, ok := r.nodes[id]
		if !ok {
			continue
		}
		m := msg
		if i > 0 {
			m = msg.Clone()
		}
		err := next.input(r.ctx, m)
		r.metrics.trigger(id, err)
		if err != nil {
			r.log.Warnw("node input failed",
				"node", id,
				"from", n.def.ID,
				"error", err,
			)
		}
	}
}

// Trigger delivers msg as an input of nodeID. A nil msg becomes an empty one.
func (r *Runtime) Trigger(ctx context.Context, nodeID string, msg *flow.Message) error {
	if r.stopped.Load() {
		return ErrStopped
	}
	n, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	if msg == nil {
		msg = flow.NewMessage(nil)
	}
	err := n.input(ctx, msg)
	r.metrics.trigger(nodeID, err)
	return err
}

// ServeTriggers injects triggers received from sub until ctx is done.
func (r *Runtime) ServeTriggers(ctx context.Context, sub pubsub.Subscriber) error {
	return sub.SubscribeTriggers(ctx, func(event pubsub.TriggerEvent) {
		if err := r.Trigger(ctx, event.NodeID, flow.NewMessage(event.Payload)); err != nil {
			r.log.Warnw("relayed trigger failed",
				"node", event.NodeID,
				"error", err,
			)
		}
	})
}

// Statuses returns every node's status in definition order.
func (r *Runtime) Statuses() []NodeStatus {
	out := make([]NodeStatus, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.nodes[id].view())
	}
	return out
}

// Status returns the status of one node.
func (r *Runtime) Status(nodeID string) (NodeStatus, bool) {
	n, ok := r.nodes[nodeID]
	if !ok {
		return NodeStatus{}, false
	}
	return n.view(), true
}

func (n *node) view() NodeStatus {
	v := NodeStatus{
		ID:     n.def.ID,
		Type:   n.def.Type,
		Server: n.def.Server,
		Status: n.reporter.Current(),
	}
	if n.stats != nil {
		s := n.stats()
		v.Stats = &s
	}
	return v
}

// Stop detaches every node, releases their connections and waits until
// each released connection has closed or ctx ends. It is idempotent.
func (r *Runtime) Stop(ctx context.Context) error {
	if !r.stopped.CompareAndSwap(false, true) {
		return nil
	}
	r.cancel()

	var pending []<-chan struct{}
	for _, id := range r.order {
		n := r.nodes[id]
		n.close()
		if n.endpoint != nil {
			pending = append(pending, r.registry.Release(*n.endpoint))
		}
	}

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.log.Infow("flow runtime stopped", "nodes", len(r.order))
	return nil
}
