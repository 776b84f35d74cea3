package commandout

import (
	"context"
	"sync"

	"github.com/touchon/flowbus/internal/application/status"
	"github.com/touchon/flowbus/internal/domain/flow"
	"github.com/touchon/flowbus/internal/infrastructure/wsconn"
	flowerrors "github.com/touchon/flowbus/internal/shared/errors"
	"github.com/touchon/flowbus/internal/shared/logger"
)

// Connection is the part of wsconn.Manager a producer node uses.
type Connection interface {
	Sender
	State() wsconn.State
	OnOpen(fn func()) wsconn.RegistrationID
	OnClose(fn func(error)) wsconn.RegistrationID
	Unsubscribe(id wsconn.RegistrationID) bool
}

// Node is a producer node. A Node built with invalid configuration or
// without a connection is inert: Trigger returns the stored error.
type Node struct {
	name     string
	conn     Connection
	template *Template
	err      error
	reporter *status.Reporter
	log      logger.Interface

	mu   sync.Mutex
	regs []wsconn.RegistrationID
}

type Option func(*Node)

func WithName(name string) Option {
	return func(n *Node) {
		n.name = name
	}
}

func WithLogger(log logger.Interface) Option {
	return func(n *Node) {
		if log != nil {
			n.log = log
		}
	}
}

func WithReporter(r *status.Reporter) Option {
	return func(n *Node) {
		if r != nil {
			n.reporter = r
		}
	}
}

func newNode(opts []Option) *Node {
	n := &Node{name: "out", log: logger.NewDiscard()}
	for _, opt := range opts {
		opt(n)
	}
	if n.reporter == nil {
		n.reporter = status.NewReporter(status.Disconnected(), nil)
	}
	n.log = n.log.With("node", n.name)
	return n
}

// NewNode validates cfg and attaches to conn. On a configuration error the
// node is inert, shows the error, and registers nothing.
func NewNode(conn Connection, cfg Config, opts ...Option) *Node {
	n := newNode(opts)

	tmpl, err := Build(cfg)
	if err != nil {
		n.err = err
		n.reporter.Set(status.FromError(err))
		n.log.Errorw("producer configuration rejected", "error", err)
		return n
	}
	n.template = tmpl
	n.conn = conn

	n.regs = n.reporter.Follow(conn)
	return n
}

// NewInertNode is a producer whose server reference could not be resolved.
func NewInertNode(opts ...Option) *Node {
	n := newNode(opts)
	n.err = flowerrors.NewNoServerError()
	n.reporter.Set(status.NoServer())
	return n
}

// Trigger sends one command. msg is not used to build the command.
func (n *Node) Trigger(ctx context.Context, msg *flow.Message) error {
	if n.err != nil {
		return n.err
	}
	if err := Emit(ctx, n.conn, n.template); err != nil {
		n.log.Warnw("command not sent",
			"command", n.template.CommandName(),
			"error", err,
		)
		return err
	}
	n.log.Debugw("command sent",
		"command", n.template.CommandName(),
		"target_type", string(n.template.TargetType()),
		"target_id", n.template.TargetID(),
	)
	return nil
}

// Close removes the node's status registrations. It is idempotent.
func (n *Node) Close() {
	n.mu.Lock()
	regs := n.regs
	n.regs = nil
	n.mu.Unlock()

	for _, id := range regs {
		n.conn.Unsubscribe(id)
	}
}

func (n *Node) Name() string { return n.name }

// Err returns the error that made the node inert, if any.
func (n *Node) Err() error { return n.err }

func (n *Node) Status() status.Status {
	return n.reporter.Current()
}
