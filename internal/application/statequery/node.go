// Package statequery implements nodes that, on each input, fetch the
// current state of a bus entity over HTTP and forward it downstream.
package statequery

import (
	"context"
	"strings"
	"sync"

	"github.com/touchon/flowbus/internal/application/status"
	"github.com/touchon/flowbus/internal/domain/flow"
	"github.com/touchon/flowbus/internal/infrastructure/wsconn"
	flowerrors "github.com/touchon/flowbus/internal/shared/errors"
	"github.com/touchon/flowbus/internal/shared/goroutine"
	"github.com/touchon/flowbus/internal/shared/logger"
)

// Fetcher returns the state object of one entity.
type Fetcher interface {
	FetchState(ctx context.Context, targetType string, targetID int) (map[string]any, error)
}

// Connection is used only for status.
type Connection interface {
	State() wsconn.State
	OnOpen(fn func()) wsconn.RegistrationID
	OnClose(fn func(error)) wsconn.RegistrationID
	Unsubscribe(id wsconn.RegistrationID) bool
}

type Sink func(msg *flow.Message)

type Config struct {
	TargetType string
	TargetID   string
}

type Node struct {
	name       string
	conn       Connection
	fetcher    Fetcher
	targetType string
	targetID   int
	sink       Sink
	reporter   *status.Reporter
	log        logger.Interface
	inert      bool

	mu       sync.Mutex
	regs     []wsconn.RegistrationID
	closed   bool
	inflight map[uint64]context.CancelFunc
	nextReq  uint64
	wg       sync.WaitGroup
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
	n := &Node{
		name:     "state",
		log:      logger.NewDiscard(),
		inflight: make(map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.reporter == nil {
		n.reporter = status.NewReporter(status.Disconnected(), nil)
	}
	n.log = n.log.With("node", n.name)
	return n
}

// NewNode attaches a state query node to conn.
func NewNode(conn Connection, fetcher Fetcher, cfg Config, sink Sink, opts ...Option) *Node {
	n := newNode(opts)
	n.conn = conn
	n.fetcher = fetcher
	n.targetType = strings.TrimSpace(cfg.TargetType)
	n.targetID = flow.ParseTargetID(cfg.TargetID)
	n.sink = sink

	n.regs = n.reporter.Follow(conn)
	return n
}

// NewInertNode is a state query node without a server. Triggers complete
// immediately and forward nothing.
func NewInertNode(opts ...Option) *Node {
	n := newNode(opts)
	n.inert = true
	n.reporter.Set(status.NoServer())
	return n
}

// Trigger starts one fetch for msg and returns a channel closed when it
// has finished. On success the sink receives a message whose payload is
// the reshaped response and whose OldMessage is msg; on failure the node
// status shows the error. ctx bounds the fetch.
func (n *Node) Trigger(ctx context.Context, msg *flow.Message) <-chan struct{} {
	done := make(chan struct{})

	n.mu.Lock()
	if n.inert || n.closed {
		n.mu.Unlock()
		close(done)
		return done
	}
	fctx, cancel := context.WithCancel(ctx)
	n.nextReq++
	req := n.nextReq
	n.inflight[req] = cancel
	n.wg.Add(1)
	n.mu.Unlock()

	goroutine.SafeGo(n.log, "statequery-fetch", func() {
		defer func() {
			n.mu.Lock()
			delete(n.inflight, req)
			n.mu.Unlock()
			cancel()
			n.wg.Done()
			close(done)
		}()
		n.fetch(fctx, msg)
	})
	return done
}

func (n *Node) fetch(ctx context.Context, old *flow.Message) {
	resp, err := n.fetcher.FetchState(ctx, n.targetType, n.targetID)
	if err != nil {
		n.log.Warnw("state fetch failed",
			"target_type", n.targetType,
			"target_id", n.targetID,
			"error", err,
		)
		n.reporter.Set(status.FromError(err))
		return
	}

	flow.ReshapeProps(resp)
	out := flow.NewMessage(resp)
	out.OldMessage = old

	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if !closed && n.sink != nil {
		n.sink(out)
	}
}

// Close removes status registrations, cancels in-flight fetches and waits
// for them to return.
func (n *Node) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	regs := n.regs
	n.regs = nil
	for _, cancel := range n.inflight {
		cancel()
	}
	n.mu.Unlock()

	for _, id := range regs {
		n.conn.Unsubscribe(id)
	}
	n.wg.Wait()
}

func (n *Node) Name() string { return n.name }

func (n *Node) Status() status.Status {
	return n.reporter.Current()
}

// Err reports why the node is inert.
func (n *Node) Err() error {
	if n.inert {
		return flowerrors.NewNoServerError()
	}
	return nil
}
