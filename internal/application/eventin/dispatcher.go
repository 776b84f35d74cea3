// Package eventin implements consumer nodes: each Dispatcher filters the
// shared inbound event stream with its own predicate and forwards matching,
// reshaped events to a sink.
package eventin

import (
	"sync"
	"sync/atomic"

	"github.com/touchon/flowbus/internal/application/status"
	"github.com/touchon/flowbus/internal/domain/flow"
	"github.com/touchon/flowbus/internal/infrastructure/wsconn"
	"github.com/touchon/flowbus/internal/shared/hubprotocol/touchon"
	"github.com/touchon/flowbus/internal/shared/logger"
)

// Connection is the part of wsconn.Manager a Dispatcher uses.
type Connection interface {
	State() wsconn.State
	OnOpen(fn func()) wsconn.RegistrationID
	OnClose(fn func(error)) wsconn.RegistrationID
	OnMessage(fn func([]byte)) wsconn.RegistrationID
	Unsubscribe(id wsconn.RegistrationID) bool
}

// Sink receives forwarded messages. It runs on the connection's dispatch
// goroutine and must not block.
type Sink func(msg *flow.Message)

// Stats counts what a Dispatcher did with the frames it saw.
type Stats struct {
	Forwarded uint64 `json:"forwarded"`
	Filtered  uint64 `json:"filtered"`
	Malformed uint64 `json:"malformed"`
}

type Dispatcher struct {
	name      string
	conn      Connection
	predicate flow.Predicate
	sink      Sink
	reporter  *status.Reporter
	log       logger.Interface

	mu       sync.Mutex
	regs     []wsconn.RegistrationID
	detached atomic.Bool

	// delivery is read-held by handle from the detached check until the
	// sink returns; Detach takes it to wait out an in-flight delivery.
	delivery sync.RWMutex
	inSink   atomic.Bool

	forwarded atomic.Uint64
	filtered  atomic.Uint64
	malformed atomic.Uint64
}

type Option func(*Dispatcher)

// WithName labels log lines from this dispatcher.
func WithName(name string) Option {
	return func(d *Dispatcher) {
		d.name = name
	}
}

func WithLogger(log logger.Interface) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// WithReporter publishes status changes through r.
func WithReporter(r *status.Reporter) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.reporter = r
		}
	}
}

func newDispatcher(opts []Option) *Dispatcher {
	d := &Dispatcher{
		name: "in",
		log:  logger.NewDiscard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.reporter == nil {
		d.reporter = status.NewReporter(status.Disconnected(), nil)
	}
	d.log = d.log.With("node", d.name)
	return d
}

// Attach registers open, close and message handlers on conn. The initial
// status reflects conn's current state.
func Attach(conn Connection, predicate flow.Predicate, sink Sink, opts ...Option) *Dispatcher {
	d := newDispatcher(opts)
	d.conn = conn
	d.predicate = predicate
	d.sink = sink

	regs := d.reporter.Follow(conn)
	regs = append(regs, conn.OnMessage(d.handle))

	d.mu.Lock()
	d.regs = regs
	d.mu.Unlock()

	return d
}

// NewInert returns a Dispatcher for a node whose server reference could
// not be resolved. It reports "no server" and never forwards anything.
func NewInert(opts ...Option) *Dispatcher {
	d := newDispatcher(opts)
	d.detached.Store(true)
	d.reporter.Set(status.NoServer())
	return d
}

func (d *Dispatcher) handle(frame []byte) {
	d.delivery.RLock()
	defer d.delivery.RUnlock()
	if d.detached.Load() {
		return
	}

	msg, err := touchon.DecodeEvent(frame)
	if err != nil {
		d.malformed.Add(1)
		d.log.Warnw("dropping malformed frame", "error", err, "size", len(frame))
		return
	}

	ev := msg.Payload
	if !d.predicate.Matches(ev) {
		d.filtered.Add(1)
		return
	}

	ev.Reshape()
	d.forwarded.Add(1)
	if d.sink != nil {
		d.inSink.Store(true)
		defer d.inSink.Store(false)
		d.sink(flow.NewMessage(ev))
	}
}

// Detach removes exactly the registrations Attach made. It is idempotent
// and safe to call from inside the sink. Called from another goroutine it
// waits for a delivery that is decoding or filtering a frame, so the sink
// is not invoked once Detach has returned.
func (d *Dispatcher) Detach() {
	d.mu.Lock()
	if d.detached.Load() {
		d.mu.Unlock()
		return
	}
	d.detached.Store(true)
	regs := d.regs
	d.regs = nil
	d.mu.Unlock()

	for _, id := range regs {
		d.conn.Unsubscribe(id)
	}

	// A running sink may be the caller.
	if d.inSink.Load() {
		return
	}
	d.delivery.Lock()
	d.delivery.Unlock()
}

func (d *Dispatcher) Name() string {
	return d.name
}

func (d *Dispatcher) Predicate() flow.Predicate {
	return d.predicate
}

// Status returns the latest reported status.
func (d *Dispatcher) Status() status.Status {
	return d.reporter.Current()
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Forwarded: d.forwarded.Load(),
		Filtered:  d.filtered.Load(),
		Malformed: d.malformed.Load(),
	}
}
