// Package wsconn owns the single reconnecting WebSocket connection to a
// touchon bus endpoint and fans its lifecycle and frames out to any number
// of registered handlers.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	flowerrors "github.com/touchon/flowbus/internal/shared/errors"
	"github.com/touchon/flowbus/internal/shared/goroutine"
	"github.com/touchon/flowbus/internal/shared/logger"
)

var (
	// ErrNotConnected is returned by Send while no generation is live.
	ErrNotConnected = flowerrors.NewTransmitError("not connected")
	// ErrClosed is returned by Send once Close has been requested.
	ErrClosed = flowerrors.NewTransmitError("connection closed")
)

type registration struct {
	id        RegistrationID
	kind      Kind
	onOpen    func()
	onClose   func(error)
	onMessage func([]byte)
	live      bool // guarded by Manager.mu
}

type outbound struct {
	data   []byte
	result chan error
}

// Manager is a handle to one endpoint. Handlers are invoked one at a time,
// in registration order, from the Manager's run goroutine; they must not
// block.
type Manager struct {
	endpoint  Endpoint
	key       string
	log       logger.Interface
	reconnect ReconnectConfig
	transport TransportConfig
	metrics   *Metrics
	dialer    *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	generation uint64
	nextID     RegistrationID
	regs       []*registration
	started    bool
	closing    bool
	out        chan outbound // nil unless connected
	stop       chan struct{} // closed when the current generation ends

	closeReq chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a Manager for endpoint. Nothing is dialed until Open.
func New(endpoint Endpoint, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		endpoint:  endpoint,
		key:       endpoint.Key(),
		log:       logger.NewDiscard(),
		reconnect: DefaultReconnectConfig(),
		transport: DefaultTransportConfig(),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateDisconnected,
		closeReq:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.transport.PingPeriod <= 0 || m.transport.PongWait <= 0 {
		m.transport.PingPeriod = defaultPingPeriod
		m.transport.PongWait = defaultPongWait
	}
	if m.transport.WriteWait <= 0 {
		m.transport.WriteWait = defaultWriteWait
	}
	m.log = m.log.With("endpoint", m.key)
	m.dialer = &websocket.Dialer{
		HandshakeTimeout: m.transport.HandshakeTimeout,
	}
	return m
}

// Endpoint returns the endpoint this Manager connects to.
func (m *Manager) Endpoint() Endpoint {
	return m.endpoint
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Generation returns the number of connections established so far.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Registrations returns the number of live registrations.
func (m *Manager) Registrations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regs)
}

// Open starts connecting. Calling it again, or after Close, does nothing.
func (m *Manager) Open() {
	m.mu.Lock()
	if m.started || m.closing {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.state = StateConnecting
	m.mu.Unlock()

	goroutine.SafeGo(m.log, "wsconn-run", m.run)
}

// OnOpen registers fn to run each time a connection is established.
func (m *Manager) OnOpen(fn func()) RegistrationID {
	return m.subscribe(&registration{kind: KindOpen, onOpen: fn})
}

// OnClose registers fn to run each time an established connection ends.
// err is nil when the connection ended because Close was called.
func (m *Manager) OnClose(fn func(err error)) RegistrationID {
	return m.subscribe(&registration{kind: KindClose, onClose: fn})
}

// OnMessage registers fn for every inbound frame. The slice is shared by
// all message handlers and must not be modified.
func (m *Manager) OnMessage(fn func(frame []byte)) RegistrationID {
	return m.subscribe(&registration{kind: KindMessage, onMessage: fn})
}

func (m *Manager) subscribe(r *registration) RegistrationID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.id = m.nextID
	r.live = true
	m.regs = append(m.regs, r)
	m.metrics.setRegistrations(m.key, len(m.regs))
	return r.id
}

// Unsubscribe removes the registration with the given id and reports
// whether it was live. It never blocks and may be called from inside a
// handler. Once it returns no new invocation of the handler starts; an
// invocation already running is left to finish, as it may be the caller.
// Consumers that must also wait out work done inside their handler gate
// that work themselves.
func (m *Manager) Unsubscribe(id RegistrationID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.regs {
		if r.id != id {
			continue
		}
		r.live = false
		regs := make([]*registration, 0, len(m.regs)-1)
		regs = append(regs, m.regs[:i]...)
		regs = append(regs, m.regs[i+1:]...)
		m.regs = regs
		m.metrics.setRegistrations(m.key, len(m.regs))
		return true
	}
	return false
}

// Send writes one text frame on the current connection and returns the
// write result. It fails fast with ErrNotConnected while disconnected and
// with ErrClosed after Close; frames are never queued for a later
// connection.
func (m *Manager) Send(ctx context.Context, frame []byte) error {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		m.metrics.sendFailed(m.key)
		return ErrClosed
	}
	if m.state != StateConnected || m.out == nil {
		m.mu.Unlock()
		m.metrics.sendFailed(m.key)
		return ErrNotConnected
	}
	out, stop := m.out, m.stop
	m.mu.Unlock()

	req := outbound{data: frame, result: make(chan error, 1)}
	select {
	case out <- req:
	case <-stop:
		m.metrics.sendFailed(m.key)
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		if err != nil {
			m.metrics.sendFailed(m.key)
			return flowerrors.Wrap(flowerrors.ErrorTypeTransmit, "write failed", err)
		}
		m.metrics.frameSent(m.key)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close requests shutdown and returns a channel that is closed once the
// transport has been torn down and close handlers have run. If the Manager
// was never opened the returned channel is already closed. Every call
// returns the same channel.
func (m *Manager) Close() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return m.done
	}
	m.closing = true

	if !m.started {
		m.state = StateClosed
		m.cancel()
		m.finish()
		return m.done
	}

	m.state = StateClosing
	close(m.closeReq)
	m.cancel()
	return m.done
}

// Done returns the channel Close returns, without requesting shutdown.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) finish() {
	m.doneOnce.Do(func() {
		close(m.done)
	})
}

func (m *Manager) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.reconnect.InitialInterval
	b.MaxInterval = m.reconnect.MaxInterval
	b.Multiplier = m.reconnect.Multiplier
	b.RandomizationFactor = m.reconnect.RandomizationFactor
	b.Reset()
	return b
}

func (m *Manager) run() {
	defer func() {
		m.mu.Lock()
		m.state = StateClosed
		m.mu.Unlock()
		m.log.Infow("connection manager stopped")
		m.finish()
	}()

	b := m.newBackOff()
	var attempt uint64

	for {
		if m.ctx.Err() != nil {
			return
		}

		attempt++
		m.metrics.attempt(m.key)

		conn, err := m.dial()
		if err == nil {
			b.Reset()
			attempt = 0
			err = m.serve(conn)
		}

		if m.ctx.Err() != nil {
			return
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			delay = m.reconnect.MaxInterval
		}

		m.log.Warnw("connection lost, reconnecting",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		m.metrics.reconnectWait(m.key)

		timer := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Manager) dial() (*websocket.Conn, error) {
	conn, resp, err := m.dialer.DialContext(m.ctx, m.key, nil)
	if err != nil {
		if resp != nil {
			return nil, flowerrors.Wrap(flowerrors.ErrorTypeConnection,
				fmt.Sprintf("websocket dial failed: status=%d", resp.StatusCode), err)
		}
		return nil, flowerrors.Wrap(flowerrors.ErrorTypeConnection, "websocket dial failed", err)
	}
	return conn, nil
}

// serve runs one connection generation and returns why it ended.
func (m *Manager) serve(conn *websocket.Conn) error {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.generation++
	gen := m.generation
	out := make(chan outbound)
	stop := make(chan struct{})
	m.out = out
	m.stop = stop
	m.state = StateConnected
	m.mu.Unlock()

	m.metrics.connectedTo(m.key, true)
	m.log.Infow("connected", "generation", gen)

	pumpDone := make(chan struct{})
	goroutine.SafeGo(m.log, "wsconn-write", func() {
		defer close(pumpDone)
		m.writePump(conn, out, stop)
	})

	m.notifyOpen()
	readErr := m.readLoop(conn)

	m.mu.Lock()
	m.out = nil
	m.stop = nil
	closing := m.closing
	if !closing {
		m.state = StateConnecting
	}
	m.mu.Unlock()

	close(stop)
	<-pumpDone
	conn.Close()
	m.metrics.connectedTo(m.key, false)

	var err error
	if !closing {
		err = flowerrors.Wrap(flowerrors.ErrorTypeConnection, "connection dropped", readErr)
	}
	m.log.Infow("disconnected", "generation", gen, "error", readErr)
	m.notifyClose(err)
	return err
}

func (m *Manager) readLoop(conn *websocket.Conn) error {
	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(m.transport.PongWait))
	}

	conn.SetReadLimit(m.transport.ReadLimit)
	extend()
	conn.SetPongHandler(func(string) error {
		return extend()
	})
	conn.SetPingHandler(func(data string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(m.transport.WriteWait))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			return err
		}
		return nil
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		extend()
		m.metrics.frameReceived(m.key)
		m.notifyMessage(frame)
	}
}

// writePump owns every write on conn for one generation.
func (m *Manager) writePump(conn *websocket.Conn, out <-chan outbound, stop <-chan struct{}) {
	ticker := time.NewTicker(m.transport.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return

		case <-m.closeReq:
			err := conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(m.transport.WriteWait))
			if err != nil {
				conn.Close()
				return
			}
			// Wait for the peer's close frame to end the read loop.
			timer := time.NewTimer(m.transport.WriteWait)
			select {
			case <-stop:
				timer.Stop()
			case <-timer.C:
				conn.Close()
			}
			return

		case req := <-out:
			conn.SetWriteDeadline(time.Now().Add(m.transport.WriteWait))
			req.result <- conn.WriteMessage(websocket.TextMessage, req.data)

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(m.transport.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				m.log.Warnw("ping failed", "error", err)
				conn.Close()
				return
			}
		}
	}
}

func (m *Manager) snapshot(kind Kind) []*registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	regs := make([]*registration, 0, len(m.regs))
	for _, r := range m.regs {
		if r.kind == kind {
			regs = append(regs, r)
		}
	}
	return regs
}

func (m *Manager) notifyOpen() {
	for _, r := range m.snapshot(KindOpen) {
		m.invoke(r, r.onOpen)
	}
}

func (m *Manager) notifyClose(err error) {
	for _, r := range m.snapshot(KindClose) {
		m.invoke(r, func() { r.onClose(err) })
	}
}

func (m *Manager) notifyMessage(frame []byte) {
	for _, r := range m.snapshot(KindMessage) {
		m.invoke(r, func() { r.onMessage(frame) })
	}
}

// invoke runs one handler if its registration is still live, containing
// any panic to that handler. The liveness check is the last step before
// the call.
func (m *Manager) invoke(r *registration, fn func()) {
	m.mu.Lock()
	live := r.live
	m.mu.Unlock()
	if !live {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			m.log.Errorw("handler panicked",
				"registration", r.id,
				"kind", r.kind.String(),
				"panic", fmt.Sprintf("%v", p),
			)
		}
	}()
	fn()
}
