package wsconntest

import (
	"context"
	"sync"

	"github.com/touchon/flowbus/internal/infrastructure/wsconn"
)

type fakeReg struct {
	id        wsconn.RegistrationID
	kind      wsconn.Kind
	onOpen    func()
	onClose   func(error)
	onMessage func([]byte)
}

// FakeConn is an in-memory stand-in for a wsconn.Manager. Emit methods
// run handlers synchronously on the calling goroutine, in registration
// order, skipping registrations removed mid-dispatch.
type FakeConn struct {
	mu      sync.Mutex
	state   wsconn.State
	nextID  wsconn.RegistrationID
	regs    []*fakeReg
	sent    [][]byte
	sendErr error
}

func NewFakeConn(state wsconn.State) *FakeConn {
	return &FakeConn{state: state}
}

func (f *FakeConn) State() wsconn.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FakeConn) OnOpen(fn func()) wsconn.RegistrationID {
	return f.add(&fakeReg{kind: wsconn.KindOpen, onOpen: fn})
}

func (f *FakeConn) OnClose(fn func(error)) wsconn.RegistrationID {
	return f.add(&fakeReg{kind: wsconn.KindClose, onClose: fn})
}

func (f *FakeConn) OnMessage(fn func([]byte)) wsconn.RegistrationID {
	return f.add(&fakeReg{kind: wsconn.KindMessage, onMessage: fn})
}

func (f *FakeConn) add(r *fakeReg) wsconn.RegistrationID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	r.id = f.nextID
	f.regs = append(f.regs, r)
	return r.id
}

func (f *FakeConn) Unsubscribe(id wsconn.RegistrationID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.regs {
		if r.id == id {
			f.regs = append(f.regs[:i:i], f.regs[i+1:]...)
			return true
		}
	}
	return false
}

// Registrations returns the number of live registrations.
func (f *FakeConn) Registrations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.regs)
}

// Send records frame while connected, otherwise fails like a Manager.
func (f *FakeConn) Send(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.state != wsconn.StateConnected {
		return wsconn.ErrNotConnected
	}
	f.sent = append(f.sent, append([]byte(nil), frame...))
	return nil
}

// FailSends makes every Send return err; nil restores normal behaviour.
func (f *FakeConn) FailSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

// Sent returns every frame accepted by Send.
func (f *FakeConn) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *FakeConn) live(r *fakeReg) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, x := range f.regs {
		if x == r {
			return true
		}
	}
	return false
}

func (f *FakeConn) snapshot(kind wsconn.Kind) []*fakeReg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeReg
	for _, r := range f.regs {
		if r.kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// EmitOpen moves to connected and runs open handlers.
func (f *FakeConn) EmitOpen() {
	f.mu.Lock()
	f.state = wsconn.StateConnected
	f.mu.Unlock()
	for _, r := range f.snapshot(wsconn.KindOpen) {
		if f.live(r) {
			r.onOpen()
		}
	}
}

// EmitClose moves to connecting and runs close handlers with err.
func (f *FakeConn) EmitClose(err error) {
	f.mu.Lock()
	f.state = wsconn.StateConnecting
	f.mu.Unlock()
	for _, r := range f.snapshot(wsconn.KindClose) {
		if f.live(r) {
			r.onClose(err)
		}
	}
}

// EmitMessage delivers frame to message handlers.
func (f *FakeConn) EmitMessage(frame []byte) {
	for _, r := range f.snapshot(wsconn.KindMessage) {
		if f.live(r) {
			r.onMessage(frame)
		}
	}
}
