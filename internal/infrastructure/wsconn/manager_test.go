package wsconn_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/touchon/flowbus/internal/infrastructure/wsconn"
	"github.com/touchon/flowbus/internal/infrastructure/wsconn/wsconntest"
	flowerrors "github.com/touchon/flowbus/internal/shared/errors"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

func fastReconnect() wsconn.Option {
	return wsconn.WithReconnect(wsconn.ReconnectConfig{
		InitialInterval:     10 * time.Millisecond,
		MaxInterval:         50 * time.Millisecond,
		Multiplier:          2,
		RandomizationFactor: 0,
	})
}

func newManager(t *testing.T, bus *wsconntest.Bus, opts ...wsconn.Option) *wsconn.Manager {
	t.Helper()
	m := wsconn.New(bus.Endpoint(), append([]wsconn.Option{fastReconnect()}, opts...)...)
	t.Cleanup(func() {
		select {
		case <-m.Close():
		case <-time.After(waitFor):
			t.Error("manager did not close")
		}
	})
	return m
}

func waitConnected(t *testing.T, m *wsconn.Manager) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.State() == wsconn.StateConnected
	}, waitFor, tick)
}

// waitServing also waits for the bus to have registered the connection, so
// a following Broadcast reaches it.
func waitServing(t *testing.T, m *wsconn.Manager, bus *wsconntest.Bus, accepts int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.State() == wsconn.StateConnected && bus.Accepts() == accepts && bus.Connections() == 1
	}, waitFor, tick)
}

// recorder collects notification labels from handlers.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(s string) int {
	n := 0
	for _, e := range r.get() {
		if e == s {
			n++
		}
	}
	return n
}

func TestManager_OpenIsIdempotent(t *testing.T) {
	bus := wsconntest.NewBus(t)
	m := newManager(t, bus)

	assert.Equal(t, wsconn.StateDisconnected, m.State())

	m.Open()
	m.Open()
	waitConnected(t, m)
	m.Open()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, bus.Accepts())
	assert.Equal(t, 1, bus.Connections())
	assert.Equal(t, uint64(1), m.Generation())
}

func TestManager_OpenPrecedesMessages(t *testing.T) {
	bus := wsconntest.NewBus(t)
	m := newManager(t, bus)

	rec := &recorder{}
	m.OnOpen(func() { rec.add("open") })
	m.OnMessage(func(frame []byte) { rec.add(string(frame)) })
	m.Open()
	waitServing(t, m, bus, 1)

	require.NoError(t, bus.Broadcast([]byte(`{"n":1}`)))
	require.NoError(t, bus.Broadcast([]byte(`{"n":2}`)))

	require.Eventually(t, func() bool { return len(rec.get()) == 3 }, waitFor, tick)
	assert.Equal(t, []string{"open", `{"n":1}`, `{"n":2}`}, rec.get())
}

func TestManager_FanOutInRegistrationOrder(t *testing.T) {
	bus := wsconntest.NewBus(t)
	m := newManager(t, bus)

	rec := &recorder{}
	for _, name := range []string{"a", "b", "c"} {
		name := name
		m.OnMessage(func([]byte) { rec.add(name) })
	}
	assert.Equal(t, 3, m.Registrations())

	m.Open()
	waitServing(t, m, bus, 1)
	require.NoError(t, bus.Broadcast([]byte(`{}`)))

	require.Eventually(t, func() bool { return len(rec.get()) == 3 }, waitFor, tick)
	assert.Equal(t, []string{"a", "b", "c"}, rec.get())
}

func TestManager_ReconnectKeepsRegistrations(t *testing.T) {
	bus := wsconntest.NewBus(t)
	m := newManager(t, bus)

	rec := &recorder{}
	var closeErrs []error
	var mu sync.Mutex
	m.OnOpen(func() { rec.add("open") })
	m.OnClose(func(err error) {
		mu.Lock()
		closeErrs = append(closeErrs, err)
		mu.Unlock()
		rec.add("close")
	})
	m.OnMessage(func([]byte) { rec.add("message") })
	m.Open()
	waitServing(t, m, bus, 1)

	bus.DropAll()

	require.Eventually(t, func() bool { return rec.count("open") == 2 }, waitFor, tick)
	waitServing(t, m, bus, 2)
	assert.Equal(t, 1, rec.count("close"))
	assert.Equal(t, uint64(2), m.Generation())
	assert.Equal(t, 3, m.Registrations())

	mu.Lock()
	require.Len(t, closeErrs, 1)
	assert.True(t, flowerrors.IsConnectionError(closeErrs[0]))
	mu.Unlock()

	require.NoError(t, bus.Broadcast([]byte(`{}`)))
	require.Eventually(t, func() bool { return rec.count("message") == 1 }, waitFor, tick)
	assert.Equal(t, []string{"open", "close", "open", "message"}, rec.get())
}

func TestManager_RetriesUntilBusAccepts(t *testing.T) {
	bus := wsconntest.NewBus(t)
	bus.SetReject(true)
	m := newManager(t, bus)

	m.Open()
	require.Eventually(t, func() bool { return bus.Rejected() >= 3 }, waitFor, tick)
	assert.Equal(t, wsconn.StateConnecting, m.State())

	bus.SetReject(false)
	waitConnected(t, m)
	assert.Equal(t, uint64(1), m.Generation())
}

func TestManager_SendFailsFast(t *testing.T) {
	bus := wsconntest.NewBus(t)
	m := newManager(t, bus)
	ctx := context.Background()

	err := m.Send(ctx, []byte(`{"type":"command"}`))
	assert.True(t, errors.Is(err, wsconn.ErrNotConnected))
	assert.True(t, flowerrors.IsTransmitError(err))

	m.Open()
	waitConnected(t, m)
	require.NoError(t, m.Send(ctx, []byte(`{"type":"command"}`)))
	require.Eventually(t, func() bool { return len(bus.Received()) == 1 }, waitFor, tick)
	assert.Equal(t, `{"type":"command"}`, string(bus.Received()[0]))

	<-m.Close()
	err = m.Send(ctx, []byte(`{}`))
	assert.True(t, errors.Is(err, wsconn.ErrClosed))
	assert.Len(t, bus.Received(), 1)
}

func TestManager_SendAfterDropIsNotBuffered(t *testing.T) {
	bus := wsconntest.NewBus(t)
	m := newManager(t, bus, wsconn.WithReconnect(wsconn.ReconnectConfig{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
		Multiplier:      1,
	}))

	m.Open()
	waitServing(t, m, bus, 1)
	bus.DropAll()
	require.Eventually(t, func() bool { return m.State() == wsconn.StateConnecting }, waitFor, tick)

	err := m.Send(context.Background(), []byte(`{"stale":true}`))
	assert.True(t, errors.Is(err, wsconn.ErrNotConnected))

	waitConnected(t, m)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, bus.Received())
}

func TestManager_CloseNeverOpened(t *testing.T) {
	m := wsconn.New(wsconn.NewEndpoint("127.0.0.1", 1, "nodered"))

	done := m.Close()
	select {
	case <-done:
	default:
		t.Fatal("close of an unopened manager must complete immediately")
	}
	assert.Equal(t, wsconn.StateClosed, m.State())
	assert.Equal(t, done, m.Close())

	m.Open()
	assert.Equal(t, wsconn.StateClosed, m.State())
}

func TestManager_CloseCompletesOnce(t *testing.T) {
	bus := wsconntest.NewBus(t)
	m := newManager(t, bus)

	rec := &recorder{}
	var closeErr error = errors.New("unset")
	m.OnClose(func(err error) {
		closeErr = err
		rec.add("close")
	})
	m.Open()
	waitConnected(t, m)

	done := m.Close()
	assert.Equal(t, done, m.Close())
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("close did not complete")
	}

	assert.Equal(t, wsconn.StateClosed, m.State())
	assert.Equal(t, []string{"close"}, rec.get())
	assert.NoError(t, closeErr)
	require.Eventually(t, func() bool { return bus.Connections() == 0 }, waitFor, tick)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, bus.Accepts())
}

func TestManager_CloseWhileReconnecting(t *testing.T) {
	bus := wsconntest.NewBus(t)
	bus.SetReject(true)
	m := newManager(t, bus)

	m.Open()
	require.Eventually(t, func() bool { return bus.Rejected() >= 1 }, waitFor, tick)

	select {
	case <-m.Close():
	case <-time.After(waitFor):
		t.Fatal("close did not interrupt the reconnect loop")
	}
	assert.Equal(t, wsconn.StateClosed, m.State())
}

func TestManager_Unsubscribe(t *testing.T) {
	m := wsconn.New(wsconn.NewEndpoint("127.0.0.1", 1, "/nodered"))
	defer m.Close()

	a := m.OnOpen(func() {})
	b := m.OnClose(func(error) {})
	c := m.OnMessage(func([]byte) {})
	assert.Equal(t, 3, m.Registrations())

	assert.True(t, m.Unsubscribe(b))
	assert.False(t, m.Unsubscribe(b))
	assert.False(t, m.Unsubscribe(0))
	assert.Equal(t, 2, m.Registrations())

	assert.True(t, m.Unsubscribe(a))
	assert.True(t, m.Unsubscribe(c))
	assert.Equal(t, 0, m.Registrations())
}

func TestManager_UnsubscribeDuringDispatch(t *testing.T) {
	bus := wsconntest.NewBus(t)
	m := newManager(t, bus)

	rec := &recorder{}
	var second, self wsconn.RegistrationID
	m.OnMessage(func([]byte) {
		rec.add("first")
		m.Unsubscribe(second)
	})
	second = m.OnMessage(func([]byte) { rec.add("second") })
	self = m.OnMessage(func([]byte) {
		rec.add("self")
		m.Unsubscribe(self)
	})
	m.OnMessage(func([]byte) { rec.add("last") })

	m.Open()
	waitServing(t, m, bus, 1)
	require.NoError(t, bus.Broadcast([]byte(`{}`)))
	require.NoError(t, bus.Broadcast([]byte(`{}`)))

	require.Eventually(t, func() bool { return rec.count("last") == 2 }, waitFor, tick)
	assert.Equal(t, []string{"first", "self", "last", "first", "last"}, rec.get())
	assert.Equal(t, 2, m.Registrations())
}

func TestManager_UnsubscribeFromAnotherGoroutine(t *testing.T) {
	bus := wsconntest.NewBus(t)
	m := newManager(t, bus)

	rec := &recorder{}
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	m.OnMessage(func([]byte) {
		rec.add("first")
		entered <- struct{}{}
		<-release
	})
	second := m.OnMessage(func([]byte) { rec.add("second") })
	m.OnMessage(func([]byte) { rec.add("last") })

	m.Open()
	waitServing(t, m, bus, 1)
	require.NoError(t, bus.Broadcast([]byte(`{}`)))

	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("dispatch did not start")
	}
	assert.True(t, m.Unsubscribe(second))
	close(release)

	require.Eventually(t, func() bool { return rec.count("last") == 1 }, waitFor, tick)
	assert.Equal(t, []string{"first", "last"}, rec.get())
	assert.Equal(t, 2, m.Registrations())
}

func TestManager_HandlerPanicIsContained(t *testing.T) {
	bus := wsconntest.NewBus(t)
	m := newManager(t, bus)

	rec := &recorder{}
	m.OnMessage(func([]byte) { panic("boom") })
	m.OnMessage(func([]byte) { rec.add("after") })

	m.Open()
	waitServing(t, m, bus, 1)
	require.NoError(t, bus.Broadcast([]byte(`{}`)))
	require.NoError(t, bus.Broadcast([]byte(`{}`)))

	require.Eventually(t, func() bool { return rec.count("after") == 2 }, waitFor, tick)
	assert.Equal(t, wsconn.StateConnected, m.State())
	assert.Equal(t, uint64(1), m.Generation())
}

func TestManager_WithMetrics(t *testing.T) {
	bus := wsconntest.NewBus(t)
	reg := prometheus.NewRegistry()
	metrics, err := wsconn.NewMetrics(reg)
	require.NoError(t, err)

	m := newManager(t, bus, wsconn.WithMetrics(metrics))
	m.OnMessage(func([]byte) {})
	m.Open()
	waitConnected(t, m)
	require.NoError(t, m.Send(context.Background(), []byte(`{}`)))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["flowbus_wsconn_connection_attempts_total"])
	assert.True(t, names["flowbus_wsconn_connections_total"])
	assert.True(t, names["flowbus_wsconn_frames_sent_total"])
	assert.True(t, names["flowbus_wsconn_connected"])
	assert.True(t, names["flowbus_wsconn_registrations"])

	_, err = wsconn.NewMetrics(reg)
	assert.Error(t, err)
}
