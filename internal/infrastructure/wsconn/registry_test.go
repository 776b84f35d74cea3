package wsconn_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/touchon/flowbus/internal/infrastructure/wsconn"
	"github.com/touchon/flowbus/internal/infrastructure/wsconn/wsconntest"
)

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestRegistry_SharesManagerPerEndpoint(t *testing.T) {
	bus := wsconntest.NewBus(t)
	reg := wsconn.NewRegistry(fastReconnect())
	t.Cleanup(func() { _ = reg.CloseAll(context.Background()) })

	a := reg.Acquire(bus.Endpoint())
	ep := bus.Endpoint()
	ep.Path = wsconntest.Path
	b := reg.Acquire(ep)

	require.Same(t, a, b)
	assert.Equal(t, 1, reg.Len())

	require.Eventually(t, func() bool { return a.State() == wsconn.StateConnected }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, bus.Accepts())

	got, ok := reg.Lookup(bus.Endpoint())
	assert.True(t, ok)
	assert.Same(t, a, got)
}

func TestRegistry_ReleaseClosesAtZero(t *testing.T) {
	bus := wsconntest.NewBus(t)
	reg := wsconn.NewRegistry(fastReconnect())

	m := reg.Acquire(bus.Endpoint())
	reg.Acquire(bus.Endpoint())
	require.Eventually(t, func() bool { return m.State() == wsconn.StateConnected }, waitFor, tick)

	assert.True(t, isClosed(reg.Release(bus.Endpoint())))
	assert.Equal(t, wsconn.StateConnected, m.State())

	done := reg.Release(bus.Endpoint())
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("last release did not close the manager")
	}
	assert.Equal(t, wsconn.StateClosed, m.State())
	assert.Equal(t, 0, reg.Len())

	_, ok := reg.Lookup(bus.Endpoint())
	assert.False(t, ok)
	assert.True(t, isClosed(reg.Release(bus.Endpoint())))
}

func TestRegistry_CloseAll(t *testing.T) {
	busA := wsconntest.NewBus(t)
	busB := wsconntest.NewBus(t)
	reg := wsconn.NewRegistry(fastReconnect())

	a := reg.Acquire(busA.Endpoint())
	b := reg.Acquire(busB.Endpoint())
	assert.Equal(t, 2, reg.Len())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, reg.CloseAll(ctx))

	assert.Equal(t, wsconn.StateClosed, a.State())
	assert.Equal(t, wsconn.StateClosed, b.State())
	assert.Equal(t, 0, reg.Len())
}
