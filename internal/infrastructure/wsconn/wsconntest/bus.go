// Package wsconntest provides an in-process touchon bus for tests.
package wsconntest

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/touchon/flowbus/internal/infrastructure/wsconn"
)

// Path is the websocket path served by Bus.
const Path = "/nodered"

// Bus is a websocket server that records client frames and can push
// frames to, or drop, every connected client.
type Bus struct {
	Server *httptest.Server

	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	received [][]byte
	accepts  int
	rejected int
	reject   bool
}

// NewBus starts a Bus that is shut down when the test ends.
func NewBus(t testing.TB) *Bus {
	t.Helper()

	b := &Bus{conns: make(map[*websocket.Conn]struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc(Path, b.handle)
	b.Server = httptest.NewServer(mux)

	t.Cleanup(func() {
		b.DropAll()
		b.Server.Close()
	})
	return b
}

func (b *Bus) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	if b.reject {
		b.rejected++
		b.mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	b.mu.Unlock()

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.accepts++
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		b.mu.Lock()
		b.received = append(b.received, data)
		b.mu.Unlock()
	}
}

// Endpoint returns the endpoint clients should dial.
func (b *Bus) Endpoint() wsconn.Endpoint {
	u, _ := url.Parse(b.Server.URL)
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)
	return wsconn.NewEndpoint(host, port, Path)
}

// Broadcast writes frame to every connected client.
func (b *Bus) Broadcast(frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.conns {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return err
		}
	}
	return nil
}

// DropAll closes every client connection without a close handshake.
func (b *Bus) DropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.conns {
		conn.NetConn().Close()
	}
}

// SetReject makes the bus answer upgrade requests with 503.
func (b *Bus) SetReject(reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reject = reject
}

// Received returns a copy of every frame read from clients.
func (b *Bus) Received() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.received))
	copy(out, b.received)
	return out
}

// Connections returns the number of currently connected clients.
func (b *Bus) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Accepts returns how many upgrades have succeeded.
func (b *Bus) Accepts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accepts
}

// Rejected returns how many upgrade requests were refused.
func (b *Bus) Rejected() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rejected
}
