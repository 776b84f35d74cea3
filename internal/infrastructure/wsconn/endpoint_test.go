package wsconn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/touchon/flowbus/internal/shared/config"
)

func TestEndpoint_URL(t *testing.T) {
	tests := []struct {
		name string
		ep   Endpoint
		want string
	}{
		{"path with slash", NewEndpoint("localhost", 8081, "/nodered"), "ws://localhost:8081/nodered"},
		{"path without slash", NewEndpoint("localhost", 8081, "nodered"), "ws://localhost:8081/nodered"},
		{"empty path", NewEndpoint("10.0.0.2", 80, ""), "ws://10.0.0.2:80/"},
		{"ipv6 host", NewEndpoint("::1", 9000, "/bus"), "ws://[::1]:9000/bus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ep.URL())
			assert.Equal(t, tt.want, tt.ep.Key())
		})
	}
}

func TestEndpoint_Validate(t *testing.T) {
	assert.NoError(t, NewEndpoint("localhost", 8081, "/").Validate())
	assert.Error(t, NewEndpoint("", 8081, "/").Validate())
	assert.Error(t, NewEndpoint("localhost", 0, "/").Validate())
	assert.Error(t, NewEndpoint("localhost", 70000, "/").Validate())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.Equal(t, "message", KindMessage.String())
}

func TestFromConfig_KeepsDefaultsForZeroFields(t *testing.T) {
	r := ReconnectFromConfig(config.ReconnectConfig{MaxInterval: 5 * time.Second})
	assert.Equal(t, time.Second, r.InitialInterval)
	assert.Equal(t, 5*time.Second, r.MaxInterval)
	assert.Equal(t, 2.0, r.Multiplier)

	tr := TransportFromConfig(config.TransportConfig{PingPeriod: 90 * time.Second})
	assert.Equal(t, defaultPingPeriod, tr.PingPeriod)
	assert.Equal(t, defaultPongWait, tr.PongWait)
	assert.Equal(t, int64(defaultReadLimit), tr.ReadLimit)
}
