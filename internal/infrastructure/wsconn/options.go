package wsconn

import (
	"time"

	"github.com/touchon/flowbus/internal/shared/config"
	"github.com/touchon/flowbus/internal/shared/logger"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteWait        = 10 * time.Second
	defaultPongWait         = 60 * time.Second
	defaultPingPeriod       = 30 * time.Second
	defaultReadLimit        = 1 << 20
)

// ReconnectConfig configures the exponential backoff between dial attempts.
// Retries continue until the Manager is closed.
type ReconnectConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultReconnectConfig returns 1s doubling up to 60s with 10% jitter.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialInterval:     time.Second,
		MaxInterval:         60 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.1,
	}
}

// TransportConfig holds websocket timing. PingPeriod must be less than PongWait.
type TransportConfig struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
	ReadLimit        int64
}

func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		HandshakeTimeout: defaultHandshakeTimeout,
		WriteWait:        defaultWriteWait,
		PongWait:         defaultPongWait,
		PingPeriod:       defaultPingPeriod,
		ReadLimit:        defaultReadLimit,
	}
}

// ReconnectFromConfig converts loaded configuration, keeping defaults for
// zero fields.
func ReconnectFromConfig(c config.ReconnectConfig) ReconnectConfig {
	r := DefaultReconnectConfig()
	if c.InitialInterval > 0 {
		r.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		r.MaxInterval = c.MaxInterval
	}
	if c.Multiplier >= 1 {
		r.Multiplier = c.Multiplier
	}
	if c.RandomizationFactor > 0 && c.RandomizationFactor < 1 {
		r.RandomizationFactor = c.RandomizationFactor
	}
	return r
}

// TransportFromConfig converts loaded configuration, keeping defaults for
// zero fields.
func TransportFromConfig(c config.TransportConfig) TransportConfig {
	t := DefaultTransportConfig()
	if c.HandshakeTimeout > 0 {
		t.HandshakeTimeout = c.HandshakeTimeout
	}
	if c.WriteWait > 0 {
		t.WriteWait = c.WriteWait
	}
	if c.PongWait > 0 {
		t.PongWait = c.PongWait
	}
	if c.PingPeriod > 0 && c.PingPeriod < t.PongWait {
		t.PingPeriod = c.PingPeriod
	}
	return t
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(log logger.Interface) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

func WithReconnect(cfg ReconnectConfig) Option {
	return func(m *Manager) {
		m.reconnect = cfg
	}
}

func WithTransport(cfg TransportConfig) Option {
	return func(m *Manager) {
		m.transport = cfg
	}
}

// WithMetrics records connection metrics. A nil Metrics disables them.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}
