package wsconn

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint is the address of one upstream bus. It is a value type and
// never changes after construction.
type Endpoint struct {
	Host string
	Port int
	Path string
}

// NewEndpoint builds an Endpoint, normalising path to start with "/".
func NewEndpoint(host string, port int, path string) Endpoint {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return Endpoint{Host: host, Port: port, Path: path}
}

// URL returns the ws:// URL of the endpoint.
func (e Endpoint) URL() string {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(e.Host, strconv.Itoa(e.Port)),
		Path:   e.Path,
	}
	return u.String()
}

// Key identifies the endpoint in a Registry.
func (e Endpoint) Key() string {
	return e.URL()
}

func (e Endpoint) String() string {
	return e.URL()
}

// Validate checks that the endpoint can be dialed.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("endpoint host is empty")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("endpoint port %d out of range", e.Port)
	}
	return nil
}
