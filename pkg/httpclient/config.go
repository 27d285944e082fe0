package httpclient

import (
	"time"

	tlsx "httpkit/pkg/tls"
)

// Configuration is a snapshot of the settings a Builder accumulated.
type Configuration struct {
	ConnectionTimeoutMs     int
	ConnectRequestTimeoutMs int
	SocketTimeoutMs         int
	RedirectsEnabled        bool

	PoolConfigured  bool
	PoolMaxTotal    int
	PoolMaxPerRoute int

	TLSProtocolVersion tlsx.ProtocolVersion
	// TLSKeystore is nil while the default trust store is in use.
	TLSKeystore *tlsx.Keystore

	KeepAliveEnabled        bool
	KeepAliveDefaultSeconds int
}

// KeepAliveDefaultMs is the keep-alive fallback in milliseconds.
func (c Configuration) KeepAliveDefaultMs() int64 {
	return int64(c.KeepAliveDefaultSeconds) * 1000
}

// ConnectTimeout is the socket connect timeout.
func (c Configuration) ConnectTimeout() time.Duration {
	return millis(c.ConnectionTimeoutMs)
}

// ConnectRequestTimeout bounds the wait for a pool slot.
func (c Configuration) ConnectRequestTimeout() time.Duration {
	return millis(c.ConnectRequestTimeoutMs)
}

// SocketTimeout bounds the TLS handshake and the wait for response headers.
func (c Configuration) SocketTimeout() time.Duration {
	return millis(c.SocketTimeoutMs)
}

func (c Configuration) clone() Configuration {
	if c.TLSKeystore != nil {
		ks := *c.TLSKeystore
		c.TLSKeystore = &ks
	}
	return c
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
