// Package socket defines the transport-layer connection factories bound to
// URL schemes.
package socket

import (
	"context"
	"net"
	"time"
)

// Options carries the per-connection timeouts. Zero means no limit.
type Options struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
}

// Factory establishes a transport connection for a scheme.
// Implementations must be immutable and safe for concurrent use.
type Factory interface {
	Connect(ctx context.Context, network, addr string, opts Options) (net.Conn, error)
}

// Plain is the factory for unencrypted connections.
var Plain Factory = plainFactory{}

type plainFactory struct{}

func (plainFactory) Connect(ctx context.Context, network, addr string, opts Options) (net.Conn, error) {
	d := net.Dialer{Timeout: opts.ConnectTimeout}
	return d.DialContext(ctx, network, addr)
}

// FactoryFunc adapts a function to a Factory.
type FactoryFunc func(ctx context.Context, network, addr string, opts Options) (net.Conn, error)

// Connect implements Factory.
func (f FactoryFunc) Connect(ctx context.Context, network, addr string, opts Options) (net.Conn, error) {
	return f(ctx, network, addr, opts)
}
