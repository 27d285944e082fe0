package pool

import (
	"container/list"
	"crypto/tls"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Route identifies a distinct pooled-connection destination.
type Route struct {
	Scheme string
	Host   string
	Port   string
}

// NewRoute builds a route from a scheme and a "host:port" dial address.
func NewRoute(scheme, addr string) Route {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return Route{Scheme: strings.ToLower(scheme), Host: strings.ToLower(host), Port: port}
}

func (r Route) String() string {
	return r.Scheme + "://" + net.JoinHostPort(r.Host, r.Port)
}

// Conn is a connection holding a pool slot. Closing it releases the slot
// exactly once.
type Conn struct {
	net.Conn

	route   Route
	manager *Manager
	state   *routeState
	opened  time.Time
	closed  atomic.Bool

	closeOnce sync.Once
	closeErr  error

	// guarded by manager.mu
	idle        bool
	idleElem    *list.Element
	idleSince   time.Time
	idleTimer   *time.Timer
	lease       uint64
	evictReason string
}

// Route returns the destination this connection was opened for.
func (c *Conn) Route() Route { return c.route }

// Opened returns when the connection was established.
func (c *Conn) Opened() time.Time { return c.opened }

// ConnectionState returns the TLS state when the connection is encrypted.
func (c *Conn) ConnectionState() (tls.ConnectionState, bool) {
	tc, ok := c.Conn.(*tls.Conn)
	if !ok {
		return tls.ConnectionState{}, false
	}
	return tc.ConnectionState(), true
}

// Idle reports whether the connection is currently parked.
func (c *Conn) Idle() bool {
	c.manager.mu.Lock()
	defer c.manager.mu.Unlock()
	return c.idle
}

// Lease marks the connection as handed to a request and returns the lease
// id to pass to Release.
func (c *Conn) Lease() uint64 {
	return c.manager.lease(c)
}

// Release parks the connection after the response for lease was consumed.
// keepAlive bounds how long it may stay idle; zero or negative means no
// bound. A release for a superseded lease is ignored. Release never
// closes the connection.
func (c *Conn) Release(lease uint64, keepAlive time.Duration) {
	c.manager.markIdle(c, lease, keepAlive)
}

// Close closes the underlying connection and releases its slot.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.Conn.Close()
		c.manager.release(c)
	})
	return c.closeErr
}
