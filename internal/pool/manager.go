// Package pool implements the connection pool behind a built client:
// scheme bindings, pool-wide and per-route limits, and idle tracking.
package pool

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"httpkit/internal/socket"
	"httpkit/pkg/errors"
	"httpkit/pkg/metrics"

	"golang.org/x/sync/semaphore"
)

// Config holds the manager settings.
type Config struct {
	Registry *Registry
	Limits   Limits
	Socket   socket.Options
	// RequestTimeout bounds the wait for a free slot. Zero waits until the
	// caller's context is done.
	RequestTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	// CloseIdle closes the connections the owning transport holds idle.
	// When set, every eviction goes through it and the manager never closes
	// a parked connection itself: the transport may already have handed it
	// to the next request on its route. Nil closes parked connections
	// directly.
	CloseIdle func()
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Open    int
	Idle    int
	Waiting int
	Routes  map[string]RouteStats
}

// RouteStats holds per-route counts.
type RouteStats struct {
	Open    int
	Idle    int
	Waiting int
}

type routeState struct {
	route   Route
	sem     *semaphore.Weighted // nil when unbounded
	refs    int                 // in-flight acquisitions plus open connections
	open    int
	idle    int
	waiting int
}

// Manager hands out connections under the configured limits. It is safe
// for concurrent use; routes do not block each other except through the
// pool-wide limit.
type Manager struct {
	registry       *Registry
	limits         Limits
	socket         socket.Options
	requestTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	closeIdle      func()

	total *semaphore.Weighted // nil when unbounded

	evictMu sync.Mutex // serializes closeIdle calls

	mu       sync.Mutex
	routes   map[Route]*routeState
	idle     *list.List    // *Conn, oldest first
	parkedCh chan struct{} // closed and replaced whenever a connection parks
	evicting string        // eviction reason while closeIdle runs
	open     int
	waiting  int
	closed   bool
}

const (
	evictRetryMin = 2 * time.Millisecond
	evictRetryMax = 50 * time.Millisecond

	// closedSettle lets the transport pool a connection released after
	// Close before it is evicted.
	closedSettle = 10 * time.Millisecond
)

// NewManager validates cfg and creates a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Registry == nil {
		return nil, errors.Configuration("pool manager requires a scheme registry")
	}
	if cfg.Limits.Bounded() {
		if err := cfg.Limits.Validate(); err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		registry:       cfg.Registry,
		limits:         cfg.Limits,
		socket:         cfg.Socket,
		requestTimeout: cfg.RequestTimeout,
		logger:         logger.With("component", "connection-pool"),
		metrics:        cfg.Metrics,
		closeIdle:      cfg.CloseIdle,
		routes:         make(map[Route]*routeState),
		idle:           list.New(),
		parkedCh:       make(chan struct{}),
	}
	if cfg.Limits.Bounded() {
		m.total = semaphore.NewWeighted(int64(cfg.Limits.MaxTotal))
	}
	return m, nil
}

// Limits returns the configured limits.
func (m *Manager) Limits() Limits { return m.limits }

// Registry returns the scheme bindings.
func (m *Manager) Registry() *Registry { return m.registry }

// Connect waits for a slot on the route for addr and opens a connection
// through the factory bound to scheme. Waiting is FIFO per semaphore and
// bounded by the request timeout; running out of it yields a
// pool_exhausted error. The connection belongs to the caller until it is
// released or closed.
func (m *Manager) Connect(ctx context.Context, scheme, network, addr string) (*Conn, error) {
	return m.connect(ctx, scheme, network, addr, false)
}

func (m *Manager) connect(ctx context.Context, scheme, network, addr string, parked bool) (*Conn, error) {
	factory, err := m.registry.Lookup(scheme)
	if err != nil {
		return nil, err
	}
	route := NewRoute(scheme, addr)

	rs, err := m.ref(route)
	if err != nil {
		return nil, err
	}
	if err := m.acquire(ctx, rs); err != nil {
		m.unref(rs)
		return nil, err
	}

	raw, err := factory.Connect(ctx, network, addr, m.socket)
	if err != nil {
		m.releaseSlots(rs)
		m.unref(rs)
		m.logger.Debug("Connect failed", "route", route.String(), "error", err)
		return nil, err
	}

	c := &Conn{
		Conn:    raw,
		route:   route,
		manager: m,
		state:   rs,
		opened:  time.Now(),
	}

	m.mu.Lock()
	rs.open++
	m.open++
	if parked {
		m.parkLocked(c)
	}
	m.mu.Unlock()

	m.metrics.ConnectionOpened(route.String())
	m.logger.Debug("Opened connection", "route", route.String(), "remote", raw.RemoteAddr().String())
	return c, nil
}

// DialFunc adapts Connect to a dial hook for scheme. The dialed
// connection is owned by the caller.
func (m *Manager) DialFunc(scheme string) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return m.dialFunc(scheme, false)
}

// TransportDialFunc is the DialContext and DialTLSContext hook for an
// http.Transport whose CloseIdleConnections is wired as Config.CloseIdle.
// A new connection starts parked, since the transport may pool it without
// handing it to a request, and is leased when a request gets it.
func (m *Manager) TransportDialFunc(scheme string) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return m.dialFunc(scheme, true)
}

func (m *Manager) dialFunc(scheme string, parked bool) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		c, err := m.connect(ctx, scheme, network, addr, parked)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func (m *Manager) acquire(ctx context.Context, rs *routeState) error {
	if !m.limits.Bounded() {
		return nil
	}
	start := time.Now()
	label := rs.route.String()

	wctx := ctx
	if m.requestTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, m.requestTimeout)
		defer cancel()
	}

	m.setWaiting(rs, 1)
	defer m.setWaiting(rs, -1)

	if err := rs.sem.Acquire(wctx, 1); err != nil {
		return m.acquireFailed(ctx, rs, start, err)
	}
	if !m.total.TryAcquire(1) {
		if err := m.waitTotal(wctx, rs.route); err != nil {
			rs.sem.Release(1)
			return m.acquireFailed(ctx, rs, start, err)
		}
	}

	m.metrics.ObserveAcquire(label, metrics.ResultOK, time.Since(start))
	return nil
}

// waitTotal queues for the pool-wide limit. While it waits, connections
// parked on other routes are evicted to free a slot, retried with backoff
// until none is left parked.
func (m *Manager) waitTotal(ctx context.Context, route Route) error {
	acquired := make(chan error, 1)
	go func() { acquired <- m.total.Acquire(ctx, 1) }()

	backoff := evictRetryMin
	retry := time.NewTimer(0)
	defer retry.Stop()

	for {
		select {
		case err := <-acquired:
			return err
		case <-m.parked():
			backoff = evictRetryMin
			retry.Reset(0)
		case <-retry.C:
			if m.evictFor(route) {
				retry.Reset(backoff)
				backoff = min(2*backoff, evictRetryMax)
			}
		}
	}
}

// evictFor evicts a connection parked on a route other than route. It
// reports whether one may still be parked and worth another attempt.
func (m *Manager) evictFor(route Route) bool {
	m.mu.Lock()
	victim := m.oldestIdleLocked(route)
	if victim == nil {
		m.mu.Unlock()
		return false
	}
	if m.closeIdle != nil {
		m.mu.Unlock()
		m.logger.Debug("Evicting idle connections", "for", route.String())
		m.closeIdleFor(metrics.EvictPoolPressure)

		m.mu.Lock()
		defer m.mu.Unlock()
		return m.oldestIdleLocked(route) != nil
	}
	m.removeIdleLocked(victim)
	victim.evictReason = metrics.EvictPoolPressure
	m.mu.Unlock()

	m.logger.Debug("Evicting idle connection", "route", victim.route.String(), "for", route.String())
	victim.Close()
	return false
}

// closeIdleFor runs closeIdle and attributes the connections it closes to
// reason; an empty reason records nothing.
func (m *Manager) closeIdleFor(reason string) {
	m.evictMu.Lock()
	defer m.evictMu.Unlock()

	m.mu.Lock()
	m.evicting = reason
	m.mu.Unlock()

	m.closeIdle()

	m.mu.Lock()
	m.evicting = ""
	m.mu.Unlock()
}

func (m *Manager) parked() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.parkedCh
}

func (m *Manager) acquireFailed(ctx context.Context, rs *routeState, start time.Time, cause error) error {
	waited := time.Since(start)
	label := rs.route.String()

	if ctxErr := ctx.Err(); ctxErr != nil {
		m.metrics.ObserveAcquire(label, metrics.ResultCanceled, waited)
		return ctxErr
	}

	m.metrics.ObserveAcquire(label, metrics.ResultExhausted, waited)
	m.logger.Warn("Connection pool exhausted",
		"route", label,
		"waited", waited,
		"max_total", m.limits.MaxTotal,
		"max_per_route", m.limits.MaxPerRoute)

	return errors.NewError(errors.ErrorTypePoolExhausted, "timeout waiting for connection from pool").
		WithCause(cause).
		WithDetail("route", label).
		WithDetail("max_total", m.limits.MaxTotal).
		WithDetail("max_per_route", m.limits.MaxPerRoute).
		WithDetail("wait_ms", waited.Milliseconds())
}

func (m *Manager) releaseSlots(rs *routeState) {
	if !m.limits.Bounded() {
		return
	}
	m.total.Release(1)
	rs.sem.Release(1)
}

func (m *Manager) ref(route Route) (*routeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.NewError(errors.ErrorTypeInternal, "connection pool is closed")
	}
	rs, ok := m.routes[route]
	if !ok {
		rs = &routeState{route: route}
		if m.limits.Bounded() {
			rs.sem = semaphore.NewWeighted(int64(m.limits.MaxPerRoute))
		}
		m.routes[route] = rs
	}
	rs.refs++
	return rs, nil
}

func (m *Manager) unref(rs *routeState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unrefLocked(rs)
}

func (m *Manager) unrefLocked(rs *routeState) {
	rs.refs--
	if rs.refs == 0 {
		delete(m.routes, rs.route)
	}
}

func (m *Manager) setWaiting(rs *routeState, delta int) {
	m.mu.Lock()
	rs.waiting += delta
	m.waiting += delta
	m.mu.Unlock()
}

// release runs once per connection from Conn.Close.
func (m *Manager) release(c *Conn) {
	m.mu.Lock()
	reason := c.evictReason
	if reason == "" && c.idle {
		reason = m.evicting
	}
	m.removeIdleLocked(c)
	c.state.open--
	m.open--
	m.unrefLocked(c.state)
	m.mu.Unlock()

	m.releaseSlots(c.state)
	if reason != "" {
		m.metrics.Evicted(reason)
	}
	m.metrics.ConnectionClosed(c.route.String())
	m.logger.Debug("Closed connection", "route", c.route.String(), "age", time.Since(c.opened))
}

// markIdle parks c for lease. It never closes c: eviction is left to
// waiters and the keep-alive timer.
func (m *Manager) markIdle(c *Conn, lease uint64, keepAlive time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.closed.Load() || c.lease != lease {
		return
	}
	m.parkLocked(c)
	if keepAlive > 0 {
		c.idleTimer = time.AfterFunc(keepAlive, func() { m.expire(c, lease) })
	}
	if m.closed {
		time.AfterFunc(closedSettle, m.CloseIdle)
	}
}

func (m *Manager) parkLocked(c *Conn) {
	if c.idle {
		m.idle.MoveToBack(c.idleElem)
	} else {
		c.idle = true
		c.idleElem = m.idle.PushBack(c)
		c.state.idle++
		m.metrics.IdleDelta(c.route.String(), 1)
	}
	c.idleSince = time.Now()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	close(m.parkedCh)
	m.parkedCh = make(chan struct{})
}

func (m *Manager) lease(c *Conn) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.lease++
	m.removeIdleLocked(c)
	return c.lease
}

// expire evicts c if it is still parked under the lease the timer was
// armed for.
func (m *Manager) expire(c *Conn, lease uint64) {
	m.mu.Lock()
	if !c.idle || c.lease != lease || c.closed.Load() {
		m.mu.Unlock()
		return
	}
	if m.closeIdle != nil {
		m.mu.Unlock()
		m.logger.Debug("Keep-alive expired", "route", c.route.String())
		m.closeIdleFor(metrics.EvictKeepAlive)
		return
	}
	m.removeIdleLocked(c)
	c.evictReason = metrics.EvictKeepAlive
	m.mu.Unlock()

	m.logger.Debug("Keep-alive expired", "route", c.route.String())
	c.Close()
}

func (m *Manager) removeIdleLocked(c *Conn) {
	if !c.idle {
		return
	}
	m.idle.Remove(c.idleElem)
	c.idleElem = nil
	c.idle = false
	c.state.idle--
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	m.metrics.IdleDelta(c.route.String(), -1)
}

// oldestIdleLocked returns the oldest parked connection not on except.
func (m *Manager) oldestIdleLocked(except Route) *Conn {
	for e := m.idle.Front(); e != nil; e = e.Next() {
		if c := e.Value.(*Conn); c.route != except {
			return c
		}
	}
	return nil
}

// Stats returns a snapshot of open, idle and waiting counts.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Open:    m.open,
		Idle:    m.idle.Len(),
		Waiting: m.waiting,
		Routes:  make(map[string]RouteStats, len(m.routes)),
	}
	for r, rs := range m.routes {
		s.Routes[r.String()] = RouteStats{Open: rs.open, Idle: rs.idle, Waiting: rs.waiting}
	}
	return s
}

// CloseIdle closes every idle connection, through Config.CloseIdle when
// it is set.
func (m *Manager) CloseIdle() {
	if m.closeIdle != nil {
		m.closeIdleFor("")
		return
	}
	m.mu.Lock()
	victims := make([]*Conn, 0, m.idle.Len())
	for e := m.idle.Front(); e != nil; e = e.Next() {
		victims = append(victims, e.Value.(*Conn))
	}
	m.mu.Unlock()

	for _, c := range victims {
		c.Close()
	}
}

// Close rejects new connections and closes idle ones. Connections in use
// are released when their owners close them.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.CloseIdle()
	m.logger.Debug("Connection pool closed")
	return nil
}

func (m *Manager) String() string {
	if !m.limits.Bounded() {
		return "pool(unbounded)"
	}
	return fmt.Sprintf("pool(maxTotal=%d, maxPerRoute=%d)", m.limits.MaxTotal, m.limits.MaxPerRoute)
}
