package httpclient

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"httpkit/internal/keepalive"
	"httpkit/internal/pool"
	"httpkit/internal/socket"
	"httpkit/internal/telemetry"
	"httpkit/internal/tlsctx"
	"httpkit/pkg/errors"
	"httpkit/pkg/metrics"
	tlsx "httpkit/pkg/tls"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Builder.
type Option func(*Builder)

// WithProvider replaces the TLS context provider.
func WithProvider(p tlsctx.Provider) Option {
	return func(b *Builder) {
		if p != nil {
			b.provider = p
		}
	}
}

// WithLogger sets the logger used by the builder and the built client.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records pool and keep-alive metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) {
		b.metrics = m
	}
}

// WithTracerProvider records a client span per round trip on tp, using the
// global text map propagator.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(b *Builder) {
		b.tracerProvider = tp
	}
}

// Builder accumulates client settings. It is not safe for concurrent use.
type Builder struct {
	defaults       Defaults
	provider       tlsctx.Provider
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracerProvider trace.TracerProvider

	cfg Configuration

	// https is the factory materialized by the last SSL call, used when no
	// pool is configured.
	https socket.Factory
	// registry and limits are captured by Pool.
	registry *pool.Registry
	limits   pool.Limits
}

// NewBuilder creates a builder whose timeouts start at the default
// connection timeout with redirects enabled. The keep-alive policy is not
// installed until KeepAlive is called; until then an idle connection
// expires only when the server's Keep-Alive header names a timeout.
func NewBuilder(defaults Defaults, opts ...Option) *Builder {
	b := &Builder{
		defaults: defaults,
		logger:   slog.Default(),
		limits:   pool.Unlimited,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.provider == nil {
		b.provider = tlsctx.NewProvider(b.logger)
	}
	b.logger = b.logger.With("component", "client-builder")

	b.cfg = Configuration{
		ConnectionTimeoutMs:     defaults.ConnectionTimeoutMs,
		ConnectRequestTimeoutMs: defaults.ConnectionTimeoutMs,
		SocketTimeoutMs:         defaults.ConnectionTimeoutMs,
		RedirectsEnabled:        true,
		TLSProtocolVersion:      defaults.protocol(),
		KeepAliveDefaultSeconds: defaults.KeepAliveSeconds,
	}
	return b
}

// Timeout applies the default connection timeout to all three timeouts and
// enables redirects.
func (b *Builder) Timeout() *Builder {
	b.setTimeouts(b.defaults.ConnectionTimeoutMs, true)
	return b
}

// SetTimeout sets all three timeouts to ms and enables redirects.
func (b *Builder) SetTimeout(ms int) error {
	return b.SetTimeoutRedirects(ms, true)
}

// SetTimeoutRedirects sets all three timeouts to ms and the redirect flag.
func (b *Builder) SetTimeoutRedirects(ms int, redirectsEnabled bool) error {
	if ms < 0 {
		return errors.Configuration("timeout must not be negative, got %d", ms).
			WithDetail("timeout_ms", ms)
	}
	b.setTimeouts(ms, redirectsEnabled)
	return nil
}

func (b *Builder) setTimeouts(ms int, redirectsEnabled bool) {
	b.cfg.ConnectionTimeoutMs = ms
	b.cfg.ConnectRequestTimeoutMs = ms
	b.cfg.SocketTimeoutMs = ms
	b.cfg.RedirectsEnabled = redirectsEnabled
}

// Pool binds "http" to plain connections and "https" to a TLS factory for
// the current TLS state, and limits connections pool-wide and per route.
// A second call replaces the first entirely.
func (b *Builder) Pool(maxTotal, maxPerRoute int) error {
	limits, err := pool.NewLimits(maxTotal, maxPerRoute)
	if err != nil {
		return err
	}
	https, err := b.tlsFactory()
	if err != nil {
		return err
	}

	b.registry = pool.NewRegistry(https)
	b.limits = limits
	b.cfg.PoolConfigured = true
	b.cfg.PoolMaxTotal = maxTotal
	b.cfg.PoolMaxPerRoute = maxPerRoute
	b.logger.Debug("Configured connection pool",
		"max_total", maxTotal,
		"max_per_route", maxPerRoute,
		"protocol", b.cfg.TLSProtocolVersion,
		"keystore", b.keystorePath())
	return nil
}

// KeepAlive installs the keep-alive policy with the default duration.
func (b *Builder) KeepAlive() *Builder {
	b.cfg.KeepAliveEnabled = true
	b.cfg.KeepAliveDefaultSeconds = b.defaults.KeepAliveSeconds
	return b
}

// KeepAliveSeconds installs the keep-alive policy falling back to seconds
// when a response carries no usable timeout.
func (b *Builder) KeepAliveSeconds(seconds int) error {
	if seconds < 0 {
		return errors.Configuration("keep-alive must not be negative, got %d", seconds).
			WithDetail("keep_alive_seconds", seconds)
	}
	b.cfg.KeepAliveEnabled = true
	b.cfg.KeepAliveDefaultSeconds = seconds
	return nil
}

// Protocol selects the TLS protocol version used by the next SSL or Pool
// call.
func (b *Builder) Protocol(v tlsx.ProtocolVersion) *Builder {
	if v.Legacy() {
		b.logger.Warn("Selected legacy TLS protocol version", "protocol", v)
	}
	b.cfg.TLSProtocolVersion = v
	return b
}

// SSL binds "https" to a factory for the current protocol and trust state.
// An already configured pool keeps the binding it was built with.
func (b *Builder) SSL() error {
	f, err := b.tlsFactory()
	if err != nil {
		return err
	}
	b.https = f
	b.warnIfPooled()
	return nil
}

// SSLKeystore is SSLKeystoreWithPassword with the unprotected-keystore
// sentinel password.
func (b *Builder) SSLKeystore(path string) error {
	return b.SSLKeystoreWithPassword(path, tlsx.NoPassword)
}

// SSLKeystoreWithPassword switches to the trust material in the keystore at
// path and then behaves like SSL. On failure the TLS state is unchanged.
func (b *Builder) SSLKeystoreWithPassword(path, password string) error {
	ks := tlsx.Keystore{Path: path, Password: password}
	f, err := b.provider.CustomSocketFactory(b.cfg.TLSProtocolVersion, ks)
	if err != nil {
		return err
	}
	b.cfg.TLSKeystore = &ks
	b.https = f
	b.warnIfPooled()
	return nil
}

// IsPoolSet reports whether Pool has succeeded.
func (b *Builder) IsPoolSet() bool {
	return b.cfg.PoolConfigured
}

// Config returns a snapshot of the current settings.
func (b *Builder) Config() Configuration {
	return b.cfg.clone()
}

// Build freezes the settings into a client. The builder stays usable and
// later changes do not affect the returned client.
func (b *Builder) Build() (*Client, error) {
	cfg := b.cfg.clone()

	registry, limits := b.registry, b.limits
	if !cfg.PoolConfigured {
		https := b.https
		if https == nil {
			https = lazyTLSFactory(b.provider, cfg)
		}
		registry, limits = pool.NewRegistry(https), pool.Unlimited
	}

	var transport *http.Transport
	manager, err := pool.NewManager(pool.Config{
		Registry: registry,
		Limits:   limits,
		Socket: socket.Options{
			ConnectTimeout:   cfg.ConnectTimeout(),
			HandshakeTimeout: cfg.SocketTimeout(),
		},
		RequestTimeout: cfg.ConnectRequestTimeout(),
		Logger:         b.logger,
		Metrics:        b.metrics,
		CloseIdle:      func() { transport.CloseIdleConnections() },
	})
	if err != nil {
		return nil, fmt.Errorf("create connection manager: %w", err)
	}

	transport = &http.Transport{
		DialContext:           manager.TransportDialFunc(pool.SchemeHTTP),
		DialTLSContext:        manager.TransportDialFunc(pool.SchemeHTTPS),
		ResponseHeaderTimeout: cfg.SocketTimeout(),
		ForceAttemptHTTP2:     false,
	}
	if limits.Bounded() {
		transport.MaxIdleConns = limits.MaxTotal
		transport.MaxIdleConnsPerHost = limits.MaxPerRoute
	}

	var policy *keepalive.Policy
	if cfg.KeepAliveEnabled {
		p := keepalive.NewPolicy(cfg.KeepAliveDefaultSeconds)
		policy = &p
	}

	var rt http.RoundTripper = &keepAliveTransport{
		base:    transport,
		policy:  policy,
		metrics: b.metrics,
	}
	if b.tracerProvider != nil {
		rt = telemetry.Transport(rt, b.tracerProvider, otel.GetTextMapPropagator())
	}

	hc := &http.Client{Transport: rt}
	if !cfg.RedirectsEnabled {
		hc.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	b.logger.Debug("Built client", "pool", manager.String(), "keep_alive", cfg.KeepAliveEnabled)
	return &Client{
		config:  cfg,
		http:    hc,
		manager: manager,
	}, nil
}

// tlsFactory materializes the current protocol and trust state.
func (b *Builder) tlsFactory() (socket.Factory, error) {
	return newTLSFactory(b.provider, b.cfg)
}

func newTLSFactory(p tlsctx.Provider, cfg Configuration) (socket.Factory, error) {
	var (
		f   *tlsctx.Factory
		err error
	)
	if ks := cfg.TLSKeystore; ks != nil {
		f, err = p.CustomSocketFactory(cfg.TLSProtocolVersion, *ks)
	} else {
		f, err = p.SocketFactory(cfg.TLSProtocolVersion)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// lazyTLSFactory defers the TLS context to the first https connection, so
// a client that only speaks plain HTTP builds under any protocol setting.
// A TLS context failure is returned from every https connect.
func lazyTLSFactory(p tlsctx.Provider, cfg Configuration) socket.Factory {
	var (
		once sync.Once
		f    socket.Factory
		err  error
	)
	return socket.FactoryFunc(func(ctx context.Context, network, addr string, opts socket.Options) (net.Conn, error) {
		once.Do(func() { f, err = newTLSFactory(p, cfg) })
		if err != nil {
			return nil, err
		}
		return f.Connect(ctx, network, addr, opts)
	})
}

func (b *Builder) warnIfPooled() {
	if !b.cfg.PoolConfigured {
		return
	}
	b.logger.Warn("TLS settings changed after pool was configured; call Pool again to apply them",
		"protocol", b.cfg.TLSProtocolVersion,
		"keystore", b.keystorePath())
}

func (b *Builder) keystorePath() string {
	if b.cfg.TLSKeystore == nil {
		return ""
	}
	return b.cfg.TLSKeystore.Path
}
