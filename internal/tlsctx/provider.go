// Package tlsctx builds TLS socket factories from a protocol version and
// optional keystore.
package tlsctx

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"

	"httpkit/internal/socket"
	"httpkit/pkg/errors"
	tlsx "httpkit/pkg/tls"
)

// Provider produces TLS socket factories. Both methods fail with a
// tls_configuration error.
type Provider interface {
	SocketFactory(version tlsx.ProtocolVersion) (*Factory, error)
	CustomSocketFactory(version tlsx.ProtocolVersion, ks tlsx.Keystore) (*Factory, error)
}

// DefaultProvider uses the system trust store for default factories.
type DefaultProvider struct {
	// RootCAs overrides the system roots for default factories. Nil means
	// the platform trust store.
	RootCAs *x509.CertPool
	Logger  *slog.Logger
}

// NewProvider creates a provider backed by the platform trust store.
func NewProvider(logger *slog.Logger) *DefaultProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultProvider{Logger: logger.With("component", "tls-provider")}
}

// SocketFactory returns a factory trusting the default roots.
func (p *DefaultProvider) SocketFactory(version tlsx.ProtocolVersion) (*Factory, error) {
	cfg, err := baseConfig(version)
	if err != nil {
		return nil, err
	}
	cfg.RootCAs = p.RootCAs
	p.logger().Debug("Built default TLS socket factory", "protocol", version)
	return &Factory{config: cfg, protocol: version}, nil
}

// CustomSocketFactory returns a factory trusting only the keystore's
// certificates and presenting its key pair, if any.
func (p *DefaultProvider) CustomSocketFactory(version tlsx.ProtocolVersion, ks tlsx.Keystore) (*Factory, error) {
	cfg, err := baseConfig(version)
	if err != nil {
		return nil, err
	}
	m, err := loadKeystore(ks)
	if err != nil {
		return nil, err
	}
	cfg.RootCAs = m.roots
	cfg.Certificates = m.certificates
	p.logger().Debug("Built custom TLS socket factory",
		"protocol", version, "keystore", ks.Path, "client_cert", len(m.certificates) > 0)
	return &Factory{config: cfg, protocol: version, keystore: ks.Path}, nil
}

func (p *DefaultProvider) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// baseConfig pins the negotiated version to exactly version.
func baseConfig(version tlsx.ProtocolVersion) (*tls.Config, error) {
	v, ok := version.Version()
	if !ok {
		return nil, errors.TLSConfiguration("unsupported protocol version", nil).
			WithDetail("protocol", version.String())
	}
	return &tls.Config{
		MinVersion: v,
		MaxVersion: v,
	}, nil
}

// Factory dials TCP and performs a TLS client handshake. It is immutable.
type Factory struct {
	config   *tls.Config
	protocol tlsx.ProtocolVersion
	keystore string
}

// Protocol returns the pinned protocol version.
func (f *Factory) Protocol() tlsx.ProtocolVersion { return f.protocol }

// Keystore returns the keystore path, or "" for default trust.
func (f *Factory) Keystore() string { return f.keystore }

// TLSConfig returns a copy of the underlying configuration.
func (f *Factory) TLSConfig() *tls.Config { return f.config.Clone() }

// Connect implements socket.Factory.
func (f *Factory) Connect(ctx context.Context, network, addr string, opts socket.Options) (net.Conn, error) {
	d := net.Dialer{Timeout: opts.ConnectTimeout}
	raw, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	cfg := f.config.Clone()
	if cfg.ServerName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		cfg.ServerName = host
	}

	hctx := ctx
	if opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, opts.HandshakeTimeout)
		defer cancel()
	}

	conn := tls.Client(raw, cfg)
	if err := conn.HandshakeContext(hctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}
	return conn, nil
}

var _ socket.Factory = (*Factory)(nil)
