package httpclient

import (
	"bytes"
	"crypto/x509"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"httpkit/internal/tlsctx"
	"httpkit/pkg/errors"
	tlsx "httpkit/pkg/tls"

	"software.sslmate.com/src/go-pkcs12"
)

var testDefaults = Defaults{ConnectionTimeoutMs: 1500, KeepAliveSeconds: 60}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestBuilder(opts ...Option) *Builder {
	return NewBuilder(testDefaults, append([]Option{WithLogger(quietLogger())}, opts...)...)
}

func writeTrustStore(t *testing.T, cert *x509.Certificate, password string) string {
	t.Helper()
	data, err := pkcs12.Modern.EncodeTrustStore([]*x509.Certificate{cert}, password)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "trust.p12")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTLSServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewBuilderDefaults(t *testing.T) {
	cfg := newTestBuilder().Config()

	if cfg.ConnectionTimeoutMs != 1500 || cfg.ConnectRequestTimeoutMs != 1500 || cfg.SocketTimeoutMs != 1500 {
		t.Errorf("timeouts = %d/%d/%d, want 1500", cfg.ConnectionTimeoutMs, cfg.ConnectRequestTimeoutMs, cfg.SocketTimeoutMs)
	}
	if !cfg.RedirectsEnabled {
		t.Error("redirects should start enabled")
	}
	if cfg.PoolConfigured || cfg.KeepAliveEnabled || cfg.TLSKeystore != nil {
		t.Errorf("unexpected initial state %+v", cfg)
	}
	if cfg.TLSProtocolVersion != tlsx.DefaultProtocol {
		t.Errorf("protocol = %q, want %q", cfg.TLSProtocolVersion, tlsx.DefaultProtocol)
	}
	if cfg.KeepAliveDefaultMs() != 60000 {
		t.Errorf("KeepAliveDefaultMs() = %d, want 60000", cfg.KeepAliveDefaultMs())
	}

	b := NewBuilder(Defaults{ConnectionTimeoutMs: 10, Protocol: tlsx.TLSv1_3}, WithLogger(quietLogger()))
	if got := b.Config().TLSProtocolVersion; got != tlsx.TLSv1_3 {
		t.Errorf("protocol from defaults = %q", got)
	}
}

func TestSetTimeout(t *testing.T) {
	tests := []struct {
		name      string
		ms        int
		redirects bool
		wantErr   bool
	}{
		{"zero", 0, true, false},
		{"one", 1, true, false},
		{"redirects off", 2500, false, false},
		{"negative", -1, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuilder()
			err := b.SetTimeoutRedirects(tt.ms, tt.redirects)
			cfg := b.Config()
			if tt.wantErr {
				if !stderrors.Is(err, errors.ErrConfiguration) {
					t.Fatalf("SetTimeoutRedirects() error = %v, want configuration", err)
				}
				if cfg.ConnectionTimeoutMs != 1500 {
					t.Errorf("failed call changed timeout to %d", cfg.ConnectionTimeoutMs)
				}
				return
			}
			if err != nil {
				t.Fatalf("SetTimeoutRedirects() unexpected error: %v", err)
			}
			for _, got := range []int{cfg.ConnectionTimeoutMs, cfg.ConnectRequestTimeoutMs, cfg.SocketTimeoutMs} {
				if got != tt.ms {
					t.Errorf("timeout = %d, want %d", got, tt.ms)
				}
			}
			if cfg.RedirectsEnabled != tt.redirects {
				t.Errorf("RedirectsEnabled = %v, want %v", cfg.RedirectsEnabled, tt.redirects)
			}
		})
	}
}

func TestTimeoutUsesDefault(t *testing.T) {
	b := newTestBuilder()
	if err := b.SetTimeoutRedirects(10, false); err != nil {
		t.Fatal(err)
	}
	cfg := b.Timeout().Config()
	if cfg.ConnectionTimeoutMs != 1500 || cfg.SocketTimeoutMs != 1500 || !cfg.RedirectsEnabled {
		t.Errorf("Timeout() = %+v", cfg)
	}

	if err := b.SetTimeout(300); err != nil {
		t.Fatal(err)
	}
	if cfg := b.Config(); cfg.ConnectRequestTimeoutMs != 300 || !cfg.RedirectsEnabled {
		t.Errorf("SetTimeout(300) = %+v", cfg)
	}
}

func TestPoolValidation(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		perRoute int
		wantErr  bool
	}{
		{"single", 1, 1, false},
		{"typical", 20, 5, false},
		{"per route equals total", 8, 8, false},
		{"per route exceeds total", 2, 3, true},
		{"zero total", 0, 0, true},
		{"negative per route", 5, -2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuilder()
			err := b.Pool(tt.total, tt.perRoute)
			if tt.wantErr {
				if !stderrors.Is(err, errors.ErrConfiguration) {
					t.Fatalf("Pool() error = %v, want configuration", err)
				}
				if b.IsPoolSet() {
					t.Error("IsPoolSet() = true after failed Pool")
				}
				return
			}
			if err != nil {
				t.Fatalf("Pool() unexpected error: %v", err)
			}
			cfg := b.Config()
			if !b.IsPoolSet() || cfg.PoolMaxTotal != tt.total || cfg.PoolMaxPerRoute != tt.perRoute {
				t.Errorf("IsPoolSet() = %v, config = %+v", b.IsPoolSet(), cfg)
			}
		})
	}
}

func TestPoolReplacesPrevious(t *testing.T) {
	b := newTestBuilder()
	if err := b.Pool(10, 5); err != nil {
		t.Fatal(err)
	}
	if err := b.Pool(1, 1); err != nil {
		t.Fatal(err)
	}
	// A rejected call keeps the last good pool.
	if err := b.Pool(1, 2); err == nil {
		t.Fatal("expected configuration error")
	}

	client, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if cfg := client.Config(); cfg.PoolMaxTotal != 1 || cfg.PoolMaxPerRoute != 1 {
		t.Errorf("limits = %d/%d, want 1/1", cfg.PoolMaxTotal, cfg.PoolMaxPerRoute)
	}
	if got := client.manager.Limits(); got.MaxTotal != 1 || got.MaxPerRoute != 1 {
		t.Errorf("manager limits = %+v", got)
	}
}

func TestKeepAlive(t *testing.T) {
	b := newTestBuilder()
	if cfg := b.KeepAlive().Config(); !cfg.KeepAliveEnabled || cfg.KeepAliveDefaultSeconds != 60 {
		t.Errorf("KeepAlive() = %+v", cfg)
	}

	if err := b.KeepAliveSeconds(5); err != nil {
		t.Fatal(err)
	}
	if cfg := b.Config(); cfg.KeepAliveDefaultMs() != 5000 {
		t.Errorf("KeepAliveDefaultMs() = %d, want 5000", cfg.KeepAliveDefaultMs())
	}

	if err := b.KeepAliveSeconds(-1); !stderrors.Is(err, errors.ErrConfiguration) {
		t.Errorf("KeepAliveSeconds(-1) error = %v, want configuration", err)
	}
	if cfg := b.Config(); cfg.KeepAliveDefaultSeconds != 5 {
		t.Errorf("failed call changed keep-alive to %d", cfg.KeepAliveDefaultSeconds)
	}
}

func TestSSLFailureLeavesStateUnchanged(t *testing.T) {
	srv := newTLSServer(t)
	good := writeTrustStore(t, srv.Certificate(), "changeit")

	b := newTestBuilder()
	if err := b.SSLKeystoreWithPassword(good, "changeit"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		path     string
		password string
	}{
		{"missing file", "bad/path", "wrong"},
		{"wrong password", good, "wrong"},
		{"sentinel password", good, tlsx.NoPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.SSLKeystoreWithPassword(tt.path, tt.password)
			if !stderrors.Is(err, errors.ErrTLSConfiguration) {
				t.Fatalf("SSLKeystoreWithPassword() error = %v, want tls_configuration", err)
			}
			if ks := b.Config().TLSKeystore; ks == nil || ks.Path != good {
				t.Errorf("keystore = %+v, want %s", ks, good)
			}
		})
	}

	if err := b.SSLKeystore("bad/path"); !stderrors.Is(err, errors.ErrTLSConfiguration) {
		t.Errorf("SSLKeystore() error = %v, want tls_configuration", err)
	}

	// The previously loaded trust material is still the one in effect.
	client, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	resp, err := client.Do(mustRequest(t, srv.URL))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()
}

func TestUnsupportedProtocol(t *testing.T) {
	var logs bytes.Buffer
	b := NewBuilder(testDefaults, WithLogger(bufferLogger(&logs)))
	b.Protocol(tlsx.SSLv3)

	if !strings.Contains(logs.String(), "legacy TLS protocol") {
		t.Errorf("expected a legacy protocol warning, got %q", logs.String())
	}
	if err := b.SSL(); !stderrors.Is(err, errors.ErrTLSConfiguration) {
		t.Errorf("SSL() error = %v, want tls_configuration", err)
	}
	if err := b.Pool(2, 1); !stderrors.Is(err, errors.ErrTLSConfiguration) {
		t.Errorf("Pool() error = %v, want tls_configuration", err)
	}
	if b.IsPoolSet() {
		t.Error("IsPoolSet() = true after failed Pool")
	}
}

func TestBuildPlainHTTPUnderUnsupportedProtocol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer srv.Close()
	tlsSrv := newTLSServer(t)

	b := newTestBuilder()
	b.Protocol(tlsx.SSLv3)
	client, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer client.Close()

	resp, err := client.Do(mustRequest(t, srv.URL))
	if err != nil {
		t.Fatalf("Do(http) error = %v", err)
	}
	drain(resp)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	// The TLS context is only needed, and only fails, for https.
	for i := 0; i < 2; i++ {
		if _, err := client.Do(mustRequest(t, tlsSrv.URL)); !stderrors.Is(err, errors.ErrTLSConfiguration) {
			t.Errorf("Do(https) #%d error = %v, want tls_configuration", i+1, err)
		}
	}
	if s := client.Stats(); s.Waiting != 0 {
		t.Errorf("Waiting = %d after failed connects", s.Waiting)
	}
}

func TestSSLIdempotent(t *testing.T) {
	srv := newTLSServer(t)
	roots := x509.NewCertPool()
	roots.AddCert(srv.Certificate())

	b := newTestBuilder(WithProvider(&tlsctx.DefaultProvider{RootCAs: roots, Logger: quietLogger()}))
	for i := 0; i < 2; i++ {
		if err := b.SSL(); err != nil {
			t.Fatalf("SSL() #%d error = %v", i+1, err)
		}
		client, err := b.Build()
		if err != nil {
			t.Fatal(err)
		}
		resp, err := client.Do(mustRequest(t, srv.URL))
		if err != nil {
			t.Fatalf("Do() after SSL() #%d error = %v", i+1, err)
		}
		resp.Body.Close()
		client.Close()
	}
}

func TestConfigSnapshot(t *testing.T) {
	srv := newTLSServer(t)
	path := writeTrustStore(t, srv.Certificate(), "changeit")

	b := newTestBuilder()
	if err := b.SSLKeystoreWithPassword(path, "changeit"); err != nil {
		t.Fatal(err)
	}
	snap := b.Config()
	snap.TLSKeystore.Path = "elsewhere"
	if b.Config().TLSKeystore.Path != path {
		t.Error("mutating a snapshot changed the builder")
	}

	client, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	if err := b.SetTimeout(1); err != nil {
		t.Fatal(err)
	}
	if client.Config().ConnectionTimeoutMs != 1500 {
		t.Error("builder changes after Build leaked into the client")
	}
}

func mustRequest(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	return req
}
