package httpclient

import (
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"httpkit/internal/keepalive"
	"httpkit/internal/pool"
	"httpkit/pkg/metrics"
)

// keepAliveTransport leases the pooled connection behind each round trip
// and parks it with the resolved keep-alive once the response is consumed.
type keepAliveTransport struct {
	base    *http.Transport
	policy  *keepalive.Policy // nil: only the server's timeout expires idle connections
	metrics *metrics.Metrics
}

func (t *keepAliveTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var (
		conn  *pool.Conn
		lease uint64
	)
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if c, ok := info.Conn.(*pool.Conn); ok {
				conn = c
				lease = c.Lease()
			}
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	resp, err := t.base.RoundTrip(req)
	if err != nil || conn == nil {
		return resp, err
	}

	if resp.TLS == nil {
		if state, ok := conn.ConnectionState(); ok {
			resp.TLS = &state
		}
	}

	d := t.keepAlive(resp.Header)
	release := func() { conn.Release(lease, d) }

	switch {
	case resp.StatusCode == http.StatusSwitchingProtocols:
		// The connection now belongs to the caller.
	case resp.Body == nil || resp.Body == http.NoBody:
		release()
	default:
		resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	}
	return resp, nil
}

// keepAlive honours the server's timeout even without a policy; only the
// fallback differs.
func (t *keepAliveTransport) keepAlive(h http.Header) time.Duration {
	var p keepalive.Policy
	if t.policy != nil {
		p = *t.policy
	}
	d, fromHeader := p.ResolveSource(h)
	switch {
	case fromHeader:
		t.metrics.KeepAliveResolved(metrics.SourceHeader)
	case t.policy != nil:
		t.metrics.KeepAliveResolved(metrics.SourceDefault)
	}
	return d
}

func (t *keepAliveTransport) CloseIdleConnections() {
	t.base.CloseIdleConnections()
}

// releasingBody releases the connection on EOF or Close, whichever comes
// first.
type releasingBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releasingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err == io.EOF {
		b.once.Do(b.release)
	}
	return n, err
}

func (b *releasingBody) Close() error {
	b.once.Do(b.release)
	return b.ReadCloser.Close()
}
