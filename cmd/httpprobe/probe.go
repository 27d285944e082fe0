package main

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"httpkit/pkg/errors"
	"httpkit/pkg/httpclient"
	"httpkit/pkg/metrics"
	tlsx "httpkit/pkg/tls"

	"go.opentelemetry.io/otel/trace"
)

// options are the client settings taken from flags.
type options struct {
	timeoutMs    int // -1: properties default
	noRedirects  bool
	poolTotal    int // 0: no pool
	poolRoute    int // 0: poolTotal
	keepAlive    int // -1: off, 0: properties default
	protocol     string
	keystore     string
	keystorePass string
}

func buildClient(defaults httpclient.Defaults, o options, logger *slog.Logger, m *metrics.Metrics, tp trace.TracerProvider) (*httpclient.Client, error) {
	opts := []httpclient.Option{httpclient.WithLogger(logger), httpclient.WithMetrics(m)}
	if tp != nil {
		opts = append(opts, httpclient.WithTracerProvider(tp))
	}
	b := httpclient.NewBuilder(defaults, opts...)

	if o.protocol != "" {
		v, err := tlsx.ParseProtocolVersion(o.protocol)
		if err != nil {
			return nil, errors.Configuration("invalid -protocol %q", o.protocol).WithCause(err)
		}
		b.Protocol(v)
	}

	ms := o.timeoutMs
	if ms < 0 {
		ms = defaults.ConnectionTimeoutMs
	}
	if err := b.SetTimeoutRedirects(ms, !o.noRedirects); err != nil {
		return nil, err
	}

	switch {
	case o.keepAlive == 0:
		b.KeepAlive()
	case o.keepAlive > 0:
		if err := b.KeepAliveSeconds(o.keepAlive); err != nil {
			return nil, err
		}
	}

	if o.keystore != "" {
		if err := b.SSLKeystoreWithPassword(o.keystore, o.keystorePass); err != nil {
			return nil, err
		}
	} else if err := b.SSL(); err != nil {
		return nil, err
	}

	if o.poolTotal > 0 {
		perRoute := o.poolRoute
		if perRoute <= 0 {
			perRoute = o.poolTotal
		}
		if err := b.Pool(o.poolTotal, perRoute); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

// prober owns the current client and swaps it on rebuild.
type prober struct {
	mu       sync.Mutex
	defaults httpclient.Defaults
	opts     options
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.TracerProvider

	client atomic.Pointer[httpclient.Client]
}

func newProber(defaults httpclient.Defaults, o options, logger *slog.Logger, m *metrics.Metrics, tp trace.TracerProvider) (*prober, error) {
	p := &prober{
		defaults: defaults,
		opts:     o,
		logger:   logger.With("component", "prober"),
		metrics:  m,
		tracer:   tp,
	}
	if err := p.rebuild(); err != nil {
		return nil, err
	}
	return p, nil
}

// rebuild replaces the client. On failure the current client stays.
func (p *prober) rebuild() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := buildClient(p.defaults, p.opts, p.logger, p.metrics, p.tracer)
	if err != nil {
		return err
	}
	if old := p.client.Swap(c); old != nil {
		old.Close()
		p.logger.Info("Client rebuilt", "pool", c.Config().PoolConfigured, "protocol", c.Config().TLSProtocolVersion)
	}
	return nil
}

// setDefaults rebuilds the client with new process defaults.
func (p *prober) setDefaults(d httpclient.Defaults) error {
	p.mu.Lock()
	prev := p.defaults
	p.defaults = d
	p.mu.Unlock()

	if err := p.rebuild(); err != nil {
		p.mu.Lock()
		p.defaults = prev
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *prober) Client() *httpclient.Client {
	return p.client.Load()
}

func (p *prober) Close() error {
	if c := p.client.Swap(nil); c != nil {
		return c.Close()
	}
	return nil
}

// summary aggregates one round of requests.
type summary struct {
	OK        int
	Failed    int
	Exhausted int
	Statuses  map[int]int
	Total     time.Duration
	Max       time.Duration
}

func (s summary) Mean() time.Duration {
	n := s.OK + s.Failed
	if n == 0 {
		return 0
	}
	return s.Total / time.Duration(n)
}

// StatusCodes returns the observed status codes in ascending order.
func (s summary) StatusCodes() []int {
	codes := make([]int, 0, len(s.Statuses))
	for c := range s.Statuses {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	return codes
}

// runRound issues n GET requests to url from concurrency workers.
func runRound(ctx context.Context, p *prober, url string, n, concurrency int) summary {
	if concurrency < 1 {
		concurrency = 1
	}
	jobs := make(chan struct{})
	var (
		mu sync.Mutex
		wg sync.WaitGroup
		s  = summary{Statuses: make(map[int]int)}
	)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				status, d, err := probeOnce(ctx, p.Client(), url)

				mu.Lock()
				s.Total += d
				if d > s.Max {
					s.Max = d
				}
				switch {
				case err != nil:
					s.Failed++
					if stderrors.Is(err, errors.ErrPoolExhausted) {
						s.Exhausted++
					}
					p.logger.Debug("Request failed", "url", url, "error", err)
				default:
					s.OK++
					s.Statuses[status]++
				}
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < n; i++ {
		select {
		case jobs <- struct{}{}:
		case <-ctx.Done():
			i = n
		}
	}
	close(jobs)
	wg.Wait()
	return s
}

func probeOnce(ctx context.Context, c *httpclient.Client, url string) (int, time.Duration, error) {
	start := time.Now()
	if c == nil {
		return 0, 0, errors.NewError(errors.ErrorTypeInternal, "client closed")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return 0, time.Since(start), err
	}
	_, err = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, time.Since(start), err
}
