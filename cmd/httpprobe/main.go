// Command httpprobe drives a built client against a URL and reports pool,
// keep-alive and TLS behaviour.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"httpkit/internal/config"
	"httpkit/internal/telemetry"
	"httpkit/pkg/metrics"
	tlsx "httpkit/pkg/tls"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	configFile   = flag.String("config", "", "properties or yaml file (empty: embedded defaults)")
	logLevel     = flag.String("log-level", "info", "log level")
	target       = flag.String("url", "", "URL to probe")
	requests     = flag.Int("n", 10, "requests per round")
	concurrency  = flag.Int("concurrency", 1, "concurrent workers")
	interval     = flag.Duration("interval", 0, "delay between rounds (0: single round)")
	timeoutMs    = flag.Int("timeout", -1, "connect, request and socket timeout in ms (-1: con_timeout)")
	noRedirects  = flag.Bool("no-redirects", false, "do not follow redirects")
	poolTotal    = flag.Int("pool-total", 0, "pool-wide connection limit (0: no pool)")
	poolRoute    = flag.Int("pool-route", 0, "per-route connection limit (0: pool-total)")
	keepAlive    = flag.Int("keepalive", -1, "keep-alive fallback in seconds (-1: off, 0: keep_alive)")
	protocol     = flag.String("protocol", "", "TLS protocol version (empty: ssl_protocol or TLSv1.2)")
	keystore     = flag.String("keystore", "", "PKCS#12 trust store")
	keystorePass = flag.String("keystore-pass", tlsx.NoPassword, "trust store password")
	metricsAddr  = flag.String("metrics-addr", "", "serve /metrics on this address")
	watch        = flag.Bool("watch", false, "rebuild the client when the config file or keystore changes")
	otlpEndpoint = flag.String("otlp-endpoint", "", "OTLP/HTTP collector host:port (empty: tracing off)")
	otlpInsecure = flag.Bool("otlp-insecure", false, "use plain HTTP for the OTLP collector")
)

func main() {
	flag.Parse()

	setupLogging(*logLevel)

	if *target == "" {
		slog.Error("missing -url")
		os.Exit(2)
	}

	if err := run(); err != nil {
		slog.Error("probe failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	defaults, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: metricsMux(reg)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	var tp trace.TracerProvider
	if *otlpEndpoint != "" {
		tel, err := telemetry.New(ctx, telemetry.Config{
			Enabled:      true,
			Service:      "httpprobe",
			Endpoint:     *otlpEndpoint,
			Insecure:     *otlpInsecure,
			SampleRate:   1,
			BatchTimeout: 5,
		})
		if err != nil {
			return fmt.Errorf("setup telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				slog.Warn("telemetry shutdown failed", "error", err)
			}
		}()
		otel.SetTextMapPropagator(tel.Propagator())
		tp = tel.TracerProvider()
	}

	opts := options{
		timeoutMs:    *timeoutMs,
		noRedirects:  *noRedirects,
		poolTotal:    *poolTotal,
		poolRoute:    *poolRoute,
		keepAlive:    *keepAlive,
		protocol:     *protocol,
		keystore:     *keystore,
		keystorePass: *keystorePass,
	}
	p, err := newProber(defaults, opts, slog.Default(), m, tp)
	if err != nil {
		return fmt.Errorf("build client: %w", err)
	}
	defer p.Close()

	if *watch {
		w, err := startWatcher(p)
		if err != nil {
			return err
		}
		if w != nil {
			defer w.Stop()
		}
	}

	for round := 1; ; round++ {
		s := runRound(ctx, p, *target, *requests, *concurrency)
		report(round, s, p)

		if *interval <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(*interval):
		}
	}
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	return mux
}

// startWatcher rebuilds the client when the config file or keystore
// changes. A failed rebuild keeps the current client.
func startWatcher(p *prober) (*config.Watcher, error) {
	var paths []string
	if *configFile != "" {
		paths = append(paths, *configFile)
	}
	if *keystore != "" {
		paths = append(paths, *keystore)
	}
	if len(paths) == 0 {
		slog.Warn("-watch has nothing to watch without -config or -keystore")
		return nil, nil
	}

	configPath, _ := filepath.Abs(*configFile)
	w, err := config.NewWatcher(paths, &config.WatcherConfig{
		DebounceDuration: 500 * time.Millisecond,
		OnChange: func(changed []string) error {
			if *configFile != "" && slices.Contains(changed, configPath) {
				d, err := config.Load(configPath)
				if err != nil {
					return err
				}
				return p.setDefaults(d)
			}
			return p.rebuild()
		},
		OnError: func(err error) {
			slog.Warn("reload failed", "error", err)
		},
	}, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("watch files: %w", err)
	}
	w.Start()
	return w, nil
}

func report(round int, s summary, p *prober) {
	statuses := make([]string, 0, len(s.Statuses))
	for _, code := range s.StatusCodes() {
		statuses = append(statuses, fmt.Sprintf("%d=%d", code, s.Statuses[code]))
	}
	attrs := []any{
		"round", round,
		"ok", s.OK,
		"failed", s.Failed,
		"exhausted", s.Exhausted,
		"statuses", strings.Join(statuses, ","),
		"mean", s.Mean(),
		"max", s.Max,
	}
	if c := p.Client(); c != nil {
		st := c.Stats()
		attrs = append(attrs, "open", st.Open, "idle", st.Idle)
	}
	slog.Info("Round complete", attrs...)
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func setupLogging(level string) {
	lvl, ok := logLevels[strings.ToLower(level)]
	if !ok {
		lvl = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})))
}
