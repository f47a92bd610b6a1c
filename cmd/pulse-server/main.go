// Command pulse-server serves the globe query API over the most recent raw
// dataset in the blob store, reloading it in the background.
package main

import (
	"context"
	"errors"
	"expvar"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pulse/internal/adapters/globe"
	"pulse/internal/blob"
	"pulse/internal/core"
	"pulse/internal/engine"
	"pulse/internal/snapshot"
)

const (
	loadTimeout     = 2 * time.Minute
	shutdownTimeout = 15 * time.Second
)

var (
	exitFunc = os.Exit
	// notifyContext is replaced in tests to stop the server without a signal.
	notifyContext = signal.NotifyContext
)

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pulse-server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "", "listen address (overrides PULSE_HTTP_ADDR)")
	trace := fs.Bool("trace", os.Getenv("PULSE_TRACE") != "", "write JSON trace spans to stderr (PULSE_TRACE)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		return 2
	}

	cfg, err := core.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tracer core.Tracer
	if *trace {
		tracer = core.NewJSONTracer(stderr)
	}
	srv, err := newServer(ctx, cfg, logger, tracer)
	if err != nil {
		logger.Error("server_init_failed", slog.Any("err", err))
		return 1
	}
	defer srv.close()

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		logger.Error("listen_failed", slog.String("addr", cfg.HTTPAddr), slog.Any("err", err))
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "listening on %s\n", ln.Addr())
	if err := srv.serve(ctx, ln); err != nil {
		logger.Error("server_failed", slog.Any("err", err))
		return 1
	}
	return 0
}

type server struct {
	svc       *core.Service
	refresher *core.Refresher
	snapshots core.SnapshotStore
	handler   http.Handler
	logger    *slog.Logger
}

// newServer wires stores, metrics and the query engine, and restores the most
// recent snapshot so queries are answered before the first load finishes.
func newServer(ctx context.Context, cfg core.Config, logger *slog.Logger, tracer core.Tracer) (*server, error) {
	blobs, err := blob.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	snaps, err := core.OpenSnapshotStore(cfg.SnapshotRetain)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	mux := http.NewServeMux()
	var metrics core.MetricsRecorder
	switch cfg.Metrics {
	case core.MetricsPrometheus:
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec, err := core.NewPrometheusMetricsRecorder(reg)
		if err != nil {
			_ = snaps.Close()
			return nil, err
		}
		metrics = rec
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	default:
		metrics = core.NewExpvarMetricsRecorder("")
		mux.Handle("/debug/vars", expvar.Handler())
	}

	opts := []core.Option{
		core.WithLogger(logger),
		core.WithMetricsRecorder(metrics),
		core.WithPrefix(cfg.DatasetPrefix),
	}
	if tracer != nil {
		opts = append(opts, core.WithTracer(tracer))
	}
	svc := core.NewService(engine.New(nil, engine.WithFallback(cfg.Fallback)), blobs, snaps, opts...)
	if _, err := svc.Restore(ctx); err != nil && !errors.Is(err, snapshot.ErrNotFound) {
		logger.Warn("snapshot_restore_failed", slog.Any("err", err))
	}
	refresher := core.NewRefresher(svc, cfg.RefreshInterval, loadTimeout, logger)

	api := globe.NewHandler(svc.Engine())
	api.Datasets = svc
	api.Reloader = refresher
	api.Logger = logger
	mux.Handle("/api/v1/", api)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !svc.Status().Loaded {
			http.Error(w, "no dataset loaded", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return &server{svc: svc, refresher: refresher, snapshots: snaps, handler: mux, logger: logger}, nil
}

// serve starts the refresher and the HTTP server and blocks until ctx ends,
// then drains both.
func (s *server) serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.refresher.Start()
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()
	s.logger.Info("server_started", slog.String("addr", ln.Addr().String()))

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http_shutdown_failed", slog.Any("err", err))
	}
	if err := s.refresher.Stop(shutdownCtx); err != nil {
		s.logger.Warn("refresher_stop_failed", slog.Any("err", err))
	}
	s.logger.Info("server_stopped")
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

func (s *server) close() {
	if err := s.snapshots.Close(); err != nil {
		s.logger.Warn("snapshot_store_close_failed", slog.Any("err", err))
	}
}
