package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tournevent/kuaidi100/internal/batch"
	"github.com/tournevent/kuaidi100/internal/replay"
	"github.com/tournevent/kuaidi100/internal/telemetry"
	"github.com/tournevent/kuaidi100/pkg/kuaidi100"
)

const maxBodyBytes = 1 << 20

// Server is the HTTP server for the tracking bridge.
type Server struct {
	port     int
	service  *kuaidi100.Service
	runner   *batch.Runner
	guard    replay.Guard
	sink     Sink
	logger   *otelzap.Logger
	metrics  *telemetry.Metrics
	registry *prometheus.Registry
	tracer   trace.Tracer
}

// Config holds server configuration.
type Config struct {
	Port             int
	BatchConcurrency int
}

// Option customizes a Server.
type Option func(*Server)

// WithGuard enables duplicate detection of provider notifications.
func WithGuard(g replay.Guard) Option {
	return func(s *Server) { s.guard = g }
}

// WithSink sets the consumer of verified notifications.
func WithSink(sink Sink) Option {
	return func(s *Server) { s.sink = sink }
}

// WithRegistry registers metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// New creates a new server instance.
func New(cfg Config, service *kuaidi100.Service, logger *otelzap.Logger, opts ...Option) *Server {
	s := &Server{
		port:    cfg.Port,
		service: service,
		runner:  batch.NewRunner(service, cfg.BatchConcurrency),
		guard:   replay.Nop{},
		logger:  logger,
		tracer:  otel.Tracer("github.com/tournevent/kuaidi100/internal/server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	if s.sink == nil {
		s.sink = LogSink{Logger: logger}
	}
	s.metrics = telemetry.NewMetrics(s.registry)
	return s
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Post("/notifications", s.handleNotification)
	r.Post("/track", s.handleTrack)
	r.Get("/query", s.handleQuery)
	r.Post("/query/batch", s.handleBatchQuery)

	return otelhttp.NewHandler(r, "kuaidi100-bridge")
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
