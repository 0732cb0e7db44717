// Package api serves the latest pipeline report over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hed1ad/devicescore/pkg/pipeline"
	"github.com/hed1ad/devicescore/pkg/telemetry"
)

// Loader returns the dataset a refresh scores.
type Loader func(ctx context.Context) (*telemetry.Dataset, error)

// Server holds the most recent report and exposes it as JSON.
type Server struct {
	pipe     *pipeline.Pipeline
	load     Loader
	logger   *zap.Logger
	gatherer prometheus.Gatherer
	router   *mux.Router

	refreshMu sync.Mutex
	mu        sync.RWMutex
	report    *pipeline.Report
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithGatherer exposes g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New creates a Server that scores the output of load with pipe.
func New(pipe *pipeline.Pipeline, load Loader, opts ...Option) *Server {
	s := &Server{
		pipe:   pipe,
		load:   load,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/report", s.handleReport).Methods(http.MethodGet)
	v1.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{id}", s.handleDevice).Methods(http.MethodGet)
	v1.HandleFunc("/anomalies", s.handleAnomalies).Methods(http.MethodGet)
	v1.HandleFunc("/latency-histogram", s.handleHistogram).Methods(http.MethodGet)
	v1.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Report returns the latest report, or nil before the first successful refresh.
func (s *Server) Report() *pipeline.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// Refresh loads the dataset and runs the pipeline. The previous report is
// kept when the run fails.
func (s *Server) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	ds, err := s.load(ctx)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	report, err := s.pipe.Run(ctx, ds)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.report = report
	s.mu.Unlock()
	return nil
}

// ListenAndServe serves until ctx is done, then shuts down within grace.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
