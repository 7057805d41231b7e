package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/memeroyale/indexer/service/config"
	"github.com/memeroyale/indexer/service/metrics"
)

// Server is the HTTP control surface of the indexer: a push endpoint for
// externally confirmed transactions, a health check, and Prometheus
// metrics.
type Server struct {
	addr    string
	cfg     *config.Config
	chain   ChainSource
	decoder Decoder
	sink    Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, chain ChainSource, decoder Decoder, sink Sink, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		cfg:     cfg,
		chain:   chain,
		decoder: decoder,
		sink:    sink,
		metrics: m,
		logger:  logger,
	}
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	pushHandler := handlePushTransactions(s.chain, s.decoder, s.sink, s.logger)
	pushHandler = requireBearerToken(s.cfg.ControlToken, s.logger)(pushHandler)
	if s.metrics != nil {
		pushHandler = metrics.HTTPMetricsMiddleware(s.metrics, "/api/v1/transactions")(pushHandler)
	}
	mux.Handle("POST /api/v1/transactions", pushHandler)

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
