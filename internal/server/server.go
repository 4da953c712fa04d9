// Package server exposes the risk engine over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/raaihank/dq-sentinel/internal/analysis"
	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/config"
	"github.com/raaihank/dq-sentinel/internal/logger"
	"github.com/raaihank/dq-sentinel/internal/websocket"
)

// Version is reported by /info.
const Version = "0.3.0"

// Dependencies are the engine components served by the API.
type Dependencies struct {
	Catalog  *catalog.Catalog
	Analyzer *analysis.Analyzer
	// Hub is optional; /ws is only routed when it is set.
	Hub *websocket.Hub
}

// Server represents the HTTP API server
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	catalog  *catalog.Catalog
	analyzer *analysis.Analyzer
	wsHub    *websocket.Hub
	limiter  *RateLimiter
	router   *mux.Router
	server   *http.Server
	started  time.Time
}

// New creates a new API server instance
func New(cfg *config.Config, deps Dependencies, log *logger.Logger) (*Server, error) {
	if deps.Catalog == nil || deps.Analyzer == nil {
		return nil, fmt.Errorf("server requires a catalog and an analyzer")
	}

	s := &Server{
		config:   cfg,
		logger:   log.WithComponent("server"),
		catalog:  deps.Catalog,
		analyzer: deps.Analyzer,
		wsHub:    deps.Hub,
		router:   mux.NewRouter(),
		started:  time.Now(),
	}
	if cfg.RateLimit.Enabled {
		s.limiter = NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if s.wsHub != nil && s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	api.HandleFunc("/rules/import", s.handleImportRules).Methods(http.MethodPost)
	api.HandleFunc("/presets", s.handlePresets).Methods(http.MethodGet)
	api.HandleFunc("/weights/ahp", s.handleAHP).Methods(http.MethodPost)
	api.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	api.HandleFunc("/lineage/simulate", s.handleSimulateLineage).Methods(http.MethodPost)
	api.HandleFunc("/contract", s.handleContract).Methods(http.MethodPost)
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting dq-sentinel API server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("websocket", s.wsHub != nil && s.config.WebSocket.Enabled),
		zap.Bool("rate_limit", s.limiter != nil),
	)

	if s.limiter != nil {
		s.limiter.StartCleanupRoutine(ctx)
	}

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping dq-sentinel API server")
	return s.server.Shutdown(ctx)
}
