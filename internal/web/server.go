package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/propmatch/internal/audience"
	"github.com/propmatch/internal/debug"
	"github.com/propmatch/internal/store"
	"github.com/propmatch/internal/web/handlers"
	"github.com/propmatch/internal/web/middleware"
)

// Deps are the long-lived components the server routes to. A nil Engine
// serves 503 on every dataset endpoint.
type Deps struct {
	Engine   *audience.Engine
	Store    store.Store
	Logger   *zap.Logger
	Registry *prometheus.Registry
}

// Server represents the web server
type Server struct {
	config     *Config
	deps       Deps
	logger     *zap.Logger
	httpServer *http.Server
	router     *mux.Router
}

// NewServer creates a new web server instance
func NewServer(config *Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("web server needs an audience store")
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	server := &Server{
		config: config,
		deps:   deps,
		logger: debug.OrNop(deps.Logger),
	}

	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	// Convert config for handlers (to avoid import cycle)
	handlerConfig := &handlers.Config{}
	handlerConfig.Features.ExportEnabled = s.config.Features.ExportEnabled

	apiHandler := &handlers.APIHandler{
		Session: handlers.NewSession(s.deps.Engine),
		Store:   s.deps.Store,
		Config:  handlerConfig,
		Logger:  s.logger,
	}

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", apiHandler.Health).Methods("GET")

	// Dataset endpoints
	api.HandleFunc("/dataset", apiHandler.GetDataset).Methods("GET")
	api.HandleFunc("/dataset/ranges", apiHandler.GetRanges).Methods("GET")
	api.HandleFunc("/dataset/options", apiHandler.GetOptions).Methods("GET")

	// Audience endpoints
	api.HandleFunc("/audiences/build", apiHandler.BuildAudience).Methods("POST")
	api.HandleFunc("/audiences", apiHandler.ListAudiences).Methods("GET")
	api.HandleFunc("/audiences", apiHandler.SaveAudience).Methods("POST")
	api.HandleFunc("/audiences", apiHandler.DeleteAllAudiences).Methods("DELETE")
	api.HandleFunc("/audiences/{name}", apiHandler.GetAudience).Methods("GET")
	api.HandleFunc("/audiences/{name}", apiHandler.DeleteAudience).Methods("DELETE")

	if s.config.Features.ExportEnabled {
		api.HandleFunc("/audiences/{name}/export", apiHandler.ExportAudience).Methods("GET")
	}

	s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})).Methods("GET")

	httpMetrics := middleware.NewHTTPMetrics(s.deps.Registry)
	s.router.Use(httpMetrics.Middleware)
	s.router.Use(middleware.RequestLogging(s.logger))

	if s.config.Auth.Enabled {
		// Apply authentication middleware to API routes only
		api.Use(middleware.Authentication(s.config.Auth.APIKey))
	}
}

// Handler returns the routed handler. CORS wraps the router so that
// preflight requests are answered before method matching.
func (s *Server) Handler() http.Handler {
	return middleware.CORS()(s.router)
}

// Start serves until ctx is cancelled or the process receives SIGINT or
// SIGTERM, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("server shutdown error", zap.Error(err))
	}

	if err := s.deps.Store.Close(); err != nil {
		s.logger.Error("audience store close error", zap.Error(err))
	}

	s.logger.Info("server stopped")
	return nil
}
