package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/logger"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/usecase"
)

// Server represents the HTTP server
type Server struct {
	addr    string
	handler http.Handler
	server  *http.Server
	logger  logger.Logger
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// AllowedOrigins lists the browser origins permitted by CORS
	AllowedOrigins []string
}

// NewServer creates a new HTTP server
func NewServer(
	config ServerConfig,
	killSwitch *usecase.KillSwitchUseCase,
	reconciler *usecase.ReconciliationUseCase,
	summary *usecase.SummaryUseCase,
	auth *OperatorAuth,
	log logger.Logger,
) *Server {
	router := mux.NewRouter()

	router.Use(correlationID)
	router.Use(requestLogger(log))
	router.Use(recovery(log))

	NewEntityHandler(killSwitch, summary, log).RegisterRoutes(router)

	admin := router.PathPrefix("/v1/admin").Subrouter()
	admin.Use(auth.Middleware)
	NewAdminHandler(killSwitch, reconciler, log).RegisterRoutes(admin)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		success(w, http.StatusOK, "ok", map[string]string{"status": "ok"})
	}).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, false, "Route not found", nil)
	})

	// Outside the router so preflight requests reach it without a matching route.
	handler := cors(config.AllowedOrigins)(router)

	return &Server{
		addr:    config.Addr,
		handler: handler,
		logger:  log,
		server: &http.Server{
			Addr:         config.Addr,
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}
}

// Handler exposes the root handler, mainly for httptest
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "Starting HTTP server", map[string]interface{}{
		"addr": s.addr,
	})
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "Shutting down HTTP server", nil)
	return s.server.Shutdown(ctx)
}
