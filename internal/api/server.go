// Package api exposes the offline queue and synchronizer to the UI over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/scout-sync/internal/cache"
	"github.com/scout-sync/internal/logging"
	"github.com/scout-sync/internal/models"
	"github.com/scout-sync/internal/queue"
	"github.com/scout-sync/internal/service"
	"github.com/scout-sync/internal/types"
	"github.com/scout-sync/internal/worker"
)

// Service interfaces for dependency injection and testing

// SyncService defines the synchronizer operations the API exposes
type SyncService interface {
	SyncPending(ctx context.Context) (*worker.PassResult, error)
	RetryItem(ctx context.Context, localID string) (*worker.ItemResult, error)
	Status() worker.SyncState
}

// QueueService defines the offline queue operations the API exposes
type QueueService interface {
	Add(ctx context.Context, in queue.ObservationInput) (*models.OfflineObservation, error)
	Get(ctx context.Context, localID string) (*models.OfflineObservation, error)
	List(ctx context.Context, statuses ...types.SyncStatus) ([]*models.OfflineObservation, error)
	Stats(ctx context.Context) (*queue.Stats, error)
}

// SubmissionServiceInterface routes a new observation to the remote store or the queue
type SubmissionServiceInterface interface {
	Submit(ctx context.Context, in queue.ObservationInput) (*service.SubmissionResult, error)
}

// ReadCacheInterface serves list reads that survive going offline
type ReadCacheInterface interface {
	ListPlayers(ctx context.Context) (*cache.ReadResult, error)
	ListObservations(ctx context.Context) (*cache.ReadResult, error)
}

// ConnectivityInterface is the connectivity signal
type ConnectivityInterface interface {
	IsOnline() bool
	SetOnline(online bool)
}

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies groups everything the handlers call
type Dependencies struct {
	Sync         SyncService
	Queue        QueueService
	Submissions  SubmissionServiceInterface
	Cache        ReadCacheInterface
	Connectivity ConnectivityInterface
	LocalStore   HealthChecker
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	deps       Dependencies
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond float64 // per client, 0 disables rate limiting
	Burst             int
}

// DefaultServerConfig returns timeouts suited to a local daemon
func DefaultServerConfig(host, port string) *ServerConfig {
	return &ServerConfig{
		Host:              host,
		Port:              port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second, // a manual sync runs inside the request
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerSecond: 20,
		Burst:             40,
	}
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps Dependencies) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		config: config,
		logger: logging.WithComponent("api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	if s.config.RequestsPerSecond > 0 {
		s.router.Use(RateLimitMiddleware(NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)))
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Synchronizer
	api.HandleFunc("/sync/status", s.handleSyncStatus).Methods("GET")
	api.HandleFunc("/sync", s.handleSyncNow).Methods("POST")

	// Offline queue
	api.HandleFunc("/offline-observations", s.handleListOffline).Methods("GET")
	api.HandleFunc("/offline-observations", s.handleEnqueue).Methods("POST")
	api.HandleFunc("/offline-observations/stats", s.handleQueueStats).Methods("GET")
	api.HandleFunc("/offline-observations/{localId}", s.handleGetOffline).Methods("GET")
	api.HandleFunc("/offline-observations/{localId}/retry", s.handleRetry).Methods("POST")

	// Reads through the snapshot cache, submission with queue fallback
	api.HandleFunc("/players", s.handleListPlayers).Methods("GET")
	api.HandleFunc("/observations", s.handleListObservations).Methods("GET")
	api.HandleFunc("/observations", s.handleSubmitObservation).Methods("POST")

	// Event-based connectivity source
	api.HandleFunc("/connectivity", s.handleGetConnectivity).Methods("GET")
	api.HandleFunc("/connectivity", s.handleSetConnectivity).Methods("PUT")
}

// Router returns the configured handler
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
