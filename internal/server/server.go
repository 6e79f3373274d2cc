// Package server exposes the risk engine over HTTP and a gRPC health
// service, and owns the lifecycle of both listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/usfnet/sentinel/internal/audit"
	"github.com/usfnet/sentinel/internal/cache"
	"github.com/usfnet/sentinel/internal/config"
	"github.com/usfnet/sentinel/internal/db"
	"github.com/usfnet/sentinel/internal/dispatch"
	"github.com/usfnet/sentinel/internal/engine"
	"github.com/usfnet/sentinel/internal/middleware"
	"github.com/usfnet/sentinel/internal/notify"
)

const (
	apiPrefix      = "/api/v1"
	maxBodyBytes   = 256 * 1024
	pruneInterval  = time.Minute
	shutdownPeriod = 10 * time.Second
)

// Server represents the sentinel server
type Server struct {
	config *config.Config

	// Core components
	store  db.Store
	cache  cache.Cache
	engine *engine.Engine
	audit  audit.Logger
	logger *zap.Logger

	// Transport
	handler    http.Handler
	limiter    *middleware.RateLimiter
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// NewServer wires the pipeline on top of store. Nil loggers are replaced by
// no-ops.
func NewServer(cfg *config.Config, store db.Store, auditLog audit.Logger, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if auditLog == nil {
		auditLog = audit.NewNopLogger()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config: cfg,
		store:  store,
		cache:  cache.NewCache(),
		audit:  auditLog,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	notifier := notify.NewStoreNotifier(store, s.cache, time.Duration(cfg.Cache.TTLSeconds)*time.Second, logger.Named("notify"))
	dispatcher := dispatch.NewDispatcher(store, notifier, DispatchConfig(cfg), auditLog, logger)
	s.engine = engine.New(store, dispatcher, engine.OptionsFromConfig(cfg), auditLog, logger)
	s.handler = s.buildHandler()

	return s, nil
}

// DispatchConfig maps the risk and notifications config sections.
func DispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		RuleSetVersion: cfg.Risk.RuleSetVersion,
		ContentRoles:   append([]string(nil), cfg.Notifications.ContentRoles...),
		SecurityRoles:  append([]string(nil), cfg.Notifications.SecurityRoles...),
		NotifyUser:     cfg.Notifications.NotifyUser,
		BaseURL:        cfg.Notifications.BaseURL,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Engine returns the risk engine.
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

func (s *Server) buildHandler() http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.AccessLog(s.logger.Named("http")))
	router.Use(middleware.Recover(s.logger))
	s.registerRoutes(router)

	var h http.Handler = router
	h = middleware.MaxBodySize(maxBodyBytes)(h)
	h = middleware.SecureHeaders(h)
	if s.config.Server.RateLimitPerMinute > 0 {
		s.limiter = middleware.NewRateLimiter(s.config.Server.RateLimitPerMinute)
		h = s.limiter.Middleware(h)
	}
	h = cors.New(cors.Options{
		AllowedOrigins: s.config.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader, middleware.TraceIDHeader},
	}).Handler(h)
	return middleware.Tracing(h)
}

func (s *Server) registerRoutes(router *mux.Router) {
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// API routes sit on the root router so a method mismatch answers 405.
	router.HandleFunc(apiPrefix+"/moderate", s.handleModerate).Methods(http.MethodPost)
	router.HandleFunc(apiPrefix+"/analyze", s.handleAnalyze).Methods(http.MethodPost)
	router.HandleFunc(apiPrefix+"/logins", s.handleRecordLogin).Methods(http.MethodPost)
	router.HandleFunc(apiPrefix+"/alerts", s.handleListAlerts).Methods(http.MethodGet)
	router.HandleFunc(apiPrefix+"/alerts/{id}", s.handleGetAlert).Methods(http.MethodGet)
}

// Start starts the HTTP listener, the optional gRPC health listener and the
// cache janitor.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		s.setRunning(false)
		return fmt.Errorf("listen http: %w", err)
	}
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("HTTP server listening", zap.String("addr", lis.Addr().String()))
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	if s.config.Server.GRPCPort > 0 {
		if err := s.startGRPC(); err != nil {
			_ = s.httpServer.Close()
			s.setRunning(false)
			return err
		}
	}

	s.wg.Add(1)
	go s.pruneCache()

	_ = s.audit.Log(s.ctx, audit.NewEvent(audit.EventServerStarted).
		WithUser("system").
		WithDescription("Server listening on "+lis.Addr().String()))
	s.logger.Info("Sentinel started",
		zap.String("database", s.config.Database.Type),
		zap.String("rule_set", s.config.Risk.RuleSetVersion),
		zap.Int("rate_limit_per_min", s.config.Server.RateLimitPerMinute),
	)
	return nil
}

func (s *Server) startGRPC() error {
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	s.grpcServer = grpc.NewServer()
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("gRPC health server listening", zap.String("addr", lis.Addr().String()))
		if err := s.grpcServer.Serve(lis); err != nil {
			s.logger.Error("gRPC server error", zap.Error(err))
		}
	}()
	return nil
}

// pruneCache drops expired role lookups until the server stops.
func (s *Server) pruneCache() {
	defer s.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.cache.Prune(); n > 0 {
				s.logger.Debug("Pruned cache entries", zap.Int("count", n))
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping sentinel")

	if s.health != nil {
		s.health.Shutdown()
	}
	var err error
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownPeriod)
		defer cancel()
		if err = s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Error shutting down HTTP server", zap.Error(err))
		}
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}

	s.cancel()
	s.wg.Wait()

	_ = s.audit.Log(context.Background(), audit.NewEvent(audit.EventServerShutdown).WithUser("system"))
	s.logger.Info("Sentinel stopped")
	return err
}

// ApplyConfig swaps the hot-reloadable rule sets and drops cached role
// lookups. Listener and database settings need a restart.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.engine.Reconfigure(engine.OptionsFromConfig(cfg))
	_ = s.cache.Invalidate(s.ctx, "role:*")
	_ = s.audit.Log(s.ctx, audit.NewEvent(audit.EventConfigReload).
		WithUser("system").
		WithMetadata("rule_set", cfg.Risk.RuleSetVersion))
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}
