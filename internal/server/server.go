// Package server exposes the redactor over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pdf-redactor/internal/audit"
	"github.com/raaihank/pdf-redactor/internal/cache"
	"github.com/raaihank/pdf-redactor/internal/config"
	"github.com/raaihank/pdf-redactor/internal/engine"
	"github.com/raaihank/pdf-redactor/internal/logger"
	"github.com/raaihank/pdf-redactor/internal/websocket"
)

// ResultCache serves repeated redaction requests without running the engine
type ResultCache interface {
	Key(upload []byte, opts cache.KeyOptions) string
	Get(ctx context.Context, key string) (*cache.Entry, error)
	Store(ctx context.Context, key string, entry *cache.Entry) error
}

// AuditRecorder persists one record per redaction run
type AuditRecorder interface {
	Record(ctx context.Context, run *audit.Run) error
}

// CacheAdmin is implemented by caches that report usage and can be flushed
type CacheAdmin interface {
	GetStats(ctx context.Context) (*cache.CacheStats, error)
	Clear(ctx context.Context) error
}

// AuditReader is implemented by audit recorders that can be queried
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]*audit.Run, error)
	GetStats(ctx context.Context) (*audit.Stats, error)
}

// Deps are the collaborators of the server. Cache and Audit are optional.
type Deps struct {
	Engine     engine.Engine
	Compressor engine.Compressor
	Cache      ResultCache
	Audit      AuditRecorder
}

// Server represents the redaction HTTP server
type Server struct {
	mu      sync.RWMutex
	config  *config.Config
	logger  *logger.Logger
	deps    Deps
	router  *mux.Router
	server  *http.Server
	wsHub   *websocket.Hub
	limiter *clientLimiter
	started time.Time
	done    chan struct{}
	once    sync.Once
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, deps Deps) (*Server, error) {
	if deps.Engine == nil || deps.Compressor == nil {
		return nil, fmt.Errorf("server requires a document engine and a compressor")
	}

	s := &Server{
		config:  cfg,
		logger:  log.WithComponent("server"),
		deps:    deps,
		router:  mux.NewRouter(),
		wsHub:   websocket.NewHub(cfg.WebSocket, log.Logger),
		limiter: newClientLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		started: time.Now(),
		done:    make(chan struct{}),
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
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/patterns", s.handlePatterns).Methods("GET")
	api.HandleFunc("/patterns/validate", s.handleValidate).Methods("POST")
	api.HandleFunc("/redact", s.handleRedact).Methods("POST")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/runs", s.handleRuns).Methods("GET")
	api.HandleFunc("/cache", s.handleClearCache).Methods("DELETE")
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub used for progress events
func (s *Server) Hub() *websocket.Hub {
	return s.wsHub
}

// Start runs the WebSocket hub and serves HTTP until Stop is called
func (s *Server) Start() error {
	cfg := s.currentConfig()
	s.logger.Info("Starting PDF redaction server",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
		zap.Bool("cache", s.deps.Cache != nil),
		zap.Bool("audit", s.deps.Audit != nil),
	)

	go s.wsHub.Run()
	go s.pruneLimiter()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PDF redaction server")
	s.once.Do(func() { close(s.done) })
	s.wsHub.Stop()
	return s.server.Shutdown(ctx)
}

// UpdateConfig applies a reloaded configuration. Listener settings need a restart.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	prev := s.config
	s.config = cfg
	s.mu.Unlock()

	s.limiter.update(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	if prev.Server.Port != cfg.Server.Port {
		s.logger.Warn("Port change requires a restart", zap.Int("port", cfg.Server.Port))
	}
	s.logger.Info("Configuration reloaded",
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
		zap.Float64("requests_per_second", cfg.RateLimit.RequestsPerSecond),
		zap.String("default_replacement", cfg.Redaction.Replacement))
}

func (s *Server) currentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

func (s *Server) pruneLimiter() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.limiter.prune(10 * time.Minute); n > 0 {
				s.logger.Debug("Pruned idle rate limit buckets", zap.Int("count", n))
			}
		case <-s.done:
			return
		}
	}
}
