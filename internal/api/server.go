package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/pharmgx-risk-server/internal/domain"
	"github.com/pharmgx-risk-server/internal/feedback"
	"github.com/pharmgx-risk-server/internal/health"
	"github.com/pharmgx-risk-server/internal/metrics"
	"github.com/pharmgx-risk-server/internal/middleware"
	"github.com/pharmgx-risk-server/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	analyzer      *service.Analyzer
	feedback      feedback.Store
	health        *health.Checker
	metrics       *metrics.Collector
	logger        *logrus.Logger
	router        *gin.Engine
	server        *http.Server
	upgrader      websocket.Upgrader
}

// ServerOption configures optional collaborators
type ServerOption func(*Server)

// WithFeedbackStore enables the feedback routes
func WithFeedbackStore(store feedback.Store) ServerOption {
	return func(s *Server) { s.feedback = store }
}

// WithHealthChecker replaces the default checker
func WithHealthChecker(hc *health.Checker) ServerOption {
	return func(s *Server) { s.health = hc }
}

// WithMetrics exposes the collector and records per-request metrics
func WithMetrics(c *metrics.Collector) ServerOption {
	return func(s *Server) { s.metrics = c }
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, analyzer *service.Analyzer, logger *logrus.Logger, opts ...ServerOption) *Server {
	cfg := configManager.GetConfig()
	if logger == nil {
		logger = logrus.New()
	}

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		configManager: configManager,
		analyzer:      analyzer,
		logger:        logger,
		router:        gin.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(server)
	}
	if server.health == nil {
		server.health = health.NewChecker(health.Config{Version: cfg.MCP.ServerVersion}, logger)
	}

	server.setupMiddleware(cfg)
	server.setupRoutes(cfg)

	return server
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware(cfg *domain.Config) {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.CorrelationID())
	s.router.Use(middleware.SecurityHeaders())
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.AuditLogger(s.logger))
	if s.metrics != nil {
		s.router.Use(middleware.Metrics(s.metrics))
	}
	if cfg.Server.RateLimit > 0 {
		s.router.Use(middleware.RateLimit(middleware.NewClientRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)))
	}
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes(cfg *domain.Config) {
	s.router.GET("/health", gin.WrapF(s.health.LivenessHandler()))
	s.router.GET("/health/ready", gin.WrapF(s.health.ReadinessHandler()))

	if s.metrics != nil && cfg.Metrics.Enabled {
		s.router.GET(cfg.Metrics.Path, gin.WrapH(s.metrics.Handler()))
	}

	// Original upload path kept for existing clients
	s.router.POST("/analyze", s.handleAnalyze)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/analyze", s.handleAnalyze)
		v1.GET("/analyze/stream", s.handleAnalyzeStream)
		v1.GET("/drugs", s.handleListDrugs)
		v1.POST("/feedback", s.handleSubmitFeedback)
		v1.GET("/feedback", s.handleListFeedback)
		v1.GET("/feedback/export", s.handleExportFeedback)
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}
