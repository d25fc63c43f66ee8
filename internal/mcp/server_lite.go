// Package mcp exposes the risk pipeline as MCP tools.
// This file contains the lightweight server that requires no external databases.
package mcp

import (
	"context"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/pharmgx-risk-server/internal/cache"
	litecfg "github.com/pharmgx-risk-server/internal/config"
	"github.com/pharmgx-risk-server/internal/domain"
	"github.com/pharmgx-risk-server/internal/feedback"
	"github.com/pharmgx-risk-server/internal/service"
	"github.com/pharmgx-risk-server/pkg/external"
)

const (
	serverName    = "pharmgx-risk-mcp-server"
	serverVersion = "v0.1.0"
)

// LiteServer is a lightweight MCP server that requires no external databases.
// It uses in-memory caching and SQLite for persistence.
type LiteServer struct {
	config        *litecfg.LiteConfig
	mcpServer     *mcp.Server
	tools         *Tools
	analyzer      *service.Analyzer
	provider      domain.ExplanationProvider
	feedbackStore feedback.Store
	cache         *cache.MemoryCache[string]
	logger        *logrus.Logger
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithFeedbackStore sets a custom feedback store.
func WithFeedbackStore(store feedback.Store) LiteServerOption {
	return func(s *LiteServer) error {
		s.feedbackStore = store
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(s *LiteServer) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithExplanationProvider replaces the provider built from the API key.
func WithExplanationProvider(provider domain.ExplanationProvider) LiteServerOption {
	return func(s *LiteServer) error {
		s.provider = provider
		return nil
	}
}

// NewLiteServer creates a new lightweight MCP server instance.
func NewLiteServer(cfg *litecfg.LiteConfig, opts ...LiteServerOption) (*LiteServer, error) {
	server := &LiteServer{
		config: cfg,
		logger: logrus.New(),
	}

	// stdout carries the protocol
	server.logger.SetOutput(os.Stderr)
	if cfg.LogFormat == "text" {
		server.logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		server.logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		server.logger.SetLevel(level)
	}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	server.cache = cache.NewMemoryCache[string](cfg.CacheMaxItems, cfg.CacheTTL)

	if server.feedbackStore == nil {
		store, err := feedback.NewSQLiteStore(cfg.FeedbackDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create feedback store: %w", err)
		}
		server.feedbackStore = store
	}

	provider := server.provider
	if provider == nil && cfg.OpenRouterAPIKey != "" {
		provider = external.NewOpenRouterClient(external.OpenRouterConfig{
			APIKey:  cfg.OpenRouterAPIKey,
			Model:   cfg.ExplanationModel,
			Timeout: cfg.ExplanationTimeout,
		}, server.logger)
	}
	if provider == nil {
		server.logger.Info("No explanation provider configured, using template explanations")
	}

	explainer := service.NewExplainer(provider, server.logger,
		service.WithMemoryCache(server.cache),
		service.WithTimeout(cfg.ExplanationTimeout),
	)
	server.analyzer = service.NewAnalyzer(explainer, server.logger,
		service.WithMaxConcurrency(cfg.MaxConcurrency),
	)

	server.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)
	server.tools = NewTools(server.analyzer, server.feedbackStore, server.logger)
	server.tools.Register(server.mcpServer)

	server.logger.WithField("data_dir", cfg.DataDir).Info("Lite server initialized successfully")
	return server, nil
}

// Start serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *LiteServer) Start(ctx context.Context) error {
	s.logger.Info("Starting pharmacogenomic risk MCP server...")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Close cleans up server resources.
func (s *LiteServer) Close() error {
	if s.feedbackStore != nil {
		if err := s.feedbackStore.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close feedback store")
			return err
		}
	}
	return nil
}

// GetFeedbackStore returns the feedback store for external access.
func (s *LiteServer) GetFeedbackStore() feedback.Store {
	return s.feedbackStore
}

// GetCache returns the explanation cache for external access.
func (s *LiteServer) GetCache() *cache.MemoryCache[string] {
	return s.cache
}

// Tools returns the bound tool handlers.
func (s *LiteServer) Tools() *Tools {
	return s.tools
}
