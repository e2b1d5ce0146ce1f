package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatstack/llm-router/internal/config"
	"github.com/chatstack/llm-router/internal/handlers"
	"github.com/chatstack/llm-router/internal/llm"
	"github.com/chatstack/llm-router/internal/middleware"
	"github.com/chatstack/llm-router/internal/providers"
	"github.com/chatstack/llm-router/internal/router"
	"github.com/chatstack/llm-router/internal/storage"
)

// apiKeyEnv maps a provider name to the environment variable consulted when
// the config entry has no key.
var apiKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
	"deepseek":  "DEEPSEEK_API_KEY",
}

type Server struct {
	config *config.Manager
	logger *slog.Logger
	server *http.Server
}

func New(configManager *config.Manager, logger *slog.Logger) *Server {
	return &Server{
		config: configManager,
		logger: logger,
	}
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	rt, err := s.buildRouter(cfg)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	mux := s.setupRoutes(rt)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("Starting server", "address", addr, "providers", rt.AvailableProviders())

	// Start server in goroutine
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// buildRouter registers an adapter for every provider with a usable API key.
// Providers without keys are skipped, not failed: a router with one working
// provider is still useful.
func (s *Server) buildRouter(cfg *config.Config) (*router.Router, error) {
	store, err := storage.NewDiskStore(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("open file store: %w", err)
	}

	var adapters []llm.Adapter

	if pc, ok := resolveProvider(cfg, "openai"); ok {
		adapters = append(adapters, providers.NewOpenAI(pc))
	}
	if pc, ok := resolveProvider(cfg, "anthropic"); ok {
		adapters = append(adapters, providers.NewAnthropic(pc, store))
	}
	if pc, ok := resolveProvider(cfg, "gemini"); ok {
		adapters = append(adapters, providers.NewGemini(pc))
	}
	if pc, ok := resolveProvider(cfg, "deepseek"); ok {
		adapters = append(adapters, providers.NewDeepSeek(pc))
	}

	if cfg.Vertex != nil && cfg.Vertex.ProjectID != "" {
		vertex, err := providers.NewVertex(providers.VertexConfig{
			ProjectID:       cfg.Vertex.ProjectID,
			Location:        cfg.Vertex.Location,
			CredentialsFile: cfg.Vertex.CredentialsFile,
		})
		if err != nil {
			s.logger.Warn("vertex provider not registered", "error", err)
		} else {
			adapters = append(adapters, vertex)
		}
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no providers configured: set API keys in config or environment")
	}

	return router.New(s.logger, adapters...), nil
}

// resolveProvider merges the config entry with the environment fallback key.
func resolveProvider(cfg *config.Config, name string) (providers.Config, bool) {
	entry, _ := cfg.ProviderByName(name)

	key := entry.APIKey
	if key == "" {
		key = os.Getenv(apiKeyEnv[name])
	}
	if key == "" {
		return providers.Config{}, false
	}

	return providers.Config{
		APIKey:  key,
		BaseURL: entry.BaseURL,
	}, true
}

func (s *Server) setupRoutes(rt *router.Router) *http.ServeMux {
	mux := http.NewServeMux()

	chatHandler := handlers.NewChatHandler(rt, s.logger)
	embeddingsHandler := handlers.NewEmbeddingsHandler(rt, s.logger)
	providersHandler := handlers.NewProvidersHandler(rt, s.logger)
	healthHandler := handlers.NewHealthHandler(rt, s.logger)

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)
	defaultChain := middlewareSet.DefaultChain()

	mux.Handle("GET /health", middlewareSet.HealthChain().Handler(healthHandler))
	mux.Handle("POST /v1/chat/stream", defaultChain.Handler(chatHandler))
	mux.Handle("POST /v1/embeddings", defaultChain.Handler(embeddingsHandler))
	mux.Handle("GET /v1/providers", defaultChain.Handler(http.HandlerFunc(providersHandler.List)))
	mux.Handle("GET /v1/providers/{name}/models", defaultChain.Handler(http.HandlerFunc(providersHandler.Models)))
	mux.Handle("POST /v1/cost", defaultChain.Handler(http.HandlerFunc(providersHandler.Cost)))

	return mux
}
