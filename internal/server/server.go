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

	"claude-local-proxy/internal/backend"
	"claude-local-proxy/internal/config"
	"claude-local-proxy/internal/handlers"
	"claude-local-proxy/internal/middleware"
)

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

// Start runs the server and blocks until an interrupt or SIGTERM arrives,
// then drains in-flight requests before returning.
func (s *Server) Start() error {
	cfg := s.config.Get()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	mux := s.setupRoutes(cfg)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("starting server",
		"address", addr,
		"backend", cfg.Backend,
		"base_url", cfg.Active().BaseURL,
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("server is shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("server exited")

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

func (s *Server) setupRoutes(cfg *config.Config) *http.ServeMux {
	active := cfg.Active()
	client := backend.New(cfg.Backend, active, s.logger)

	messagesHandler := handlers.NewMessagesHandler(client, s.logger)
	tokensHandler := handlers.NewCountTokensHandler(s.logger)
	modelsHandler := handlers.NewModelsHandler(s.logger)
	healthHandler := handlers.NewHealthHandler(cfg.Backend, s.logger)

	set := middleware.NewSet(s.config, s.logger)
	api := set.DefaultChain()

	mux := http.NewServeMux()
	mux.Handle("POST /v1/messages", api.Handler(messagesHandler))
	mux.Handle("POST /v1/complete", api.Handler(messagesHandler))
	mux.Handle("POST /v1/messages/count_tokens", api.Handler(tokensHandler))
	mux.Handle("GET /v1/models", api.Handler(modelsHandler))
	mux.Handle("GET /health", set.HealthChain().Handler(healthHandler))
	mux.Handle("/", set.HealthChain().Handler(handlers.NotFoundHandler(s.logger)))

	return mux
}
