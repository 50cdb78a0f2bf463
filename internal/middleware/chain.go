package middleware

import (
	"log/slog"
	"net/http"

	"claude-local-proxy/internal/config"
)

// Middleware wraps an http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Chain is an ordered list of middleware.
type Chain struct {
	middlewares []Middleware
}

func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Handler applies all middleware in the chain to the given handler.
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// Set holds the configured middleware for composition per route group.
type Set struct {
	Telemetry Middleware
	Logging   Middleware
	Auth      Middleware
}

func NewSet(config *config.Manager, logger *slog.Logger) Set {
	return Set{
		Telemetry: NewTelemetrySink(logger),
		Logging:   NewLoggingMiddleware(logger),
		Auth:      NewAuthMiddleware(config, logger),
	}
}

// DefaultChain is the chain for API endpoints.
func (s Set) DefaultChain() Chain {
	return New(
		s.Telemetry,
		s.Logging,
		s.Auth,
	)
}

// HealthChain skips authentication for health checks.
func (s Set) HealthChain() Chain {
	return New(
		s.Telemetry,
		s.Logging,
	)
}
