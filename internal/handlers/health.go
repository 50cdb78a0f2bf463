package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"claude-local-proxy/internal/config"
)

type HealthHandler struct {
	kind   config.BackendKind
	logger *slog.Logger
}

func NewHealthHandler(kind config.BackendKind, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		kind:   kind,
		logger: logger,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	body := map[string]string{
		"status":  "ok",
		"backend": string(h.kind),
	}

	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to write health check response", "error", err)
	}
}
