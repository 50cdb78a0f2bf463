package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"claude-local-proxy/internal/anthropic"
)

// writeError sends a structured error body in the client protocol's shape.
func writeError(w http.ResponseWriter, logger *slog.Logger, code int, errType, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logger.Error("request failed", "code", code, "type", errType, "message", msg)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	body := anthropic.ErrorResponse{
		Type: "error",
		Error: anthropic.ErrorDetail{
			Type:    errType,
			Message: msg,
		},
	}

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to write error response", "error", err)
	}
}

// NotFoundHandler answers unmatched routes with a structured error.
func NotFoundHandler(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, logger, http.StatusNotFound, "not_found_error",
			"no handler for %s %s", r.Method, r.URL.Path)
	})
}
