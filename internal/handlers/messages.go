package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"claude-local-proxy/internal/anthropic"
	"claude-local-proxy/internal/backend"
)

// MessagesHandler serves POST /v1/messages and its /v1/complete alias.
type MessagesHandler struct {
	backend *backend.Client
	logger  *slog.Logger
}

func NewMessagesHandler(backend *backend.Client, logger *slog.Logger) *MessagesHandler {
	return &MessagesHandler{
		backend: backend,
		logger:  logger,
	}
}

func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request_error",
			"failed to read request body: %v", err)
		return
	}

	var req anthropic.MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request_error",
			"failed to parse request body: %v", err)
		return
	}

	if req.Model == "" {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request_error", "model is required")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}

	// Feature-flag headers are accepted for client compatibility but have
	// no behavioral effect against a local backend.
	if betas := parseBetaHeader(r.Header.Get("anthropic-beta")); len(betas) > 0 {
		h.logger.Debug("feature flags requested", "betas", betas)
	}

	h.logger.Info("handling messages request",
		"model", req.Model,
		"stream", req.Stream,
		"input_tokens", h.countInputTokens(string(body)),
	)

	if req.Stream {
		h.serveStream(w, r, &req)
		return
	}

	resp, err := h.backend.Complete(r.Context(), &req)
	if err != nil {
		writeError(w, h.logger, http.StatusInternalServerError, "api_error",
			"backend request failed: %v", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// serveStream relays the backend event stream. Once the first event has
// gone out the headers are committed, so later failures can only terminate
// the connection.
func (h *MessagesHandler) serveStream(w http.ResponseWriter, r *http.Request, req *anthropic.MessagesRequest) {
	tw := &trackingWriter{ResponseWriter: w}

	if err := h.backend.Stream(r.Context(), req, tw); err != nil {
		if tw.committed {
			h.logger.Error("stream terminated after start", "model", req.Model, "error", err)
			return
		}

		writeError(w, h.logger, http.StatusInternalServerError, "api_error",
			"backend stream failed: %v", err)
	}
}

func (h *MessagesHandler) countInputTokens(text string) int {
	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		h.logger.Error("failed to load tiktoken encoding", "error", err)
		return 0
	}
	return len(tke.Encode(text, nil, nil))
}

func parseBetaHeader(value string) []string {
	if value == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	betas := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			betas = append(betas, p)
		}
	}

	return betas
}

// trackingWriter records whether any bytes or headers have been written.
type trackingWriter struct {
	http.ResponseWriter
	committed bool
}

func (t *trackingWriter) WriteHeader(code int) {
	t.committed = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(b []byte) (int, error) {
	t.committed = true
	return t.ResponseWriter.Write(b)
}

func (t *trackingWriter) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
