package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// modelCatalog is the static list served to compatibility probes. The ids
// are client-facing names only; the routing table decides what actually
// runs on the backend.
var modelCatalog = []string{
	"claude-3-5-sonnet-20241022",
	"claude-3-5-haiku-20241022",
	"claude-3-7-sonnet-20250219",
	"claude-sonnet-4-20250514",
	"claude-opus-4-20250514",
	"claude-3-opus-20240229",
}

type modelEntry struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type modelListResponse struct {
	Data    []modelEntry `json:"data"`
	HasMore bool         `json:"has_more"`
}

// ModelsHandler serves GET /v1/models.
type ModelsHandler struct {
	logger *slog.Logger
}

func NewModelsHandler(logger *slog.Logger) *ModelsHandler {
	return &ModelsHandler{logger: logger}
}

func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := modelListResponse{Data: make([]modelEntry, 0, len(modelCatalog))}
	for _, id := range modelCatalog {
		resp.Data = append(resp.Data, modelEntry{Type: "model", ID: id})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
