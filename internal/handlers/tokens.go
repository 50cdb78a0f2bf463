package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"claude-local-proxy/internal/anthropic"
)

// perMessageOverhead approximates the fixed framing cost of one message.
const perMessageOverhead = 3

// CountTokensHandler serves POST /v1/messages/count_tokens with a cheap
// character-based estimate. Local backends expose no tokenizer endpoint,
// so a rough count beats a wrong one delivered slowly.
type CountTokensHandler struct {
	logger *slog.Logger
}

func NewCountTokensHandler(logger *slog.Logger) *CountTokensHandler {
	return &CountTokensHandler{logger: logger}
}

func (h *CountTokensHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req anthropic.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request_error",
			"failed to parse request body: %v", err)
		return
	}

	resp := anthropic.CountTokensResponse{InputTokens: estimateTokens(&req)}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// estimateTokens approximates one token per four characters of text, plus
// a flat per-message overhead.
func estimateTokens(req *anthropic.MessagesRequest) int {
	chars := 0

	if req.System != nil {
		chars += len(req.System.Flatten())
	}

	for _, msg := range req.Messages {
		chars += contentChars(&msg.Content)
	}

	for _, tool := range req.Tools {
		chars += len(tool.Name) + len(tool.Description) + len(tool.InputSchema)
	}

	tokens := (chars + 3) / 4
	tokens += perMessageOverhead * len(req.Messages)

	return tokens
}

func contentChars(content *anthropic.MessageContent) int {
	if content.IsText {
		return len(content.Text)
	}

	chars := 0
	for _, block := range content.Blocks {
		chars += len(block.Text)
		chars += len(block.Input)
		if block.Content != nil {
			chars += contentChars(block.Content)
		}
	}

	return chars
}
