package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claude-local-proxy/internal/backend"
	"claude-local-proxy/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMessagesHandler(t *testing.T, backendURL string) *MessagesHandler {
	t.Helper()

	client := backend.New(config.BackendOllama, config.Backend{
		BaseURL:      backendURL,
		DefaultModel: "llama3.1:8b",
	}, testLogger())

	return NewMessagesHandler(client, testLogger())
}

func TestMessagesHandler_Buffered(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"choices": [{"message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 3}
		}`)
	}))
	defer upstream.Close()

	handler := newMessagesHandler(t, upstream.URL)

	body := `{"model":"claude-3-5-sonnet-20241022","max_tokens":64,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "claude-3-5-sonnet-20241022", resp["model"])
	assert.Equal(t, "end_turn", resp["stop_reason"])

	content := resp["content"].([]any)
	require.Len(t, content, 1)
	assert.Equal(t, "hello", content[0].(map[string]any)["text"])
}

func TestMessagesHandler_Stream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hey\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	handler := newMessagesHandler(t, upstream.URL)

	body := `{"model":"claude-3-5-sonnet","max_tokens":64,"stream":true,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: message_start")
	assert.Contains(t, rec.Body.String(), "event: message_stop")
}

func TestMessagesHandler_Validation(t *testing.T) {
	handler := newMessagesHandler(t, "http://127.0.0.1:1")

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{not json`},
		{"missing model", `{"max_tokens":64,"messages":[{"role":"user","content":"hi"}]}`},
		{"empty messages", `{"model":"claude-3-5-sonnet","max_tokens":64,"messages":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)

			var resp map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "error", resp["type"])
			assert.Equal(t, "invalid_request_error", resp["error"].(map[string]any)["type"])
		})
	}
}

func TestMessagesHandler_BackendDown(t *testing.T) {
	handler := newMessagesHandler(t, "http://127.0.0.1:1")

	body := `{"model":"claude-3-5-sonnet","max_tokens":64,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "api_error", resp["error"].(map[string]any)["type"])
}

func TestCountTokensHandler(t *testing.T) {
	handler := NewCountTokensHandler(testLogger())

	body := `{
		"model": "claude-3-5-sonnet",
		"max_tokens": 64,
		"system": "be brief",
		"messages": [
			{"role": "user", "content": "what is the weather"},
			{"role": "assistant", "content": "where?"}
		],
		"tools": [{"name": "get_weather", "description": "look it up", "input_schema": {"type": "object"}}]
	}`

	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	// 8 + 19 + 6 = 33 text chars, tools add 11 + 10 + 18 = 39,
	// ceil(72/4) = 18, plus 3 per message.
	assert.Equal(t, 24, resp["input_tokens"])
}

func TestModelsHandler(t *testing.T) {
	handler := NewModelsHandler(testLogger())

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp modelListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data)
	assert.False(t, resp.HasMore)

	for _, m := range resp.Data {
		assert.Equal(t, "model", m.Type)
		assert.True(t, strings.HasPrefix(m.ID, "claude-"), "unexpected id %q", m.ID)
	}
}

func TestHealthHandler(t *testing.T) {
	handler := NewHealthHandler(config.BackendLMStudio, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "lmstudio", resp["backend"])
}

func TestNotFoundHandler(t *testing.T) {
	handler := NotFoundHandler(testLogger())

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_found_error", resp["error"].(map[string]any)["type"])
}

func TestParseBetaHeader(t *testing.T) {
	assert.Nil(t, parseBetaHeader(""))
	assert.Equal(t, []string{"tools-2024-04-04"}, parseBetaHeader("tools-2024-04-04"))
	assert.Equal(t,
		[]string{"prompt-caching-2024-07-31", "tools-2024-04-04"},
		parseBetaHeader("prompt-caching-2024-07-31, tools-2024-04-04"),
	)
}
