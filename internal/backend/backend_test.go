package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claude-local-proxy/internal/anthropic"
	"claude-local-proxy/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, kind config.BackendKind, baseURL string) *Client {
	t.Helper()

	return New(kind, config.Backend{
		BaseURL:      baseURL,
		DefaultModel: "llama3.1:8b",
	}, testLogger())
}

func userRequest(model, text string) *anthropic.MessagesRequest {
	return &anthropic.MessagesRequest{
		Model:     model,
		MaxTokens: 64,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: anthropic.MessageContent{Text: text, IsText: true}},
		},
	}
}

func TestClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// The router falls through to the default model.
		assert.Equal(t, "llama3.1:8b", req["model"])

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"choices": [{"message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 3}
		}`)
	}))
	defer server.Close()

	client := newTestClient(t, config.BackendOllama, server.URL)

	resp, err := client.Complete(context.Background(), userRequest("claude-3-5-sonnet-20241022", "hi"))
	require.NoError(t, err)

	assert.Equal(t, "claude-3-5-sonnet-20241022", resp.Model)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "hello", *resp.Content[0].Text)
	assert.Equal(t, "end_turn", *resp.StopReason)
	assert.Equal(t, 5, resp.Usage.InputTokens)
	assert.Equal(t, 3, resp.Usage.OutputTokens)
}

func TestClient_CompleteRecoversOnce(t *testing.T) {
	var completions, pulls, tags atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/chat/completions":
			if completions.Add(1) == 1 {
				w.WriteHeader(http.StatusNotFound)
				io.WriteString(w, `{"error": "model \"llama3.1:8b\" not found, try pulling it first"}`)
				return
			}
			io.WriteString(w, `{"id":"c2","choices":[{"message":{"role":"assistant","content":"warm now"},"finish_reason":"stop"}]}`)
		case "/api/tags":
			tags.Add(1)
			io.WriteString(w, `{"models":[]}`)
		case "/api/pull":
			pulls.Add(1)
			io.WriteString(w, `{"status":"success"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, config.BackendOllama, server.URL)

	resp, err := client.Complete(context.Background(), userRequest("claude-3-5-sonnet", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "warm now", *resp.Content[0].Text)

	assert.Equal(t, int32(1), tags.Load())
	assert.Equal(t, int32(1), pulls.Load())
	// First attempt, warm-up, retry.
	assert.Equal(t, int32(3), completions.Load())
}

func TestClient_SecondFailurePropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/chat/completions":
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error": "model not found"}`)
		case "/api/tags":
			io.WriteString(w, `{"models":[{"name":"llama3.1:8b"}]}`)
		}
	}))
	defer server.Close()

	client := newTestClient(t, config.BackendOllama, server.URL)

	_, err := client.Complete(context.Background(), userRequest("claude-3-5-sonnet", "hi"))
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
}

func TestClient_NonModelErrorSkipsRecovery(t *testing.T) {
	var tags atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/chat/completions":
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"error": "out of memory"}`)
		case "/api/tags":
			tags.Add(1)
		}
	}))
	defer server.Close()

	client := newTestClient(t, config.BackendOllama, server.URL)

	_, err := client.Complete(context.Background(), userRequest("claude-3-5-sonnet", "hi"))
	require.Error(t, err)
	assert.Equal(t, int32(0), tags.Load(), "readiness path must not run for unrelated errors")
}

func TestClient_EnsureReadyIdempotent(t *testing.T) {
	var pulls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			io.WriteString(w, `{"models":[]}`)
		case "/api/pull":
			pulls.Add(1)
			io.WriteString(w, `{"status":"success"}`)
		case "/v1/chat/completions":
			io.WriteString(w, `{"id":"w","choices":[]}`)
		}
	}))
	defer server.Close()

	client := newTestClient(t, config.BackendOllama, server.URL)

	require.NoError(t, client.EnsureReady(context.Background(), "llama3.1:8b"))
	require.NoError(t, client.EnsureReady(context.Background(), "llama3.1:8b"))

	assert.Equal(t, int32(1), pulls.Load())
}

func TestClient_EnsureReadyPullFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			io.WriteString(w, `{"models":[]}`)
		case "/api/pull":
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := newTestClient(t, config.BackendOllama, server.URL)

	err := client.EnsureReady(context.Background(), "nosuch:7b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama pull nosuch:7b")
}

func TestClient_LMStudioProbe(t *testing.T) {
	t.Run("no model loaded", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"data":[]}`)
		}))
		defer server.Close()

		client := newTestClient(t, config.BackendLMStudio, server.URL)

		err := client.EnsureReady(context.Background(), "qwen2.5-7b-instruct")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no model loaded")
	})

	t.Run("unreachable", func(t *testing.T) {
		client := newTestClient(t, config.BackendLMStudio, "http://127.0.0.1:1")

		err := client.EnsureReady(context.Background(), "qwen2.5-7b-instruct")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unreachable")
	})

	t.Run("name mismatch is a warning only", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"data":[{"id":"some-other-model"}]}`)
		}))
		defer server.Close()

		client := newTestClient(t, config.BackendLMStudio, server.URL)

		assert.NoError(t, client.EnsureReady(context.Background(), "qwen2.5-7b-instruct"))
	})
}

func TestClient_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, true, req["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\" there\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := newTestClient(t, config.BackendOllama, server.URL)

	rec := httptest.NewRecorder()
	err := client.Stream(context.Background(), userRequest("claude-3-5-sonnet", "hi"), rec)
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	order := []string{
		"event: message_start",
		"event: content_block_start",
		`"text":"Hi"`,
		`"text":" there"`,
		"event: content_block_stop",
		"event: message_delta",
		"event: message_stop",
	}

	last := -1
	for _, marker := range order {
		idx := strings.Index(body, marker)
		require.GreaterOrEqual(t, idx, 0, "missing %q in stream output", marker)
		assert.Greater(t, idx, last, "%q out of order", marker)
		last = idx
	}
}

func TestLooksModelUnavailable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"404 status", &StatusError{Code: 404, Body: "nope"}, true},
		{"model in text", errors.New(`backend returned 500: model "x" is not loaded`), true},
		{"not found in text", errors.New("backend returned 500: resource not found"), true},
		{"connection refused", errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), true},
		{"unrelated", errors.New("backend returned 500: out of memory"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, looksModelUnavailable(tt.err))
		})
	}
}

func TestContainsModel(t *testing.T) {
	available := []string{"Llama3.1:8B", "qwen2.5:7b-instruct-q4_K_M"}

	assert.True(t, containsModel(available, "llama3.1:8b"))
	assert.True(t, containsModel(available, "LLAMA3.1"))
	assert.True(t, containsModel(available, "qwen2.5:latest"))
	assert.False(t, containsModel(available, "mistral:7b"))
	assert.False(t, containsModel(nil, "anything"))
}
