package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"claude-local-proxy/internal/config"
	"claude-local-proxy/internal/openai"
)

// readinessTriggers are the error-text substrings that mark a failure as
// model-related. Text matching is fragile but the backends offer no better
// signal today; keep the set small and tested.
var readinessTriggers = []string{
	"model",
	"not found",
	"connection refused",
}

func looksModelUnavailable(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return true
	}

	text := strings.ToLower(err.Error())
	for _, trigger := range readinessTriggers {
		if strings.Contains(text, trigger) {
			return true
		}
	}

	return false
}

// EnsureReady makes the requested model available and warm. It is
// idempotent per process lifetime per model name: the first call records
// the attempt and later calls are no-ops regardless of outcome.
func (c *Client) EnsureReady(ctx context.Context, model string) error {
	c.mu.Lock()
	if _, done := c.attempted[model]; done {
		c.mu.Unlock()
		return nil
	}
	c.attempted[model] = struct{}{}
	c.mu.Unlock()

	switch c.kind {
	case config.BackendLMStudio:
		return c.probeLoaded(ctx, model)
	default:
		return c.ensurePulled(ctx, model)
	}
}

// ensurePulled is the Ollama path: check local availability, pull if
// missing, then warm the model up.
func (c *Client) ensurePulled(ctx context.Context, model string) error {
	available, err := c.ListAvailable(ctx)
	if err != nil {
		return fmt.Errorf("list local models: %w", err)
	}

	if !containsModel(available, model) {
		c.logger.Info("model not available locally, pulling", "model", model)

		if err := c.pull(ctx, model); err != nil {
			return fmt.Errorf("model %q is not available locally and the pull failed; "+
				"check the model name or pull it manually with `ollama pull %s`: %w", model, model, err)
		}
	}

	c.warmUp(ctx, model)

	return nil
}

// probeLoaded is the LM Studio path: the server cannot load models on
// demand, so the probe only verifies it is reachable and serving something.
// A name mismatch is a warning, not a failure; the request proceeds against
// whatever is loaded.
func (c *Client) probeLoaded(ctx context.Context, model string) error {
	available, err := c.ListAvailable(ctx)
	if err != nil {
		return fmt.Errorf("LM Studio server at %s is unreachable; "+
			"start the server from the LM Studio developer tab: %w", c.BaseEndpoint(), err)
	}

	if len(available) == 0 {
		return fmt.Errorf("LM Studio server at %s has no model loaded; load one before retrying", c.BaseEndpoint())
	}

	if !containsModel(available, model) {
		c.logger.Warn("loaded model differs from requested, proceeding with what is loaded",
			"requested", model,
			"loaded", strings.Join(available, ", "),
		)
	}

	return nil
}

// ListAvailable queries the backend for locally served model names.
func (c *Client) ListAvailable(ctx context.Context) ([]string, error) {
	if c.kind == config.BackendLMStudio {
		var list openai.ModelList
		if err := c.getJSON(ctx, c.BaseEndpoint()+"/v1/models", &list); err != nil {
			return nil, err
		}

		names := make([]string, 0, len(list.Data))
		for _, m := range list.Data {
			names = append(names, m.ID)
		}

		return names, nil
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := c.getJSON(ctx, c.BaseEndpoint()+"/api/tags", &tags); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}

	return names, nil
}

func (c *Client) pull(ctx context.Context, model string) error {
	payload := map[string]any{
		"name":   model,
		"stream": false,
	}

	resp, err := c.postJSON(ctx, c.BaseEndpoint()+"/api/pull", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: resp.Status}
	}

	return nil
}

// warmUp issues a one-token completion so the first real request does not
// pay the model load cost. Its result is ignored.
func (c *Client) warmUp(ctx context.Context, model string) {
	content := "hi"
	req := &openai.ChatRequest{
		Model:     model,
		MaxTokens: 1,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleUser, Content: &content},
		},
	}

	if _, err := c.chatCompletion(ctx, req); err != nil {
		c.logger.Debug("warm-up request failed", "model", model, "error", err)
	}
}

// containsModel matches case-insensitively and also with any trailing
// version/tag suffix (":latest", ":8b") stripped from either side.
func containsModel(available []string, model string) bool {
	want := strings.ToLower(model)
	wantBase := strings.SplitN(want, ":", 2)[0]

	for _, name := range available {
		have := strings.ToLower(name)
		if have == want {
			return true
		}

		if strings.SplitN(have, ":", 2)[0] == wantBase {
			return true
		}
	}

	return false
}
