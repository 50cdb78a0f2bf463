package backend

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/andybalholm/brotli"

	"claude-local-proxy/internal/openai"
)

const chatCompletionsPath = "/v1/chat/completions"

// StatusError is a non-2xx backend reply, kept with its body text so the
// readiness classifier can inspect it.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

func (c *Client) chatCompletion(ctx context.Context, req *openai.ChatRequest) (*openai.ChatResponse, error) {
	resp, err := c.postJSON(ctx, c.BaseEndpoint()+chatCompletionsPath, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := decompressReader(resp)
	if err != nil {
		return nil, fmt.Errorf("decompress backend response: %w", err)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(data)}
	}

	var out openai.ChatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal backend response: %w", err)
	}

	return &out, nil
}

// openStream issues a streaming completion and hands back the live
// response. Non-2xx replies are drained into a StatusError so the caller
// can still run the readiness path before any client bytes go out.
func (c *Client) openStream(ctx context.Context, req *openai.ChatRequest) (*http.Response, error) {
	resp, err := c.postJSON(ctx, c.BaseEndpoint()+chatCompletionsPath, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		resp.Body.Close()

		return nil, &StatusError{Code: resp.StatusCode, Body: string(data)}
	}

	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, url string, payload any) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal backend request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create backend request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}

	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create backend request: %w", err)
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read backend response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: string(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal backend response: %w", err)
	}

	return nil
}

func decompressReader(resp *http.Response) (io.Reader, error) {
	var body io.Reader = resp.Body

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		body = gzipReader
	case "br":
		body = brotli.NewReader(resp.Body)
	}

	return body, nil
}
