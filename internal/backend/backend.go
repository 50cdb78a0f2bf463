// Package backend issues translated requests against the local inference
// server and relays its responses back into the client protocol.
package backend

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"claude-local-proxy/internal/anthropic"
	"claude-local-proxy/internal/config"
	"claude-local-proxy/internal/relay"
	"claude-local-proxy/internal/router"
	"claude-local-proxy/internal/translator"
)

// Client is the capability surface for one backend kind. The two kinds
// share the translation logic and differ only in readiness behavior,
// selected by the kind tag.
type Client struct {
	kind   config.BackendKind
	cfg    config.Backend
	router *router.Router
	http   *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	attempted map[string]struct{}
}

func New(kind config.BackendKind, cfg config.Backend, logger *slog.Logger) *Client {
	return &Client{
		kind:      kind,
		cfg:       cfg,
		router:    router.New(cfg),
		http:      http.DefaultClient,
		logger:    logger,
		attempted: make(map[string]struct{}),
	}
}

func (c *Client) Kind() config.BackendKind { return c.kind }

func (c *Client) BaseEndpoint() string {
	return strings.TrimRight(c.cfg.BaseURL, "/")
}

// Complete runs one buffered request. A failure that looks model-related
// triggers the readiness path and exactly one retry; a second failure
// propagates unchanged.
func (c *Client) Complete(ctx context.Context, req *anthropic.MessagesRequest) (*anthropic.MessagesResponse, error) {
	model := c.router.Resolve(req.Model)

	chatReq := translator.ToChatRequest(req, model)
	chatReq.Stream = false

	resp, err := c.chatCompletion(ctx, chatReq)
	if err != nil {
		if err = c.recover(ctx, model, err); err != nil {
			return nil, err
		}

		if resp, err = c.chatCompletion(ctx, chatReq); err != nil {
			return nil, err
		}
	}

	return translator.ToMessagesResponse(resp, req.Model), nil
}

// Stream runs one streaming request, re-framing the backend event stream
// into client events as they arrive. Once message_start has been written
// the headers are committed; later failures terminate the connection and
// the client treats the stream as incomplete.
func (c *Client) Stream(ctx context.Context, req *anthropic.MessagesRequest, w http.ResponseWriter) error {
	model := c.router.Resolve(req.Model)

	chatReq := translator.ToChatRequest(req, model)
	chatReq.Stream = true

	resp, err := c.openStream(ctx, chatReq)
	if err != nil {
		if err = c.recover(ctx, model, err); err != nil {
			return err
		}

		if resp, err = c.openStream(ctx, chatReq); err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	body, err := decompressReader(resp)
	if err != nil {
		return fmt.Errorf("decompress backend stream: %w", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	session := relay.NewSession(req.Model)

	if _, err := w.Write(session.Start()); err != nil {
		return fmt.Errorf("write message_start: %w", err)
	}
	flush(w)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		events := session.Feed(scanner.Text())
		if len(events) == 0 {
			continue
		}

		if _, err := w.Write(events); err != nil {
			return fmt.Errorf("write stream events: %w", err)
		}
		flush(w)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read backend stream: %w", err)
	}

	if _, err := w.Write(session.Finish()); err != nil {
		return fmt.Errorf("write terminal events: %w", err)
	}
	flush(w)

	if n := session.Suppressed(); n > 0 {
		c.logger.Warn("suppressed malformed stream chunks", "count", n, "model", model)
	}

	c.logger.Info("completed streaming response",
		"model", model,
		"output_tokens", session.OutputTokens(),
	)

	return nil
}

// recover runs readiness recovery when the failure looks model-related;
// any other failure propagates unchanged.
func (c *Client) recover(ctx context.Context, model string, cause error) error {
	if !looksModelUnavailable(cause) {
		return cause
	}

	c.logger.Warn("backend call failed, attempting model readiness recovery",
		"model", model,
		"error", cause,
	)

	return c.EnsureReady(ctx, model)
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
