// Package relay re-frames a backend chat-completions event stream into the
// client Messages event grammar, one session per in-flight request.
package relay

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"claude-local-proxy/internal/openai"
	"claude-local-proxy/internal/translator"
)

const doneSentinel = "[DONE]"

// toolAccumulator collects one tool call built up across many small deltas.
// Tool-use blocks are not opened incrementally; they are materialized in
// first-seen slot order when the stream ends.
type toolAccumulator struct {
	id   string
	name string
	args strings.Builder
}

// Session is the per-request relay state. It is exclusively owned by one
// in-flight request and never shared or reused.
type Session struct {
	messageID string
	model     string

	textOpen  bool
	textIndex int
	nextIndex int

	order []int
	tools map[int]*toolAccumulator

	outputTokens int
	promptTokens int
	finishReason string
	suppressed   int
}

// NewSession creates the relay state for one streaming request. The model
// is the original client-requested name; it is echoed back verbatim.
func NewSession(clientModel string) *Session {
	return &Session{
		messageID: "msg_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		model:     clientModel,
		tools:     make(map[int]*toolAccumulator),
	}
}

// Start emits message_start. It runs before any backend bytes arrive, with
// empty content and zero usage.
func (s *Session) Start() []byte {
	return formatSSEEvent("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            s.messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         s.model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage": map[string]any{
				"input_tokens":  0,
				"output_tokens": 0,
			},
		},
	})
}

// Feed consumes one reassembled SSE line from the backend and returns the
// client events it produced, if any. Malformed chunk bodies are discarded
// silently; the stream stays alive (best-effort reassembly).
func (s *Session) Feed(line string) []byte {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, ":") {
		return nil
	}

	data, ok := strings.CutPrefix(line, "data: ")
	if !ok {
		// This backend only emits data: lines; anything else is framing
		// noise (event: tags from a stricter server, for example).
		return nil
	}

	if data == doneSentinel {
		return nil
	}

	var chunk openai.ChatChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		s.suppressed++
		return nil
	}

	return s.apply(&chunk)
}

func (s *Session) apply(chunk *openai.ChatChunk) []byte {
	var events []byte

	if chunk.Usage != nil && chunk.Usage.PromptTokens > 0 {
		// Stored but not surfaced; message_start has already committed
		// zero usage and current clients do not re-read it.
		s.promptTokens = chunk.Usage.PromptTokens
	}

	if len(chunk.Choices) == 0 {
		return nil
	}

	choice := chunk.Choices[0]

	if content := choice.Delta.Content; content != nil && *content != "" {
		events = append(events, s.appendText(*content)...)
	}

	for _, delta := range choice.Delta.ToolCalls {
		s.accumulateToolCall(delta)
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		// Later fragments may overwrite earlier ones; last write wins.
		s.finishReason = translator.StopReason(*choice.FinishReason)
	}

	return events
}

func (s *Session) appendText(fragment string) []byte {
	var events []byte

	if !s.textOpen {
		s.textIndex = s.nextIndex
		s.textOpen = true
		events = append(events, formatSSEEvent("content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": s.textIndex,
			"content_block": map[string]any{
				"type": "text",
				"text": "",
			},
		})...)
	}

	events = append(events, formatSSEEvent("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": s.textIndex,
		"delta": map[string]any{
			"type": "text_delta",
			"text": fragment,
		},
	})...)

	// An approximation, not a real token count: one per fragment.
	s.outputTokens++

	return events
}

func (s *Session) accumulateToolCall(delta openai.ToolCallDelta) {
	acc, seen := s.tools[delta.Index]
	if !seen {
		acc = &toolAccumulator{}
		if delta.ID == "" {
			acc.id = "toolu_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		}

		s.tools[delta.Index] = acc
		s.order = append(s.order, delta.Index)
	}

	if delta.ID != "" {
		acc.id = delta.ID
	}

	if delta.Function != nil {
		if delta.Function.Name != "" {
			acc.name = delta.Function.Name
		}

		acc.args.WriteString(delta.Function.Arguments)
	}
}

// Finish flushes the terminal summary once the backend stream has ended:
// close the open text block, materialize accumulated tool calls in
// first-seen order, guarantee at least one block, then message_delta and
// message_stop.
func (s *Session) Finish() []byte {
	var events []byte

	if s.textOpen {
		events = append(events, s.closeBlock(s.textIndex)...)
		s.textOpen = false
		s.nextIndex++
	}

	for _, slot := range s.order {
		acc := s.tools[slot]
		index := s.nextIndex
		s.nextIndex++

		events = append(events, formatSSEEvent("content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": index,
			"content_block": map[string]any{
				"type":  "tool_use",
				"id":    acc.id,
				"name":  acc.name,
				"input": map[string]any{},
			},
		})...)

		if args := acc.args.String(); args != "" {
			events = append(events, formatSSEEvent("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": index,
				"delta": map[string]any{
					"type":         "input_json_delta",
					"partial_json": args,
				},
			})...)
		}

		events = append(events, s.closeBlock(index)...)
	}

	// Clients always receive at least one block.
	if s.nextIndex == 0 {
		events = append(events, formatSSEEvent("content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": 0,
			"content_block": map[string]any{
				"type": "text",
				"text": "",
			},
		})...)
		events = append(events, s.closeBlock(0)...)
		s.nextIndex = 1
	}

	finish := s.finishReason
	if finish == "" {
		finish = "end_turn"
	}

	events = append(events, formatSSEEvent("message_delta", map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   finish,
			"stop_sequence": nil,
		},
		"usage": map[string]any{
			"output_tokens": s.outputTokens,
		},
	})...)

	events = append(events, formatSSEEvent("message_stop", map[string]any{
		"type": "message_stop",
	})...)

	return events
}

func (s *Session) closeBlock(index int) []byte {
	return formatSSEEvent("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": index,
	})
}

// Suppressed reports how many malformed chunks the session skipped.
func (s *Session) Suppressed() int { return s.suppressed }

// OutputTokens reports the accumulated output-token approximation.
func (s *Session) OutputTokens() int { return s.outputTokens }

func formatSSEEvent(eventType string, data map[string]any) []byte {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return []byte("event: error\ndata: {\"error\":\"failed to marshal data\"}\n\n")
	}

	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, jsonData))
}
