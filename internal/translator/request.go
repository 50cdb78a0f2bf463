// Package translator converts between the client Messages schema and the
// backend Chat Completions schema.
package translator

import (
	"encoding/json"
	"strings"

	"claude-local-proxy/internal/anthropic"
	"claude-local-proxy/internal/openai"
)

// ToChatRequest builds the backend payload for a client request. The
// resolved backend model always overrides the client-requested one.
func ToChatRequest(req *anthropic.MessagesRequest, model string) *openai.ChatRequest {
	out := &openai.ChatRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
		Stream:      req.Stream,
	}

	if len(req.StopSequences) > 0 {
		out.Stop = req.StopSequences
	}

	if system := req.System.Flatten(); system != "" {
		out.Messages = append(out.Messages, openai.ChatMessage{
			Role:    openai.RoleSystem,
			Content: strPtr(system),
		})
	}

	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, translateMessage(msg)...)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: "function",
			Function: openai.Function{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	if req.ToolChoice != nil && len(out.Tools) > 0 {
		out.ToolChoice = translateToolChoice(req.ToolChoice)
	}

	return out
}

// translateMessage expands one client message into one or more backend
// messages. Tool results are emitted before user text so each tool response
// directly follows the call it answers.
func translateMessage(msg anthropic.Message) []openai.ChatMessage {
	if msg.Content.IsText {
		return []openai.ChatMessage{{
			Role:    msg.Role,
			Content: strPtr(msg.Content.Text),
		}}
	}

	if msg.Role == anthropic.RoleAssistant {
		return []openai.ChatMessage{translateAssistantBlocks(msg.Content.Blocks)}
	}

	return translateUserBlocks(msg.Content.Blocks)
}

func translateAssistantBlocks(blocks []anthropic.ContentBlock) openai.ChatMessage {
	var (
		texts     []string
		toolCalls []openai.ToolCall
	)

	for _, block := range blocks {
		switch block.Type {
		case anthropic.ContentTypeText:
			texts = append(texts, block.Text)
		case anthropic.ContentTypeToolUse:
			args := "{}"
			if len(block.Input) > 0 {
				args = string(block.Input)
			}

			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: openai.FunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})
		}
	}

	out := openai.ChatMessage{Role: openai.RoleAssistant}
	if len(texts) > 0 {
		out.Content = strPtr(strings.Join(texts, "\n"))
	}
	out.ToolCalls = toolCalls

	return out
}

func translateUserBlocks(blocks []anthropic.ContentBlock) []openai.ChatMessage {
	var (
		out   []openai.ChatMessage
		texts []string
	)

	for _, block := range blocks {
		switch block.Type {
		case anthropic.ContentTypeToolResult:
			out = append(out, openai.ChatMessage{
				Role:       openai.RoleTool,
				ToolCallID: block.ToolUseID,
				Content:    strPtr(flattenToolResult(block.Content)),
			})
		case anthropic.ContentTypeText:
			texts = append(texts, block.Text)
		}
	}

	if len(texts) > 0 {
		out = append(out, openai.ChatMessage{
			Role:    openai.RoleUser,
			Content: strPtr(strings.Join(texts, "\n")),
		})
	}

	return out
}

func flattenToolResult(content *anthropic.MessageContent) string {
	if content == nil {
		return ""
	}

	if content.IsText {
		return content.Text
	}

	parts := make([]string, 0, len(content.Blocks))
	for _, b := range content.Blocks {
		if b.Type == anthropic.ContentTypeText {
			parts = append(parts, b.Text)
		}
	}

	return strings.Join(parts, "\n")
}

func translateToolChoice(choice *anthropic.ToolChoice) any {
	switch choice.Type {
	case "auto":
		return "auto"
	case "any":
		return "required"
	case "tool":
		if choice.Name == "" {
			return "required"
		}

		return openai.ToolChoiceFunction{
			Type:     "function",
			Function: openai.ToolChoiceFuncName{Name: choice.Name},
		}
	default:
		return "auto"
	}
}

func strPtr(s string) *string { return &s }

// decodeToolInput parses a JSON-encoded argument string into structured
// input. Empty or invalid argument strings become an empty object.
func decodeToolInput(arguments string) json.RawMessage {
	var obj map[string]any
	if err := json.Unmarshal([]byte(arguments), &obj); err != nil || obj == nil {
		return json.RawMessage(`{}`)
	}

	return json.RawMessage(arguments)
}
