package translator

import (
	"claude-local-proxy/internal/anthropic"
	"claude-local-proxy/internal/openai"
)

// StopReason remaps a backend finish reason into the closed client
// vocabulary. Anything unrecognized, including the empty string, maps to
// end_turn.
func StopReason(finishReason string) string {
	switch finishReason {
	case openai.FinishReasonStop:
		return anthropic.StopReasonEndTurn
	case openai.FinishReasonLength:
		return anthropic.StopReasonMaxTokens
	case openai.FinishReasonContentFilter:
		return anthropic.StopReasonStopSequence
	case openai.FinishReasonToolCalls:
		return anthropic.StopReasonToolUse
	default:
		return anthropic.StopReasonEndTurn
	}
}

// ToMessagesResponse maps a completed backend response back into the client
// shape. The echoed model is the original client-requested name, never the
// resolved backend name.
func ToMessagesResponse(resp *openai.ChatResponse, clientModel string) *anthropic.MessagesResponse {
	out := &anthropic.MessagesResponse{
		ID:    "msg_" + resp.ID,
		Type:  "message",
		Role:  anthropic.RoleAssistant,
		Model: clientModel,
	}

	var (
		message      *openai.ChatMessage
		finishReason string
	)

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		message = choice.Message
		if choice.FinishReason != nil {
			finishReason = *choice.FinishReason
		}
	}

	if message != nil {
		if message.Content != nil && *message.Content != "" {
			out.Content = append(out.Content, anthropic.ResponseBlock{
				Type: anthropic.ContentTypeText,
				Text: message.Content,
			})
		}

		for _, call := range message.ToolCalls {
			out.Content = append(out.Content, anthropic.ResponseBlock{
				Type:  anthropic.ContentTypeToolUse,
				ID:    call.ID,
				Name:  call.Function.Name,
				Input: decodeToolInput(call.Function.Arguments),
			})
		}
	}

	// Clients require at least one content block.
	if len(out.Content) == 0 {
		empty := ""
		out.Content = append(out.Content, anthropic.ResponseBlock{
			Type: anthropic.ContentTypeText,
			Text: &empty,
		})
	}

	stop := StopReason(finishReason)
	out.StopReason = &stop

	if resp.Usage != nil {
		out.Usage = anthropic.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return out
}
