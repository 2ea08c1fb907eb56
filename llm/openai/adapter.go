package openai

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/aschepis/backscratcher/relay/llm"
	openai "github.com/sashabaranov/go-openai"
)

// ToOpenAIMessages converts request turns to OpenAI chat message format.
// The system instruction, when set, becomes the leading system message.
// Function responses become separate tool-role messages.
func ToOpenAIMessages(req *llm.Request) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+1)
	if req.Config.SystemInstruction != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.Config.SystemInstruction,
		})
	}
	for _, turn := range req.Turns {
		msgs, err := ToOpenAIMessage(turn)
		if err != nil {
			return nil, fmt.Errorf("failed to convert turn: %w", err)
		}
		result = append(result, msgs...)
	}
	return result, nil
}

// ToOpenAIMessage converts a single turn. One turn may expand into several
// messages when it carries tool results.
func ToOpenAIMessage(turn llm.Turn) ([]openai.ChatCompletionMessage, error) {
	role := openai.ChatMessageRoleUser
	if turn.Role == llm.RoleModel {
		role = openai.ChatMessageRoleAssistant
	}

	var (
		content   string
		toolCalls []openai.ToolCall
		results   []openai.ChatCompletionMessage
	)
	for _, part := range turn.Parts {
		switch {
		case part.FunctionCall != nil:
			argsJSON, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal tool input: %w", err)
			}
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   part.FunctionCall.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: string(argsJSON),
				},
			})
		case part.FunctionResponse != nil:
			out, err := json.Marshal(part.FunctionResponse.Response)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal tool result: %w", err)
			}
			results = append(results, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Name:       part.FunctionResponse.Name,
				ToolCallID: part.FunctionResponse.ID,
				Content:    string(out),
			})
		case part.Text != "":
			if content != "" {
				content += "\n"
			}
			content += part.Text
		}
	}

	var msgs []openai.ChatCompletionMessage
	msgs = append(msgs, results...)
	if content != "" || len(toolCalls) > 0 {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:      role,
			Content:   content,
			ToolCalls: toolCalls,
		})
	}
	return msgs, nil
}

// buildChatRequest maps a request and its sampling config onto the chat-completions body.
func buildChatRequest(req *llm.Request, model string, stream bool) (openai.ChatCompletionRequest, error) {
	msgs, err := ToOpenAIMessages(req)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
		Stream:   stream,
	}
	if req.Config.MaxOutputTokens > 0 {
		chatReq.MaxTokens = req.Config.MaxOutputTokens
	}
	if req.Config.Temperature != nil {
		chatReq.Temperature = samplingValue(*req.Config.Temperature)
	}
	if req.Config.TopP != nil {
		chatReq.TopP = samplingValue(*req.Config.TopP)
	}
	return chatReq, nil
}

// samplingValue converts a sampling parameter for the request body. The
// client omits zero values, so an explicit zero is sent as the smallest
// positive float32 instead.
func samplingValue(v float64) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(v)
}
