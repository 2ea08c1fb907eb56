package anthropic

import (
	"encoding/json"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/aschepis/backscratcher/relay/llm"
)

// defaultMaxTokens is sent when the request leaves the output budget unset,
// since the messages API requires one.
const defaultMaxTokens = 4096

// ToMessageParam converts a turn to an Anthropic MessageParam.
// Model turns become assistant messages; tool results ride on user messages.
func ToMessageParam(turn llm.Turn) anthropic.MessageParam {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(turn.Parts))
	for _, p := range turn.Parts {
		switch {
		case p.FunctionCall != nil:
			args := p.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(p.FunctionCall.ID, args, p.FunctionCall.Name))
		case p.FunctionResponse != nil:
			out, err := json.Marshal(p.FunctionResponse.Response)
			if err != nil {
				out = []byte("{}")
			}
			blocks = append(blocks, anthropic.NewToolResultBlock(p.FunctionResponse.ID, string(out), false))
		case p.Text != "":
			blocks = append(blocks, anthropic.NewTextBlock(p.Text))
		}
	}

	if turn.Role == llm.RoleModel {
		return anthropic.NewAssistantMessage(blocks...)
	}
	return anthropic.NewUserMessage(blocks...)
}

// ToMessageParams converts turns, dropping turns with no content.
func ToMessageParams(turns []llm.Turn) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(turns))
	for _, turn := range turns {
		msg := ToMessageParam(turn)
		if len(msg.Content) == 0 {
			continue
		}
		result = append(result, msg)
	}
	return result
}

// buildSystemBlocks converts the system instruction to TextBlockParam format.
func buildSystemBlocks(systemPrompt string) []anthropic.TextBlockParam {
	if systemPrompt == "" {
		return nil
	}
	return []anthropic.TextBlockParam{{Text: systemPrompt}}
}

// buildParams maps a request onto the messages API parameters.
func buildParams(req *llm.Request, model string) anthropic.MessageNewParams {
	maxTokens := int64(req.Config.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  ToMessageParams(req.Turns),
		System:    buildSystemBlocks(req.Config.SystemInstruction),
	}
	if req.Config.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Config.Temperature)
	}
	if req.Config.TopP != nil {
		params.TopP = anthropic.Float(*req.Config.TopP)
	}
	return params
}

// FromContentBlocks maps response blocks to channel messages.
func FromContentBlocks(blocks []anthropic.ContentBlockUnion) []llm.ChannelMessage {
	var msgs []llm.ChannelMessage
	for _, block := range blocks {
		switch b := block.AsAny().(type) {
		case anthropic.ThinkingBlock:
			msgs = append(msgs, llm.ChannelMessage{Channel: llm.ChannelAnalysis, Content: b.Thinking})
		case anthropic.TextBlock:
			msgs = append(msgs, llm.ChannelMessage{Channel: llm.ChannelFinal, Content: b.Text})
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &args); err != nil || args == nil {
					args = map[string]any{}
				}
			}
			msgs = append(msgs, llm.FunctionCallMessage(llm.FunctionCall{ID: b.ID, Name: b.Name, Args: args}))
		}
	}
	if len(msgs) == 0 {
		msgs = []llm.ChannelMessage{{Channel: llm.ChannelFinal}}
	}
	return msgs
}
