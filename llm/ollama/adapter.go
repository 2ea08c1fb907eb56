package ollama

import (
	"encoding/json"
	"strings"

	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/ollama/ollama/api"
)

// ToOllamaMessages converts a request to Ollama chat messages. The system
// instruction is prepended as a system message.
func ToOllamaMessages(req *llm.Request) []api.Message {
	result := make([]api.Message, 0, len(req.Turns)+1)
	if req.Config.SystemInstruction != "" {
		result = append(result, api.Message{Role: "system", Content: req.Config.SystemInstruction})
	}
	for _, turn := range req.Turns {
		result = append(result, ToOllamaMessage(turn)...)
	}
	return result
}

// ToOllamaMessage converts a single turn. Tool results become separate tool messages.
func ToOllamaMessage(turn llm.Turn) []api.Message {
	role := "user"
	if turn.Role == llm.RoleModel {
		role = "assistant"
	}

	var (
		text      []string
		toolCalls []api.ToolCall
		results   []api.Message
	)
	for _, p := range turn.Parts {
		switch {
		case p.FunctionCall != nil:
			args := make(api.ToolCallFunctionArguments)
			for k, v := range p.FunctionCall.Args {
				args[k] = v
			}
			toolCalls = append(toolCalls, api.ToolCall{
				Function: api.ToolCallFunction{Name: p.FunctionCall.Name, Arguments: args},
			})
		case p.FunctionResponse != nil:
			out, err := json.Marshal(p.FunctionResponse.Response)
			if err != nil {
				out = []byte("{}")
			}
			results = append(results, api.Message{Role: "tool", Content: string(out)})
		case p.Text != "":
			text = append(text, p.Text)
		}
	}

	var msgs []api.Message
	if len(text) > 0 || len(toolCalls) > 0 {
		msgs = append(msgs, api.Message{
			Role:      role,
			Content:   strings.Join(text, "\n"),
			ToolCalls: toolCalls,
		})
	}
	return append(msgs, results...)
}

// buildOptions maps sampling parameters onto Ollama's options map.
func buildOptions(cfg llm.SamplingConfig) map[string]any {
	opts := make(map[string]any)
	if cfg.MaxOutputTokens > 0 {
		opts["num_predict"] = cfg.MaxOutputTokens
	}
	if cfg.Temperature != nil {
		opts["temperature"] = *cfg.Temperature
	}
	if cfg.TopP != nil {
		opts["top_p"] = *cfg.TopP
	}
	return opts
}

// FromOllamaMessage maps a reply message to channel messages.
func FromOllamaMessage(msg api.Message) []llm.ChannelMessage {
	var msgs []llm.ChannelMessage
	if msg.Thinking != "" {
		msgs = append(msgs, llm.ChannelMessage{Channel: llm.ChannelAnalysis, Content: msg.Thinking})
	}
	if msg.Content != "" {
		msgs = append(msgs, llm.ChannelMessage{Channel: llm.ChannelFinal, Content: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		args := make(map[string]any, len(tc.Function.Arguments))
		for k, v := range tc.Function.Arguments {
			args[k] = v
		}
		msgs = append(msgs, llm.FunctionCallMessage(llm.FunctionCall{Name: tc.Function.Name, Args: args}))
	}
	return msgs
}
