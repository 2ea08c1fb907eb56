package openai

import (
	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/aschepis/backscratcher/relay/llm/sse"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// decodeFrame handles one chat-completion chunk. Tool-call fragments are
// accumulated by index and emitted as whole calls once a finish reason arrives;
// everything else goes through the channel chain.
func (g *Generator) decodeFrame(state *sse.DecodeState, payload []byte) sse.Frame {
	var frame sse.Frame
	if u := gjson.GetBytes(payload, "usage"); u.IsObject() {
		frame.Usage = &llm.Usage{
			InputTokens:  u.Get("prompt_tokens").Int(),
			OutputTokens: u.Get("completion_tokens").Int(),
		}
	}

	choice := gjson.GetBytes(payload, "choices.0")
	if !choice.Exists() {
		// Usage-only chunk.
		return frame
	}

	if calls := choice.Get("delta.tool_calls"); calls.IsArray() {
		for _, tc := range calls.Array() {
			state.AddToolFragment(
				int(tc.Get("index").Int()),
				tc.Get("id").String(),
				tc.Get("function.name").String(),
				tc.Get("function.arguments").String(),
			)
		}
		if stripped, err := sjson.DeleteBytes(payload, "choices.0.delta.tool_calls"); err == nil {
			payload = stripped
		}
	}

	frame.Messages = g.chain.Process(payload)
	if reason := choice.Get("finish_reason").String(); reason != "" {
		frame.FinishReason = reason
		frame.Messages = append(frame.Messages, state.FinishToolCallMessages()...)
	}
	return frame
}

func (g *Generator) streamConfig() sse.Config {
	return sse.Config{
		Prefix:   sse.DataPrefix,
		Sentinel: sse.DoneSentinel,
		Decode:   g.decodeFrame,
	}
}
