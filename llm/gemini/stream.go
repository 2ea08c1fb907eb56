package gemini

import (
	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/aschepis/backscratcher/relay/llm/sse"
	"github.com/tidwall/gjson"
)

// decodeFrame handles one streamGenerateContent chunk. Function calls arrive
// whole, so no fragment accumulation is needed. The stream ends at EOF.
func (g *Generator) decodeFrame(_ *sse.DecodeState, payload []byte) sse.Frame {
	var frame sse.Frame
	if u := gjson.GetBytes(payload, "usageMetadata"); u.IsObject() {
		frame.Usage = &llm.Usage{
			InputTokens:  u.Get("promptTokenCount").Int(),
			OutputTokens: u.Get("candidatesTokenCount").Int(),
		}
	}
	if !gjson.GetBytes(payload, "candidates").IsArray() {
		// Usage-only or prompt-feedback chunk.
		return frame
	}
	frame.Messages = g.chain.Process(payload)
	frame.FinishReason = gjson.GetBytes(payload, "candidates.0.finishReason").String()
	return frame
}

func (g *Generator) streamConfig() sse.Config {
	return sse.Config{
		Prefix: sse.DataPrefix,
		Decode: g.decodeFrame,
	}
}
