package anthropic

import (
	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/aschepis/backscratcher/relay/llm/sse"
	"github.com/tidwall/gjson"
)

// decodeEvent handles one messages-API stream event. Tool input arrives as
// partial JSON deltas keyed by content block index.
func decodeEvent(state *sse.DecodeState, payload []byte) sse.Frame {
	ev := gjson.ParseBytes(payload)
	switch ev.Get("type").String() {
	case "message_start":
		if u := ev.Get("message.usage"); u.IsObject() {
			return sse.Frame{Usage: &llm.Usage{InputTokens: u.Get("input_tokens").Int()}}
		}
	case "content_block_start":
		block := ev.Get("content_block")
		switch block.Get("type").String() {
		case "tool_use":
			state.AddToolFragment(int(ev.Get("index").Int()), block.Get("id").String(), block.Get("name").String(), "")
		case "text":
			return textFrame(llm.ChannelFinal, block.Get("text").String())
		case "thinking":
			return textFrame(llm.ChannelAnalysis, block.Get("thinking").String())
		}
	case "content_block_delta":
		delta := ev.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			return textFrame(llm.ChannelFinal, delta.Get("text").String())
		case "thinking_delta":
			return textFrame(llm.ChannelAnalysis, delta.Get("thinking").String())
		case "input_json_delta":
			state.AddToolFragment(int(ev.Get("index").Int()), "", "", delta.Get("partial_json").String())
		}
	case "content_block_stop":
		if state.HasPendingCalls() {
			return sse.Frame{Messages: state.FinishToolCallMessages()}
		}
	case "message_delta":
		frame := sse.Frame{FinishReason: ev.Get("delta.stop_reason").String()}
		if u := ev.Get("usage"); u.IsObject() {
			frame.Usage = &llm.Usage{OutputTokens: u.Get("output_tokens").Int()}
		}
		return frame
	case "message_stop":
		return sse.Frame{Done: true}
	case "error":
		return sse.Frame{Err: &llm.Error{
			Type:      llm.ErrorTypeBackend,
			Message:   "stream error: " + ev.Get("error.message").String(),
			Retryable: true,
			Body:      string(payload),
		}}
	}
	return sse.Frame{}
}

func textFrame(ch llm.Channel, text string) sse.Frame {
	return sse.Frame{Messages: []llm.ChannelMessage{{Channel: ch, Content: text}}}
}
