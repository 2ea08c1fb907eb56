package ollama

import (
	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/aschepis/backscratcher/relay/llm/channel"
	"github.com/aschepis/backscratcher/relay/llm/sse"
	"github.com/tidwall/gjson"
)

// decodeFrame handles one newline-delimited chat chunk. The chunk with
// done=true carries the eval counts and ends the stream.
func decodeFrame(_ *sse.DecodeState, payload []byte) sse.Frame {
	chunk := gjson.ParseBytes(payload)
	if msg := chunk.Get("error"); msg.Exists() {
		return sse.Frame{Err: &llm.Error{
			Type:      llm.ErrorTypeBackend,
			Message:   "stream error: " + msg.String(),
			Retryable: true,
			Body:      string(payload),
		}}
	}

	var frame sse.Frame
	message := chunk.Get("message")
	if text := message.Get("thinking").String(); text != "" {
		frame.Messages = append(frame.Messages, llm.ChannelMessage{Channel: llm.ChannelAnalysis, Content: text})
	}
	if text := message.Get("content").String(); text != "" {
		frame.Messages = append(frame.Messages, llm.ChannelMessage{Channel: llm.ChannelFinal, Content: text})
	}
	for _, tc := range message.Get("tool_calls").Array() {
		frame.Messages = append(frame.Messages, llm.FunctionCallMessage(llm.FunctionCall{
			Name: tc.Get("function.name").String(),
			Args: channel.ParseArgs(tc.Get("function.arguments")),
		}))
	}

	if chunk.Get("done").Bool() {
		frame.Done = true
		frame.FinishReason = chunk.Get("done_reason").String()
		if frame.FinishReason == "" {
			frame.FinishReason = "stop"
		}
		frame.Usage = &llm.Usage{
			InputTokens:  chunk.Get("prompt_eval_count").Int(),
			OutputTokens: chunk.Get("eval_count").Int(),
		}
	}
	return frame
}
