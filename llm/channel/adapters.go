package channel

import (
	"encoding/json"
	"fmt"

	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/tidwall/gjson"
)

// ChatDelta handles chat-completion payloads, both streaming deltas and full messages.
// reasoning_content maps to analysis, content to final, each tool call to commentary.
func ChatDelta() Adapter {
	return Adapter{
		Name: "chat-delta",
		Detect: func(raw []byte) bool {
			if !gjson.ValidBytes(raw) {
				return false
			}
			choice := gjson.GetBytes(raw, "choices.0")
			return choice.Get("delta").IsObject() || choice.Get("message").IsObject()
		},
		Extract: extractChatDelta,
	}
}

func extractChatDelta(raw []byte) ([]llm.ChannelMessage, error) {
	choice := gjson.GetBytes(raw, "choices.0")
	node := choice.Get("delta")
	if !node.Exists() {
		node = choice.Get("message")
	}

	var msgs []llm.ChannelMessage
	for _, key := range []string{"reasoning_content", "reasoning"} {
		if r := node.Get(key); r.Type == gjson.String && r.Str != "" {
			msgs = append(msgs, llm.ChannelMessage{Channel: llm.ChannelAnalysis, Content: r.Str})
			break
		}
	}
	if c := node.Get("content"); c.Type == gjson.String && c.Str != "" {
		msgs = append(msgs, llm.ChannelMessage{Channel: llm.ChannelFinal, Content: c.Str})
	}

	calls := node.Get("tool_calls")
	if calls.Exists() && !calls.IsArray() {
		return nil, fmt.Errorf("tool_calls is not an array")
	}
	for _, tc := range calls.Array() {
		call := llm.FunctionCall{
			ID:   tc.Get("id").String(),
			Name: tc.Get("function.name").String(),
			Args: ParseArgs(tc.Get("function.arguments")),
		}
		msgs = append(msgs, llm.FunctionCallMessage(call))
	}
	return msgs, nil
}

// StructuredTurn handles turn/part payloads: a candidates list, a contents list,
// or a single turn object. Text parts map to final, thought parts to analysis,
// function calls to commentary. Tool-role turns are ignored.
func StructuredTurn() Adapter {
	return Adapter{
		Name: "structured-turn",
		Detect: func(raw []byte) bool {
			if !gjson.ValidBytes(raw) {
				return false
			}
			return len(structuredTurns(gjson.ParseBytes(raw))) > 0
		},
		Extract: extractStructured,
	}
}

// structuredTurns returns the turn objects of a payload that carry parts.
func structuredTurns(root gjson.Result) []gjson.Result {
	var turns []gjson.Result
	switch {
	case root.Get("candidates").IsArray():
		for _, c := range root.Get("candidates").Array() {
			turns = append(turns, c.Get("content"))
		}
	case root.Get("contents").IsArray():
		turns = root.Get("contents").Array()
	case root.Get("parts").IsArray():
		turns = []gjson.Result{root}
	}

	out := turns[:0]
	for _, t := range turns {
		if t.Get("role").String() == "tool" || !t.Get("parts").IsArray() {
			continue
		}
		out = append(out, t)
	}
	return out
}

func extractStructured(raw []byte) ([]llm.ChannelMessage, error) {
	var msgs []llm.ChannelMessage
	for _, turn := range structuredTurns(gjson.ParseBytes(raw)) {
		for _, part := range turn.Get("parts").Array() {
			if !part.IsObject() {
				return nil, fmt.Errorf("part is not an object: %s", part.Raw)
			}
			text := part.Get("text")
			if text.Exists() && text.Type != gjson.String {
				return nil, fmt.Errorf("part text is not a string: %s", text.Raw)
			}
			thought := part.Get("thought")
			switch {
			case thought.Type == gjson.String && thought.Str != "":
				msgs = append(msgs, llm.ChannelMessage{Channel: llm.ChannelAnalysis, Content: thought.Str})
			case thought.Bool() && text.Str != "":
				msgs = append(msgs, llm.ChannelMessage{Channel: llm.ChannelAnalysis, Content: text.Str})
			case text.Type == gjson.String && text.Str != "":
				msgs = append(msgs, llm.ChannelMessage{Channel: llm.ChannelFinal, Content: text.Str})
			}

			if fc := part.Get("functionCall"); fc.IsObject() {
				msgs = append(msgs, llm.FunctionCallMessage(llm.FunctionCall{
					ID:   fc.Get("id").String(),
					Name: fc.Get("name").String(),
					Args: ParseArgs(fc.Get("args")),
				}))
			}
		}
	}
	return msgs, nil
}

// Passthrough accepts anything and renders it as final JSON text.
func Passthrough() Adapter {
	return Adapter{
		Name:   "passthrough",
		Detect: func([]byte) bool { return true },
		Extract: func(raw []byte) ([]llm.ChannelMessage, error) {
			return Fallback(raw), nil
		},
	}
}

// ParseArgs decodes tool-call arguments given either as a JSON object or as a
// string holding JSON. Anything that does not decode to an object yields empty args.
func ParseArgs(v gjson.Result) map[string]any {
	src := v.Raw
	if v.Type == gjson.String {
		src = v.Str
	}
	return DecodeArgs(src)
}

// DecodeArgs decodes an argument buffer, degrading to empty args on malformed input.
func DecodeArgs(src string) map[string]any {
	args := map[string]any{}
	if src == "" {
		return args
	}
	if err := json.Unmarshal([]byte(src), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}
