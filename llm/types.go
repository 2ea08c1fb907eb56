package llm

import (
	"encoding/json"
	"strings"
)

// Role represents the author of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Channel identifies the logical lane a piece of generated content belongs to.
type Channel string

const (
	// ChannelAnalysis carries reasoning or thinking text.
	ChannelAnalysis Channel = "analysis"
	// ChannelCommentary carries tool invocations and other side-channel output.
	ChannelCommentary Channel = "commentary"
	// ChannelFinal carries user-facing answer text.
	ChannelFinal Channel = "final"
)

// Marker flags a synthetic message that opens a non-final channel within a stream.
type Marker string

const (
	MarkerNone       Marker = ""
	MarkerReasoning  Marker = "reasoning"
	MarkerCommentary Marker = "commentary"
)

// ChannelMessage is the normalized unit of generated output.
type ChannelMessage struct {
	Channel Channel `json:"channel"`
	Content string  `json:"content"`
	Marker  Marker  `json:"marker,omitempty"`
}

// IsMarker reports whether the message is a channel-start marker.
func (m ChannelMessage) IsMarker() bool {
	return m.Marker != MarkerNone
}

// MarkerFor returns the marker that opens the given channel.
// The final channel has no marker.
func MarkerFor(ch Channel) Marker {
	switch ch {
	case ChannelAnalysis:
		return MarkerReasoning
	case ChannelCommentary:
		return MarkerCommentary
	default:
		return MarkerNone
	}
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// FunctionResponse is the result of a tool invocation, sent back to the model.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// Part is one piece of a conversation turn. Exactly one field is expected to be set.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

// Turn is a single conversation entry.
type Turn struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Text concatenates all text parts of the turn.
func (t Turn) Text() string {
	var b strings.Builder
	for _, p := range t.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// NewTextTurn creates a turn with a single text part.
func NewTextTurn(role Role, text string) Turn {
	return Turn{Role: role, Parts: []Part{{Text: text}}}
}

// SamplingConfig holds generation parameters shared by all backends.
type SamplingConfig struct {
	Model             string   `json:"model,omitempty"`
	SystemInstruction string   `json:"systemInstruction,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	TopP              *float64 `json:"topP,omitempty"`
	MaxOutputTokens   int      `json:"maxOutputTokens,omitempty"`
}

// Request is a provider-neutral generation request.
type Request struct {
	Turns  []Turn         `json:"contents"`
	Config SamplingConfig `json:"config"`
}

// ModelOr returns the requested model, or fallback when none is set.
func (r *Request) ModelOr(fallback string) string {
	if r != nil && r.Config.Model != "" {
		return r.Config.Model
	}
	return fallback
}

// Usage tracks token usage reported by a backend.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// Candidate is one alternative produced by the backend.
type Candidate struct {
	Index          int              `json:"index"`
	ChannelContent []ChannelMessage `json:"channelContent"`
	FinishReason   string           `json:"finishReason,omitempty"`
}

// Response is a complete or partial generation result.
// Streaming responses are increments: each carries only the messages produced by one frame.
type Response struct {
	Candidates []Candidate `json:"candidates"`
	Usage      *Usage      `json:"usage,omitempty"`
}

// NewResponse wraps channel messages into a single-candidate response.
func NewResponse(msgs []ChannelMessage, finishReason string) *Response {
	return &Response{
		Candidates: []Candidate{{
			ChannelContent: msgs,
			FinishReason:   finishReason,
		}},
	}
}

// Messages returns the channel content of the first candidate.
func (r *Response) Messages() []ChannelMessage {
	if r == nil || len(r.Candidates) == 0 {
		return nil
	}
	return r.Candidates[0].ChannelContent
}

// Text concatenates non-marker content of the first candidate on the given channel.
func (r *Response) Text(ch Channel) string {
	var b strings.Builder
	for _, m := range r.Messages() {
		if m.Channel == ch && !m.IsMarker() {
			b.WriteString(m.Content)
		}
	}
	return b.String()
}

// FunctionCalls decodes the tool invocations carried on the commentary channel.
// Commentary content that is not a function call is skipped.
func (r *Response) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, m := range r.Messages() {
		if m.Channel != ChannelCommentary || m.IsMarker() {
			continue
		}
		var call FunctionCall
		if err := json.Unmarshal([]byte(m.Content), &call); err != nil || call.Name == "" {
			continue
		}
		calls = append(calls, call)
	}
	return calls
}

// FunctionCallMessage serializes a tool invocation as a commentary message.
func FunctionCallMessage(call FunctionCall) ChannelMessage {
	if call.Args == nil {
		call.Args = map[string]any{}
	}
	data, err := json.Marshal(call)
	if err != nil {
		// Args came from JSON decoding, so this only fails for exotic values.
		data, _ = json.Marshal(FunctionCall{ID: call.ID, Name: call.Name, Args: map[string]any{}})
	}
	return ChannelMessage{Channel: ChannelCommentary, Content: string(data)}
}
