package llm

import (
	"encoding/json"
	"testing"
)

func TestFunctionCallMessage_RoundTrip(t *testing.T) {
	msg := FunctionCallMessage(FunctionCall{ID: "c1", Name: "lookup"})
	if msg.Channel != ChannelCommentary {
		t.Errorf("Expected commentary channel, got %s", msg.Channel)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(msg.Content), &decoded); err != nil {
		t.Fatalf("Content is not JSON: %v", err)
	}
	if _, ok := decoded["args"].(map[string]any); !ok {
		t.Errorf("Expected nil args to serialize as an object, got %v", decoded["args"])
	}

	resp := NewResponse([]ChannelMessage{
		{Channel: ChannelCommentary, Marker: MarkerCommentary},
		msg,
		{Channel: ChannelCommentary, Content: "not a call"},
	}, "")
	calls := resp.FunctionCalls()
	if len(calls) != 1 || calls[0].ID != "c1" || calls[0].Name != "lookup" {
		t.Errorf("Unexpected calls %+v", calls)
	}
}

func TestResponse_TextSkipsMarkers(t *testing.T) {
	resp := NewResponse([]ChannelMessage{
		{Channel: ChannelAnalysis, Marker: MarkerReasoning},
		{Channel: ChannelAnalysis, Content: "think"},
		{Channel: ChannelFinal, Content: "a"},
		{Channel: ChannelFinal, Content: "b"},
	}, "stop")
	if got := resp.Text(ChannelAnalysis); got != "think" {
		t.Errorf("Expected analysis text, got %q", got)
	}
	if got := resp.Text(ChannelFinal); got != "ab" {
		t.Errorf("Expected final text, got %q", got)
	}
	var empty *Response
	if empty.Messages() != nil {
		t.Error("Expected nil messages for nil response")
	}
}

func TestMarkerFor(t *testing.T) {
	if MarkerFor(ChannelAnalysis) != MarkerReasoning {
		t.Error("analysis should open with a reasoning marker")
	}
	if MarkerFor(ChannelCommentary) != MarkerCommentary {
		t.Error("commentary should open with a commentary marker")
	}
	if MarkerFor(ChannelFinal) != MarkerNone {
		t.Error("final has no marker")
	}
}

func TestRequest_ModelOr(t *testing.T) {
	req := &Request{}
	if req.ModelOr("fallback") != "fallback" {
		t.Error("Expected fallback model")
	}
	req.Config.Model = "explicit"
	if req.ModelOr("fallback") != "explicit" {
		t.Error("Expected explicit model")
	}
}

func TestTurn_Text(t *testing.T) {
	turn := Turn{Role: RoleUser, Parts: []Part{{Text: "a"}, {FunctionCall: &FunctionCall{Name: "f"}}, {Text: "b"}}}
	if turn.Text() != "ab" {
		t.Errorf("Unexpected text %q", turn.Text())
	}
}
