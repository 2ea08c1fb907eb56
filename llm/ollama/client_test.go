package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/rs/zerolog"
)

func newTestGenerator(t *testing.T, handler http.HandlerFunc) *Generator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := NewGenerator(&llm.Endpoint{
		BackendID: "local",
		Family:    llm.FamilyOllama,
		BaseURL:   srv.URL,
		Model:     "llama-test",
	}, srv.Client(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return g
}

func userRequest(text string) *llm.Request {
	return &llm.Request{Turns: []llm.Turn{llm.NewTextTurn(llm.RoleUser, text)}}
}

func TestGenerateContent_ThinkingAndToolCalls(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] != false {
			t.Errorf("Expected stream=false, got %v", body["stream"])
		}
		w.Header().Set("Content-Type", "application/json")
		// The client reads replies line by line, so the body stays on one line.
		fmt.Fprintln(w, `{"model":"llama-test","message":{"role":"assistant","thinking":"hmm","content":"ok","tool_calls":[{"function":{"name":"lookup","arguments":{"q":"x"}}}]},"done":true,"done_reason":"stop","prompt_eval_count":4,"eval_count":6}`)
	})

	resp, err := g.GenerateContent(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}
	if got := resp.Text(llm.ChannelAnalysis); got != "hmm" {
		t.Errorf("Expected analysis text, got %q", got)
	}
	if got := resp.Text(llm.ChannelFinal); got != "ok" {
		t.Errorf("Expected final text, got %q", got)
	}
	calls := resp.FunctionCalls()
	if len(calls) != 1 || calls[0].Name != "lookup" || calls[0].Args["q"] != "x" {
		t.Errorf("Unexpected function calls %+v", calls)
	}
	if resp.Usage == nil || resp.Usage.InputTokens != 4 || resp.Usage.OutputTokens != 6 {
		t.Errorf("Unexpected usage %+v", resp.Usage)
	}
}

func TestGenerateContentStream_NDJSON(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"message":{"role":"assistant","thinking":"let me see"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hel"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"lo"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":2,"eval_count":3}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"ignored"},"done":false}`)
	})

	stream, err := g.GenerateContentStream(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("GenerateContentStream: %v", err)
	}
	resp, err := llm.Collect(stream)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := resp.Text(llm.ChannelAnalysis); got != "let me see" {
		t.Errorf("Expected analysis text, got %q", got)
	}
	if got := resp.Text(llm.ChannelFinal); got != "Hello" {
		t.Errorf("Expected final text, got %q", got)
	}
	if resp.Candidates[0].FinishReason != "stop" {
		t.Errorf("Expected finish reason stop, got %q", resp.Candidates[0].FinishReason)
	}
}

func TestGenerateContentStream_InBandError(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"model not loaded"}`)
	})
	stream, err := g.GenerateContentStream(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("GenerateContentStream: %v", err)
	}
	if _, err := llm.Collect(stream); !llm.IsBackendError(err) {
		t.Errorf("Expected backend error, got %v", err)
	}
}

func TestGenerateContent_StatusError(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model 'llama-test' not found"}`)
	})
	_, err := g.GenerateContent(context.Background(), userRequest("hi"))
	if !llm.IsBackendError(err) {
		t.Errorf("Expected backend error, got %v", err)
	}
}

func TestEmbedAndList(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/embed":
			fmt.Fprint(w, `{"model":"nomic-embed-text","embeddings":[[0.5,0.25]]}`)
		case "/api/tags":
			fmt.Fprint(w, `{"models":[{"name":"llama3.2:latest"},{"name":"qwen3:8b"}]}`)
		default:
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
	})

	vec, err := g.EmbedContent(context.Background(), userRequest("embed me"))
	if err != nil {
		t.Fatalf("EmbedContent: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Errorf("Unexpected vector %v", vec)
	}

	models, err := g.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[1] != "qwen3:8b" {
		t.Errorf("Unexpected models %v", models)
	}
}

func TestToOllamaMessages(t *testing.T) {
	req := &llm.Request{
		Config: llm.SamplingConfig{SystemInstruction: "sys"},
		Turns: []llm.Turn{
			llm.NewTextTurn(llm.RoleUser, "q"),
			{Role: llm.RoleModel, Parts: []llm.Part{{FunctionCall: &llm.FunctionCall{Name: "f", Args: map[string]any{"a": 1}}}}},
			{Role: llm.RoleUser, Parts: []llm.Part{{FunctionResponse: &llm.FunctionResponse{Name: "f", Response: map[string]any{"ok": true}}}}},
		},
	}
	msgs := ToOllamaMessages(req)
	if len(msgs) != 4 {
		t.Fatalf("Expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[2].Role != "assistant" || msgs[3].Role != "tool" {
		t.Errorf("Unexpected roles %s %s %s", msgs[0].Role, msgs[2].Role, msgs[3].Role)
	}
	if len(msgs[2].ToolCalls) != 1 {
		t.Errorf("Expected tool call on assistant message")
	}
}
