package responses

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
		BackendID: "resp",
		Family:    llm.FamilyResponses,
		BaseURL:   srv.URL,
		APIKey:    "k",
		Model:     "m",
	}, srv.Client(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return g
}

func TestGenerateContent_FlattensInput(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		var body requestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(body.Input) != 2 || body.Input[0] != "first" || body.Input[1] != "second" {
			t.Errorf("Unexpected input %v", body.Input)
		}
		if body.MaxOutputTokens != 64 {
			t.Errorf("Expected max_output_tokens 64, got %d", body.MaxOutputTokens)
		}
		fmt.Fprint(w, `{"status":"completed","output":[
			{"type":"reasoning","summary":[{"type":"summary_text","text":"why"}]},
			{"type":"message","content":[{"type":"output_text","text":"because"}]}
		],"usage":{"input_tokens":5,"output_tokens":3}}`)
	})

	resp, err := g.GenerateContent(context.Background(), &llm.Request{
		Turns: []llm.Turn{
			llm.NewTextTurn(llm.RoleUser, "first"),
			llm.NewTextTurn(llm.RoleModel, "second"),
		},
		Config: llm.SamplingConfig{MaxOutputTokens: 64},
	})
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}
	if resp.Text(llm.ChannelAnalysis) != "why" || resp.Text(llm.ChannelFinal) != "because" {
		t.Errorf("Unexpected messages %+v", resp.Messages())
	}
	if resp.Usage.InputTokens != 5 {
		t.Errorf("Unexpected usage %+v", resp.Usage)
	}
}

func TestGenerateContent_MissingOutputIsProtocolError(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"completed"}`)
	})

	_, err := g.GenerateContent(context.Background(), &llm.Request{})
	if !llm.IsProtocolError(err) {
		t.Fatalf("Expected protocol error, got %v", err)
	}
}

func TestGenerateContentStream_Events(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: response.created\ndata: {\"type\":\"response.created\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"response.reasoning_text.delta\",\"delta\":\"think\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"do\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"ne\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"response.done\",\"response\":{\"usage\":{\"input_tokens\":1,\"output_tokens\":2}}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"ignored\"}\n\n")
	})

	stream, err := g.GenerateContentStream(context.Background(), &llm.Request{})
	if err != nil {
		t.Fatalf("GenerateContentStream: %v", err)
	}
	resp, err := llm.Collect(stream)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.Text(llm.ChannelAnalysis) != "think" || resp.Text(llm.ChannelFinal) != "done" {
		t.Errorf("Unexpected messages %+v", resp.Messages())
	}
	if resp.Usage == nil || resp.Usage.OutputTokens != 2 {
		t.Errorf("Unexpected usage %+v", resp.Usage)
	}
}

func TestGenerateContentStream_FailureEvents(t *testing.T) {
	events := map[string]string{
		"error":           `{"type":"error","code":"server_error","message":"upstream overloaded"}`,
		"response.failed": `{"type":"response.failed","response":{"status":"failed","error":{"code":"server_error","message":"model crashed"}}}`,
	}
	for name, event := range events {
		t.Run(name, func(t *testing.T) {
			g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"partial\"}\n\n")
				fmt.Fprintf(w, "data: %s\n\n", event)
			})

			stream, err := g.GenerateContentStream(context.Background(), &llm.Request{})
			if err != nil {
				t.Fatalf("GenerateContentStream: %v", err)
			}
			defer stream.Close() //nolint:errcheck // test cleanup
			n := 0
			for stream.Next() {
				n++
			}
			if n != 1 {
				t.Errorf("Expected the partial delta before the failure, got %d responses", n)
			}
			if !llm.IsBackendError(stream.Err()) {
				t.Errorf("Expected backend error, got %v", stream.Err())
			}
		})
	}
}

func TestCountTokens_TextPartsOnly(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("CountTokens should not call the backend")
	})
	req := &llm.Request{Turns: []llm.Turn{{
		Role:  llm.RoleModel,
		Parts: []llm.Part{{FunctionCall: &llm.FunctionCall{Name: "search", Args: map[string]any{"q": "go"}}}},
	}}}
	n, err := g.CountTokens(context.Background(), req)
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 tokens for a request with no text, got %d", n)
	}
}

func TestEmbedContent_Unsupported(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("EmbedContent should not call the backend")
	})
	if _, err := g.EmbedContent(context.Background(), &llm.Request{}); !llm.IsUnsupportedError(err) {
		t.Fatalf("Expected unsupported error, got %v", err)
	}
}
