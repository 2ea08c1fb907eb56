// Package responses implements the responses-style backend family. Requests
// carry a flat list of input strings; replies are typed output items or, when
// streaming, typed events.
package responses

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/aschepis/backscratcher/relay/llm/sse"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Event types of the streaming protocol.
const (
	eventReasoningDelta = "response.reasoning_text.delta"
	eventOutputDelta    = "response.output_text.delta"
	eventDone           = "response.done"
	eventCompleted      = "response.completed"
	eventFailed         = "response.failed"
	eventError          = "error"
)

// Generator implements llm.ContentGenerator for responses-style backends.
type Generator struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	logger     zerolog.Logger
}

// NewGenerator creates a new Generator for the endpoint.
func NewGenerator(ep *llm.Endpoint, httpClient *http.Client, logger zerolog.Logger) (*Generator, error) {
	if ep == nil || ep.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Generator{
		httpClient: httpClient,
		baseURL:    ep.BaseURL,
		apiKey:     ep.APIKey,
		model:      ep.Model,
		logger:     logger.With().Str("component", "responsesGenerator").Str("backend", ep.BackendID).Logger(),
	}, nil
}

// requestBody is the wire form of a responses request.
type requestBody struct {
	Model           string   `json:"model"`
	Input           []string `json:"input"`
	Instructions    string   `json:"instructions,omitempty"`
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"top_p,omitempty"`
	Stream          bool     `json:"stream,omitempty"`
}

// buildBody flattens every text part into the input list. Tool traffic has no
// representation in this protocol and is dropped.
func (g *Generator) buildBody(req *llm.Request, stream bool) requestBody {
	body := requestBody{
		Model:           req.ModelOr(g.model),
		Input:           []string{},
		Instructions:    req.Config.SystemInstruction,
		MaxOutputTokens: req.Config.MaxOutputTokens,
		Temperature:     req.Config.Temperature,
		TopP:            req.Config.TopP,
		Stream:          stream,
	}
	for _, turn := range req.Turns {
		for _, p := range turn.Parts {
			if p.Text != "" {
				body.Input = append(body.Input, p.Text)
			}
		}
	}
	return body
}

func (g *Generator) newRequest(ctx context.Context, body requestBody) (*http.Request, error) {
	headers := map[string]string{"Authorization": "Bearer " + g.apiKey}
	if body.Stream {
		headers["Accept"] = "text/event-stream"
	}
	return sse.NewJSONRequest(ctx, g.baseURL+"/responses", body, headers)
}

// GenerateContent implements llm.ContentGenerator.GenerateContent.
func (g *Generator) GenerateContent(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	httpReq, err := g.newRequest(ctx, g.buildBody(req, false))
	if err != nil {
		return nil, err
	}
	data, err := sse.DoJSON(g.httpClient, httpReq)
	if err != nil {
		return nil, err
	}
	return parseResponse(data)
}

// parseResponse maps output items: reasoning items to analysis, message text to final.
func parseResponse(data []byte) (*llm.Response, error) {
	if !gjson.ValidBytes(data) {
		return nil, llm.NewProtocolError("response is not valid JSON", nil)
	}
	root := gjson.ParseBytes(data)
	output := root.Get("output")
	if !output.IsArray() {
		return nil, llm.NewProtocolError("response has no output list", nil)
	}

	var msgs []llm.ChannelMessage
	for _, item := range output.Array() {
		switch item.Get("type").String() {
		case "reasoning":
			for _, key := range []string{"content", "summary"} {
				for _, c := range item.Get(key).Array() {
					if text := c.Get("text").String(); text != "" {
						msgs = append(msgs, llm.ChannelMessage{Channel: llm.ChannelAnalysis, Content: text})
					}
				}
			}
		case "message":
			for _, c := range item.Get("content").Array() {
				if c.Get("type").String() != "output_text" {
					continue
				}
				msgs = append(msgs, llm.ChannelMessage{Channel: llm.ChannelFinal, Content: c.Get("text").String()})
			}
		}
	}
	if len(msgs) == 0 {
		msgs = []llm.ChannelMessage{{Channel: llm.ChannelFinal}}
	}

	resp := llm.NewResponse(msgs, root.Get("status").String())
	if u := root.Get("usage"); u.IsObject() {
		resp.Usage = &llm.Usage{
			InputTokens:  u.Get("input_tokens").Int(),
			OutputTokens: u.Get("output_tokens").Int(),
		}
	}
	return resp, nil
}

// GenerateContentStream implements llm.ContentGenerator.GenerateContentStream.
func (g *Generator) GenerateContentStream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	httpReq, err := g.newRequest(ctx, g.buildBody(req, true))
	if err != nil {
		return nil, err
	}
	body, err := sse.Do(g.httpClient, httpReq)
	if err != nil {
		return nil, err
	}
	return sse.NewDecoder(ctx, body, sse.Config{
		Prefix: sse.DataPrefix,
		Decode: decodeEvent,
	}, g.logger), nil
}

// decodeEvent switches on the event type; unknown events carry nothing.
func decodeEvent(_ *sse.DecodeState, payload []byte) sse.Frame {
	ev := gjson.ParseBytes(payload)
	switch ev.Get("type").String() {
	case eventReasoningDelta:
		return sse.Frame{Messages: []llm.ChannelMessage{{Channel: llm.ChannelAnalysis, Content: ev.Get("delta").String()}}}
	case eventOutputDelta:
		return sse.Frame{Messages: []llm.ChannelMessage{{Channel: llm.ChannelFinal, Content: ev.Get("delta").String()}}}
	case eventDone, eventCompleted:
		frame := sse.Frame{Done: true, FinishReason: "stop"}
		if u := ev.Get("response.usage"); u.IsObject() {
			frame.Usage = &llm.Usage{
				InputTokens:  u.Get("input_tokens").Int(),
				OutputTokens: u.Get("output_tokens").Int(),
			}
		}
		return frame
	case eventError, eventFailed:
		return sse.Frame{Err: streamError(ev, payload)}
	default:
		return sse.Frame{}
	}
}

// streamError reports a failure event. The message sits at the top level of
// error events and under response.error for failed responses.
func streamError(ev gjson.Result, payload []byte) *llm.Error {
	msg := ev.Get("message").String()
	if msg == "" {
		msg = ev.Get("response.error.message").String()
	}
	if msg == "" {
		msg = ev.Get("type").String()
	}
	return &llm.Error{
		Type:      llm.ErrorTypeBackend,
		Message:   "stream error: " + msg,
		Retryable: true,
		Body:      string(payload),
	}
}

// CountTokens implements llm.ContentGenerator.CountTokens by local estimation.
func (g *Generator) CountTokens(_ context.Context, req *llm.Request) (int, error) {
	return llm.EstimateRequestTokens(req), nil
}

// EmbedContent implements llm.ContentGenerator.EmbedContent. The protocol has no embeddings.
func (g *Generator) EmbedContent(context.Context, *llm.Request) ([]float32, error) {
	return nil, llm.NewUnsupportedError("embedContent")
}
