// Package ollama implements the local Ollama backend family.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/aschepis/backscratcher/relay/llm/sse"
	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// DefaultEmbeddingModel is used for EmbedContent when the request names no model.
const DefaultEmbeddingModel = "nomic-embed-text"

// Generator implements llm.ContentGenerator for an Ollama server.
type Generator struct {
	client     *api.Client
	httpClient *http.Client
	baseURL    string
	model      string
	logger     zerolog.Logger
}

// NewGenerator creates a new Generator. Ollama needs no api key.
func NewGenerator(ep *llm.Endpoint, httpClient *http.Client, logger zerolog.Logger) (*Generator, error) {
	if ep == nil {
		return nil, fmt.Errorf("endpoint is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL, err := parseHost(ep.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid host: %w", err)
	}

	return &Generator{
		client:     api.NewClient(baseURL, httpClient),
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL.String(), "/"),
		model:      ep.Model,
		logger:     logger.With().Str("component", "ollamaGenerator").Str("backend", ep.BackendID).Logger(),
	}, nil
}

// parseHost parses a host string into a URL.
func parseHost(host string) (*url.URL, error) {
	if host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

func (g *Generator) chatRequest(req *llm.Request, stream bool) *api.ChatRequest {
	return &api.ChatRequest{
		Model:    req.ModelOr(g.model),
		Messages: ToOllamaMessages(req),
		Stream:   &stream,
		Options:  buildOptions(req.Config),
	}
}

// GenerateContent implements llm.ContentGenerator.GenerateContent.
func (g *Generator) GenerateContent(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	var chatResp api.ChatResponse
	err := g.client.Chat(ctx, g.chatRequest(req, false), func(resp api.ChatResponse) error {
		chatResp = resp
		return nil
	})
	if err != nil {
		return nil, convertOllamaError(ctx, err)
	}

	msgs := FromOllamaMessage(chatResp.Message)
	if len(msgs) == 0 {
		msgs = []llm.ChannelMessage{{Channel: llm.ChannelFinal}}
	}
	finish := chatResp.DoneReason
	if finish == "" && chatResp.Done {
		finish = "stop"
	}
	resp := llm.NewResponse(msgs, finish)
	resp.Usage = &llm.Usage{
		InputTokens:  int64(chatResp.PromptEvalCount),
		OutputTokens: int64(chatResp.EvalCount),
	}
	return resp, nil
}

// GenerateContentStream implements llm.ContentGenerator.GenerateContentStream.
// The reply is newline-delimited JSON; the chunk with done=true ends it.
func (g *Generator) GenerateContentStream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	httpReq, err := sse.NewJSONRequest(ctx, g.baseURL+"/api/chat", g.chatRequest(req, true), map[string]string{
		"Accept": "application/x-ndjson",
	})
	if err != nil {
		return nil, err
	}
	body, err := sse.Do(g.httpClient, httpReq)
	if err != nil {
		return nil, err
	}
	return sse.NewDecoder(ctx, body, sse.Config{Decode: decodeFrame}, g.logger), nil
}

// CountTokens implements llm.ContentGenerator.CountTokens. Ollama has no
// counting endpoint, so the count is estimated.
func (g *Generator) CountTokens(_ context.Context, req *llm.Request) (int, error) {
	return llm.EstimateRequestTokens(req), nil
}

// EmbedContent implements llm.ContentGenerator.EmbedContent.
func (g *Generator) EmbedContent(ctx context.Context, req *llm.Request) ([]float32, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	resp, err := g.client.Embed(ctx, &api.EmbedRequest{
		Model: req.ModelOr(DefaultEmbeddingModel),
		Input: llm.PromptText(req),
	})
	if err != nil {
		return nil, convertOllamaError(ctx, err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, llm.NewProtocolError("embedding response has no vectors", nil)
	}
	return resp.Embeddings[0], nil
}

// ListModels implements llm.ModelLister.
func (g *Generator) ListModels(ctx context.Context) ([]string, error) {
	resp, err := g.client.List(ctx)
	if err != nil {
		return nil, convertOllamaError(ctx, err)
	}
	return lo.Map(resp.Models, func(m api.ListModelResponse, _ int) string {
		return m.Name
	}), nil
}

// convertOllamaError converts api errors to llm.Error types.
func convertOllamaError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		e := llm.ClassifyStatus(statusErr.StatusCode, statusErr.ErrorMessage, nil)
		e.ProviderErr = err
		return e
	}
	return llm.NewNetworkError("ollama request failed", err)
}
