// Package openai implements the chat-completions backend family.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/aschepis/backscratcher/relay/llm/channel"
	"github.com/aschepis/backscratcher/relay/llm/sse"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultEmbeddingModel is used when an embedding request names no model.
const DefaultEmbeddingModel = "text-embedding-3-small"

// Generator implements llm.ContentGenerator for chat-completions compatible backends.
type Generator struct {
	client     *openai.Client
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string // Default model to use if not specified in request
	chain      *channel.Chain
	logger     zerolog.Logger
}

// NewGenerator creates a new Generator for the endpoint.
// If httpClient is nil, http.DefaultClient is used.
func NewGenerator(ep *llm.Endpoint, httpClient *http.Client, logger zerolog.Logger) (*Generator, error) {
	if ep == nil || ep.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	config := openai.DefaultConfig(ep.APIKey)
	if ep.BaseURL != "" {
		config.BaseURL = ep.BaseURL
	}
	config.HTTPClient = httpClient

	logger = logger.With().Str("component", "openaiGenerator").Str("backend", ep.BackendID).Logger()
	return &Generator{
		client:     openai.NewClientWithConfig(config),
		httpClient: httpClient,
		baseURL:    config.BaseURL,
		apiKey:     ep.APIKey,
		model:      ep.Model,
		chain:      channel.DefaultChain(logger),
		logger:     logger,
	}, nil
}

// GenerateContent implements llm.ContentGenerator.GenerateContent.
func (g *Generator) GenerateContent(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	chatReq, err := buildChatRequest(req, req.ModelOr(g.model), false)
	if err != nil {
		return nil, err
	}

	chatResp, err := g.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, convertOpenAIError(ctx, err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, llm.NewProtocolError("no choices in response", nil)
	}

	resp := &llm.Response{
		Usage: &llm.Usage{
			InputTokens:  int64(chatResp.Usage.PromptTokens),
			OutputTokens: int64(chatResp.Usage.CompletionTokens),
		},
	}
	for _, choice := range chatResp.Choices {
		wrapped := openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{choice}}
		resp.Candidates = append(resp.Candidates, llm.Candidate{
			Index:          choice.Index,
			ChannelContent: g.chain.ProcessValue(wrapped),
			FinishReason:   string(choice.FinishReason),
		})
	}
	return resp, nil
}

// GenerateContentStream implements llm.ContentGenerator.GenerateContentStream.
func (g *Generator) GenerateContentStream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	chatReq, err := buildChatRequest(req, req.ModelOr(g.model), true)
	if err != nil {
		return nil, err
	}

	httpReq, err := sse.NewJSONRequest(ctx, g.baseURL+"/chat/completions", chatReq, map[string]string{
		"Authorization": "Bearer " + g.apiKey,
		"Accept":        "text/event-stream",
	})
	if err != nil {
		return nil, err
	}
	body, err := sse.Do(g.httpClient, httpReq)
	if err != nil {
		return nil, err
	}
	return sse.NewDecoder(ctx, body, g.streamConfig(), g.logger), nil
}

// CountTokens implements llm.ContentGenerator.CountTokens.
// Chat-completions backends have no counting endpoint, so the count is estimated.
func (g *Generator) CountTokens(_ context.Context, req *llm.Request) (int, error) {
	return llm.EstimateRequestTokens(req), nil
}

// EmbedContent implements llm.ContentGenerator.EmbedContent.
func (g *Generator) EmbedContent(ctx context.Context, req *llm.Request) ([]float32, error) {
	text := llm.PromptText(req)
	if text == "" {
		return nil, fmt.Errorf("embedding requires text content")
	}
	embResp, err := g.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(req.ModelOr(DefaultEmbeddingModel)),
	})
	if err != nil {
		return nil, convertOpenAIError(ctx, err)
	}
	if len(embResp.Data) == 0 {
		return nil, llm.NewProtocolError("no embeddings in response", nil)
	}
	return embResp.Data[0].Embedding, nil
}

// ListModels implements llm.ModelLister.
func (g *Generator) ListModels(ctx context.Context) ([]string, error) {
	list, err := g.client.ListModels(ctx)
	if err != nil {
		return nil, convertOpenAIError(ctx, err)
	}
	return lo.Map(list.Models, func(m openai.Model, _ int) string { return m.ID }), nil
}

// convertOpenAIError converts go-openai errors to llm.Error types.
// Context cancellation is returned as is so callers can tell it apart from backend failures.
func convertOpenAIError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		e := llm.ClassifyStatus(apiErr.HTTPStatusCode, apiErr.Message, nil)
		e.ProviderErr = err
		return e
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		e := llm.ClassifyStatus(reqErr.HTTPStatusCode, string(reqErr.Body), nil)
		e.ProviderErr = err
		return e
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return llm.NewProtocolError("unparseable openai response", err)
	}

	return llm.NewNetworkError("openai request failed", err)
}
