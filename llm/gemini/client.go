// Package gemini implements the structured turn/part backend family on top of
// the Google Gen AI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/aschepis/backscratcher/relay/llm/channel"
	"github.com/aschepis/backscratcher/relay/llm/sse"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"google.golang.org/genai"
)

const (
	apiVersion = "v1beta"

	// DefaultEmbeddingModel is used when an embedding request names no model.
	DefaultEmbeddingModel = "text-embedding-004"
)

// Generator implements llm.ContentGenerator for Gemini-style backends.
type Generator struct {
	client     *genai.Client
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	chain      *channel.Chain
	logger     zerolog.Logger
}

// NewGenerator creates a new Generator for the endpoint.
func NewGenerator(ctx context.Context, ep *llm.Endpoint, httpClient *http.Client, logger zerolog.Logger) (*Generator, error) {
	if ep == nil || ep.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     ep.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    ep.BaseURL + "/",
			APIVersion: apiVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	logger = logger.With().Str("component", "geminiGenerator").Str("backend", ep.BackendID).Logger()
	return &Generator{
		client:     client,
		httpClient: httpClient,
		baseURL:    ep.BaseURL,
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
	result, err := g.client.Models.GenerateContent(ctx, req.ModelOr(g.model), ToGenaiContents(req.Turns), ToGenerateConfig(req.Config))
	if err != nil {
		return nil, convertGenaiError(ctx, err)
	}
	if len(result.Candidates) == 0 {
		return nil, llm.NewProtocolError("no candidates in response", nil)
	}

	resp := &llm.Response{}
	for _, cand := range result.Candidates {
		msgs := []llm.ChannelMessage{{Channel: llm.ChannelFinal}}
		if cand.Content != nil {
			msgs = g.chain.ProcessValue(cand.Content)
		}
		resp.Candidates = append(resp.Candidates, llm.Candidate{
			Index:          int(cand.Index),
			ChannelContent: msgs,
			FinishReason:   string(cand.FinishReason),
		})
	}
	if u := result.UsageMetadata; u != nil {
		resp.Usage = &llm.Usage{
			InputTokens:  int64(u.PromptTokenCount),
			OutputTokens: int64(u.CandidatesTokenCount),
		}
	}
	return resp, nil
}

// GenerateContentStream implements llm.ContentGenerator.GenerateContentStream.
func (g *Generator) GenerateContentStream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	model := strings.TrimPrefix(req.ModelOr(g.model), "models/")
	url := fmt.Sprintf("%s/%s/models/%s:streamGenerateContent?alt=sse", g.baseURL, apiVersion, model)

	httpReq, err := sse.NewJSONRequest(ctx, url, newStreamBody(req), map[string]string{
		"x-goog-api-key": g.apiKey,
		"Accept":         "text/event-stream",
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

// CountTokens implements llm.ContentGenerator.CountTokens using the backend's counting endpoint.
func (g *Generator) CountTokens(ctx context.Context, req *llm.Request) (int, error) {
	if req == nil {
		return 0, fmt.Errorf("request is required")
	}
	result, err := g.client.Models.CountTokens(ctx, req.ModelOr(g.model), ToGenaiContents(req.Turns), nil)
	if err != nil {
		return 0, convertGenaiError(ctx, err)
	}
	return int(result.TotalTokens), nil
}

// EmbedContent implements llm.ContentGenerator.EmbedContent.
func (g *Generator) EmbedContent(ctx context.Context, req *llm.Request) ([]float32, error) {
	text := llm.PromptText(req)
	if text == "" {
		return nil, fmt.Errorf("embedding requires text content")
	}
	result, err := g.client.Models.EmbedContent(ctx, req.ModelOr(DefaultEmbeddingModel), genai.Text(text), nil)
	if err != nil {
		return nil, convertGenaiError(ctx, err)
	}
	if len(result.Embeddings) == 0 || result.Embeddings[0] == nil {
		return nil, llm.NewProtocolError("no embeddings in response", nil)
	}
	return result.Embeddings[0].Values, nil
}

// ListModels implements llm.ModelLister.
func (g *Generator) ListModels(ctx context.Context) ([]string, error) {
	page, err := g.client.Models.List(ctx, nil)
	var names []string
	for err == nil {
		names = append(names, lo.FilterMap(page.Items, func(m *genai.Model, _ int) (string, bool) {
			if m == nil {
				return "", false
			}
			return strings.TrimPrefix(m.Name, "models/"), true
		})...)
		page, err = page.Next(ctx)
	}
	if !errors.Is(err, genai.ErrPageDone) {
		return nil, convertGenaiError(ctx, err)
	}
	return names, nil
}

// convertGenaiError converts SDK errors to llm.Error types.
func convertGenaiError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		e := llm.ClassifyStatus(apiErr.Code, apiErr.Message, nil)
		e.ProviderErr = err
		return e
	}
	return llm.NewNetworkError("gemini request failed", err)
}
