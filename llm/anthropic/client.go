// Package anthropic implements the messages-API backend family.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/aschepis/backscratcher/relay/llm/sse"
	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"
)

const apiVersion = "2023-06-01"

// Generator implements llm.ContentGenerator for Anthropic's messages API.
type Generator struct {
	client     anthropic.Client
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	logger     zerolog.Logger
}

// NewGenerator creates a new Generator for the endpoint.
// SDK retries are disabled; retrying across backends is the caller's job.
func NewGenerator(ep *llm.Endpoint, httpClient *http.Client, logger zerolog.Logger) (*Generator, error) {
	if ep == nil || ep.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	client := anthropic.NewClient(
		option.WithAPIKey(ep.APIKey),
		option.WithBaseURL(ep.BaseURL),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	)
	return &Generator{
		client:     client,
		httpClient: httpClient,
		baseURL:    ep.BaseURL,
		apiKey:     ep.APIKey,
		model:      ep.Model,
		logger:     logger.With().Str("component", "anthropicGenerator").Str("backend", ep.BackendID).Logger(),
	}, nil
}

// GenerateContent implements llm.ContentGenerator.GenerateContent.
func (g *Generator) GenerateContent(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	message, err := g.client.Messages.New(ctx, buildParams(req, req.ModelOr(g.model)))
	if err != nil {
		return nil, convertAnthropicError(ctx, err)
	}

	resp := llm.NewResponse(FromContentBlocks(message.Content), string(message.StopReason))
	resp.Usage = &llm.Usage{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}
	return resp, nil
}

// GenerateContentStream implements llm.ContentGenerator.GenerateContentStream.
func (g *Generator) GenerateContentStream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	body, err := buildParams(req, req.ModelOr(g.model)).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	body, err = sjson.SetBytes(body, "stream", true)
	if err != nil {
		return nil, fmt.Errorf("failed to enable streaming: %w", err)
	}

	httpReq, err := sse.NewJSONRequest(ctx, g.baseURL+"/v1/messages", body, map[string]string{
		"x-api-key":         g.apiKey,
		"anthropic-version": apiVersion,
		"Accept":            "text/event-stream",
	})
	if err != nil {
		return nil, err
	}
	stream, err := sse.Do(g.httpClient, httpReq)
	if err != nil {
		return nil, err
	}
	return sse.NewDecoder(ctx, stream, sse.Config{
		Prefix: sse.DataPrefix,
		Decode: decodeEvent,
	}, g.logger), nil
}

// CountTokens implements llm.ContentGenerator.CountTokens using the counting endpoint.
func (g *Generator) CountTokens(ctx context.Context, req *llm.Request) (int, error) {
	if req == nil {
		return 0, fmt.Errorf("request is required")
	}
	params := anthropic.MessageCountTokensParams{
		Model:    anthropic.Model(req.ModelOr(g.model)),
		Messages: ToMessageParams(req.Turns),
	}
	if blocks := buildSystemBlocks(req.Config.SystemInstruction); len(blocks) > 0 {
		params.System = anthropic.MessageCountTokensParamsSystemUnion{OfTextBlockArray: blocks}
	}
	count, err := g.client.Messages.CountTokens(ctx, params)
	if err != nil {
		return 0, convertAnthropicError(ctx, err)
	}
	return int(count.InputTokens), nil
}

// EmbedContent implements llm.ContentGenerator.EmbedContent. The messages API has no embeddings.
func (g *Generator) EmbedContent(context.Context, *llm.Request) ([]float32, error) {
	return nil, llm.NewUnsupportedError("embedContent")
}

// convertAnthropicError converts SDK errors to llm.Error types.
func convertAnthropicError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		e := llm.ClassifyStatus(apiErr.StatusCode, apiErr.Error(), nil)
		e.ProviderErr = err
		return e
	}
	return llm.NewNetworkError("anthropic request failed", err)
}
