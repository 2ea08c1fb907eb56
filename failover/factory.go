package failover

import (
	"context"
	"fmt"

	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/aschepis/backscratcher/relay/llm/anthropic"
	"github.com/aschepis/backscratcher/relay/llm/gemini"
	"github.com/aschepis/backscratcher/relay/llm/ollama"
	"github.com/aschepis/backscratcher/relay/llm/openai"
	"github.com/aschepis/backscratcher/relay/llm/responses"
	"github.com/aschepis/backscratcher/relay/observe"
	"github.com/aschepis/backscratcher/relay/perf"
	"github.com/rs/zerolog"
)

// Factory builds the generator for a selected backend.
type Factory func(ctx context.Context, b perf.Backend) (llm.ContentGenerator, error)

// NewFactory returns a Factory that resolves credentials through registry and
// builds the generator of the backend's family.
func NewFactory(registry *llm.Registry, logger zerolog.Logger) Factory {
	return func(ctx context.Context, b perf.Backend) (llm.ContentGenerator, error) {
		ep, err := registry.Resolve(b.Ref())
		if err != nil {
			return nil, err
		}
		return NewGenerator(ctx, ep, logger)
	}
}

// NewGenerator builds the generator for a resolved endpoint. Per-backend
// timeouts are applied by the controller through the context, so the HTTP
// client itself has none.
func NewGenerator(ctx context.Context, ep *llm.Endpoint, logger zerolog.Logger) (llm.ContentGenerator, error) {
	httpClient := observe.NewHTTPClient(0)
	switch ep.Family {
	case llm.FamilyOpenAI:
		return generator(openai.NewGenerator(ep, httpClient, logger))
	case llm.FamilyGemini:
		return generator(gemini.NewGenerator(ctx, ep, httpClient, logger))
	case llm.FamilyResponses:
		return generator(responses.NewGenerator(ep, httpClient, logger))
	case llm.FamilyAnthropic:
		return generator(anthropic.NewGenerator(ep, httpClient, logger))
	case llm.FamilyOllama:
		return generator(ollama.NewGenerator(ep, httpClient, logger))
	default:
		return nil, fmt.Errorf("backend %s: unsupported family %q", ep.BackendID, ep.Family)
	}
}

// generator drops the typed nil a failed constructor returns.
func generator[G llm.ContentGenerator](g G, err error) (llm.ContentGenerator, error) {
	if err != nil {
		return nil, err
	}
	return g, nil
}
