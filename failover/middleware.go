package failover

import (
	"context"

	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/aschepis/backscratcher/relay/observe"
	"github.com/rs/zerolog"
)

type requestIDKey struct{}

// RequestID returns the id assigned to the request in ctx by LoggingMiddleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithRequestID stores a request id in ctx for log correlation.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// LoggingMiddleware logs every generator call at debug level and failures at warn.
func LoggingMiddleware(logger zerolog.Logger) llm.Middleware {
	logger = logger.With().Str("component", "generatorLog").Logger()
	return llm.MiddlewareFunc{
		BeforeRequestFunc: func(ctx context.Context, req *llm.Request) (*llm.Request, error) {
			logger.Debug().
				Str("requestId", RequestID(ctx)).
				Str("traceId", observe.TraceID(ctx)).
				Int("turns", len(req.Turns)).
				Str("model", req.Config.Model).
				Msg("Generator request")
			return req, nil
		},
		AfterResponseFunc: func(ctx context.Context, req *llm.Request, resp *llm.Response) (*llm.Response, error) {
			ev := logger.Debug().Str("requestId", RequestID(ctx)).Int("messages", len(resp.Messages()))
			if resp.Usage != nil {
				ev = ev.Int64("inputTokens", resp.Usage.InputTokens).Int64("outputTokens", resp.Usage.OutputTokens)
			}
			ev.Msg("Generator response")
			return resp, nil
		},
		OnErrorFunc: func(ctx context.Context, req *llm.Request, err error) error {
			logger.Warn().
				Err(err).
				Str("requestId", RequestID(ctx)).
				Str("type", string(llm.ErrorTypeOf(err))).
				Msg("Generator error")
			return err
		},
	}
}
