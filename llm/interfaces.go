package llm

import (
	"context"
)

// ContentGenerator is the uniform contract every backend family implements.
// Implementations should handle backend-specific wire formats internally.
type ContentGenerator interface {
	// GenerateContent sends a request and returns a complete response.
	GenerateContent(ctx context.Context, req *Request) (*Response, error)

	// GenerateContentStream sends a request and returns a stream of incremental responses.
	// The caller should read from the returned Stream until it's done or an error occurs.
	GenerateContentStream(ctx context.Context, req *Request) (Stream, error)

	// CountTokens returns the prompt token count, either from the backend or estimated locally.
	CountTokens(ctx context.Context, req *Request) (int, error)

	// EmbedContent returns a vector for the text of the request.
	// Families without an embedding endpoint return an unsupported error.
	EmbedContent(ctx context.Context, req *Request) ([]float32, error)
}

// ModelLister is implemented by generators that can enumerate the models of their backend.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Stream represents a streaming response from a backend.
// A stream is finite and cannot be restarted.
type Stream interface {
	// Next advances to the next response in the stream.
	// Returns false when the stream is complete or an error occurs.
	Next() bool

	// Current returns the current response.
	// Should only be called after Next() returns true.
	Current() *Response

	// Err returns any error that occurred during streaming.
	Err() error

	// Close closes the stream and releases resources.
	Close() error
}

// Middleware provides hooks for decorating ContentGenerator calls.
type Middleware interface {
	// BeforeRequest is called before making a backend request.
	// It can modify the request or return an error to abort the request.
	BeforeRequest(ctx context.Context, req *Request) (*Request, error)

	// AfterResponse is called after receiving a complete response.
	// It can modify the response or return an error.
	AfterResponse(ctx context.Context, req *Request, resp *Response) (*Response, error)

	// OnError is called when an error occurs.
	// It can return a modified error or nil to use the original error.
	OnError(ctx context.Context, req *Request, err error) error
}

// StreamMiddleware is an optional extension of Middleware for streaming calls.
type StreamMiddleware interface {
	// OnStreamResponse is called for each incremental response.
	// It can modify the response or return an error to abort the stream.
	OnStreamResponse(ctx context.Context, req *Request, resp *Response) (*Response, error)
}

// MiddlewareFunc is a function type that implements Middleware and StreamMiddleware.
type MiddlewareFunc struct {
	BeforeRequestFunc    func(ctx context.Context, req *Request) (*Request, error)
	AfterResponseFunc    func(ctx context.Context, req *Request, resp *Response) (*Response, error)
	OnErrorFunc          func(ctx context.Context, req *Request, err error) error
	OnStreamResponseFunc func(ctx context.Context, req *Request, resp *Response) (*Response, error)
}

// BeforeRequest calls the BeforeRequestFunc if set.
func (f MiddlewareFunc) BeforeRequest(ctx context.Context, req *Request) (*Request, error) {
	if f.BeforeRequestFunc != nil {
		return f.BeforeRequestFunc(ctx, req)
	}
	return req, nil
}

// AfterResponse calls the AfterResponseFunc if set.
func (f MiddlewareFunc) AfterResponse(ctx context.Context, req *Request, resp *Response) (*Response, error) {
	if f.AfterResponseFunc != nil {
		return f.AfterResponseFunc(ctx, req, resp)
	}
	return resp, nil
}

// OnError calls the OnErrorFunc if set.
func (f MiddlewareFunc) OnError(ctx context.Context, req *Request, err error) error {
	if f.OnErrorFunc != nil {
		return f.OnErrorFunc(ctx, req, err)
	}
	return err
}

// OnStreamResponse calls the OnStreamResponseFunc if set.
func (f MiddlewareFunc) OnStreamResponse(ctx context.Context, req *Request, resp *Response) (*Response, error) {
	if f.OnStreamResponseFunc != nil {
		return f.OnStreamResponseFunc(ctx, req, resp)
	}
	return resp, nil
}

// WrapWithMiddleware wraps a ContentGenerator with middleware and returns a new ContentGenerator.
// The wrapper still satisfies ModelLister when the wrapped generator does.
func WrapWithMiddleware(gen ContentGenerator, middleware ...Middleware) ContentGenerator {
	if len(middleware) == 0 {
		return gen
	}
	return &generatorWithMiddleware{
		gen:        gen,
		middleware: middleware,
	}
}

// generatorWithMiddleware wraps a ContentGenerator with middleware.
type generatorWithMiddleware struct {
	gen        ContentGenerator
	middleware []Middleware
}

func (g *generatorWithMiddleware) before(ctx context.Context, req *Request) (*Request, error) {
	for _, mw := range g.middleware {
		var err error
		req, err = mw.BeforeRequest(ctx, req)
		if err != nil {
			return nil, err
		}
	}
	return req, nil
}

func (g *generatorWithMiddleware) onError(ctx context.Context, req *Request, err error) error {
	for _, mw := range g.middleware {
		if handled := mw.OnError(ctx, req, err); handled != nil {
			err = handled
		}
	}
	return err
}

// GenerateContent implements ContentGenerator with middleware support.
func (g *generatorWithMiddleware) GenerateContent(ctx context.Context, req *Request) (*Response, error) {
	req, err := g.before(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := g.gen.GenerateContent(ctx, req)
	if err != nil {
		return nil, g.onError(ctx, req, err)
	}

	// Apply AfterResponse middleware in reverse order
	for i := len(g.middleware) - 1; i >= 0; i-- {
		resp, err = g.middleware[i].AfterResponse(ctx, req, resp)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// GenerateContentStream implements ContentGenerator with middleware support.
func (g *generatorWithMiddleware) GenerateContentStream(ctx context.Context, req *Request) (Stream, error) {
	req, err := g.before(ctx, req)
	if err != nil {
		return nil, err
	}

	stream, err := g.gen.GenerateContentStream(ctx, req)
	if err != nil {
		return nil, g.onError(ctx, req, err)
	}

	var hooks []StreamMiddleware
	for _, mw := range g.middleware {
		if sm, ok := mw.(StreamMiddleware); ok {
			hooks = append(hooks, sm)
		}
	}
	return &streamWithMiddleware{
		ctx:    ctx,
		req:    req,
		stream: stream,
		hooks:  hooks,
		parent: g,
	}, nil
}

// CountTokens implements ContentGenerator with middleware support.
func (g *generatorWithMiddleware) CountTokens(ctx context.Context, req *Request) (int, error) {
	req, err := g.before(ctx, req)
	if err != nil {
		return 0, err
	}
	n, err := g.gen.CountTokens(ctx, req)
	if err != nil {
		return 0, g.onError(ctx, req, err)
	}
	return n, nil
}

// EmbedContent implements ContentGenerator with middleware support.
func (g *generatorWithMiddleware) EmbedContent(ctx context.Context, req *Request) ([]float32, error) {
	req, err := g.before(ctx, req)
	if err != nil {
		return nil, err
	}
	vec, err := g.gen.EmbedContent(ctx, req)
	if err != nil {
		return nil, g.onError(ctx, req, err)
	}
	return vec, nil
}

// ListModels forwards to the wrapped generator when it can list models.
func (g *generatorWithMiddleware) ListModels(ctx context.Context) ([]string, error) {
	lister, ok := g.gen.(ModelLister)
	if !ok {
		return nil, NewUnsupportedError("listModels")
	}
	return lister.ListModels(ctx)
}

// streamWithMiddleware wraps a Stream with middleware.
type streamWithMiddleware struct {
	ctx     context.Context
	req     *Request
	stream  Stream
	hooks   []StreamMiddleware
	parent  *generatorWithMiddleware
	current *Response
	err     error
}

// Next implements Stream.Next with middleware support.
func (s *streamWithMiddleware) Next() bool {
	if s.err != nil {
		return false
	}
	if !s.stream.Next() {
		if err := s.stream.Err(); err != nil {
			s.err = s.parent.onError(s.ctx, s.req, err)
		}
		return false
	}

	resp := s.stream.Current()
	for _, h := range s.hooks {
		var err error
		resp, err = h.OnStreamResponse(s.ctx, s.req, resp)
		if err != nil {
			s.err = err
			return false
		}
	}
	s.current = resp
	return true
}

// Current implements Stream.Current.
func (s *streamWithMiddleware) Current() *Response {
	return s.current
}

// Err implements Stream.Err.
func (s *streamWithMiddleware) Err() error {
	return s.err
}

// Close implements Stream.Close.
func (s *streamWithMiddleware) Close() error {
	return s.stream.Close()
}
