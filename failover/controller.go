// Package failover selects backends by performance weight and retries failed
// calls on other backends.
package failover

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/aschepis/backscratcher/relay/observe"
	"github.com/aschepis/backscratcher/relay/perf"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxAttempts is the number of backend selections per call.
const DefaultMaxAttempts = 3

// Operation names used in logs, metrics and spans.
const (
	OpGenerateContent       = "generateContent"
	OpGenerateContentStream = "generateContentStream"
	OpCountTokens           = "countTokens"
	OpEmbedContent          = "embedContent"
)

// Config configures a Controller.
type Config struct {
	// MaxAttempts caps backend selections per call. Default: 3.
	MaxAttempts int
	// InitialBackoff paces consecutive attempts. Zero retries immediately.
	InitialBackoff time.Duration
	// Middleware wraps every generator the controller builds.
	Middleware []llm.Middleware
	// Selector picks backends; nil uses a randomly seeded one.
	Selector *Selector
	// Metrics records attempts; nil disables metrics.
	Metrics *observe.Metrics
	// Models caches backend model lists; nil uses a fresh cache.
	Models *ModelCache
}

// session is the generator currently held for a backend.
type session struct {
	backend perf.Backend
	gen     llm.ContentGenerator
}

// Controller implements llm.ContentGenerator on top of a pool of backends.
// It holds one generator at a time; a failure discards it and the next
// attempt selects again, skipping backends that already failed in this call.
type Controller struct {
	tracker  *perf.Tracker
	factory  Factory
	cfg      Config
	selector *Selector
	models   *ModelCache
	logger   zerolog.Logger

	mu   sync.Mutex
	held *session
}

// NewController creates a Controller over the tracker's enabled backends.
func NewController(tracker *perf.Tracker, factory Factory, cfg Config, logger zerolog.Logger) *Controller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	selector := cfg.Selector
	if selector == nil {
		selector = NewSelector()
	}
	models := cfg.Models
	if models == nil {
		models = NewModelCache()
	}
	return &Controller{
		tracker:  tracker,
		factory:  factory,
		cfg:      cfg,
		selector: selector,
		models:   models,
		logger:   logger.With().Str("component", "failoverController").Logger(),
	}
}

// GenerateContent implements llm.ContentGenerator.GenerateContent.
func (c *Controller) GenerateContent(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return run(ctx, c, OpGenerateContent, func(ctx context.Context, gen llm.ContentGenerator) (*llm.Response, error) {
		return gen.GenerateContent(ctx, req)
	}, responseTokens)
}

// CountTokens implements llm.ContentGenerator.CountTokens.
func (c *Controller) CountTokens(ctx context.Context, req *llm.Request) (int, error) {
	return run(ctx, c, OpCountTokens, func(ctx context.Context, gen llm.ContentGenerator) (int, error) {
		return gen.CountTokens(ctx, req)
	}, nil)
}

// EmbedContent implements llm.ContentGenerator.EmbedContent.
func (c *Controller) EmbedContent(ctx context.Context, req *llm.Request) ([]float32, error) {
	return run(ctx, c, OpEmbedContent, func(ctx context.Context, gen llm.ContentGenerator) ([]float32, error) {
		return gen.EmbedContent(ctx, req)
	}, nil)
}

// Held returns the id of the backend whose generator is currently cached.
func (c *Controller) Held() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held == nil {
		return "", false
	}
	return c.held.backend.ID, true
}

// Reset discards the cached generator.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.held = nil
	c.mu.Unlock()
}

// acquire returns the held generator or selects and builds a new one.
// Backends in excluded are skipped while any other candidate remains.
// On a build failure the returned session names the backend and has no generator.
func (c *Controller) acquire(ctx context.Context, excluded map[string]bool) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool := c.tracker.Enabled()
	if c.held != nil && !excluded[c.held.backend.ID] {
		if _, ok := lo.Find(pool, func(b perf.Backend) bool { return b.ID == c.held.backend.ID }); ok {
			return c.held, nil
		}
		c.held = nil
	}

	candidates := lo.Filter(pool, func(b perf.Backend, _ int) bool { return !excluded[b.ID] })
	if len(candidates) == 0 {
		candidates = pool
	}
	b, err := c.selector.Select(candidates)
	if err != nil {
		return nil, err
	}

	gen, err := c.factory(ctx, b)
	if err != nil {
		return &session{backend: b}, err
	}
	sess := &session{backend: b, gen: llm.WrapWithMiddleware(gen, c.cfg.Middleware...)}
	c.held = sess
	c.logger.Info().
		Str("backend", b.ID).
		Str("family", b.Family).
		Float64("weight", b.Weight).
		Msg("Selected backend")
	return sess, nil
}

// release drops sess if it is still the held session.
func (c *Controller) release(sess *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held == sess {
		c.held = nil
	}
}

func (c *Controller) record(id string, o perf.Outcome) {
	if err := c.tracker.Record(id, o); err != nil {
		c.logger.Warn().Err(err).Str("backend", id).Msg("Failed to record outcome")
	}
}

func (c *Controller) newBackOff() backoff.BackOff {
	if c.cfg.InitialBackoff <= 0 {
		return &backoff.ZeroBackOff{}
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.InitialBackoff
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// pause waits for the next backoff interval or until ctx is done.
func pause(ctx context.Context, b backoff.BackOff) error {
	d := b.NextBackOff()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// attemptContext applies the backend's timeout to one unary attempt.
func attemptContext(ctx context.Context, b perf.Backend) (context.Context, context.CancelFunc) {
	if b.Timeout > 0 {
		return context.WithTimeout(ctx, b.Timeout)
	}
	return ctx, func() {}
}

// aborted reports whether err comes from the caller giving up rather than the backend.
func aborted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && llm.IsCanceled(err)
}

// tagged attributes err to the backend that produced it.
func tagged(err error, id string) error {
	var llmErr *llm.Error
	if errors.As(err, &llmErr) && llmErr.Backend == "" {
		return llmErr.WithBackend(id)
	}
	return err
}

// run executes call with failover. Every completed attempt is recorded in the
// tracker except ones aborted by the caller. Unsupported operations are
// surfaced without retrying.
func run[T any](
	ctx context.Context,
	c *Controller,
	op string,
	call func(context.Context, llm.ContentGenerator) (T, error),
	tokens func(T) int,
) (T, error) {
	var zero T
	ctx, span := observe.StartSpan(ctx, "failover."+op)
	defer span.End()

	excluded := make(map[string]bool)
	pacing := c.newBackOff()
	var last error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := pause(ctx, pacing); err != nil {
				return zero, err
			}
		}

		sess, err := c.acquire(ctx, excluded)
		if sess == nil {
			span.SetStatus(codes.Error, err.Error())
			return zero, err
		}
		if err != nil {
			c.logger.Warn().Err(err).Str("backend", sess.backend.ID).Msg("Failed to build generator")
			c.record(sess.backend.ID, perf.Outcome{Success: false})
			excluded[sess.backend.ID] = true
			last = err
			continue
		}

		attemptCtx, cancel := attemptContext(ctx, sess.backend)
		start := time.Now()
		result, err := call(attemptCtx, sess.gen)
		elapsed := time.Since(start)
		cancel()

		span.AddEvent("attempt", trace.WithAttributes(
			attribute.String("backend", sess.backend.ID),
			attribute.Int("attempt", attempt),
			attribute.Bool("success", err == nil),
		))

		if err == nil {
			c.cfg.Metrics.RecordAttempt(ctx, sess.backend.ID, op, elapsed, nil)
			outcome := perf.Outcome{Success: true, Latency: elapsed}
			if tokens != nil {
				outcome.Tokens = tokens(result)
			}
			c.record(sess.backend.ID, outcome)
			return result, nil
		}
		if aborted(ctx, err) {
			return zero, err
		}

		c.cfg.Metrics.RecordAttempt(ctx, sess.backend.ID, op, elapsed, err)
		c.record(sess.backend.ID, perf.Outcome{Success: false, Latency: elapsed})
		c.release(sess)
		last = tagged(err, sess.backend.ID)

		if llm.IsUnsupportedError(err) {
			span.SetStatus(codes.Error, last.Error())
			return zero, last
		}
		excluded[sess.backend.ID] = true
		c.logger.Warn().
			Err(err).
			Str("backend", sess.backend.ID).
			Str("op", op).
			Int("attempt", attempt).
			Int("maxAttempts", c.cfg.MaxAttempts).
			Msg("Backend attempt failed")
	}

	c.cfg.Metrics.RecordExhausted(ctx, op)
	exhausted := llm.NewExhaustedError(c.cfg.MaxAttempts, last)
	span.SetStatus(codes.Error, exhausted.Error())
	c.logger.Error().Err(last).Str("op", op).Int("attempts", c.cfg.MaxAttempts).Msg("All backends exhausted")
	return zero, exhausted
}

// responseTokens returns reported output tokens, or an estimate from the text.
func responseTokens(resp *llm.Response) int {
	if resp == nil {
		return 0
	}
	if resp.Usage != nil && resp.Usage.OutputTokens > 0 {
		return int(resp.Usage.OutputTokens)
	}
	var n int
	for _, m := range resp.Messages() {
		n += llm.EstimateTokens(m.Content)
	}
	return n
}
