package failover

import (
	"context"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/aschepis/backscratcher/relay/observe"
	"github.com/aschepis/backscratcher/relay/perf"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GenerateContentStream implements llm.ContentGenerator.GenerateContentStream.
// Failures before the first response reaches the caller move on to another
// backend; once output has been yielded the error is surfaced.
func (c *Controller) GenerateContentStream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	s := &stream{
		c:        c,
		req:      req,
		excluded: make(map[string]bool),
		pacing:   c.newBackOff(),
	}
	s.ctx, s.span = observe.StartSpan(ctx, "failover."+OpGenerateContentStream)
	if !s.open() {
		err := s.err
		s.finish()
		return nil, err
	}
	return s, nil
}

// stream wraps the stream of the currently selected backend.
type stream struct {
	c        *Controller
	ctx      context.Context
	span     trace.Span
	req      *llm.Request
	excluded map[string]bool
	pacing   backoff.BackOff
	attempt  int
	last     error

	sess    *session
	inner   llm.Stream
	start   time.Time
	yielded bool
	text    strings.Builder
	usage   *llm.Usage

	current *llm.Response
	err     error
	done    bool
}

// open selects backends until one accepts the stream request or attempts run out.
func (s *stream) open() bool {
	c := s.c
	for s.attempt < c.cfg.MaxAttempts {
		s.attempt++
		if s.attempt > 1 {
			if err := pause(s.ctx, s.pacing); err != nil {
				s.err = err
				return false
			}
		}

		sess, err := c.acquire(s.ctx, s.excluded)
		if sess == nil {
			s.err = err
			return false
		}
		if err != nil {
			c.logger.Warn().Err(err).Str("backend", sess.backend.ID).Msg("Failed to build generator")
			c.record(sess.backend.ID, perf.Outcome{Success: false})
			s.excluded[sess.backend.ID] = true
			s.last = err
			continue
		}

		s.start = time.Now()
		inner, err := sess.gen.GenerateContentStream(s.ctx, s.req)
		if err != nil {
			if s.failed(sess, err) {
				return false
			}
			continue
		}
		s.sess = sess
		s.inner = inner
		return true
	}

	c.cfg.Metrics.RecordExhausted(s.ctx, OpGenerateContentStream)
	c.logger.Error().Err(s.last).Int("attempts", s.attempt).Msg("All backends exhausted")
	s.err = llm.NewExhaustedError(s.attempt, s.last)
	return false
}

// failed records a failed attempt and reports whether the stream must stop.
func (s *stream) failed(sess *session, err error) bool {
	c := s.c
	if aborted(s.ctx, err) {
		s.err = err
		return true
	}
	elapsed := time.Since(s.start)
	s.span.AddEvent("attempt", trace.WithAttributes(
		attribute.String("backend", sess.backend.ID),
		attribute.Int("attempt", s.attempt),
		attribute.Bool("success", false),
	))
	c.cfg.Metrics.RecordAttempt(s.ctx, sess.backend.ID, OpGenerateContentStream, elapsed, err)
	c.record(sess.backend.ID, perf.Outcome{Success: false, Latency: elapsed})
	c.release(sess)
	s.last = tagged(err, sess.backend.ID)
	s.excluded[sess.backend.ID] = true

	if llm.IsUnsupportedError(err) || s.yielded {
		s.err = s.last
		return true
	}
	c.logger.Warn().
		Err(err).
		Str("backend", sess.backend.ID).
		Int("attempt", s.attempt).
		Msg("Stream attempt failed before output, retrying")
	return false
}

// Next implements llm.Stream.Next.
func (s *stream) Next() bool {
	for !s.done {
		if s.inner == nil {
			if !s.open() {
				s.finish()
				return false
			}
		}

		if s.inner.Next() {
			resp := s.inner.Current()
			s.yielded = true
			s.observe(resp)
			s.current = resp
			return true
		}

		err := s.inner.Err()
		_ = s.inner.Close()
		s.inner = nil
		sess := s.sess
		s.sess = nil

		if err == nil {
			s.succeeded(sess)
			s.finish()
			return false
		}
		if s.failed(sess, err) {
			s.finish()
			return false
		}
	}
	return false
}

func (s *stream) succeeded(sess *session) {
	elapsed := time.Since(s.start)
	tokens := llm.EstimateTokens(s.text.String())
	if s.usage != nil && s.usage.OutputTokens > 0 {
		tokens = int(s.usage.OutputTokens)
	}
	s.span.AddEvent("attempt", trace.WithAttributes(
		attribute.String("backend", sess.backend.ID),
		attribute.Int("attempt", s.attempt),
		attribute.Bool("success", true),
	))
	s.c.cfg.Metrics.RecordAttempt(s.ctx, sess.backend.ID, OpGenerateContentStream, elapsed, nil)
	s.c.record(sess.backend.ID, perf.Outcome{Success: true, Latency: elapsed, Tokens: tokens})
}

func (s *stream) observe(resp *llm.Response) {
	if resp == nil {
		return
	}
	if resp.Usage != nil {
		s.usage = resp.Usage
	}
	for _, m := range resp.Messages() {
		if !m.IsMarker() {
			s.text.WriteString(m.Content)
		}
	}
}

func (s *stream) finish() {
	if s.done {
		return
	}
	s.done = true
	if s.err != nil {
		s.span.SetStatus(codes.Error, s.err.Error())
	}
	s.span.End()
}

// Current implements llm.Stream.Current.
func (s *stream) Current() *llm.Response {
	return s.current
}

// Err implements llm.Stream.Err.
func (s *stream) Err() error {
	return s.err
}

// Close implements llm.Stream.Close. An abandoned stream is not recorded.
func (s *stream) Close() error {
	var err error
	if s.inner != nil {
		err = s.inner.Close()
		s.inner = nil
	}
	s.finish()
	return err
}
