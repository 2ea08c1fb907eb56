// Package sse decodes line-framed streaming replies into incremental responses.
//
// It covers server-sent events ("data:" framed, optional literal sentinel) as
// well as newline-delimited JSON (no prefix). Protocol specifics live in a
// FrameFunc supplied by each backend family; the decoder owns line buffering,
// channel markers, tool-call accumulation and connection lifetime.
package sse

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	// DataPrefix frames server-sent event payloads.
	DataPrefix = "data:"
	// DoneSentinel terminates chat-completion streams.
	DoneSentinel = "[DONE]"

	readChunkSize = 4096
)

// Frame is the decoded content of one payload.
type Frame struct {
	Messages     []llm.ChannelMessage
	FinishReason string
	Usage        *llm.Usage
	// Done marks a payload that terminates the stream.
	Done bool
	// Err aborts the stream, for protocols that report failures in-band.
	Err error
}

// FrameFunc decodes one JSON payload. It may read or update the decode state,
// for example to accumulate tool-call fragments.
type FrameFunc func(state *DecodeState, payload []byte) Frame

// Config describes the framing of one protocol.
type Config struct {
	// Prefix is required on payload lines; other lines are ignored.
	// An empty prefix treats every non-blank line as a payload.
	Prefix string
	// Sentinel is an optional literal payload that terminates the stream.
	Sentinel string
	Decode   FrameFunc
}

// Decoder implements llm.Stream over a streaming HTTP body.
type Decoder struct {
	ctx     context.Context
	body    io.ReadCloser
	cfg     Config
	state   *DecodeState
	logger  zerolog.Logger
	readBuf []byte

	queue   []*llm.Response
	current *llm.Response
	done    bool
	err     error

	closeOnce sync.Once
}

// NewDecoder creates a decoder that reads body until a terminal frame, EOF,
// an error, or cancellation of ctx.
func NewDecoder(ctx context.Context, body io.ReadCloser, cfg Config, logger zerolog.Logger) *Decoder {
	return &Decoder{
		ctx:     ctx,
		body:    body,
		cfg:     cfg,
		state:   NewDecodeState(),
		logger:  logger.With().Str("component", "sseDecoder").Logger(),
		readBuf: make([]byte, readChunkSize),
	}
}

// Next implements llm.Stream.Next.
func (d *Decoder) Next() bool {
	for {
		if d.err != nil {
			return false
		}
		if err := d.ctx.Err(); err != nil {
			d.fail(err)
			return false
		}
		if len(d.queue) > 0 {
			d.current = d.queue[0]
			d.queue = d.queue[1:]
			return true
		}
		if d.done {
			return false
		}

		n, err := d.body.Read(d.readBuf)
		if n > 0 {
			for _, line := range d.state.Feed(d.readBuf[:n]) {
				d.handleLine(line)
				if d.done {
					break
				}
			}
		}
		if err != nil && !d.done {
			switch {
			case errors.Is(err, io.EOF):
				if rest := d.state.Remainder(); rest != "" {
					d.handleLine(rest)
				}
				if !d.done {
					d.finish()
				}
			case d.ctx.Err() != nil:
				d.fail(d.ctx.Err())
			default:
				d.fail(llm.NewNetworkError("stream read failed", err))
			}
		}
	}
}

// Current implements llm.Stream.Current.
func (d *Decoder) Current() *llm.Response {
	return d.current
}

// Err implements llm.Stream.Err.
func (d *Decoder) Err() error {
	return d.err
}

// Close implements llm.Stream.Close. It is safe to call more than once.
func (d *Decoder) Close() error {
	var err error
	d.closeOnce.Do(func() {
		err = d.body.Close()
	})
	d.queue = nil
	d.done = true
	return err
}

func (d *Decoder) handleLine(line string) {
	var payload string
	if d.cfg.Prefix != "" {
		if !strings.HasPrefix(line, d.cfg.Prefix) {
			return
		}
		payload = strings.TrimSpace(line[len(d.cfg.Prefix):])
	} else {
		payload = strings.TrimSpace(line)
	}
	if payload == "" {
		return
	}
	if d.cfg.Sentinel != "" && payload == d.cfg.Sentinel {
		d.finish()
		return
	}
	if !gjson.Valid(payload) {
		d.logger.Warn().Str("payload", truncate(payload, 200)).Msg("Skipping unparseable stream frame")
		return
	}

	frame := d.cfg.Decode(d.state, []byte(payload))
	if frame.Err != nil {
		d.fail(frame.Err)
		return
	}
	d.enqueue(frame.Messages, frame.FinishReason, frame.Usage)
	if frame.Done {
		d.finish()
	}
}

func (d *Decoder) enqueue(msgs []llm.ChannelMessage, finishReason string, usage *llm.Usage) {
	msgs = d.state.Mark(msgs)
	if len(msgs) == 0 && finishReason == "" && usage == nil {
		return
	}
	resp := llm.NewResponse(msgs, finishReason)
	resp.Usage = usage
	d.queue = append(d.queue, resp)
}

// finish flushes pending tool calls, resets per-stream state and releases the connection.
func (d *Decoder) finish() {
	if d.state.HasPendingCalls() {
		d.enqueue(d.state.FinishToolCallMessages(), "", nil)
	}
	d.state.Reset()
	d.done = true
	d.closeOnce.Do(func() {
		if err := d.body.Close(); err != nil {
			d.logger.Debug().Err(err).Msg("Failed to close stream body")
		}
	})
}

// fail records err, drops undelivered responses and releases the connection.
func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
	d.queue = nil
	d.done = true
	_ = d.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
