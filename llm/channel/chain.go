// Package channel normalizes heterogeneous backend payloads into channel messages.
//
// A Chain holds an ordered list of adapters. Each adapter pairs a detection
// predicate with an extractor; the first adapter that recognizes a payload and
// extracts it without error wins. The chain never fails and never returns an
// empty slice: unrecognized payloads become a single final message carrying the
// payload as JSON text.
package channel

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Adapter recognizes one payload shape and extracts channel messages from it.
type Adapter struct {
	Name    string
	Detect  func(raw []byte) bool
	Extract func(raw []byte) ([]llm.ChannelMessage, error)
	// FallbackFunc is optional; Fallback is used when nil.
	FallbackFunc func(raw []byte) []llm.ChannelMessage
}

// Fallback renders raw as a single final message.
func (a Adapter) Fallback(raw []byte) []llm.ChannelMessage {
	if a.FallbackFunc != nil {
		return a.FallbackFunc(raw)
	}
	return Fallback(raw)
}

// Chain runs adapters in order until one produces messages.
type Chain struct {
	adapters []Adapter
	logger   zerolog.Logger
}

// NewChain creates a chain with the given adapters, tried in order.
func NewChain(logger zerolog.Logger, adapters ...Adapter) *Chain {
	return &Chain{
		adapters: adapters,
		logger:   logger.With().Str("component", "channelChain").Logger(),
	}
}

// DefaultChain returns the standard ordering: chat deltas, structured turns, passthrough.
func DefaultChain(logger zerolog.Logger) *Chain {
	return NewChain(logger, ChatDelta(), StructuredTurn(), Passthrough())
}

// Adapters returns the adapter names in evaluation order.
func (c *Chain) Adapters() []string {
	names := make([]string, len(c.adapters))
	for i, a := range c.adapters {
		names[i] = a.Name
	}
	return names
}

// Process converts a raw payload into one or more channel messages.
func (c *Chain) Process(raw []byte) []llm.ChannelMessage {
	for _, a := range c.adapters {
		msgs, ok := c.try(a, raw)
		if !ok {
			continue
		}
		if len(msgs) == 0 {
			// Recognized, but the payload carried nothing (role-only or finish-only deltas).
			return []llm.ChannelMessage{{Channel: llm.ChannelFinal}}
		}
		return msgs
	}
	return Fallback(raw)
}

// ProcessValue marshals v and runs it through the chain.
func (c *Chain) ProcessValue(v any) []llm.ChannelMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return []llm.ChannelMessage{{Channel: llm.ChannelFinal, Content: fmt.Sprint(v)}}
	}
	return c.Process(raw)
}

// try runs one adapter, converting a panic or an extract error into a miss.
func (c *Chain) try(a Adapter, raw []byte) (msgs []llm.ChannelMessage, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn().Str("adapter", a.Name).Interface("panic", r).Msg("Adapter panicked, trying next")
			msgs, ok = nil, false
		}
	}()

	if !a.Detect(raw) {
		return nil, false
	}
	msgs, err := a.Extract(raw)
	if err != nil {
		c.logger.Warn().Err(err).Str("adapter", a.Name).Msg("Adapter extract failed, trying next")
		return nil, false
	}
	return msgs, true
}

// Fallback renders any payload as a single final message holding its JSON text.
// Payloads that are not valid JSON are rendered as a JSON string.
func Fallback(raw []byte) []llm.ChannelMessage {
	var text string
	switch {
	case len(raw) == 0:
		text = "null"
	case gjson.ValidBytes(raw):
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			text = string(raw)
		} else {
			text = buf.String()
		}
	default:
		quoted, _ := json.Marshal(string(raw))
		text = string(quoted)
	}
	return []llm.ChannelMessage{{Channel: llm.ChannelFinal, Content: text}}
}
