package sse

import (
	"bytes"
	"sort"
	"strings"

	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/aschepis/backscratcher/relay/llm/channel"
)

// PendingCall is a tool call whose arguments are still arriving in fragments.
type PendingCall struct {
	Index int
	ID    string
	Name  string
	Args  strings.Builder
}

// DecodeState is the per-connection decoding state. It is owned by a single
// stream and must not be shared between connections.
type DecodeState struct {
	buf     []byte
	opened  map[llm.Channel]bool
	pending map[int]*PendingCall
}

// NewDecodeState creates an empty decode state.
func NewDecodeState() *DecodeState {
	return &DecodeState{
		opened:  make(map[llm.Channel]bool),
		pending: make(map[int]*PendingCall),
	}
}

// Feed appends a chunk of bytes and returns every complete line it closes.
// The trailing incomplete line stays buffered until the next chunk.
func (s *DecodeState) Feed(chunk []byte) []string {
	s.buf = append(s.buf, chunk...)
	var lines []string
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimSuffix(string(s.buf[:i]), "\r"))
		s.buf = s.buf[i+1:]
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return lines
}

// Remainder returns and clears whatever partial line is still buffered.
func (s *DecodeState) Remainder() string {
	rest := strings.TrimSuffix(string(s.buf), "\r")
	s.buf = nil
	return rest
}

// Mark drops empty content and inserts a channel-start marker before the first
// analysis or commentary message of the stream. Each marker is emitted at most
// once until Reset.
func (s *DecodeState) Mark(msgs []llm.ChannelMessage) []llm.ChannelMessage {
	out := make([]llm.ChannelMessage, 0, len(msgs)+1)
	for _, m := range msgs {
		if m.IsMarker() {
			continue
		}
		if m.Content == "" {
			continue
		}
		if marker := llm.MarkerFor(m.Channel); marker != llm.MarkerNone && !s.opened[m.Channel] {
			s.opened[m.Channel] = true
			out = append(out, llm.ChannelMessage{Channel: m.Channel, Marker: marker})
		}
		out = append(out, m)
	}
	return out
}

// AddToolFragment accumulates a tool-call fragment by index. Identity fields
// are kept from the first fragment that carries them.
func (s *DecodeState) AddToolFragment(index int, id, name, args string) {
	p, ok := s.pending[index]
	if !ok {
		p = &PendingCall{Index: index}
		s.pending[index] = p
	}
	if p.ID == "" {
		p.ID = id
	}
	if p.Name == "" {
		p.Name = name
	}
	p.Args.WriteString(args)
}

// HasPendingCalls reports whether any tool call is being accumulated.
func (s *DecodeState) HasPendingCalls() bool {
	return len(s.pending) > 0
}

// FinishToolCalls finalizes all pending tool calls in index order and clears them.
// An argument buffer that does not parse yields empty arguments.
func (s *DecodeState) FinishToolCalls() []llm.FunctionCall {
	if len(s.pending) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(s.pending))
	for idx := range s.pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	calls := make([]llm.FunctionCall, 0, len(indexes))
	for _, idx := range indexes {
		p := s.pending[idx]
		calls = append(calls, llm.FunctionCall{
			ID:   p.ID,
			Name: p.Name,
			Args: channel.DecodeArgs(p.Args.String()),
		})
	}
	s.pending = make(map[int]*PendingCall)
	return calls
}

// FinishToolCallMessages finalizes pending tool calls as commentary messages.
func (s *DecodeState) FinishToolCallMessages() []llm.ChannelMessage {
	calls := s.FinishToolCalls()
	msgs := make([]llm.ChannelMessage, 0, len(calls))
	for _, c := range calls {
		msgs = append(msgs, llm.FunctionCallMessage(c))
	}
	return msgs
}

// Reset clears markers and pending calls at a terminal sentinel.
func (s *DecodeState) Reset() {
	s.opened = make(map[llm.Channel]bool)
	s.pending = make(map[int]*PendingCall)
}
