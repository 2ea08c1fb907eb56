package main

import (
	"fmt"
	"io"

	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/fatih/color"
)

// renderer prints channel messages with a style per channel: analysis dim,
// commentary yellow, final plain.
type renderer struct {
	out        io.Writer
	analysis   *color.Color
	commentary *color.Color
	meta       *color.Color
	last       llm.Channel
	wrote      bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:        out,
		analysis:   color.New(color.Faint),
		commentary: color.New(color.FgYellow),
		meta:       color.New(color.FgCyan),
	}
}

// Write prints messages as they arrive. A marker opens a labelled section.
func (r *renderer) Write(msgs []llm.ChannelMessage) {
	for _, m := range msgs {
		if m.IsMarker() {
			r.section(m.Channel, string(m.Marker))
			continue
		}
		if m.Content == "" {
			continue
		}
		switch m.Channel {
		case llm.ChannelAnalysis:
			r.switchTo(m.Channel, "reasoning")
			r.analysis.Fprint(r.out, m.Content) //nolint:errcheck // Terminal output
		case llm.ChannelCommentary:
			r.switchTo(m.Channel, "commentary")
			r.commentary.Fprint(r.out, m.Content) //nolint:errcheck // Terminal output
		default:
			r.switchTo(llm.ChannelFinal, "")
			fmt.Fprint(r.out, m.Content)
		}
		r.wrote = true
	}
}

// switchTo opens a section when output moves to another channel without a marker.
func (r *renderer) switchTo(ch llm.Channel, label string) {
	if r.last == ch {
		return
	}
	r.section(ch, label)
}

func (r *renderer) section(ch llm.Channel, label string) {
	if r.wrote {
		fmt.Fprintln(r.out)
	}
	if label != "" {
		r.meta.Fprintf(r.out, "[%s]\n", label) //nolint:errcheck // Terminal output
	}
	r.last = ch
	r.wrote = false
}

// Finish ends the output and prints token usage when known.
func (r *renderer) Finish(usage *llm.Usage) {
	fmt.Fprintln(r.out)
	if usage != nil {
		r.meta.Fprintf(r.out, "[tokens in=%d out=%d]\n", usage.InputTokens, usage.OutputTokens) //nolint:errcheck // Terminal output
	}
}
