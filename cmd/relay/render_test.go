package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/aschepis/backscratcher/relay/perf"
	"github.com/fatih/color"
)

func TestRenderer_Sections(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	r := newRenderer(&buf)

	r.Write([]llm.ChannelMessage{
		{Channel: llm.ChannelAnalysis, Marker: llm.MarkerReasoning},
		{Channel: llm.ChannelAnalysis, Content: "thinking"},
	})
	r.Write([]llm.ChannelMessage{{Channel: llm.ChannelFinal, Content: "Hel"}})
	r.Write([]llm.ChannelMessage{{Channel: llm.ChannelFinal, Content: "lo"}})
	r.Finish(&llm.Usage{InputTokens: 3, OutputTokens: 2})

	want := "[reasoning]\nthinking\nHello\n[tokens in=3 out=2]\n"
	if got := buf.String(); got != want {
		t.Errorf("Unexpected output:\n%q\nwant\n%q", got, want)
	}
}

func TestRenderer_CommentaryWithoutMarker(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	r := newRenderer(&buf)
	r.Write([]llm.ChannelMessage{{Channel: llm.ChannelCommentary, Content: `{"name":"search"}`}})
	r.Finish(nil)

	if got := buf.String(); got != "[commentary]\n{\"name\":\"search\"}\n" {
		t.Errorf("Unexpected output %q", got)
	}
}

func TestWriteStats(t *testing.T) {
	var buf bytes.Buffer
	backends := []perf.Backend{{
		ID:      "deepseek",
		Family:  llm.FamilyOpenAI,
		Enabled: true,
		Weight:  1.25,
		Stats: perf.Stats{
			TotalRequests: 4,
			SuccessCount:  3,
			FailureCount:  1,
			AvgLatencyMs:  820,
			LastSuccess:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}}
	if err := writeStats(&buf, backends); err != nil {
		t.Fatalf("writeStats: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"deepseek", "1.250", "75.0%", "820ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
}

func TestPromptArg(t *testing.T) {
	if _, err := promptArg(nil); err == nil {
		t.Error("Expected error for empty prompt")
	}
	got, err := promptArg([]string{"hello", "world"})
	if err != nil || got != "hello world" {
		t.Errorf("promptArg = %q, %v", got, err)
	}
}
