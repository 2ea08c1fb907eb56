package failover

import (
	"context"
	"testing"

	"github.com/aschepis/backscratcher/relay/llm"
)

func chunk(text string) *llm.Response {
	return llm.NewResponse([]llm.ChannelMessage{{Channel: llm.ChannelFinal, Content: text}}, "")
}

func TestStream_FailsOverBeforeFirstItem(t *testing.T) {
	f := newFixture("a", "b")
	f.gens["a"].err = llm.NewBackendError(502, "bad gateway")
	f.gens["b"].items = []*llm.Response{chunk("he"), chunk("llo")}
	c := f.controller(Config{Selector: seedPicking(t, f.tracker.Enabled(), "a")})

	stream, err := c.GenerateContentStream(context.Background(), userRequest())
	if err != nil {
		t.Fatalf("GenerateContentStream: %v", err)
	}
	resp, err := llm.Collect(stream)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := resp.Text(llm.ChannelFinal); got != "hello" {
		t.Errorf("Expected streamed text from b, got %q", got)
	}
	if got := f.stats(t, "a").FailureCount; got != 1 {
		t.Errorf("Expected a failure recorded for a, got %d", got)
	}
	b := f.stats(t, "b")
	if b.SuccessCount != 1 {
		t.Errorf("Expected success recorded for b, got %d", b.SuccessCount)
	}
}

func TestStream_MidStreamFailureBeforeOutputRetries(t *testing.T) {
	f := newFixture("a", "b")
	f.gens["a"].streamErr = llm.NewNetworkError("connection reset", nil)
	f.gens["b"].items = []*llm.Response{chunk("ok")}
	c := f.controller(Config{Selector: seedPicking(t, f.tracker.Enabled(), "a")})

	stream, err := c.GenerateContentStream(context.Background(), userRequest())
	if err != nil {
		t.Fatalf("GenerateContentStream: %v", err)
	}
	resp, err := llm.Collect(stream)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.Text(llm.ChannelFinal) != "ok" {
		t.Errorf("Unexpected text %q", resp.Text(llm.ChannelFinal))
	}
}

func TestStream_FailureAfterOutputSurfaces(t *testing.T) {
	f := newFixture("a", "b")
	for _, g := range f.gens {
		g.items = []*llm.Response{chunk("partial")}
		g.streamErr = llm.NewNetworkError("connection reset", nil)
	}
	c := f.controller(Config{})

	stream, err := c.GenerateContentStream(context.Background(), userRequest())
	if err != nil {
		t.Fatalf("GenerateContentStream: %v", err)
	}
	n := 0
	for stream.Next() {
		n++
	}
	_ = stream.Close()
	if n != 1 {
		t.Errorf("Expected one item before the failure, got %d", n)
	}
	if !llm.IsNetworkError(stream.Err()) {
		t.Errorf("Expected network error, got %v", stream.Err())
	}
	if calls := f.gens["a"].called() + f.gens["b"].called(); calls != 1 {
		t.Errorf("Expected no retry after output, got %d calls", calls)
	}
}

func TestStream_Exhausted(t *testing.T) {
	f := newFixture("a")
	f.gens["a"].err = llm.NewBackendError(500, "boom")
	c := f.controller(Config{MaxAttempts: 2})

	_, err := c.GenerateContentStream(context.Background(), userRequest())
	if !llm.IsExhaustedError(err) {
		t.Fatalf("Expected exhausted error, got %v", err)
	}
	if got := f.gens["a"].called(); got != 2 {
		t.Errorf("Expected 2 attempts, got %d", got)
	}
}
