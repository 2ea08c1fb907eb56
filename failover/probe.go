package failover

import (
	"context"
	"time"

	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/aschepis/backscratcher/relay/perf"
)

// ProbeResult is the outcome of one health probe.
type ProbeResult struct {
	Backend string
	Latency time.Duration
	Err     error
}

// Probe sends req to backend b directly, bypassing selection and the held
// generator, and records the outcome like any other attempt.
func (c *Controller) Probe(ctx context.Context, b perf.Backend, req *llm.Request) ProbeResult {
	result := ProbeResult{Backend: b.ID}

	gen, err := c.factory(ctx, b)
	if err != nil {
		c.record(b.ID, perf.Outcome{Success: false})
		result.Err = err
		return result
	}

	attemptCtx, cancel := attemptContext(ctx, b)
	defer cancel()
	start := time.Now()
	resp, err := llm.WrapWithMiddleware(gen, c.cfg.Middleware...).GenerateContent(attemptCtx, req)
	result.Latency = time.Since(start)
	if err != nil {
		result.Err = tagged(err, b.ID)
		if aborted(ctx, err) {
			return result
		}
		c.cfg.Metrics.RecordAttempt(ctx, b.ID, "probe", result.Latency, err)
		c.record(b.ID, perf.Outcome{Success: false, Latency: result.Latency})
		return result
	}

	c.cfg.Metrics.RecordAttempt(ctx, b.ID, "probe", result.Latency, nil)
	c.record(b.ID, perf.Outcome{Success: true, Latency: result.Latency, Tokens: responseTokens(resp)})
	return result
}
