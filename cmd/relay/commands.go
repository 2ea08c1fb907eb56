package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/aschepis/backscratcher/relay/perf"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// probePrompt is the one-turn request used by the probe command.
const probePrompt = "Reply with the single word: pong"

func newRequestID() string {
	return "req_" + uuid.NewString()[:8]
}

func (a *app) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "generate":
		return a.generate(ctx, args, os.Stdout)
	case "count":
		return a.count(ctx, args, os.Stdout)
	case "embed":
		return a.embed(ctx, args, os.Stdout)
	case "stats":
		return a.stats(os.Stdout)
	case "probe":
		return a.probe(ctx, os.Stdout)
	case "models":
		return a.listModels(ctx, os.Stdout)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// request builds a single-turn user request from the prompt.
func (a *app) request(prompt string) *llm.Request {
	req := &llm.Request{Turns: []llm.Turn{llm.NewTextTurn(llm.RoleUser, prompt)}}
	req.Config.Model = a.model
	return req
}

func promptArg(args []string) (string, error) {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return "", errors.New("a prompt is required")
	}
	return prompt, nil
}

func (a *app) generate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	noStream := fs.Bool("no-stream", false, "Wait for the complete response instead of streaming")
	system := fs.String("system", "", "System instruction")
	maxTokens := fs.Int("max-tokens", 0, "Maximum output tokens (0 for the backend default)")
	temperature := fs.Float64("temperature", -1, "Sampling temperature (negative for the backend default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	prompt, err := promptArg(fs.Args())
	if err != nil {
		return err
	}

	req := a.request(prompt)
	req.Config.SystemInstruction = *system
	req.Config.MaxOutputTokens = *maxTokens
	if *temperature >= 0 {
		req.Config.Temperature = temperature
	}

	r := newRenderer(out)
	if *noStream {
		resp, err := a.controller.GenerateContent(ctx, req)
		if err != nil {
			return err
		}
		r.Write(resp.Messages())
		r.Finish(resp.Usage)
		return nil
	}

	stream, err := a.controller.GenerateContentStream(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close() //nolint:errcheck // No remedy for stream close errors

	var usage *llm.Usage
	for stream.Next() {
		resp := stream.Current()
		r.Write(resp.Messages())
		if resp.Usage != nil {
			usage = resp.Usage
		}
	}
	r.Finish(usage)
	return stream.Err()
}

func (a *app) count(ctx context.Context, args []string, out io.Writer) error {
	prompt, err := promptArg(args)
	if err != nil {
		return err
	}
	n, err := a.controller.CountTokens(ctx, a.request(prompt))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, n)
	return nil
}

func (a *app) embed(ctx context.Context, args []string, out io.Writer) error {
	text, err := promptArg(args)
	if err != nil {
		return err
	}
	vec, err := a.controller.EmbedContent(ctx, a.request(text))
	if err != nil {
		return err
	}
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%g", v)
	}
	fmt.Fprintf(out, "[%s]\n", strings.Join(parts, ", "))
	return nil
}

func (a *app) stats(out io.Writer) error {
	return writeStats(out, a.tracker.Snapshot())
}

// writeStats prints one row per backend record.
func writeStats(out io.Writer, backends []perf.Backend) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFAMILY\tENABLED\tWEIGHT\tREQUESTS\tSUCCESS\tLATENCY\tTOKENS/S\tLAST SUCCESS")
	for _, b := range backends {
		last := "-"
		if !b.Stats.LastSuccess.IsZero() {
			last = b.Stats.LastSuccess.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%.3f\t%d\t%.1f%%\t%.0fms\t%.1f\t%s\n",
			b.ID,
			b.Family,
			b.Enabled,
			b.Weight,
			b.Stats.TotalRequests,
			b.Stats.SuccessRate()*100,
			b.Stats.AvgLatencyMs,
			b.Stats.AvgTokensPerSecond,
			last,
		)
	}
	return tw.Flush()
}

func (a *app) probe(ctx context.Context, out io.Writer) error {
	pool := a.tracker.Enabled()
	if len(pool) == 0 {
		return errors.New("no enabled backends")
	}

	results := make([]string, len(pool))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range pool {
		g.Go(func() error {
			res := a.controller.Probe(gctx, b, a.request(probePrompt))
			if res.Err != nil {
				results[i] = fmt.Sprintf("%s\tFAIL\t%s\t%s", b.ID, res.Latency.Round(time.Millisecond), llm.ErrorTypeOf(res.Err))
				a.logger.Warn().Err(res.Err).Str("backend", b.ID).Msg("Probe failed")
				return nil
			}
			results[i] = fmt.Sprintf("%s\tOK\t%s\t", b.ID, res.Latency.Round(time.Millisecond))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tLATENCY\tERROR")
	for _, line := range results {
		fmt.Fprintln(tw, line)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return writeStats(out, a.tracker.Enabled())
}

func (a *app) listModels(ctx context.Context, out io.Writer) error {
	for _, b := range a.tracker.Enabled() {
		models, err := a.controller.ListModels(ctx, b)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", b.ID, err)
			continue
		}
		fmt.Fprintf(out, "%s:\n", b.ID)
		for _, m := range models {
			fmt.Fprintf(out, "  %s\n", m)
		}
	}
	return nil
}
