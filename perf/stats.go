// Package perf tracks per-backend performance and derives selection weights.
package perf

import (
	"math"
	"time"

	"github.com/aschepis/backscratcher/relay/llm"
)

const (
	// emaAlpha is the smoothing factor for latency and throughput averages.
	emaAlpha = 0.1

	// MinWeight and MaxWeight bound every computed weight.
	MinWeight = 0.1
	MaxWeight = 5.0

	// InitialWeight is assigned to a backend before it has any history.
	InitialWeight = 1.0

	referenceLatencyMs = 2000.0
	latencyFloorMs     = 100.0
	maxLatencyBoost    = 2.0
)

// Stats holds the cumulative performance record of one backend.
type Stats struct {
	SuccessCount       int64     `json:"successCount"`
	FailureCount       int64     `json:"failureCount"`
	TotalRequests      int64     `json:"totalRequests"`
	AvgLatencyMs       float64   `json:"avgLatencyMs"`
	AvgTokensPerSecond float64   `json:"avgTokensPerSecond"`
	ErrorRate          float64   `json:"errorRate"`
	LastUsed           time.Time `json:"lastUsed,omitzero"`
	LastSuccess        time.Time `json:"lastSuccess,omitzero"`
	LastFailure        time.Time `json:"lastFailure,omitzero"`
}

// SuccessRate returns successes over total requests, or 0 with no history.
func (s Stats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TotalRequests)
}

// Backend is a backend descriptor as held in the selection pool.
type Backend struct {
	ID        string        `json:"id"`
	Family    string        `json:"family"`
	BaseURL   string        `json:"baseUrl"`
	Model     string        `json:"model,omitempty"`
	APIKeyRef string        `json:"-"`
	Timeout   time.Duration `json:"-"`
	Enabled   bool          `json:"enabled"`
	Weight    float64       `json:"weight"`
	Stats     Stats         `json:"stats"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Ref returns the static identity used to resolve the backend's endpoint.
func (b Backend) Ref() llm.BackendRef {
	return llm.BackendRef{
		ID:        b.ID,
		Family:    b.Family,
		BaseURL:   b.BaseURL,
		APIKeyRef: b.APIKeyRef,
		Model:     b.Model,
		Timeout:   b.Timeout,
	}
}

// Outcome is the result of one completed attempt against a backend.
type Outcome struct {
	Success bool
	Latency time.Duration
	// Tokens produced by the attempt, reported or estimated. Zero skips the throughput update.
	Tokens int
}

// Weight computes a selection weight from a backend's record:
//
//	clamp(0.1, 5.0, (0.5 + successRate) × min(2, 2000 / max(avgLatencyMs, 100)) × (1 − 0.5 × errorRate))
func Weight(successRate, avgLatencyMs, errorRate float64) float64 {
	latencyFactor := math.Min(maxLatencyBoost, referenceLatencyMs/math.Max(avgLatencyMs, latencyFloorMs))
	w := (0.5 + successRate) * latencyFactor * (1 - 0.5*errorRate)
	return math.Max(MinWeight, math.Min(MaxWeight, w))
}

func ema(prev, sample float64, first bool) float64 {
	if first {
		return sample
	}
	return emaAlpha*sample + (1-emaAlpha)*prev
}

// apply folds an outcome into the backend's stats and recomputes its weight.
func (b *Backend) apply(o Outcome, now time.Time) {
	s := &b.Stats
	s.TotalRequests++
	s.LastUsed = now
	if o.Success {
		s.SuccessCount++
		s.LastSuccess = now
		latencyMs := float64(o.Latency) / float64(time.Millisecond)
		s.AvgLatencyMs = ema(s.AvgLatencyMs, latencyMs, s.SuccessCount == 1)
		if o.Tokens > 0 && o.Latency > 0 {
			tps := float64(o.Tokens) / o.Latency.Seconds()
			s.AvgTokensPerSecond = ema(s.AvgTokensPerSecond, tps, s.AvgTokensPerSecond == 0)
		}
	} else {
		s.FailureCount++
		s.LastFailure = now
	}
	s.ErrorRate = float64(s.FailureCount) / float64(s.TotalRequests)
	b.Weight = Weight(s.SuccessRate(), s.AvgLatencyMs, s.ErrorRate)
	b.UpdatedAt = now
}
