package perf

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "perf.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	defer store.Close()

	created := time.UnixMilli(1700000000123)
	b := Backend{
		ID:        "a",
		Family:    "openai",
		BaseURL:   "https://example.test/v1",
		Model:     "m",
		Enabled:   true,
		Weight:    2.5,
		CreatedAt: created,
		UpdatedAt: created,
		Stats: Stats{
			SuccessCount:  4,
			FailureCount:  1,
			TotalRequests: 5,
			AvgLatencyMs:  321.5,
			ErrorRate:     0.2,
			LastSuccess:   created,
		},
	}
	ctx := context.Background()
	if err := store.Save(ctx, []Backend{b}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	b.Weight = 3.0
	b.Stats.TotalRequests = 6
	if err := store.Save(ctx, []Backend{b}); err != nil {
		t.Fatalf("Second save: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("Expected 1 row after upsert, got %d", len(loaded))
	}
	got := loaded[0]
	if got.Weight != 3.0 || got.Stats.TotalRequests != 6 || got.Stats.AvgLatencyMs != 321.5 {
		t.Errorf("Unexpected row %+v", got)
	}
	if !got.Stats.LastSuccess.Equal(created) {
		t.Errorf("Expected last success %v, got %v", created, got.Stats.LastSuccess)
	}
	if !got.Stats.LastFailure.IsZero() {
		t.Errorf("Expected zero last failure, got %v", got.Stats.LastFailure)
	}
}
