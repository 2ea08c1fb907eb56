package perf

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTracker_RegisterAndRecord(t *testing.T) {
	tr := NewTracker(nil, zerolog.Nop())
	tr.Register(Backend{ID: "a", Family: "openai", Enabled: true})
	tr.Register(Backend{ID: "b", Family: "gemini", Enabled: false})

	if got := tr.Enabled(); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("Unexpected enabled pool %+v", got)
	}
	if b, _ := tr.Get("a"); b.Weight != InitialWeight {
		t.Errorf("Expected initial weight, got %v", b.Weight)
	}

	if err := tr.Record("a", Outcome{Success: false}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	b, _ := tr.Get("a")
	if b.Stats.FailureCount != 1 {
		t.Errorf("Expected one failure, got %d", b.Stats.FailureCount)
	}
	if err := tr.Record("missing", Outcome{}); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestTracker_RegisterKeepsStats(t *testing.T) {
	tr := NewTracker(nil, zerolog.Nop())
	tr.Register(Backend{ID: "a", Enabled: true, Model: "m1"})
	_ = tr.Record("a", Outcome{Success: true, Latency: time.Second})
	tr.Register(Backend{ID: "a", Enabled: true, Model: "m2"})

	b, _ := tr.Get("a")
	if b.Model != "m2" {
		t.Errorf("Expected refreshed model, got %q", b.Model)
	}
	if b.Stats.SuccessCount != 1 {
		t.Errorf("Expected stats to survive re-registration, got %+v", b.Stats)
	}
}

func TestTracker_PersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "performance.json")
	store := NewJSONStore(path)

	tr := NewTracker(store, zerolog.Nop())
	tr.Register(Backend{ID: "a", Family: "openai", Enabled: true})
	for i := 0; i < 5; i++ {
		_ = tr.Record("a", Outcome{Success: i%2 == 0, Latency: 300 * time.Millisecond})
	}
	tr.Wait()
	if err := tr.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reloaded := NewTracker(store, zerolog.Nop())
	if err := reloaded.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := reloaded.Enabled(); len(got) != 0 {
		t.Errorf("Loaded records must stay disabled until registered, got %d", len(got))
	}
	reloaded.Register(Backend{ID: "a", Family: "openai", Enabled: true})

	b, ok := reloaded.Get("a")
	if !ok {
		t.Fatal("Expected backend after reload")
	}
	if b.Stats.TotalRequests != 5 || b.Stats.SuccessCount != 3 {
		t.Errorf("Unexpected reloaded stats %+v", b.Stats)
	}
	want, _ := tr.Get("a")
	if b.Weight != want.Weight {
		t.Errorf("Expected weight %v, got %v", want.Weight, b.Weight)
	}
}

func TestJSONStore_MissingFile(t *testing.T) {
	store := NewJSONStore(filepath.Join(t.TempDir(), "none.json"))
	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected empty store, got %d", len(got))
	}
}
