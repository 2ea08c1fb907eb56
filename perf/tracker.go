package perf

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Store persists backend descriptors between runs.
type Store interface {
	Load(ctx context.Context) ([]Backend, error)
	Save(ctx context.Context, backends []Backend) error
}

// Tracker owns the backend pool and its performance records.
// Every update is persisted in the background; persistence is advisory and
// failures are only logged.
type Tracker struct {
	mu       sync.RWMutex
	backends map[string]*Backend
	order    []string
	store    Store
	logger   zerolog.Logger
	now      func() time.Time

	seq       uint64
	saveMu    sync.Mutex
	savedSeq  uint64
	saveGroup sync.WaitGroup
}

// NewTracker creates a Tracker. A nil store disables persistence.
func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	return &Tracker{
		backends: make(map[string]*Backend),
		store:    store,
		logger:   logger.With().Str("component", "perfTracker").Logger(),
		now:      time.Now,
	}
}

// Load reads persisted records. Records for backends that are registered
// later keep their stats; records that are never registered stay disabled.
func (t *Tracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	loaded, err := t.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load performance records: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range loaded {
		if _, exists := t.backends[b.ID]; exists {
			continue
		}
		b.Enabled = false
		if b.Weight == 0 {
			b.Weight = InitialWeight
		}
		t.backends[b.ID] = &b
		t.order = append(t.order, b.ID)
	}
	t.logger.Debug().Int("count", len(loaded)).Msg("Loaded performance records")
	return nil
}

// Register adds a backend to the pool or refreshes the static fields of a
// known one. Stats of known backends are preserved.
func (t *Tracker) Register(b Backend) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if existing, ok := t.backends[b.ID]; ok {
		existing.Family = b.Family
		existing.BaseURL = b.BaseURL
		existing.Model = b.Model
		existing.APIKeyRef = b.APIKeyRef
		existing.Timeout = b.Timeout
		existing.Enabled = b.Enabled
		return
	}

	b.Weight = InitialWeight
	b.Stats = Stats{}
	b.CreatedAt = now
	b.UpdatedAt = now
	t.backends[b.ID] = &b
	t.order = append(t.order, b.ID)
}

// Record folds an attempt outcome into the backend's record and schedules persistence.
func (t *Tracker) Record(id string, o Outcome) error {
	t.mu.Lock()
	b, ok := t.backends[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("unknown backend %q", id)
	}
	b.apply(o, t.now())
	t.seq++
	seq := t.seq
	snapshot := t.snapshotLocked()
	weight := b.Weight
	t.mu.Unlock()

	t.logger.Debug().
		Str("backend", id).
		Bool("success", o.Success).
		Dur("latency", o.Latency).
		Float64("weight", weight).
		Msg("Recorded backend outcome")

	t.persist(seq, snapshot)
	return nil
}

// persist writes the snapshot in the background. Older snapshots that
// finish after newer ones are dropped.
func (t *Tracker) persist(seq uint64, snapshot []Backend) {
	if t.store == nil {
		return
	}
	t.saveGroup.Add(1)
	go func() {
		defer t.saveGroup.Done()
		t.saveMu.Lock()
		defer t.saveMu.Unlock()
		if seq <= t.savedSeq {
			return
		}
		if err := t.store.Save(context.Background(), snapshot); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to persist performance records")
			return
		}
		t.savedSeq = seq
	}()
}

// Flush writes the current state synchronously.
func (t *Tracker) Flush(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	t.mu.RLock()
	seq := t.seq
	snapshot := t.snapshotLocked()
	t.mu.RUnlock()

	t.saveMu.Lock()
	defer t.saveMu.Unlock()
	if err := t.store.Save(ctx, snapshot); err != nil {
		return err
	}
	t.savedSeq = max(t.savedSeq, seq)
	return nil
}

// Wait blocks until background persistence has finished.
func (t *Tracker) Wait() {
	t.saveGroup.Wait()
}

// Snapshot returns copies of every known backend in registration order.
func (t *Tracker) Snapshot() []Backend {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() []Backend {
	return lo.Map(t.order, func(id string, _ int) Backend {
		return *t.backends[id]
	})
}

// Enabled returns the selection pool: copies of every enabled backend.
func (t *Tracker) Enabled() []Backend {
	return lo.Filter(t.Snapshot(), func(b Backend, _ int) bool {
		return b.Enabled
	})
}

// Get returns a copy of one backend.
func (t *Tracker) Get(id string) (Backend, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.backends[id]
	if !ok {
		return Backend{}, false
	}
	return *b, true
}
