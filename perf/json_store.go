package perf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const jsonStoreVersion = 1

type jsonFile struct {
	Version  int       `json:"version"`
	Backends []Backend `json:"backends"`
}

// JSONStore keeps backend records in a single JSON file. Writes replace the
// whole file atomically; concurrent processes are last-writer-wins.
type JSONStore struct {
	path string
}

// NewJSONStore creates a store backed by path.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Load implements Store.Load. A missing file is an empty store.
func (s *JSONStore) Load(context.Context) ([]Backend, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var f jsonFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	if f.Version > jsonStoreVersion {
		return nil, fmt.Errorf("%s has unsupported version %d", s.path, f.Version)
	}
	return f.Backends, nil
}

// Save implements Store.Save.
func (s *JSONStore) Save(_ context.Context, backends []Backend) error {
	data, err := json.MarshalIndent(jsonFile{Version: jsonStoreVersion, Backends: backends}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal performance records: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".perf-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // Already renamed on success

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write performance records: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}
