package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/relay/llm"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func clearRelayEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"RELAY_MODEL", "RELAY_MAX_ATTEMPTS", "RELAY_TRACKER_PATH"} {
		t.Setenv(name, "")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearRelayEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Failover.MaxAttempts != 3 {
		t.Errorf("Expected default max attempts 3, got %d", cfg.Failover.MaxAttempts)
	}
	if cfg.Tracker.Driver != DriverJSON {
		t.Errorf("Expected json driver, got %q", cfg.Tracker.Driver)
	}
	if strings.HasPrefix(cfg.Tracker.Path, "~") {
		t.Errorf("Expected tracker path to be expanded, got %q", cfg.Tracker.Path)
	}
	if len(cfg.Backends) != 0 {
		t.Errorf("Expected no backends, got %d", len(cfg.Backends))
	}
}

func TestLoad_MergesFileOntoDefaults(t *testing.T) {
	clearRelayEnv(t)
	path := writeConfig(t, `
model: gpt-4o-mini
backends:
  - id: deepseek
    family: openai
    base_url: https://api.deepseek.com/v1/
    api_key_ref: DEEPSEEK_API_KEY
    model: deepseek-reasoner
    timeout: 120
  - id: local
    family: Ollama
    enabled: false
failover:
  initial_backoff_ms: 250
tracker:
  driver: sqlite
  path: /tmp/relay.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Failover.MaxAttempts != 3 {
		t.Errorf("Expected default max attempts to survive merge, got %d", cfg.Failover.MaxAttempts)
	}
	if cfg.InitialBackoff() != 250*time.Millisecond {
		t.Errorf("Unexpected backoff %v", cfg.InitialBackoff())
	}
	if cfg.Tracker.Driver != DriverSQLite || cfg.Tracker.Path != "/tmp/relay.db" {
		t.Errorf("Unexpected tracker config %+v", cfg.Tracker)
	}

	backends := cfg.PerfBackends()
	if len(backends) != 2 {
		t.Fatalf("Expected 2 backends, got %d", len(backends))
	}
	ds := backends[0]
	if ds.BaseURL != "https://api.deepseek.com/v1" || ds.Model != "deepseek-reasoner" || !ds.Enabled {
		t.Errorf("Unexpected deepseek backend %+v", ds)
	}
	if ds.Timeout != 120*time.Second {
		t.Errorf("Expected 120s timeout, got %v", ds.Timeout)
	}
	local := backends[1]
	if local.Family != llm.FamilyOllama {
		t.Errorf("Expected family to be normalized, got %q", local.Family)
	}
	if local.Enabled {
		t.Error("Expected local backend to be disabled")
	}
	if local.Model != "gpt-4o-mini" {
		t.Errorf("Expected top-level model to be inherited, got %q", local.Model)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RELAY_MODEL", "override-model")
	t.Setenv("RELAY_MAX_ATTEMPTS", "5")
	t.Setenv("RELAY_TRACKER_PATH", "/tmp/perf.json")

	cfg, err := Load(writeConfig(t, "model: file-model\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "override-model" {
		t.Errorf("Expected env model, got %q", cfg.Model)
	}
	if cfg.Failover.MaxAttempts != 5 {
		t.Errorf("Expected 5 attempts, got %d", cfg.Failover.MaxAttempts)
	}
	if cfg.Tracker.Path != "/tmp/perf.json" {
		t.Errorf("Expected env tracker path, got %q", cfg.Tracker.Path)
	}
}

func TestLoad_InvalidMaxAttemptsEnv(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("RELAY_MAX_ATTEMPTS", "many")
	if _, err := Load(writeConfig(t, "")); err == nil {
		t.Error("Expected error for non-numeric RELAY_MAX_ATTEMPTS")
	}
}

func TestLoad_DerivesStableIDs(t *testing.T) {
	clearRelayEnv(t)
	body := `
backends:
  - family: ollama
    model: llama3.2
  - family: ollama
    model: qwen3
`
	first, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	second, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a, b := first.Backends[0].ID, first.Backends[1].ID
	if a == b {
		t.Errorf("Expected distinct derived ids, got %q twice", a)
	}
	if !strings.HasPrefix(a, "ollama-") {
		t.Errorf("Expected family prefix, got %q", a)
	}
	if second.Backends[0].ID != a {
		t.Errorf("Expected derived id to be stable, got %q and %q", a, second.Backends[0].ID)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"duplicate id", "backends:\n  - {id: a, family: openai}\n  - {id: a, family: gemini}\n"},
		{"unknown family", "backends:\n  - {id: a, family: bard}\n"},
		{"unknown family override", "families:\n  bard: {model: x}\n"},
		{"negative timeout", "backends:\n  - {id: a, family: openai, timeout: -1}\n"},
		{"bad driver", "tracker: {driver: postgres}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearRelayEnv(t)
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("Expected validation error")
			}
		})
	}

	cfg := Defaults()
	cfg.Failover.MaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero max attempts")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("RELAY_TEST_KEY=from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}
	t.Setenv("RELAY_TEST_KEY", "")
	os.Unsetenv("RELAY_TEST_KEY") //nolint:errcheck // restored by t.Setenv cleanup

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("RELAY_TEST_KEY"); got != "from-dotenv" {
		t.Errorf("Expected value from .env, got %q", got)
	}
	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("Expected missing .env to be ignored, got %v", err)
	}
}

func TestApplyFamilies(t *testing.T) {
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("OPENAI_MODEL", "")
	t.Setenv("OLLAMA_MODEL", "from-env")

	cfg := Defaults()
	cfg.Families[llm.FamilyOpenAI] = FamilyConfig{BaseURL: "http://proxy/v1", Model: "house-model"}
	r := llm.NewRegistry()
	cfg.ApplyFamilies(r)

	d, _ := r.Defaults(llm.FamilyOpenAI)
	if d.BaseURL != "http://proxy/v1" || d.Model != "house-model" {
		t.Errorf("Unexpected openai defaults %+v", d)
	}
	if !d.KeyNeeded {
		t.Error("Expected KeyNeeded to be preserved")
	}
	if d, _ := r.Defaults(llm.FamilyOllama); d.Model != "from-env" {
		t.Errorf("Expected OLLAMA_MODEL to apply, got %q", d.Model)
	}
}

func TestSaveAndLoad(t *testing.T) {
	clearRelayEnv(t)
	enabled := true
	cfg := Defaults()
	cfg.Backends = []BackendConfig{{ID: "g", Family: llm.FamilyGemini, Enabled: &enabled}}
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := Save(&cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Backends) != 1 || loaded.Backends[0].ID != "g" {
		t.Errorf("Unexpected backends after reload: %+v", loaded.Backends)
	}
}
