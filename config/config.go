package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/aschepis/backscratcher/relay/perf"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Tracker storage drivers.
const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// knownFamilies lists the backend families a config may name.
var knownFamilies = []string{
	llm.FamilyOpenAI,
	llm.FamilyGemini,
	llm.FamilyResponses,
	llm.FamilyAnthropic,
	llm.FamilyOllama,
}

// BackendConfig describes one backend in the pool.
type BackendConfig struct {
	ID        string `yaml:"id,omitempty"`
	Family    string `yaml:"family"`                // openai, gemini, responses, anthropic or ollama
	BaseURL   string `yaml:"base_url,omitempty"`    // Empty uses the family default
	APIKeyRef string `yaml:"api_key_ref,omitempty"` // Env var name or "literal:<key>"
	Model     string `yaml:"model,omitempty"`       // Optional model override
	Enabled   *bool  `yaml:"enabled,omitempty"`     // default: true
	Timeout   int    `yaml:"timeout,omitempty"`     // Request timeout in seconds, 0 for none
}

// FailoverConfig controls retries across backends.
type FailoverConfig struct {
	MaxAttempts      int `yaml:"max_attempts,omitempty"`
	InitialBackoffMS int `yaml:"initial_backoff_ms,omitempty"` // 0 disables pacing between attempts
}

// TrackerConfig controls where performance records are persisted.
type TrackerConfig struct {
	Driver string `yaml:"driver,omitempty"` // json or sqlite
	Path   string `yaml:"path,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"` // e.g. 127.0.0.1:9464; empty disables the endpoint
}

// Config is the relay configuration file.
type Config struct {
	Model    string                  `yaml:"model,omitempty"` // Default model for backends that name none
	Backends []BackendConfig         `yaml:"backends,omitempty"`
	Families map[string]FamilyConfig `yaml:"families,omitempty"`
	Failover FailoverConfig          `yaml:"failover,omitempty"`
	Tracker  TrackerConfig           `yaml:"tracker,omitempty"`
	Metrics  MetricsConfig           `yaml:"metrics,omitempty"`
}

// GetConfigPath returns the default config file path.
// Can be overridden via RELAY_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("RELAY_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.relay/config.yaml"
	}
	return filepath.Join(homeDir, ".relay", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Defaults returns the configuration used when no file is present.
func Defaults() Config {
	return Config{
		Failover: FailoverConfig{
			MaxAttempts: 3,
		},
		Tracker: TrackerConfig{
			Driver: DriverJSON,
			Path:   "~/.relay/performance.json",
		},
		Families: make(map[string]FamilyConfig),
	}
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment.
// A missing file is not an error and variables already set are kept.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads the config file at path and merges it onto the defaults.
// A missing file yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		data, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}

		var fileConfig Config
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", expandedPath, err)
		}
		if err := mergo.Merge(&cfg, fileConfig, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		b.Family = strings.ToLower(strings.TrimSpace(b.Family))
		if b.ID == "" {
			b.ID = derivedID(*b)
		}
	}
	cfg.Tracker.Path = expandPath(cfg.Tracker.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv applies RELAY_* environment overrides.
func applyEnv(cfg *Config) error {
	if model := os.Getenv("RELAY_MODEL"); model != "" {
		cfg.Model = model
	}
	if raw := os.Getenv("RELAY_MAX_ATTEMPTS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid RELAY_MAX_ATTEMPTS %q: %w", raw, err)
		}
		cfg.Failover.MaxAttempts = n
	}
	if path := os.Getenv("RELAY_TRACKER_PATH"); path != "" {
		cfg.Tracker.Path = path
	}
	return nil
}

// derivedID names a backend that has no configured id. The id is stable
// across runs so that persisted performance records still match.
func derivedID(b BackendConfig) string {
	key := strings.Join([]string{b.Family, b.BaseURL, b.Model}, "|")
	return b.Family + "-" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()[:8]
}

// Validate reports the first structural problem in the configuration.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("backend %d: id is required", i)
		}
		if seen[b.ID] {
			return fmt.Errorf("backend %s: duplicate id", b.ID)
		}
		seen[b.ID] = true
		if !lo.Contains(knownFamilies, b.Family) {
			return fmt.Errorf("backend %s: unknown family %q", b.ID, b.Family)
		}
		if b.Timeout < 0 {
			return fmt.Errorf("backend %s: timeout must not be negative", b.ID)
		}
	}
	for family := range c.Families {
		if !lo.Contains(knownFamilies, family) {
			return fmt.Errorf("families: unknown family %q", family)
		}
	}
	if c.Failover.MaxAttempts < 1 {
		return fmt.Errorf("failover.max_attempts must be at least 1, got %d", c.Failover.MaxAttempts)
	}
	if c.Failover.InitialBackoffMS < 0 {
		return fmt.Errorf("failover.initial_backoff_ms must not be negative")
	}
	switch c.Tracker.Driver {
	case DriverJSON, DriverSQLite:
	default:
		return fmt.Errorf("tracker.driver must be %q or %q, got %q", DriverJSON, DriverSQLite, c.Tracker.Driver)
	}
	return nil
}

// InitialBackoff returns the configured pacing between failover attempts.
func (c *Config) InitialBackoff() time.Duration {
	return time.Duration(c.Failover.InitialBackoffMS) * time.Millisecond
}

// PerfBackends converts the configured backends into pool descriptors.
// A backend without a model inherits the top-level model; when that is empty
// too the family default applies at resolve time.
func (c *Config) PerfBackends() []perf.Backend {
	return lo.Map(c.Backends, func(b BackendConfig, _ int) perf.Backend {
		model := b.Model
		if model == "" {
			model = c.Model
		}
		return perf.Backend{
			ID:        b.ID,
			Family:    b.Family,
			BaseURL:   strings.TrimRight(b.BaseURL, "/"),
			Model:     model,
			APIKeyRef: b.APIKeyRef,
			Timeout:   time.Duration(b.Timeout) * time.Second,
			Enabled:   b.Enabled == nil || *b.Enabled,
		}
	})
}

// Save writes the configuration to the specified path.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
