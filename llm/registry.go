package llm

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Backend families. Each family speaks one wire protocol.
const (
	FamilyOpenAI    = "openai"    // Chat-completions compatible
	FamilyGemini    = "gemini"    // Structured turn/part protocol
	FamilyResponses = "responses" // Responses-style event protocol
	FamilyAnthropic = "anthropic"
	FamilyOllama    = "ollama"
)

// literalKeyPrefix marks an api key reference that carries the key itself.
const literalKeyPrefix = "literal:"

// BackendRef is the static identity of a backend as configured by the operator.
type BackendRef struct {
	ID        string
	Family    string
	BaseURL   string
	APIKeyRef string
	Model     string
	Timeout   time.Duration
}

// Endpoint is a fully resolved backend configuration, ready to build a generator.
type Endpoint struct {
	BackendID string
	Family    string
	BaseURL   string
	APIKey    string
	Model     string
	Timeout   time.Duration
}

// FamilyDefaults holds per-family fallbacks used when a backend leaves a field empty.
type FamilyDefaults struct {
	BaseURL   string
	Model     string
	APIKeyEnv string
	KeyNeeded bool
}

// Registry resolves backend references into endpoints.
// Generator construction is handled by the caller to avoid import cycles.
type Registry struct {
	mu       sync.RWMutex
	families map[string]FamilyDefaults
	getenv   func(string) string
}

// NewRegistry creates a Registry with the built-in family defaults.
func NewRegistry() *Registry {
	return &Registry{
		families: map[string]FamilyDefaults{
			FamilyOpenAI: {
				BaseURL:   "https://api.openai.com/v1",
				Model:     "gpt-4o-mini",
				APIKeyEnv: "OPENAI_API_KEY",
				KeyNeeded: true,
			},
			FamilyResponses: {
				BaseURL:   "https://api.openai.com/v1",
				Model:     "gpt-4o-mini",
				APIKeyEnv: "OPENAI_API_KEY",
				KeyNeeded: true,
			},
			FamilyGemini: {
				BaseURL:   "https://generativelanguage.googleapis.com",
				Model:     "gemini-2.0-flash",
				APIKeyEnv: "GEMINI_API_KEY",
				KeyNeeded: true,
			},
			FamilyAnthropic: {
				BaseURL:   "https://api.anthropic.com",
				Model:     "claude-haiku-4-5",
				APIKeyEnv: "ANTHROPIC_API_KEY",
				KeyNeeded: true,
			},
			FamilyOllama: {
				BaseURL: "http://localhost:11434",
				Model:   "llama3.2",
			},
		},
		getenv: os.Getenv,
	}
}

// SetFamilyDefaults overrides the defaults for a family.
func (r *Registry) SetFamilyDefaults(family string, d FamilyDefaults) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.families[family] = d
}

// Defaults returns the current defaults of a family.
func (r *Registry) Defaults(family string) (FamilyDefaults, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.families[family]
	return d, ok
}

// IsFamilyKnown reports whether the registry can resolve backends of the family.
func (r *Registry) IsFamilyKnown(family string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.families[family]
	return ok
}

// ResolveAPIKey turns an api key reference into a key.
// A "literal:" prefix carries the key inline, anything else names an environment variable.
// An empty reference falls back to the family's conventional variable.
func (r *Registry) ResolveAPIKey(family, ref string) string {
	if strings.HasPrefix(ref, literalKeyPrefix) {
		return strings.TrimPrefix(ref, literalKeyPrefix)
	}
	if ref != "" {
		return r.getenv(ref)
	}
	r.mu.RLock()
	d := r.families[family]
	r.mu.RUnlock()
	if d.APIKeyEnv == "" {
		return ""
	}
	return r.getenv(d.APIKeyEnv)
}

// Resolve builds the endpoint for a backend, filling empty fields from family defaults.
func (r *Registry) Resolve(ref BackendRef) (*Endpoint, error) {
	r.mu.RLock()
	d, ok := r.families[ref.Family]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("backend %s: unknown family %q", ref.ID, ref.Family)
	}

	ep := &Endpoint{
		BackendID: ref.ID,
		Family:    ref.Family,
		BaseURL:   ref.BaseURL,
		Model:     ref.Model,
		Timeout:   ref.Timeout,
		APIKey:    r.ResolveAPIKey(ref.Family, ref.APIKeyRef),
	}
	if ep.BaseURL == "" {
		ep.BaseURL = d.BaseURL
		if ref.Family == FamilyOllama {
			if host := r.getenv("OLLAMA_HOST"); host != "" {
				ep.BaseURL = host
			}
		}
	}
	ep.BaseURL = strings.TrimRight(ep.BaseURL, "/")
	if ep.Model == "" {
		ep.Model = d.Model
	}
	if d.KeyNeeded && ep.APIKey == "" {
		return nil, fmt.Errorf("backend %s: %s API key not configured", ref.ID, ref.Family)
	}
	return ep, nil
}
