package config

import (
	"os"

	"github.com/aschepis/backscratcher/relay/llm"
)

// FamilyConfig overrides the built-in defaults of a backend family.
type FamilyConfig struct {
	BaseURL   string `yaml:"base_url,omitempty"`    // Used by backends without a base_url
	Model     string `yaml:"model,omitempty"`       // Used by backends without a model
	APIKeyEnv string `yaml:"api_key_env,omitempty"` // Variable read when a backend has no api_key_ref
}

// familyEnv maps conventional provider variables onto family fields.
var familyEnv = map[string]struct{ baseURL, model string }{
	llm.FamilyOpenAI:    {baseURL: "OPENAI_BASE_URL", model: "OPENAI_MODEL"},
	llm.FamilyResponses: {baseURL: "OPENAI_BASE_URL", model: "OPENAI_MODEL"},
	llm.FamilyAnthropic: {baseURL: "ANTHROPIC_BASE_URL", model: "ANTHROPIC_MODEL"},
	llm.FamilyGemini:    {model: "GEMINI_MODEL"},
	llm.FamilyOllama:    {model: "OLLAMA_MODEL"},
}

// ApplyFamilies installs the configured family overrides on the registry.
// Provider environment variables such as OPENAI_BASE_URL take precedence
// over the file.
func (c *Config) ApplyFamilies(r *llm.Registry) {
	for _, family := range knownFamilies {
		d, ok := r.Defaults(family)
		if !ok {
			continue
		}
		fc := c.Families[family]
		if fc.BaseURL != "" {
			d.BaseURL = fc.BaseURL
		}
		if fc.Model != "" {
			d.Model = fc.Model
		}
		if fc.APIKeyEnv != "" {
			d.APIKeyEnv = fc.APIKeyEnv
		}

		env := familyEnv[family]
		if env.baseURL != "" {
			if v := os.Getenv(env.baseURL); v != "" {
				d.BaseURL = v
			}
		}
		if env.model != "" {
			if v := os.Getenv(env.model); v != "" {
				d.Model = v
			}
		}
		r.SetFamilyDefaults(family, d)
	}
}
