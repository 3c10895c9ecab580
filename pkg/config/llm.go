package config

import "time"

// LLMProviderConfig configures one LLM provider slot (primary or secondary)
// of the invocation pipeline (§4.3).
type LLMProviderConfig struct {
	// Type selects the provider implementation ("google-genai" or "resty-http").
	Type string `yaml:"type" validate:"required"`

	// Model name passed to the provider.
	Model string `yaml:"model" validate:"required"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env" validate:"required"`

	// BaseURL overrides the provider's default endpoint (resty fallback provider).
	BaseURL string `yaml:"base_url,omitempty"`

	// Timeout bounds a single attempt against this provider.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// LLMPipelineConfig configures the primary/secondary fallback chain and the
// separate reasoning channel (§4.3).
type LLMPipelineConfig struct {
	Primary   LLMProviderConfig `yaml:"primary" validate:"required"`
	Secondary LLMProviderConfig `yaml:"secondary" validate:"required"`

	MaxRetries        int           `yaml:"max_retries,omitempty"`
	PrimaryTimeout    time.Duration `yaml:"primary_timeout,omitempty"`
	SecondaryTimeout  time.Duration `yaml:"secondary_timeout,omitempty"`
	ReasoningTimeout  time.Duration `yaml:"reasoning_timeout,omitempty"`
	InitialBackoff    time.Duration `yaml:"initial_backoff,omitempty"`
}
