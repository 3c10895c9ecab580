// Package config loads and validates the service's YAML configuration:
// LLM provider wiring, job/agent timeouts, masking, and retention.
package config

import (
	"fmt"
	"time"

	"dario.cat/mergo"
)

// ServerConfig configures the Submission API's HTTP listener (§6).
type ServerConfig struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"required,min=1,max=65535"`
}

// JobDefaults configures the scheduler's timeout and concurrency behavior (§4.1, §5).
type JobDefaults struct {
	// AgentSoftTimeout is the per-agent soft timeout: an agent that runs
	// longer is logged with a warning but is not cancelled.
	AgentSoftTimeout time.Duration `yaml:"agent_soft_timeout,omitempty"`

	// JobHardTimeout is the whole-job wall-clock ceiling.
	JobHardTimeout time.Duration `yaml:"job_hard_timeout,omitempty"`

	// DefaultSuccessPolicy accepts "any" or "all" (default "any"). The
	// scheduler does not read it: a wave's outcome is decided only by
	// whether a required agent in it returned an error.
	DefaultSuccessPolicy string `yaml:"default_success_policy,omitempty" validate:"omitempty,oneof=any all"`

	// MaxConcurrentAgents caps goroutines launched within one wave. Zero
	// means unbounded (one goroutine per agent in the wave).
	MaxConcurrentAgents int `yaml:"max_concurrent_agents,omitempty"`
}

func defaultJobDefaults() JobDefaults {
	return JobDefaults{
		AgentSoftTimeout:     300 * time.Second,
		JobHardTimeout:       30 * time.Minute,
		DefaultSuccessPolicy: "any",
	}
}

// withDefaults merges the user-provided job settings over the package
// defaults; zero-valued fields in d fall back to the default.
func (d JobDefaults) withDefaults() (JobDefaults, error) {
	merged := defaultJobDefaults()
	if err := mergo.Merge(&merged, d, mergo.WithOverride); err != nil {
		return JobDefaults{}, fmt.Errorf("failed to merge job defaults: %w", err)
	}
	return merged, nil
}

// MaskingSettings toggles the PII masking service (pkg/masking).
type MaskingSettings struct {
	Enabled bool `yaml:"enabled"`
}

// DataSourceConfig configures one external HTTP data provider (financial
// data, filings) shared by every provider-specific adapter (§5 "external
// data providers").
type DataSourceConfig struct {
	BaseURL   string        `yaml:"base_url" validate:"required"`
	APIKeyEnv string        `yaml:"api_key_env,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

// WebSearchConfig configures the optional news-feed/page-scrape
// collaborator (pkg/adapters/websearch).
type WebSearchConfig struct {
	FeedURLs  []string `yaml:"feed_urls,omitempty"`
	ScrapeURL string   `yaml:"scrape_url,omitempty"`
}

// DataSourcesConfig groups every ingestion-facing adapter's wiring.
type DataSourcesConfig struct {
	FinData   DataSourceConfig `yaml:"findata" validate:"required"`
	Filings   DataSourceConfig `yaml:"filings" validate:"required"`
	WebSearch WebSearchConfig  `yaml:"websearch,omitempty"`

	// FinDataRequestsPerSecond bounds the findata adapter's token-bucket
	// rate limiter (§5). Zero falls back to the adapter's own default.
	FinDataRequestsPerSecond float64 `yaml:"findata_requests_per_second,omitempty"`
}

// PersistenceConfig configures the optional Postgres-backed job store
// (§6 "Persistence ... job records and their committed analysis state
// should be persisted such that status endpoints survive process
// restart"). An empty DSN keeps the job manager in-memory-only, which is
// sufficient for local/dev runs and for tests.
type PersistenceConfig struct {
	DSN string `yaml:"dsn,omitempty"`
}

// Config is the umbrella configuration object returned by Load.
type Config struct {
	Server      ServerConfig      `yaml:"server" validate:"required"`
	LLM         LLMPipelineConfig `yaml:"llm" validate:"required"`
	DataSources DataSourcesConfig `yaml:"data_sources" validate:"required"`
	Job         JobDefaults       `yaml:"job,omitempty"`
	Masking     MaskingSettings   `yaml:"masking,omitempty"`
	Retention   *RetentionConfig  `yaml:"retention,omitempty"`
	Persistence PersistenceConfig `yaml:"persistence,omitempty"`
}

func (c Config) withDefaults() (Config, error) {
	jobDefaults, err := c.Job.withDefaults()
	if err != nil {
		return Config{}, err
	}
	c.Job = jobDefaults
	if c.Retention == nil {
		c.Retention = DefaultRetentionConfig()
	}
	return c, nil
}
