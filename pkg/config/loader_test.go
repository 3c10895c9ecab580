package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  host: 0.0.0.0
  port: 8080
llm:
  primary:
    type: google-genai
    model: gemini-2.0-flash
    api_key_env: TEST_GOOGLE_API_KEY
  secondary:
    type: resty-http
    model: gpt-4o
    api_key_env: TEST_OPENAI_API_KEY
    base_url: https://api.example.com/v1
data_sources:
  findata:
    base_url: https://findata.example.com
    api_key_env: TEST_FINDATA_API_KEY
  filings:
    base_url: https://filings.example.com
    api_key_env: TEST_FILINGS_API_KEY
masking:
  enabled: true
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_GOOGLE_API_KEY", "fake-key")
	t.Setenv("TEST_OPENAI_API_KEY", "fake-key-2")
	path := writeTempConfig(t, sampleYAML)

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 300*time.Second, cfg.Job.AgentSoftTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Job.JobHardTimeout)
	assert.Equal(t, "any", cfg.Job.DefaultSuccessPolicy)
	assert.True(t, cfg.Masking.Enabled)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Primary.Model)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_GOOGLE_API_KEY", "fake-key")
	t.Setenv("TEST_OPENAI_API_KEY", "fake-key-2")
	t.Setenv("TEST_SERVER_PORT", "9090")
	path := writeTempConfig(t, `
server:
  host: 0.0.0.0
  port: ${TEST_SERVER_PORT}
llm:
  primary:
    type: google-genai
    model: gemini-2.0-flash
    api_key_env: TEST_GOOGLE_API_KEY
  secondary:
    type: resty-http
    model: gpt-4o
    api_key_env: TEST_OPENAI_API_KEY
data_sources:
  findata:
    base_url: https://findata.example.com
  filings:
    base_url: https://filings.example.com
`)
	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadMissingFileReturnsLoadError(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml", "")
	require.Error(t, err)
	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	path := writeTempConfig(t, `
server:
  host: 0.0.0.0
`)
	_, err := Load(path, "")
	require.Error(t, err)
}

func TestLoadRejectsInvalidSuccessPolicy(t *testing.T) {
	t.Setenv("TEST_GOOGLE_API_KEY", "fake-key")
	t.Setenv("TEST_OPENAI_API_KEY", "fake-key-2")
	path := writeTempConfig(t, sampleYAML+"job:\n  default_success_policy: sometimes\n")
	_, err := Load(path, "")
	require.Error(t, err)
}
