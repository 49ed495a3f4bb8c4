package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"dailymed-etl/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
source:
  url: https://example.com/label
  timeout: 10s
cache:
  path: /var/cache/dailymed.json
  retention: 24h
classifier:
  api_key: from-yaml
  concurrency: 8
storage:
  type: memory
retry:
  attempts: 5
schedule: "*/5 * * * *"
log:
  level: debug
  format: json
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	os.Unsetenv("GROQ_API_KEY")

	cfg, err := config.Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/label", cfg.Source.URL)
	assert.Equal(t, 10*time.Second, cfg.Source.Timeout)
	assert.Equal(t, "/var/cache/dailymed.json", cfg.Cache.Path)
	assert.Equal(t, 24*time.Hour, cfg.Cache.Retention)
	assert.Equal(t, "from-yaml", cfg.Classifier.APIKey)
	assert.Equal(t, 8, cfg.Classifier.Concurrency)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 5, cfg.Retry.Attempts)
	assert.Equal(t, 1500, cfg.Retry.DelayMS)
	assert.Equal(t, "*/5 * * * *", cfg.Schedule)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultSourceURL, cfg.Source.URL)
	assert.Equal(t, "tmp/dailymed-indications.json", cfg.Cache.Path)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.Retention)
	assert.Equal(t, "meta-llama/llama-4-maverick-17b-128e-instruct", cfg.Classifier.Model)
	assert.Equal(t, 1.0, cfg.Classifier.Temperature)
	assert.Equal(t, int64(1024), cfg.Classifier.MaxTokens)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.NotEmpty(t, cfg.Storage.SQLite.DSN)
	assert.Equal(t, "@every 1m", cfg.Schedule)
	assert.Equal(t, 3, cfg.Retry.Attempts)
}

func TestLoad_EnvironmentOverridesYAML(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "from-env")
	t.Setenv("DAILYMED_URL", "https://example.org/other")
	t.Setenv("DAILYMED_CACHE_RETENTION", "2h")

	cfg, err := config.Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Classifier.APIKey)
	assert.Equal(t, "https://example.org/other", cfg.Source.URL)
	assert.Equal(t, 2*time.Hour, cfg.Cache.Retention)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  type: memory\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DAILYMED_LLM_MODEL=llama-test\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("DAILYMED_LLM_MODEL") })

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "llama-test", cfg.Classifier.Model)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown storage": "storage:\n  type: mysql\n",
		"bad log format":  "log:\n  format: xml\n",
		"bad yaml":        "source: [unterminated\n",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestRequireClassifier(t *testing.T) {
	cfg := &config.Config{}
	assert.Error(t, cfg.RequireClassifier())

	cfg.Classifier.APIKey = "key"
	assert.NoError(t, cfg.RequireClassifier())
}
