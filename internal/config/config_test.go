package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults when no config file", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		cfg, err := LoadFrom(t.TempDir())
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "./extract.db", cfg.Database.Path)
		assert.Equal(t, "./.data", cfg.Storage.LocalPath)
		assert.Equal(t, "./.data/cached", cfg.Storage.CachePath)
		assert.Empty(t, cfg.Storage.S3.Bucket)
		assert.Equal(t, 60, cfg.Scheduler.IntervalSeconds)
		assert.Equal(t, 2, cfg.Scheduler.MaxConcurrentJobs)
		assert.Equal(t, 8000, cfg.Extraction.MaxChunkSize)
		assert.Equal(t, 3, cfg.Extraction.MaxRetries)
		assert.Equal(t, "openai", cfg.LLM.Provider)
		assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
		assert.InDelta(t, 0.3, cfg.LLM.Temperature, 1e-9)
		assert.Equal(t, time.Minute, cfg.ScanInterval())
		assert.Equal(t, time.Minute, cfg.LLMTimeout())
	})

	t.Run("Loads from config file", func(t *testing.T) {
		dir := t.TempDir()
		configContent := `
port: 9999
database:
  path: "/tmp/test.db"
storage:
  local_path: "/tmp/datasets"
  s3:
    bucket: "docs"
scheduler:
  max_concurrent_jobs: 4
llm:
  provider: mock
unknown_setting: "should be ignored"
`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(configContent), 0644))

		cfg, err := LoadFrom(dir)
		require.NoError(t, err)
		assert.Equal(t, 9999, cfg.Port)
		assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
		assert.Equal(t, "/tmp/datasets", cfg.Storage.LocalPath)
		assert.Equal(t, "docs", cfg.Storage.S3.Bucket)
		assert.Equal(t, 4, cfg.Scheduler.MaxConcurrentJobs)
		assert.Equal(t, "mock", cfg.LLM.Provider)
		assert.Equal(t, 60, cfg.Scheduler.IntervalSeconds)
	})

	t.Run("Environment overrides", func(t *testing.T) {
		t.Setenv("EXTRACT_DATABASE_PATH", "/var/lib/extract.db")
		t.Setenv("EXTRACT_SCHEDULER_INTERVAL_SECONDS", "5")
		t.Setenv("OPENAI_API_KEY", "sk-test")

		cfg, err := LoadFrom(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/extract.db", cfg.Database.Path)
		assert.Equal(t, 5*time.Second, cfg.ScanInterval())
		assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	})

	t.Run("Malformed config file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("port: [unclosed"), 0644))
		_, err := LoadFrom(dir)
		assert.Error(t, err)
	})
}
