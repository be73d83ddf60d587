package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pagetranslate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := NewLoader(nil).LoadWithoutValidation("")
	require.NoError(t, err)

	d := DefaultConfig()
	assert.Equal(t, d.Model.Provider, cfg.Model.Provider)
	assert.Equal(t, d.Pipeline.DPI, cfg.Pipeline.DPI)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.GracePeriod)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
log_level: DEBUG
model:
  provider: openai
  name: gpt-4o
  api_key: from-file
  timeout: 90s
pipeline:
  dpi: 200
  staging_dir: /tmp/pages
server:
  port: 9000
`)
	t.Setenv("PAGETRANSLATE_SERVER_PORT", "9100")
	t.Setenv("OPENAI_API_KEY", "from-legacy-env")

	cfg, err := NewLoader(nil).Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ProviderOpenAI, cfg.Model.Provider)
	assert.Equal(t, "gpt-4o", cfg.Model.Name)
	assert.Equal(t, "from-legacy-env", cfg.Model.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Model.Timeout)
	assert.Equal(t, 200.0, cfg.Pipeline.DPI)
	assert.Equal(t, "/tmp/pages", cfg.Pipeline.StagingDir)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestLoad_LegacyProjectEnv(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("PROJECT_ID", "legacy-project")
	t.Setenv("VERTEX_AI_REGION", "europe-west4")

	cfg, err := NewLoader(nil).Load("")
	require.NoError(t, err)
	assert.Equal(t, "legacy-project", cfg.GCP.ProjectID)
	assert.Equal(t, "europe-west4", cfg.GCP.Region)

	t.Setenv("PAGETRANSLATE_GCP_PROJECT_ID", "prefixed-project")
	cfg, err = NewLoader(nil).Load("")
	require.NoError(t, err)
	assert.Equal(t, "prefixed-project", cfg.GCP.ProjectID)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := NewLoader(nil).Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := DefaultConfig()
		c.GCP.ProjectID = "p"
		return c
	}
	c := valid()
	require.NoError(t, c.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "invalid log level"},
		{"vertex without project", func(c *Config) { c.GCP.ProjectID = "" }, "gcp.project_id"},
		{"openai without key", func(c *Config) { c.Model.Provider = ProviderOpenAI }, "model.api_key"},
		{"unknown provider", func(c *Config) { c.Model.Provider = "local" }, "invalid model provider"},
		{"attempts", func(c *Config) { c.Model.MaxAttempts = 0 }, "max_attempts"},
		{"dpi", func(c *Config) { c.Pipeline.DPI = 0 }, "pipeline.dpi"},
		{"jpeg quality", func(c *Config) { c.Pipeline.JPEGQuality = 101 }, "jpeg_quality"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"upload size", func(c *Config) { c.Server.MaxUploadMB = 0 }, "max_upload_mb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("Shown.", "page", 3)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"page":3`)

	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
