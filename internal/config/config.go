// Package config loads service and CLI settings from defaults, an optional
// YAML file and environment variables.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Model providers.
const (
	ProviderVertex = "vertex"
	ProviderOpenAI = "openai"
)

// Config is the complete configuration of the translator.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	Model    ModelConfig    `mapstructure:"model" yaml:"model"`
	GCP      GCPConfig      `mapstructure:"gcp" yaml:"gcp"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
}

// ModelConfig selects and tunes the language model backend.
type ModelConfig struct {
	Provider           string        `mapstructure:"provider" yaml:"provider"`
	Name               string        `mapstructure:"name" yaml:"name"`
	APIKey             string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL            string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerMinute  int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	MaxAttempts        int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay          time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	OCRMaxTokens       int           `mapstructure:"ocr_max_tokens" yaml:"ocr_max_tokens"`
	TranslateMaxTokens int           `mapstructure:"translate_max_tokens" yaml:"translate_max_tokens"`
}

// GCPConfig holds project resources. Empty buckets disable the features
// that need them.
type GCPConfig struct {
	ProjectID        string `mapstructure:"project_id" yaml:"project_id"`
	Region           string `mapstructure:"region" yaml:"region"`
	Collection       string `mapstructure:"collection" yaml:"collection"`
	ImageBucket      string `mapstructure:"image_bucket" yaml:"image_bucket"`
	ExportBucket     string `mapstructure:"export_bucket" yaml:"export_bucket"`
	WorkflowID       string `mapstructure:"workflow_id" yaml:"workflow_id"`
	WorkflowLocation string `mapstructure:"workflow_location" yaml:"workflow_location"`
}

// PipelineConfig tunes rasterization and staging.
type PipelineConfig struct {
	DPI           float64       `mapstructure:"dpi" yaml:"dpi"`
	JPEGQuality   int           `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
	StagingDir    string        `mapstructure:"staging_dir" yaml:"staging_dir"`
	StagingMaxAge time.Duration `mapstructure:"staging_max_age" yaml:"staging_max_age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	GracePeriod   time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	Language      string        `mapstructure:"language" yaml:"language"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host        string `mapstructure:"host" yaml:"host"`
	Port        int    `mapstructure:"port" yaml:"port"`
	MaxUploadMB int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Model: ModelConfig{
			Provider:           ProviderVertex,
			Name:               "gemini-1.5-pro",
			Timeout:            5 * time.Minute,
			RequestsPerMinute:  60,
			MaxAttempts:        3,
			BaseDelay:          time.Second,
			OCRMaxTokens:       4096,
			TranslateMaxTokens: 8192,
		},
		GCP: GCPConfig{
			Region:           "us-central1",
			Collection:       "translations",
			WorkflowLocation: "us-central1",
		},
		Pipeline: PipelineConfig{
			DPI:           300,
			JPEGQuality:   85,
			StagingDir:    "staging",
			StagingMaxAge: 24 * time.Hour,
			SweepInterval: time.Hour,
			GracePeriod:   30 * time.Second,
			Language:      "hindi",
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			MaxUploadMB: 100,
		},
	}
}

// Addr is the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if !slices.Contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	switch c.Model.Provider {
	case ProviderVertex:
		if c.GCP.ProjectID == "" || c.GCP.Region == "" {
			return fmt.Errorf("gcp.project_id and gcp.region are required for the %s provider", ProviderVertex)
		}
	case ProviderOpenAI:
		if c.Model.APIKey == "" {
			return fmt.Errorf("model.api_key is required for the %s provider", ProviderOpenAI)
		}
		if c.Model.Name == "" {
			return fmt.Errorf("model.name is required for the %s provider", ProviderOpenAI)
		}
	default:
		return fmt.Errorf("invalid model provider: %q (must be %s or %s)", c.Model.Provider, ProviderVertex, ProviderOpenAI)
	}

	if c.Model.MaxAttempts < 1 {
		return fmt.Errorf("model.max_attempts must be at least 1, got %d", c.Model.MaxAttempts)
	}
	if c.Model.RequestsPerMinute < 0 {
		return fmt.Errorf("model.requests_per_minute cannot be negative")
	}
	if c.Pipeline.DPI <= 0 {
		return fmt.Errorf("pipeline.dpi must be positive, got %v", c.Pipeline.DPI)
	}
	if c.Pipeline.JPEGQuality < 1 || c.Pipeline.JPEGQuality > 100 {
		return fmt.Errorf("pipeline.jpeg_quality must be between 1 and 100, got %d", c.Pipeline.JPEGQuality)
	}
	if c.Pipeline.StagingDir == "" {
		return fmt.Errorf("pipeline.staging_dir is required")
	}
	if c.Pipeline.GracePeriod < 0 {
		return fmt.Errorf("pipeline.grace_period cannot be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB)
	}
	return nil
}

// RequireProject reports an error when GCP resources are needed but unset.
func (c *Config) RequireProject() error {
	if c.GCP.ProjectID == "" {
		return fmt.Errorf("gcp.project_id (or PROJECT_ID) must be set")
	}
	return nil
}
