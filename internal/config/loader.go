package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "pagetranslate"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "PAGETRANSLATE"
)

// legacyEnv maps keys to the unprefixed variable names the cloud functions
// are deployed with.
var legacyEnv = map[string]string{
	"gcp.project_id":        "PROJECT_ID",
	"gcp.region":            "VERTEX_AI_REGION",
	"gcp.collection":        "FIRESTORE_COLLECTION",
	"gcp.image_bucket":      "PAGE_IMAGE_BUCKET",
	"gcp.export_bucket":     "EXPORT_BUCKET",
	"gcp.workflow_id":       "WORKFLOW_ID",
	"gcp.workflow_location": "WORKFLOW_LOCATION",
	"model.api_key":         "OPENAI_API_KEY",
}

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader over v. A nil v uses a fresh instance; pass
// viper.GetViper() to pick up bound cobra flags.
func NewLoader(v *viper.Viper) *Loader {
	if v == nil {
		v = viper.New()
	}
	return &Loader{v: v}
}

// Viper returns the underlying viper instance.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads defaults, the config file (configFile, or a search of the
// standard paths when empty) and the environment, then validates.
func (l *Loader) Load(configFile string) (*Config, error) {
	cfg, err := l.LoadWithoutValidation(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithoutValidation is Load without the final Validate.
func (l *Loader) LoadWithoutValidation(configFile string) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	return &cfg, nil
}

// ConfigFileUsed returns the path of the config file read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) addConfigPaths() {
	l.v.AddConfigPath(".")
	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		l.v.AddConfigPath(filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(filepath.Join(home, ".config", ConfigFileName))
	}
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		// Prefixed names win over legacy ones.
		_ = l.v.BindEnv(key, prefixed, legacy)
	}
}

func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("log_level", d.LogLevel)

	l.v.SetDefault("model.provider", d.Model.Provider)
	l.v.SetDefault("model.name", d.Model.Name)
	l.v.SetDefault("model.api_key", d.Model.APIKey)
	l.v.SetDefault("model.base_url", d.Model.BaseURL)
	l.v.SetDefault("model.timeout", d.Model.Timeout)
	l.v.SetDefault("model.requests_per_minute", d.Model.RequestsPerMinute)
	l.v.SetDefault("model.max_attempts", d.Model.MaxAttempts)
	l.v.SetDefault("model.base_delay", d.Model.BaseDelay)
	l.v.SetDefault("model.ocr_max_tokens", d.Model.OCRMaxTokens)
	l.v.SetDefault("model.translate_max_tokens", d.Model.TranslateMaxTokens)

	l.v.SetDefault("gcp.project_id", d.GCP.ProjectID)
	l.v.SetDefault("gcp.region", d.GCP.Region)
	l.v.SetDefault("gcp.collection", d.GCP.Collection)
	l.v.SetDefault("gcp.image_bucket", d.GCP.ImageBucket)
	l.v.SetDefault("gcp.export_bucket", d.GCP.ExportBucket)
	l.v.SetDefault("gcp.workflow_id", d.GCP.WorkflowID)
	l.v.SetDefault("gcp.workflow_location", d.GCP.WorkflowLocation)

	l.v.SetDefault("pipeline.dpi", d.Pipeline.DPI)
	l.v.SetDefault("pipeline.jpeg_quality", d.Pipeline.JPEGQuality)
	l.v.SetDefault("pipeline.staging_dir", d.Pipeline.StagingDir)
	l.v.SetDefault("pipeline.staging_max_age", d.Pipeline.StagingMaxAge)
	l.v.SetDefault("pipeline.sweep_interval", d.Pipeline.SweepInterval)
	l.v.SetDefault("pipeline.grace_period", d.Pipeline.GracePeriod)
	l.v.SetDefault("pipeline.language", d.Pipeline.Language)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
}

// ParseLevel maps a configured level name to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a JSON logger at level writing to w.
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}
