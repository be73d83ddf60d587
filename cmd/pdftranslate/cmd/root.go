package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Lllllllleong/pagetranslationflow/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Configuration file path.
	cfgFile string
	// Global configuration, loaded before any subcommand runs.
	globalConfig *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pdftranslate",
	Short: "Translate scanned PDFs to English with a vision language model",
	Long: `pdftranslate renders every page of a PDF, transcribes it with a vision
language model and translates the transcription to English.

Examples:
  pdftranslate run letter.pdf --language hindi
  pdftranslate run gita.pdf --pages 1-5,9 --output ./out
  pdftranslate serve --port 8080`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for tests.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is pagetranslate.yaml in . or $HOME/.config/pagetranslate)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("provider", config.ProviderVertex, "model provider (vertex, openai)")
	rootCmd.PersistentFlags().String("model", "", "model name (defaults per provider)")
	rootCmd.PersistentFlags().String("staging-dir", "", "directory for rendered page images")

	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("model.provider", rootCmd.PersistentFlags().Lookup("provider"))
	_ = viper.BindPFlag("model.name", rootCmd.PersistentFlags().Lookup("model"))
	_ = viper.BindPFlag("pipeline.staging_dir", rootCmd.PersistentFlags().Lookup("staging-dir"))
}

// initConfig loads .env, the config file, the environment and bound flags,
// then installs the JSON logger.
func initConfig() error {
	_ = godotenv.Load()

	loader := config.NewLoader(viper.GetViper())
	cfg, err := loader.LoadWithoutValidation(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	applyFlagFallbacks(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	globalConfig = cfg

	slog.SetDefault(config.NewLogger(os.Stderr, cfg.LogLevel))
	if used := loader.ConfigFileUsed(); used != "" {
		slog.Info("Loaded configuration file.", "path", used)
	}
	return nil
}

// defaultOpenAIModel replaces the Gemini default when --provider openai is
// given without --model.
const defaultOpenAIModel = "gpt-4o"

// applyFlagFallbacks picks a model that matches the selected provider.
func applyFlagFallbacks(cfg *config.Config) {
	d := config.DefaultConfig()
	if cfg.Model.Provider == config.ProviderOpenAI && (cfg.Model.Name == "" || cfg.Model.Name == d.Model.Name) {
		cfg.Model.Name = defaultOpenAIModel
	}
	if cfg.Model.Name == "" {
		cfg.Model.Name = d.Model.Name
	}
	if cfg.Pipeline.StagingDir == "" {
		cfg.Pipeline.StagingDir = d.Pipeline.StagingDir
	}
}
