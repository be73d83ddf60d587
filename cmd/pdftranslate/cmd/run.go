package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Lllllllleong/pagetranslationflow/internal/cancel"
	"github.com/Lllllllleong/pagetranslationflow/internal/models"
	"github.com/Lllllllleong/pagetranslationflow/internal/services"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run <pdf>",
	Short: "Translate one PDF locally",
	Long: `Translate one PDF and write translation.md and translation.html under
the output directory. Press Ctrl+C once to cancel the run.

Examples:
  pdftranslate run letter.pdf
  pdftranslate run gita.pdf --pages 1-3 --language sanskrit --json`,
	Args: cobra.ExactArgs(1),
	RunE: runTranslate,
}

func init() {
	runCmd.Flags().String("pages", "", "page range, e.g. 1-3,7 (default: all pages)")
	runCmd.Flags().String("language", "", "source language hint (default from config)")
	runCmd.Flags().String("ocr-prompt", "", "custom OCR instructions")
	runCmd.Flags().String("translation-prompt", "", "custom translation instructions")
	runCmd.Flags().StringP("output", "o", ".", "directory for the Markdown and HTML export")
	runCmd.Flags().Bool("json", false, "print the full result as JSON")
	runCmd.Flags().Bool("no-export", false, "skip writing the export files")

	_ = viper.BindPFlag("pipeline.language", runCmd.Flags().Lookup("language"))

	rootCmd.AddCommand(runCmd)
}

func runTranslate(cmd *cobra.Command, args []string) error {
	cfg := *globalConfig
	input := args[0]

	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", input, err)
	}

	pages, _ := cmd.Flags().GetString("pages")
	ocrPrompt, _ := cmd.Flags().GetString("ocr-prompt")
	translationPrompt, _ := cmd.Flags().GetString("translation-prompt")
	outputDir, _ := cmd.Flags().GetString("output")
	asJSON, _ := cmd.Flags().GetBool("json")
	noExport, _ := cmd.Flags().GetBool("no-export")

	sink := newBarSink(os.Stderr, filepath.Base(input))
	deps := services.Deps{Sink: sink}
	if !noExport {
		deps.Exporter = services.NewExporter(services.DirExportSink{Dir: outputDir})
	}

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	translator, err := services.NewTranslator(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer translator.Close()

	req := models.TranslationRequest{
		Document: models.Document{
			OriginalFilename: filepath.Base(input),
			Data:             data,
			FileSize:         int64(len(data)),
		},
		PageRange:               pages,
		Language:                cfg.Pipeline.Language,
		CustomOCRPrompt:         ocrPrompt,
		CustomTranslationPrompt: translationPrompt,
		ConnectionID:            uuid.NewString(),
	}

	// The first interrupt cancels at the next page boundary; the second exits.
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			slog.Warn("Interrupt received, cancelling after the current page.")
			translator.Cancel(req.ConnectionID)
		case <-ctx.Done():
			return
		}
		select {
		case <-sigs:
			os.Exit(130)
		case <-ctx.Done():
		}
	}()

	resp, runErr := translator.Translate(ctx, req)
	sink.Finish()

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	} else {
		printSummary(out, resp, resp.ExportURI)
	}

	if errors.Is(runErr, cancel.ErrCancelled) {
		return nil
	}
	return runErr
}
