package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/Lllllllleong/pagetranslationflow/internal/models"
	"github.com/Lllllllleong/pagetranslationflow/internal/progress"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

// barSink renders pipeline progress on a terminal progress bar.
type barSink struct {
	bar *progressbar.ProgressBar
	w   io.Writer
}

func newBarSink(w io.Writer, description string) *barSink {
	bar := progressbar.NewOptions(progress.Total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
	)
	return &barSink{bar: bar, w: w}
}

func (s *barSink) Emit(_ string, ev progress.Event) error {
	s.bar.Describe(ev.Message)
	return s.bar.Set(ev.Step)
}

// Finish completes the bar if the run stopped early.
func (s *barSink) Finish() {
	if !s.bar.IsFinished() {
		_ = s.bar.Exit()
		fmt.Fprintln(s.w)
	}
}

// printSummary writes a colored per-page summary of resp.
func printSummary(w io.Writer, resp *models.TranslationResponse, exportPath string) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	switch resp.Status {
	case models.StatusCancelled:
		yellow.Fprintf(w, "⚠ %s\n", resp.Message)
		return
	case models.StatusFailed:
		red.Fprintf(w, "✗ %s\n", resp.Message)
		return
	}

	bold.Fprintf(w, "%s", resp.OriginalName)
	fmt.Fprintf(w, " (%d pages, %d translated)\n", resp.PageCount, len(resp.Pages))
	for _, p := range resp.Pages {
		status := string(p.OCRStatus)
		if status == "" {
			status = string(models.OCRSuccess)
		}
		c := green
		switch p.OCRStatus {
		case models.OCRMasked, models.OCRModerated:
			c = yellow
		case models.OCRFailedEmpty, models.OCRTechnicalError:
			c = red
		}
		c.Fprintf(w, "  page %-4d %-16s", p.Page, status)
		fmt.Fprintf(w, " %s\n", preview(p.Translation, 60))
	}
	if exportPath != "" {
		green.Fprintf(w, "✓ Exported to %s\n", exportPath)
	}
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "…"
}
