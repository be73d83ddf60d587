package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/pagetranslationflow/internal/gcp"
	"github.com/Lllllllleong/pagetranslationflow/internal/models"
	"github.com/Lllllllleong/pagetranslationflow/internal/translate"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

const pageSeparator = "\n\n---\n\n"

// ExportSink stores an exported file and returns where it went.
type ExportSink interface {
	Write(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// GCSExportSink writes exports to a bucket without overwriting.
type GCSExportSink struct {
	client *storage.Client
	bucket string
}

// NewGCSExportSink returns a sink writing to bucket.
func NewGCSExportSink(client *storage.Client, bucket string) *GCSExportSink {
	return &GCSExportSink{client: client, bucket: bucket}
}

func (s *GCSExportSink) Write(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if err := gcp.SaveToGCSAtomically(ctx, s.client.Bucket(s.bucket), name, contentType, data); err != nil {
		return "", err
	}
	return gcp.URI(s.bucket, name), nil
}

// DirExportSink writes exports under a local directory.
type DirExportSink struct {
	Dir string
}

func (s DirExportSink) Write(_ context.Context, name, _ string, data []byte) (string, error) {
	dest := filepath.Join(s.Dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write export %s: %w", dest, err)
	}
	return dest, nil
}

// Exporter renders a finished translation as Markdown and HTML.
type Exporter struct {
	sink ExportSink
}

// NewExporter returns an exporter writing to sink.
func NewExporter(sink ExportSink) *Exporter {
	return &Exporter{sink: sink}
}

// Export writes <prefix>/translation.md and translation.html and returns the
// location of the Markdown file.
func (e *Exporter) Export(ctx context.Context, prefix string, resp *models.TranslationResponse) (string, error) {
	logCtx := slog.With("prefix", prefix, "document", resp.OriginalName)

	markdown := RenderMarkdown(resp)
	htmlDoc, err := RenderHTML(resp.OriginalName, markdown)
	if err != nil {
		logCtx.Error("Failed to render HTML export.", "error", err)
		return "", err
	}

	mdURI, err := e.sink.Write(ctx, path.Join(prefix, "translation.md"), "text/markdown; charset=utf-8", []byte(markdown))
	if err != nil {
		logCtx.Error("Failed to write Markdown export.", "error", err)
		return "", fmt.Errorf("failed to write markdown export: %w", err)
	}
	if _, err := e.sink.Write(ctx, path.Join(prefix, "translation.html"), "text/html; charset=utf-8", htmlDoc); err != nil {
		logCtx.Error("Failed to write HTML export.", "error", err)
		return "", fmt.Errorf("failed to write html export: %w", err)
	}

	logCtx.Info("Export complete.", "uri", mdURI, "pages", len(resp.Pages))
	return mdURI, nil
}

// RenderMarkdown combines every page into one document, pages separated by
// horizontal rules.
func RenderMarkdown(resp *models.TranslationResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", resp.OriginalName)
	fmt.Fprintf(&b, "Source language: %s  \nPages: %d", translate.LanguageName(resp.Language), len(resp.Pages))

	for _, p := range resp.Pages {
		b.WriteString(pageSeparator)
		fmt.Fprintf(&b, "## Page %d\n\n", p.Page)
		b.WriteString("### Original\n\n")
		b.WriteString(strings.TrimSpace(p.Text))
		b.WriteString("\n\n### Translation\n\n")
		b.WriteString(strings.TrimSpace(p.Translation))
	}
	b.WriteString("\n")
	return b.String()
}

var markdownRenderer = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	// Verse and line structure must survive.
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// RenderHTML converts markdown into a standalone HTML page.
func RenderHTML(title, markdown string) ([]byte, error) {
	var body bytes.Buffer
	if err := markdownRenderer.Convert([]byte(markdown), &body); err != nil {
		return nil, fmt.Errorf("failed to convert markdown: %w", err)
	}

	var out bytes.Buffer
	out.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>")
	out.WriteString(escapeHTML(title))
	out.WriteString("</title>\n</head>\n<body>\n")
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), nil
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// ExportPrefix derives a storage prefix from a document name.
func ExportPrefix(originalName, id string) string {
	name := path.Base(strings.ReplaceAll(originalName, "\\", "/"))
	base := strings.ReplaceAll(strings.TrimSuffix(name, path.Ext(name)), " ", "_")
	if base == "" || base == "." {
		base = "document"
	}
	if id == "" {
		return base
	}
	return base + "/" + id
}
