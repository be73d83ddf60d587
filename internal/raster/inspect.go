package raster

import (
	"bytes"
	"errors"
	"log/slog"

	"github.com/Lllllllleong/pagetranslationflow/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNoPages is returned for documents without pages.
var ErrNoPages = errors.New("document has no pages")

func relaxedConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// Inspect returns the page count of a PDF. pdfcpu is tried first in relaxed
// mode; documents it rejects are opened with the renderer instead.
func Inspect(data []byte, open OpenFunc) (int, error) {
	if len(data) == 0 {
		return 0, models.InputError("document is empty", nil)
	}

	count, err := api.PageCount(bytes.NewReader(data), relaxedConfig())
	if err == nil && count > 0 {
		return count, nil
	}
	slog.Warn("pdfcpu could not read document, falling back to renderer.", "error", err)

	if open == nil {
		return 0, models.InputError("failed to read PDF", err)
	}
	doc, openErr := open(data)
	if openErr != nil {
		return 0, models.InputError("failed to read PDF", errors.Join(err, openErr))
	}
	defer doc.Close()

	count = doc.NumPage()
	if count <= 0 {
		return 0, models.InputError("failed to read PDF", ErrNoPages)
	}
	return count, nil
}

