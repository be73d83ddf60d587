// Package raster turns PDF pages into JPEG images suitable for model OCR.
package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"

	"github.com/Lllllllleong/pagetranslationflow/internal/cancel"
	"github.com/Lllllllleong/pagetranslationflow/internal/metrics"
	"github.com/Lllllllleong/pagetranslationflow/internal/models"
	"github.com/Lllllllleong/pagetranslationflow/internal/progress"
	"github.com/disintegration/imaging"
)

const (
	DefaultDPI         = 300
	DefaultJPEGQuality = 85
	// MinDimension is the smallest width or height of a rasterized page.
	MinDimension = 100
)

// ImageStore persists page images and returns a servable path.
type ImageStore interface {
	Save(scope string, pageNumber int, image []byte) (string, error)
}

// Option configures a Rasterizer.
type Option func(*Rasterizer)

// WithDPI overrides the render resolution.
func WithDPI(dpi float64) Option {
	return func(r *Rasterizer) { r.dpi = dpi }
}

// WithJPEGQuality overrides the encoder quality.
func WithJPEGQuality(q int) Option {
	return func(r *Rasterizer) { r.quality = q }
}

// Rasterizer renders selected pages one at a time.
type Rasterizer struct {
	open    OpenFunc
	store   ImageStore
	dpi     float64
	quality int
}

// New builds a Rasterizer. A nil open uses OpenFitz.
func New(open OpenFunc, store ImageStore, opts ...Option) *Rasterizer {
	if open == nil {
		open = OpenFitz
	}
	r := &Rasterizer{open: open, store: store, dpi: DefaultDPI, quality: DefaultJPEGQuality}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open exposes the renderer used by this rasterizer.
func (r *Rasterizer) Open() OpenFunc {
	return r.open
}

// Rasterize renders pages of doc in ascending order into scope. A page that
// fails to render is replaced by a placeholder; only cancellation and an
// unopenable document abort the call.
func (r *Rasterizer) Rasterize(ctx context.Context, doc models.Document, scope string, pages []int, span progress.Span, check cancel.Checker) ([]models.RasterizedPage, error) {
	if check == nil {
		check = cancel.Never
	}
	if len(pages) == 0 {
		return nil, nil
	}

	renderer, err := r.open(doc.Data)
	if err != nil {
		return nil, models.RasterizeError("failed to open document for rendering", err)
	}
	defer renderer.Close()

	logCtx := slog.With("document", doc.OriginalFilename, "scope", scope)
	logCtx.Info("Starting rasterization.", "pages", len(pages))

	results := make([]models.RasterizedPage, 0, len(pages))
	for i, pageNumber := range pages {
		if err := check.Check(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := r.renderPage(renderer, pageNumber)
		if err != nil {
			logCtx.Warn("Page render failed, substituting placeholder.", "page", pageNumber, "error", err)
			page, err = r.placeholderPage(pageNumber, err)
			if err != nil {
				return nil, models.RasterizeError(fmt.Sprintf("failed to encode placeholder for page %d", pageNumber), err)
			}
			metrics.PagesRasterized.WithLabelValues("placeholder").Inc()
		} else {
			metrics.PagesRasterized.WithLabelValues("rendered").Inc()
		}

		if r.store != nil {
			// The page is still processed from memory; only its servable path is lost.
			path, err := r.store.Save(scope, pageNumber, page.Image)
			if err != nil {
				logCtx.Error("Failed to stage page image.", "page", pageNumber, "error", err)
			} else {
				page.ImagePath = path
			}
		}

		results = append(results, page)
		span.Report(i+1, len(pages), fmt.Sprintf("Converted page %d (%d of %d)", pageNumber, i+1, len(pages)))
	}

	logCtx.Info("Rasterization complete.", "pages", len(results))
	return results, nil
}

func (r *Rasterizer) renderPage(renderer Renderer, pageNumber int) (page models.RasterizedPage, err error) {
	defer func() {
		// MuPDF bindings can panic on damaged pages.
		if rec := recover(); rec != nil {
			err = fmt.Errorf("render panic: %v", rec)
		}
	}()

	if pageNumber < 1 || pageNumber > renderer.NumPage() {
		return page, fmt.Errorf("page %d out of range 1-%d", pageNumber, renderer.NumPage())
	}

	img, err := renderer.ImageDPI(pageNumber-1, r.dpi)
	if err != nil {
		return page, fmt.Errorf("render page %d: %w", pageNumber, err)
	}
	if img == nil {
		return page, errors.New("renderer returned no image")
	}

	if dpi, ok := ScaleForMinimum(img.Bounds().Dx(), img.Bounds().Dy(), r.dpi); ok {
		slog.Debug("Page below minimum size, re-rendering.", "page", pageNumber, "dpi", dpi)
		img, err = renderer.ImageDPI(pageNumber-1, dpi)
		if err != nil {
			return page, fmt.Errorf("re-render page %d at %.0f dpi: %w", pageNumber, dpi, err)
		}
	}

	flat := flatten(img)
	data, err := r.encode(flat)
	if err != nil {
		return page, err
	}
	b := flat.Bounds()
	return models.RasterizedPage{
		PageNumber: pageNumber,
		Image:      data,
		Width:      b.Dx(),
		Height:     b.Dy(),
	}, nil
}

func (r *Rasterizer) placeholderPage(pageNumber int, renderErr error) (models.RasterizedPage, error) {
	img := placeholder(pageNumber, renderErr)
	data, err := r.encode(img)
	if err != nil {
		return models.RasterizedPage{}, err
	}
	return models.RasterizedPage{
		PageNumber:  pageNumber,
		Image:       data,
		Width:       placeholderWidth,
		Height:      placeholderHeight,
		Placeholder: true,
	}, nil
}

func (r *Rasterizer) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(r.quality)); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// ScaleForMinimum returns the DPI needed to lift a w x h render at dpi to
// MinDimension on both sides, and whether a re-render is needed.
func ScaleForMinimum(w, h int, dpi float64) (float64, bool) {
	if w >= MinDimension && h >= MinDimension {
		return dpi, false
	}
	smallest := math.Max(1, float64(min(w, h)))
	return math.Ceil(dpi * float64(MinDimension) / smallest), true
}

// flatten composites img onto an opaque white canvas of at least
// MinDimension on each side.
func flatten(img image.Image) *image.NRGBA {
	b := img.Bounds()
	w := max(b.Dx(), MinDimension)
	h := max(b.Dy(), MinDimension)
	bg := imaging.New(w, h, color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
