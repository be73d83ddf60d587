package raster

import (
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// Renderer draws individual pages of an open document.
type Renderer interface {
	NumPage() int
	// ImageDPI renders the zero-based page at the given resolution.
	ImageDPI(pageNumber int, dpi float64) (*image.RGBA, error)
	Close() error
}

// OpenFunc opens a document held in memory.
type OpenFunc func(data []byte) (Renderer, error)

// OpenFitz opens a PDF with MuPDF.
func OpenFitz(data []byte) (Renderer, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	return doc, nil
}
