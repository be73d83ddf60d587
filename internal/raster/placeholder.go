package raster

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Letter size at 100 DPI.
const (
	placeholderWidth  = 850
	placeholderHeight = 1100
	captionMargin     = 40
	captionLineHeight = 18
)

// placeholder returns a white page carrying the page number and the render error.
func placeholder(pageNumber int, renderErr error) *image.NRGBA {
	img := imaging.New(placeholderWidth, placeholderHeight, color.White)

	lines := []string{fmt.Sprintf("Page %d could not be rendered.", pageNumber)}
	if renderErr != nil {
		lines = append(lines, wrap("Error: "+renderErr.Error(), (placeholderWidth-2*captionMargin)/7)...)
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
	}
	y := placeholderHeight / 2
	for _, line := range lines {
		d.Dot = fixed.P(captionMargin, y)
		d.DrawString(line)
		y += captionLineHeight
	}
	return img
}

// wrap splits s into lines of at most width characters on word boundaries.
func wrap(s string, width int) []string {
	var lines []string
	var cur strings.Builder
	for _, word := range strings.Fields(s) {
		for len(word) > width {
			if cur.Len() > 0 {
				lines = append(lines, cur.String())
				cur.Reset()
			}
			lines = append(lines, word[:width])
			word = word[width:]
		}
		if cur.Len() > 0 && cur.Len()+1+len(word) > width {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}
