package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/Lllllllleong/pagetranslationflow/internal/cancel"
	"github.com/Lllllllleong/pagetranslationflow/internal/models"
	"github.com/Lllllllleong/pagetranslationflow/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRenderer renders pages as transparent rectangles sized in inches.
type fakeRenderer struct {
	pages   int
	inches  float64
	failOn  map[int]error
	panicOn int
	calls   []float64
	closed  bool
}

func (f *fakeRenderer) NumPage() int { return f.pages }

func (f *fakeRenderer) ImageDPI(page int, dpi float64) (*image.RGBA, error) {
	f.calls = append(f.calls, dpi)
	if err := f.failOn[page+1]; err != nil {
		return nil, err
	}
	if f.panicOn == page+1 {
		panic("corrupt xref")
	}
	side := int(f.inches * dpi)
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	return img, nil
}

func (f *fakeRenderer) Close() error {
	f.closed = true
	return nil
}

func openFake(r *fakeRenderer) OpenFunc {
	return func([]byte) (Renderer, error) { return r, nil }
}

type memStore struct {
	saved  map[string][]byte
	failOn map[int]error
}

func (m *memStore) Save(scope string, page int, img []byte) (string, error) {
	if err := m.failOn[page]; err != nil {
		return "", err
	}
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	p := fmt.Sprintf("/images/%s/page_%03d.jpg", scope, page)
	m.saved[p] = img
	return p, nil
}

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestParsePageRange(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		count int
		want  []int
	}{
		{"mixed", "1-5, 8, 11-13", 20, []int{1, 2, 3, 4, 5, 8, 11, 12, 13}},
		{"empty means all", "", 3, []int{1, 2, 3}},
		{"whitespace means all", "   \t", 2, []int{1, 2}},
		{"duplicates collapse", "3,1-3,3", 5, []int{1, 2, 3}},
		{"clamped", "0-2, 9-12", 10, []int{1, 2, 9, 10}},
		{"out of range dropped", "15, 20-25", 10, []int{}},
		{"reversed range", "5-3", 10, []int{3, 4, 5}},
		{"malformed skipped", "a, 2, 4-x, 6", 10, []int{2, 6}},
		{"no pages", "1-3", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePageRange(tt.expr, tt.count))
		})
	}
}

func TestScaleForMinimum(t *testing.T) {
	dpi, ok := ScaleForMinimum(2550, 3300, 300)
	assert.False(t, ok)
	assert.Equal(t, 300.0, dpi)

	dpi, ok = ScaleForMinimum(30, 60, 300)
	assert.True(t, ok)
	assert.Equal(t, 1000.0, dpi)
}

func TestRasterize_AllPagesMeetMinimum(t *testing.T) {
	fr := &fakeRenderer{pages: 3, inches: 0.1}
	store := &memStore{}
	r := New(openFake(fr), store)

	log := progress.NewLog("c1", nil)
	pages, err := r.Rasterize(context.Background(), models.Document{Data: []byte("%PDF")}, "s1", []int{1, 2, 3}, log.Span(5, 50), nil)
	require.NoError(t, err)
	require.Len(t, pages, 3)

	for i, p := range pages {
		assert.Equal(t, i+1, p.PageNumber)
		assert.GreaterOrEqual(t, p.Width, MinDimension)
		assert.GreaterOrEqual(t, p.Height, MinDimension)
		assert.False(t, p.Placeholder)
		assert.Equal(t, fmt.Sprintf("/images/s1/page_%03d.jpg", i+1), p.ImagePath)

		img := decode(t, p.Image)
		assert.Equal(t, p.Width, img.Bounds().Dx())
	}
	// Each page rendered twice: once at 300 DPI, once scaled up.
	assert.Equal(t, []float64{300, 1000, 300, 1000, 300, 1000}, fr.calls)
	assert.True(t, fr.closed)
	assert.Len(t, log.Events(), 3)
	assert.Equal(t, 50, log.Last())
}

func TestRasterize_TransparentAreasBecomeWhite(t *testing.T) {
	fr := &fakeRenderer{pages: 1, inches: 1}
	r := New(openFake(fr), nil, WithDPI(200))

	pages, err := r.Rasterize(context.Background(), models.Document{}, "s", []int{1}, progress.Span{}, nil)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 200, pages[0].Width)

	c := color.RGBAModel.Convert(decode(t, pages[0].Image).At(150, 150)).(color.RGBA)
	assert.Greater(t, c.R, uint8(240))
	assert.Greater(t, c.G, uint8(240))
	assert.Greater(t, c.B, uint8(240))
}

func TestRasterize_FailedPageBecomesPlaceholder(t *testing.T) {
	fr := &fakeRenderer{
		pages:   3,
		inches:  1,
		failOn:  map[int]error{2: errors.New("broken content stream")},
		panicOn: 3,
	}
	r := New(openFake(fr), &memStore{})

	pages, err := r.Rasterize(context.Background(), models.Document{}, "s", []int{1, 2, 3}, progress.Span{}, nil)
	require.NoError(t, err)
	require.Len(t, pages, 3)

	assert.False(t, pages[0].Placeholder)
	for _, p := range pages[1:] {
		assert.True(t, p.Placeholder)
		assert.Equal(t, placeholderWidth, p.Width)
		assert.Equal(t, placeholderHeight, p.Height)
		assert.NotEmpty(t, p.ImagePath)
		assert.Equal(t, placeholderWidth, decode(t, p.Image).Bounds().Dx())
	}
}

func TestRasterize_StagingFailureKeepsPage(t *testing.T) {
	fr := &fakeRenderer{pages: 3, inches: 1}
	store := &memStore{failOn: map[int]error{2: errors.New("disk full")}}
	r := New(openFake(fr), store)

	pages, err := r.Rasterize(context.Background(), models.Document{}, "s", []int{1, 2, 3}, progress.Span{}, nil)
	require.NoError(t, err)
	require.Len(t, pages, 3)

	assert.Equal(t, "/images/s/page_001.jpg", pages[0].ImagePath)
	assert.Empty(t, pages[1].ImagePath)
	assert.NotEmpty(t, pages[1].Image)
	assert.Equal(t, "/images/s/page_003.jpg", pages[2].ImagePath)
	assert.Len(t, store.saved, 2)
}

func TestRasterize_UserCancellation(t *testing.T) {
	fr := &fakeRenderer{pages: 3, inches: 1}
	r := New(openFake(fr), nil)
	tok := cancel.NewToken()
	tok.Cancel(cancel.ReasonUser)

	_, err := r.Rasterize(context.Background(), models.Document{}, "s", []int{1, 2}, progress.Span{}, tok)
	assert.ErrorIs(t, err, cancel.ErrCancelled)
	assert.Empty(t, fr.calls)
}

func TestRasterize_OpenFailure(t *testing.T) {
	r := New(func([]byte) (Renderer, error) { return nil, errors.New("not a pdf") }, nil)
	_, err := r.Rasterize(context.Background(), models.Document{}, "s", []int{1}, progress.Span{}, nil)

	var perr *models.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ErrorTypeRasterize, perr.Type)
}

func TestRasterize_EmptySelection(t *testing.T) {
	fr := &fakeRenderer{pages: 3, inches: 1}
	pages, err := New(openFake(fr), nil).Rasterize(context.Background(), models.Document{}, "s", nil, progress.Span{}, nil)
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestInspect_FallsBackToRenderer(t *testing.T) {
	fr := &fakeRenderer{pages: 4}
	count, err := Inspect([]byte("not really a pdf"), openFake(fr))
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.True(t, fr.closed)

	_, err = Inspect(nil, openFake(fr))
	var perr *models.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ErrorTypeInput, perr.Type)

	_, err = Inspect([]byte("junk"), func([]byte) (Renderer, error) { return nil, errors.New("bad") })
	require.ErrorAs(t, err, &perr)
}

func TestWrap(t *testing.T) {
	lines := wrap("aaaa bbbb cccc", 9)
	assert.Equal(t, []string{"aaaa bbbb", "cccc"}, lines)
	assert.Equal(t, []string{"abc", "def"}, wrap("abcdef", 3))
}
