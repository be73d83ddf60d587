package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Lllllllleong/pagetranslationflow/internal/cancel"
	"github.com/Lllllllleong/pagetranslationflow/internal/models"
	"github.com/Lllllllleong/pagetranslationflow/internal/staging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu        sync.Mutex
	requests  []models.TranslationRequest
	translate func(models.TranslationRequest) (*models.TranslationResponse, error)
	redo      func(models.RedoPageRequest) (*models.PageResult, error)
	active    map[string]bool
	ctxErr    error
}

func (b *fakeBackend) Translate(ctx context.Context, req models.TranslationRequest) (*models.TranslationResponse, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.ctxErr = ctx.Err()
	b.mu.Unlock()
	if b.translate != nil {
		return b.translate(req)
	}
	return &models.TranslationResponse{
		Success:      true,
		Status:       models.StatusCompleted,
		OriginalName: req.Document.OriginalFilename,
		PageCount:    1,
		Pages:        []models.PageResult{{Page: 1, Text: "नमस्ते", Translation: "Hello"}},
		Progress:     []models.ProgressEvent{},
		Language:     req.Language,
	}, nil
}

func (b *fakeBackend) RedoPage(_ context.Context, req models.RedoPageRequest) (*models.PageResult, error) {
	if b.redo != nil {
		return b.redo(req)
	}
	return &models.PageResult{Page: req.PageNumber, ImagePath: req.ImagePath, Translation: "again"}, nil
}

func (b *fakeBackend) Cancel(id string) bool {
	return b.active[id]
}

func uploadRequest(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/translate", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestTranslate_Success(t *testing.T) {
	backend := &fakeBackend{}
	s := New(backend, nil, nil, Config{MaxUploadMB: 1, DefaultLanguage: "hindi"})

	req := uploadRequest(t, "gita.pdf", []byte("%PDF-1.4"), map[string]string{
		"pageRange":    "1-3",
		"connectionId": "conn-1",
		"userId":       "u1",
	})
	w := serve(t, s, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp models.TranslationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Hello", resp.Pages[0].Translation)

	require.Len(t, backend.requests, 1)
	got := backend.requests[0]
	assert.Equal(t, "gita.pdf", got.Document.OriginalFilename)
	assert.Equal(t, int64(8), got.Document.FileSize)
	assert.Equal(t, "1-3", got.PageRange)
	assert.Equal(t, "hindi", got.Language)
	assert.Equal(t, "conn-1", got.ConnectionID)
	assert.Equal(t, "u1", got.UserID)
	assert.NoError(t, backend.ctxErr)
}

func TestTranslate_RequestErrors(t *testing.T) {
	s := New(&fakeBackend{}, nil, nil, Config{MaxUploadMB: 1})

	tests := []struct {
		name    string
		req     *http.Request
		status  int
		message string
	}{
		{
			name:    "missing file",
			req:     uploadRequest(t, "", nil, nil),
			status:  http.StatusBadRequest,
			message: "No PDF file provided",
		},
		{
			name:    "not a pdf",
			req:     uploadRequest(t, "notes.txt", []byte("hello"), nil),
			status:  http.StatusBadRequest,
			message: "Only PDF files are supported",
		},
		{
			name:    "too large",
			req:     uploadRequest(t, "big.pdf", bytes.Repeat([]byte("x"), 2<<20), nil),
			status:  http.StatusRequestEntityTooLarge,
			message: "File too large",
		},
		{
			name: "malformed form",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/api/translate", strings.NewReader("garbage"))
				r.Header.Set("Content-Type", "multipart/form-data; boundary=nope")
				return r
			}(),
			status:  http.StatusBadRequest,
			message: "Failed to parse form data",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, s, tt.req)
			assert.Equal(t, tt.status, w.Code)
			var resp errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.message, resp.Error)
		})
	}
}

func TestTranslate_PipelineOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"no valid pages", models.ValidationError("no valid pages", nil), http.StatusBadRequest},
		{"unreadable pdf", models.InputError("failed to read PDF", errors.New("xref")), http.StatusBadRequest},
		{"cancelled", cancel.ErrCancelled, StatusClientClosedRequest},
		{"rasterize", models.RasterizeError("renderer crashed", nil), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{translate: func(models.TranslationRequest) (*models.TranslationResponse, error) {
				return &models.TranslationResponse{Success: false, Status: models.StatusFailed, Message: tt.err.Error(), Progress: []models.ProgressEvent{}}, tt.err
			}}
			s := New(backend, nil, nil, Config{})

			w := serve(t, s, uploadRequest(t, "doc.pdf", []byte("%PDF"), nil))
			assert.Equal(t, tt.status, w.Code)
			var resp models.TranslationResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.err.Error(), resp.Message)
		})
	}
}

func TestRedoPage(t *testing.T) {
	backend := &fakeBackend{}
	s := New(backend, nil, nil, Config{DefaultLanguage: "hindi"})

	body := `{"imagePath":"/images/s1/page_002.jpg","pageNumber":2}`
	w := serve(t, s, httptest.NewRequest(http.MethodPost, "/api/pages/redo", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)

	var resp redoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Page.Page)
	assert.Equal(t, "again", resp.Page.Translation)
}

func TestRedoPage_Errors(t *testing.T) {
	backend := &fakeBackend{redo: func(req models.RedoPageRequest) (*models.PageResult, error) {
		if req.PageNumber <= 0 {
			return nil, models.ValidationError("page number must be positive", nil)
		}
		return nil, models.InputError("staged page image is no longer available", nil)
	}}
	s := New(backend, nil, nil, Config{})

	w := serve(t, s, httptest.NewRequest(http.MethodPost, "/api/pages/redo", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(t, s, httptest.NewRequest(http.MethodPost, "/api/pages/redo", strings.NewReader(`{"imagePath":"/images/s/page_001.jpg"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(t, s, httptest.NewRequest(http.MethodPost, "/api/pages/redo", strings.NewReader(`{"imagePath":"/images/s/page_001.jpg","pageNumber":1}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancel(t *testing.T) {
	s := New(&fakeBackend{active: map[string]bool{"conn-1": true}}, nil, nil, Config{})

	w := serve(t, s, httptest.NewRequest(http.MethodPost, "/api/cancel/conn-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.CancelResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "conn-1", resp.ConnectionID)

	w = serve(t, s, httptest.NewRequest(http.MethodPost, "/api/cancel/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImages(t *testing.T) {
	area, err := staging.NewArea(t.TempDir())
	require.NoError(t, err)
	imagePath, err := area.Save("scope-1", 1, []byte("jpeg-bytes"))
	require.NoError(t, err)

	s := New(&fakeBackend{}, nil, area, Config{})

	w := serve(t, s, httptest.NewRequest(http.MethodGet, imagePath, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jpeg-bytes", w.Body.String())
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))

	w = serve(t, s, httptest.NewRequest(http.MethodGet, staging.URLPrefix+"/scope-1/secrets.txt", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := New(&fakeBackend{}, nil, nil, Config{})

	w := serve(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	// Generate one labelled request before scraping.
	serve(t, s, httptest.NewRequest(http.MethodPost, "/api/cancel/x", nil))
	w = serve(t, s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), fmt.Sprintf(`pagetranslate_http_requests_total{method="POST",route="%s",status="404"}`, "/api/cancel/{connectionID}"))
}

func TestCORSPreflight(t *testing.T) {
	s := New(&fakeBackend{}, nil, nil, Config{})
	w := serve(t, s, httptest.NewRequest(http.MethodOptions, "/api/translate", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
