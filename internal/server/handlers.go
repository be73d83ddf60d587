package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/Lllllllleong/pagetranslationflow/internal/cancel"
	"github.com/Lllllllleong/pagetranslationflow/internal/metrics"
	"github.com/Lllllllleong/pagetranslationflow/internal/models"
	"github.com/Lllllllleong/pagetranslationflow/internal/staging"
	"github.com/go-chi/chi/v5"
)

// errorResponse is the body of every non-pipeline error.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// redoResponse wraps a redone page.
type redoResponse struct {
	Success bool               `json:"success"`
	Page    *models.PageResult `json:"page"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(strings.ToLower(err.Error()), "too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No PDF file provided")
		return
	}
	defer file.Close()

	if !isPDF(header.Filename, header.Header.Get("Content-Type")) {
		writeError(w, http.StatusBadRequest, "Only PDF files are supported")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}
	metrics.UploadSizeBytes.Observe(float64(len(data)))

	language := strings.TrimSpace(r.FormValue("language"))
	if language == "" {
		language = s.defaultLanguage
	}
	connectionID := r.FormValue("connectionId")
	if connectionID == "" {
		connectionID = r.Header.Get("X-Connection-ID")
	}

	req := models.TranslationRequest{
		Document: models.Document{
			OriginalFilename: path.Base(header.Filename),
			Data:             data,
			FileSize:         int64(len(data)),
		},
		PageRange:               r.FormValue("pageRange"),
		Language:                language,
		CustomOCRPrompt:         r.FormValue("customOcrPrompt"),
		CustomTranslationPrompt: r.FormValue("customTranslationPrompt"),
		ConnectionID:            connectionID,
		UserID:                  r.FormValue("userId"),
	}

	// A dropped HTTP connection must not abort the run: disconnects are
	// handled by the cancellation grace period.
	resp, err := s.backend.Translate(context.WithoutCancel(r.Context()), req)
	writeJSON(w, statusFor(err), resp)
}

func (s *Server) handleRedoPage(w http.ResponseWriter, r *http.Request) {
	var req models.RedoPageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Language) == "" {
		req.Language = s.defaultLanguage
	}

	page, err := s.backend.RedoPage(context.WithoutCancel(r.Context()), req)
	if err != nil {
		status := statusFor(err)
		var perr *models.PipelineError
		if errors.As(err, &perr) && perr.Type == models.ErrorTypeInput {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, redoResponse{Success: true, Page: page})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "connectionID")
	if s.backend.Cancel(connectionID) {
		writeJSON(w, http.StatusOK, models.CancelResponse{
			Success:      true,
			ConnectionID: connectionID,
			Message:      "Cancellation requested",
		})
		return
	}
	writeJSON(w, http.StatusNotFound, models.CancelResponse{
		Success:      false,
		ConnectionID: connectionID,
		Message:      "No active translation for this connection",
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, chi.URLParam(r, "connectionID"))
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	file, err := s.images.Resolve(r.URL.Path)
	if err != nil {
		writeError(w, http.StatusNotFound, "Image not found")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, file)
}

// statusFor maps a pipeline error to an HTTP status.
func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, cancel.ErrCancelled) {
		return StatusClientClosedRequest
	}
	var perr *models.PipelineError
	if errors.As(err, &perr) {
		switch perr.Type {
		case models.ErrorTypeValidation, models.ErrorTypeInput:
			return http.StatusBadRequest
		}
	}
	if errors.Is(err, staging.ErrInvalidPath) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func isPDF(filename, contentType string) bool {
	if strings.EqualFold(path.Ext(filename), ".pdf") {
		return true
	}
	return strings.HasPrefix(contentType, "application/pdf")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response.", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Success: false, Error: message})
}
