// Package server exposes the translation pipeline over HTTP: multipart
// uploads, page redo, cancellation, live progress over WebSocket and the
// staged page images.
package server

import (
	"context"
	"net/http"

	"github.com/Lllllllleong/pagetranslationflow/internal/models"
	"github.com/Lllllllleong/pagetranslationflow/internal/progress"
	"github.com/Lllllllleong/pagetranslationflow/internal/services"
	"github.com/Lllllllleong/pagetranslationflow/internal/staging"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusClientClosedRequest reports a run the user cancelled.
const StatusClientClosedRequest = 499

// Backend runs translations on behalf of HTTP clients.
type Backend interface {
	Translate(ctx context.Context, req models.TranslationRequest) (*models.TranslationResponse, error)
	RedoPage(ctx context.Context, req models.RedoPageRequest) (*models.PageResult, error)
	Cancel(connectionID string) bool
}

// Server holds the handlers' dependencies.
type Server struct {
	backend         Backend
	hub             *progress.Hub
	images          *staging.Area
	maxUploadBytes  int64
	defaultLanguage string
}

// Config sizes request handling.
type Config struct {
	MaxUploadMB     int
	DefaultLanguage string
}

// New creates a Server. hub and images may be nil, which disables the
// progress and image routes.
func New(backend Backend, hub *progress.Hub, images *staging.Area, cfg Config) *Server {
	maxMB := cfg.MaxUploadMB
	if maxMB <= 0 {
		maxMB = 100
	}
	return &Server{
		backend:         backend,
		hub:             hub,
		images:          images,
		maxUploadBytes:  int64(maxMB) << 20,
		defaultLanguage: cfg.DefaultLanguage,
	}
}

// FromTranslator serves a configured TranslatorFunction.
func FromTranslator(f *services.TranslatorFunction) *Server {
	cfg := f.Config()
	return New(f, f.Hub(), f.Staging(), Config{
		MaxUploadMB:     cfg.Server.MaxUploadMB,
		DefaultLanguage: cfg.Pipeline.Language,
	})
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "pagetranslate"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/translate", s.handleTranslate)
		r.Post("/pages/redo", s.handleRedoPage)
		r.Post("/cancel/{connectionID}", s.handleCancel)
	})

	if s.hub != nil {
		r.Get("/ws/progress/{connectionID}", s.handleProgress)
	}
	if s.images != nil {
		r.Get(staging.URLPrefix+"/{scope}/{file}", s.handleImage)
	}
	return r
}
