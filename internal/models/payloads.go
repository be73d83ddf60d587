package models

import "time"

// These structs define the requests accepted by the pipeline and the JSON
// responses returned to HTTP clients and the CLI.

// TranslationRequest is everything the intake hands to the pipeline.
type TranslationRequest struct {
	Document                Document
	PageRange               string
	Language                string
	CustomOCRPrompt         string
	CustomTranslationPrompt string
	ConnectionID            string
	// UserID is set only for authenticated callers; it enables auto-save.
	UserID string
	// Scope names the staging directory for the page images. Defaults to a fresh scope per run.
	Scope string
}

// ProgressEvent mirrors progress.Event on the wire.
type ProgressEvent struct {
	Message   string    `json:"message"`
	Step      int       `json:"step"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// Response statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// TranslationResponse is the result shape of one pipeline run.
type TranslationResponse struct {
	Success      bool            `json:"success"`
	Status       string          `json:"status"`
	Message      string          `json:"message,omitempty"`
	OriginalName string          `json:"originalName,omitempty"`
	FileSize     int64           `json:"fileSize,omitempty"`
	PageCount    int             `json:"pageCount,omitempty"`
	Pages        []PageResult    `json:"pages,omitempty"`
	Progress     []ProgressEvent `json:"progress"`
	Language     string          `json:"language,omitempty"`
	AutoSaved    bool            `json:"autoSaved"`
	SavedID      string          `json:"savedId,omitempty"`
	ExportURI    string          `json:"exportUri,omitempty"`
}

// RedoPageRequest asks for OCR and translation of one staged page to be rerun.
type RedoPageRequest struct {
	ImagePath               string `json:"imagePath"`
	PageNumber              int    `json:"pageNumber"`
	Language                string `json:"language"`
	CustomOCRPrompt         string `json:"customOcrPrompt,omitempty"`
	CustomTranslationPrompt string `json:"customTranslationPrompt,omitempty"`
	ConnectionID            string `json:"connectionId,omitempty"`
}

// CancelResponse is returned by the cancel endpoint.
type CancelResponse struct {
	Success      bool   `json:"success"`
	ConnectionID string `json:"connectionId"`
	Message      string `json:"message"`
}

// GCSEvent is the payload of a GCS object finalize event.
type GCSEvent struct {
	Bucket   string            `json:"bucket"`
	Name     string            `json:"name"`
	Size     string            `json:"size,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// LanguageMetadataKey is the object metadata key that overrides the
// configured source language for an uploaded PDF.
const LanguageMetadataKey = "language"
