package models

import "time"

// Document is an uploaded PDF held in memory for the lifetime of one pipeline run.
type Document struct {
	OriginalFilename string
	Data             []byte
	FileSize         int64
	PageCount        int
}

// RasterizedPage is one rendered page image in the staging area.
type RasterizedPage struct {
	PageNumber  int
	Image       []byte
	Width       int
	Height      int
	ImagePath   string
	Placeholder bool
}

// ContentMarker replaces any span a model declines to transcribe or translate.
const ContentMarker = "[CONTENT TRIGGER]"

// OCRStatus tags how a page's text was obtained.
type OCRStatus string

const (
	OCRSuccess        OCRStatus = "success"
	OCRMasked         OCRStatus = "masked"
	OCRModerated      OCRStatus = "moderated"
	OCRFailedEmpty    OCRStatus = "failed-empty"
	OCRTechnicalError OCRStatus = "technical-error"
)

// OCROutcome is the extraction result for a single page.
type OCROutcome struct {
	PageNumber  int
	Text        string
	Status      OCRStatus
	FailureType string
}

// TranslationOutcome is the English rendering of one OCROutcome.
type TranslationOutcome struct {
	PageNumber int
	Text       string
}

// PageResult joins the image, OCR and translation of a page.
type PageResult struct {
	Page        int       `json:"page"`
	Text        string    `json:"text"`
	Translation string    `json:"translation"`
	ImagePath   string    `json:"imagePath"`
	OCRStatus   OCRStatus `json:"ocrStatus,omitempty"`
}

// TranslationRecord is the persisted translation history entry in Firestore.
type TranslationRecord struct {
	OriginalFileName string       `firestore:"originalFileName"`
	FileHash         string       `firestore:"fileHash,omitempty"`
	Language         string       `firestore:"language"`
	FileSize         int64        `firestore:"fileSize"`
	PageCount        int          `firestore:"pageCount"`
	UserID           string       `firestore:"userId,omitempty"`
	ImagePaths       []string     `firestore:"imagePaths"`
	ArchiveURIs      []string     `firestore:"archiveUris,omitempty"`
	Pages            []PageRecord `firestore:"pages"`
	Status           string       `firestore:"status,omitempty"`
	ErrorDetails     string       `firestore:"errorDetails,omitempty"`
	ExportURI        string       `firestore:"exportUri,omitempty"`
	CreatedAt        time.Time    `firestore:"createdAt"`
}

// Record statuses written by the bucket intake.
const (
	RecordProcessing = "PROCESSING"
	RecordCompleted  = "COMPLETED"
	RecordFailed     = "FAILED"
)

// PageRecord is one page inside a TranslationRecord.
type PageRecord struct {
	PageNumber     int    `firestore:"pageNumber"`
	OriginalText   string `firestore:"originalText"`
	TranslatedText string `firestore:"translatedText"`
	ImagePath      string `firestore:"imagePath"`
}

// NewTranslationRecord builds the persisted form of a finished run.
func NewTranslationRecord(doc Document, language, userID string, pages []PageResult) TranslationRecord {
	rec := TranslationRecord{
		OriginalFileName: doc.OriginalFilename,
		Language:         language,
		FileSize:         doc.FileSize,
		PageCount:        doc.PageCount,
		UserID:           userID,
		ImagePaths:       make([]string, 0, len(pages)),
		Pages:            make([]PageRecord, 0, len(pages)),
		CreatedAt:        time.Now(),
	}
	for _, p := range pages {
		rec.ImagePaths = append(rec.ImagePaths, p.ImagePath)
		rec.Pages = append(rec.Pages, PageRecord{
			PageNumber:     p.Page,
			OriginalText:   p.Text,
			TranslatedText: p.Translation,
			ImagePath:      p.ImagePath,
		})
	}
	return rec
}
