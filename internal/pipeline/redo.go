package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/pagetranslationflow/internal/models"
	"github.com/Lllllllleong/pagetranslationflow/internal/staging"
)

// RedoPage reruns OCR and translation for a single staged page. The new
// result replaces whatever the caller held for that page.
func (o *Orchestrator) RedoPage(ctx context.Context, req models.RedoPageRequest) (*models.PageResult, error) {
	logger := slog.With("imagePath", req.ImagePath, "page", req.PageNumber, "language", req.Language)
	if req.ImagePath == "" {
		return nil, models.ValidationError("imagePath is required", nil)
	}
	if req.PageNumber <= 0 {
		return nil, models.ValidationError(fmt.Sprintf("invalid page number %d", req.PageNumber), nil)
	}

	if scope := staging.ScopeOf(req.ImagePath); scope != "" {
		o.stager.Acquire(scope)
		defer o.stager.Release(scope)
	}

	img, err := o.stager.Load(req.ImagePath)
	if err != nil {
		if errors.Is(err, staging.ErrInvalidPath) {
			return nil, models.ValidationError("image path is outside the staging area", err)
		}
		return nil, models.InputError("staged page image is no longer available", err)
	}

	logger.Info("Redoing page.")
	page := models.RasterizedPage{PageNumber: req.PageNumber, Image: img, ImagePath: req.ImagePath}
	outcome := o.extractor.ExtractPage(ctx, page, req.Language, req.CustomOCRPrompt)

	translation, err := o.translator.Translate(ctx, outcome.Text, req.Language, req.CustomTranslationPrompt, nil)
	if err != nil {
		logger.Error("Translation failed for redone page.", "errorClass", "technical", "error", err)
		translation = fmt.Sprintf(translationFailure, err)
	}

	logger.Info("Page redone.", "ocrStatus", outcome.Status)
	return &models.PageResult{
		Page:        req.PageNumber,
		Text:        outcome.Text,
		Translation: translation,
		ImagePath:   req.ImagePath,
		OCRStatus:   outcome.Status,
	}, nil
}
