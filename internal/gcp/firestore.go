package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/pagetranslationflow/internal/models"
	"google.golang.org/api/iterator"
)

// DefaultCollection holds translation records.
const DefaultCollection = "translations"

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// ImageArchiver copies staged page images somewhere durable.
type ImageArchiver interface {
	Archive(ctx context.Context, prefix string, imagePaths []string) ([]string, error)
}

// TranslationStore persists translation records in one Firestore collection.
type TranslationStore struct {
	client     *firestore.Client
	collection string
	archive    ImageArchiver
}

// NewTranslationStore returns a store over collection. archive may be nil.
func NewTranslationStore(client *firestore.Client, collection string, archive ImageArchiver) *TranslationStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &TranslationStore{client: client, collection: collection, archive: archive}
}

// Save writes rec and returns the new document ID. Page images are archived
// first when an archiver is configured; an archive failure does not block
// the save.
func (s *TranslationStore) Save(ctx context.Context, rec models.TranslationRecord) (string, error) {
	docRef := s.client.Collection(s.collection).NewDoc()
	logCtx := slog.With("documentId", docRef.ID, "userId", rec.UserID)

	s.archiveImages(ctx, docRef.ID, &rec)
	if _, err := docRef.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to save translation record: %w", err)
	}
	logCtx.Info("Saved translation record.", "pageCount", len(rec.Pages))
	return docRef.ID, nil
}

func (s *TranslationStore) archiveImages(ctx context.Context, id string, rec *models.TranslationRecord) {
	if s.archive == nil || len(rec.ImagePaths) == 0 {
		return
	}
	uris, err := s.archive.Archive(ctx, id, rec.ImagePaths)
	if err != nil {
		slog.Warn("Failed to archive page images, saving without them.", "documentId", id, "error", err)
		return
	}
	rec.ArchiveURIs = uris
}

// PreservedPaths lists every staged image referenced by a saved record.
func (s *TranslationStore) PreservedPaths(ctx context.Context) ([]string, error) {
	it := s.client.Collection(s.collection).Select("imagePaths").Documents(ctx)
	defer it.Stop()

	var paths []string
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list preserved image paths: %w", err)
		}
		var rec struct {
			ImagePaths []string `firestore:"imagePaths"`
		}
		if err := snap.DataTo(&rec); err != nil {
			slog.Warn("Skipping unreadable translation record.", "documentId", snap.Ref.ID, "error", err)
			continue
		}
		paths = append(paths, rec.ImagePaths...)
	}
	return paths, nil
}

// FindByHash returns the ID of a record with the given file hash, if any.
func (s *TranslationStore) FindByHash(ctx context.Context, fileHash string) (string, bool, error) {
	docs, err := s.client.Collection(s.collection).Where("fileHash", "==", fileHash).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return "", false, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) > 0 {
		return docs[0].Ref.ID, true, nil
	}
	return "", false, nil
}

// Create adds a placeholder record, used by the bucket intake before work starts.
func (s *TranslationStore) Create(ctx context.Context, rec models.TranslationRecord) (string, error) {
	docRef, _, err := s.client.Collection(s.collection).Add(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("failed to create translation record: %w", err)
	}
	return docRef.ID, nil
}

// Complete overwrites the record with its finished contents.
func (s *TranslationStore) Complete(ctx context.Context, id string, rec models.TranslationRecord) error {
	rec.Status = models.RecordCompleted
	s.archiveImages(ctx, id, &rec)
	if _, err := s.client.Collection(s.collection).Doc(id).Set(ctx, rec); err != nil {
		return fmt.Errorf("failed to complete translation record: %w", err)
	}
	return nil
}

// UpdateStatus records a status change and optional error details.
func (s *TranslationStore) UpdateStatus(ctx context.Context, id, status, errDetails string) error {
	updates := []firestore.Update{
		{Path: "status", Value: status},
	}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errDetails})
	}
	_, err := s.client.Collection(s.collection).Doc(id).Update(ctx, updates)
	return err
}

// Close releases the Firestore client.
func (s *TranslationStore) Close() error {
	return s.client.Close()
}
