package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
)

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
// An existing object is not a failure.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName, contentType string, content []byte) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping write.", "gcsObject", objectName)
			return nil
		}
		slog.Error("Failed to copy content to GCS object.", "gcsObject", objectName, "error", err)
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping write.", "gcsObject", objectName)
			return nil
		}
		slog.Error("Failed to close GCS writer.", "gcsObject", objectName, "error", err)
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 412
}

// ReadObject downloads an object into memory.
func ReadObject(ctx context.Context, client *storage.Client, bucket, object string) ([]byte, error) {
	reader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", bucket, object, err)
	}
	return data, nil
}

// URI formats a gs:// URI.
func URI(bucket, object string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, object)
}

// LoadFunc reads a staged page image by its servable path.
type LoadFunc func(imagePath string) ([]byte, error)

// PageImageStore copies staged page images into a bucket. It implements
// ImageArchiver.
type PageImageStore struct {
	client      *storage.Client
	bucket      string
	load        LoadFunc
	maxRetries  int
	baseBackoff time.Duration
	concurrency int
}

// NewPageImageStore returns a store writing to bucket.
func NewPageImageStore(client *storage.Client, bucket string, load LoadFunc) *PageImageStore {
	return &PageImageStore{
		client:      client,
		bucket:      bucket,
		load:        load,
		maxRetries:  4,
		baseBackoff: time.Second,
		concurrency: 10,
	}
}

// Archive uploads every image under prefix and returns their URIs in input order.
func (s *PageImageStore) Archive(ctx context.Context, prefix string, imagePaths []string) ([]string, error) {
	logCtx := slog.With("gcsBucket", s.bucket, "prefix", prefix)
	logCtx.Info("Starting concurrent upload of page images.", "imageCount", len(imagePaths))

	uris := make([]string, len(imagePaths))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)
	for i, imagePath := range imagePaths {
		eg.Go(func() error {
			data, err := s.load(imagePath)
			if err != nil {
				return fmt.Errorf("image %s: %w", imagePath, err)
			}
			object := path.Join(prefix, path.Base(imagePath))
			if err := s.upload(gctx, object, data); err != nil {
				return fmt.Errorf("image %s: %w", imagePath, err)
			}
			uris[i] = URI(s.bucket, object)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		logCtx.Error("One or more page images failed to upload.", "error", err)
		return nil, err
	}
	logCtx.Info("All page images uploaded successfully.")
	return uris, nil
}

func (s *PageImageStore) upload(ctx context.Context, object string, data []byte) error {
	backoff := s.baseBackoff
	var lastErr error

	for i := 0; i < s.maxRetries; i++ {
		err := func() error {
			writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
			defer cancel()

			writer := s.client.Bucket(s.bucket).Object(object).NewWriter(writeCtx)
			writer.ContentType = "image/jpeg"
			if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
				_ = writer.Close()
				return fmt.Errorf("io.Copy to GCS failed: %w", err)
			}
			if err := writer.Close(); err != nil {
				return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
			}
			return nil
		}()
		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", object,
			"attempt", i+1,
			"maxRetries", s.maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", object, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Upload failed after all retries.", "gcsObject", object, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", object, lastErr)
}
