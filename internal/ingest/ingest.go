// Package ingest implements the ingestion stage: it validates the source
// document format, computes its content hash, and uploads the raw bytes to
// the raw document bucket under the jurisdiction prefix.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/elsflow/elsflow/internal/artifact"
	"github.com/elsflow/elsflow/internal/models"
	"github.com/elsflow/elsflow/internal/pipeline"
)

// supportedExtensions is the document format whitelist. Anything else is
// rejected before a single byte is uploaded.
var supportedExtensions = map[string]string{
	".pdf":  "application/pdf",
	".html": "text/html",
}

// Stage uploads the source document into the raw bucket and records the
// ingestion envelope. DocumentRef may be a local file path or a
// gs://bucket/object URI.
type Stage struct {
	Storage   *storage.Client
	RawBucket string
}

func (s *Stage) Name() string { return pipeline.StageIngestion }

func (s *Stage) Run(ctx context.Context, sc *pipeline.StageContext) (pipeline.StageOutput, error) {
	logCtx := slog.With("runId", sc.RunID, "documentRef", sc.DocumentRef)

	contentType, err := validateFormat(sc.DocumentRef)
	if err != nil {
		return pipeline.StageOutput{}, err
	}

	tempDir, err := os.MkdirTemp("", "elsflow-ingest-*")
	if err != nil {
		return pipeline.StageOutput{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	localPath := filepath.Join(tempDir, "source"+filepath.Ext(sc.DocumentRef))
	if err := s.fetchDocument(ctx, sc.DocumentRef, localPath); err != nil {
		return pipeline.StageOutput{}, err
	}

	contentHash, size, err := hashFile(localPath)
	if err != nil {
		return pipeline.StageOutput{}, fmt.Errorf("failed to hash source document: %w", err)
	}
	logCtx = logCtx.With("contentHash", contentHash)

	jk := sc.Jurisdiction.Key()
	filename := filepath.Base(sc.DocumentRef)
	rawObject := fmt.Sprintf("%s/raw/%s", jk, filename)
	if err := s.uploadFile(ctx, localPath, rawObject, contentType); err != nil {
		return pipeline.StageOutput{}, fmt.Errorf("failed to upload raw document: %w", err)
	}
	logCtx.Info("Raw document uploaded.", "rawObject", rawObject, "sizeBytes", size)

	out := models.IngestionArtifact{
		RawObject:   rawObject,
		Filename:    filename,
		ContentType: contentType,
		ContentHash: contentHash,
		SizeBytes:   size,
	}
	key := artifact.IntermediateKey(jk, pipeline.StageIngestion, sc.RunID)
	if err := sc.Artifacts.Save(ctx, key, out); err != nil {
		return pipeline.StageOutput{}, fmt.Errorf("failed to save ingestion artifact: %w", err)
	}
	return pipeline.StageOutput{OutputRef: key, Counts: sc.Counts}, nil
}

// validateFormat checks the document extension against the whitelist and
// returns the matching content type.
func validateFormat(documentRef string) (string, error) {
	ext := strings.ToLower(filepath.Ext(documentRef))
	contentType, ok := supportedExtensions[ext]
	if !ok {
		return "", fmt.Errorf("unsupported document format %q: only .pdf and .html are accepted", ext)
	}
	return contentType, nil
}

// fetchDocument copies the source document to a local path, streaming from
// GCS for gs:// refs and from disk otherwise.
func (s *Stage) fetchDocument(ctx context.Context, documentRef, destPath string) error {
	if bucket, object, ok := parseGCSRef(documentRef); ok {
		return s.streamGCSObject(ctx, bucket, object, destPath)
	}
	src, err := os.Open(documentRef)
	if err != nil {
		return fmt.Errorf("failed to open source document %s: %w", documentRef, err)
	}
	defer src.Close()
	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy source document: %w", err)
	}
	return nil
}

func parseGCSRef(ref string) (bucket, object string, ok bool) {
	rest, found := strings.CutPrefix(ref, "gs://")
	if !found {
		return "", "", false
	}
	bucket, object, found = strings.Cut(rest, "/")
	if !found || bucket == "" || object == "" {
		return "", "", false
	}
	return bucket, object, true
}

func (s *Stage) streamGCSObject(ctx context.Context, bucket, object, destPath string) error {
	gcsReader, err := s.Storage.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer gcsReader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()
	if _, err := io.Copy(localFile, gcsReader); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return nil
}

func (s *Stage) uploadFile(ctx context.Context, localPath, destObject, contentType string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("could not open local file %s: %w", localPath, err)
	}
	defer src.Close()

	w := s.Storage.Bucket(s.RawBucket).Object(destObject).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, src); err != nil {
		_ = w.Close()
		return fmt.Errorf("io.Copy to GCS failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
	}
	return nil
}

func hashFile(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer file.Close()
	hash := sha256.New()
	size, err := io.Copy(hash, file)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hash.Sum(nil)), size, nil
}
