package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSStore is the Cloud Storage implementation of Store. Artifacts are
// JSON objects under a single bucket; keys map directly to object names.
type GCSStore struct {
	bucket *storage.BucketHandle
	name   string
}

// NewGCSStore wraps a bucket as an artifact store.
func NewGCSStore(client *storage.Client, bucket string) *GCSStore {
	return &GCSStore{bucket: client.Bucket(bucket), name: bucket}
}

func (s *GCSStore) Save(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact %s: %w", key, err)
	}

	writer := s.bucket.Object(key).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := io.Copy(writer, strings.NewReader(string(data))); err != nil {
		_ = writer.Close()
		return classify("write", key, err)
	}
	if err := writer.Close(); err != nil {
		return classify("finalize", key, err)
	}

	slog.Debug("Saved artifact.", "bucket", s.name, "key", key, "bytes", len(data))
	return nil
}

// SaveIfAbsent writes the artifact only if no object exists at key. Existing
// objects are left untouched, which keeps identical re-runs idempotent.
func (s *GCSStore) SaveIfAbsent(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact %s: %w", key, err)
	}

	writer := s.bucket.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := io.Copy(writer, strings.NewReader(string(data))); err != nil {
		_ = writer.Close()
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			slog.Info("SKIPPING: artifact already exists.", "key", key)
			return nil
		}
		return classify("write", key, err)
	}
	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			slog.Info("SKIPPING: artifact already exists.", "key", key)
			return nil
		}
		return classify("finalize", key, err)
	}
	return nil
}

func (s *GCSStore) Load(ctx context.Context, key string, into any) error {
	reader, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("gs://%s/%s: %w", s.name, key, ErrNotFound)
		}
		return classify("open", key, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return classify("read", key, err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to unmarshal artifact %s: %w", key, err)
	}
	return nil
}

// classify maps a storage error onto the store's error kinds.
func classify(op, key string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("failed to %s artifact %s: %w", op, key, ErrNotFound)
		case http.StatusForbidden:
			return fmt.Errorf("failed to %s artifact %s: %w", op, key, ErrAccessDenied)
		}
	}
	return fmt.Errorf("failed to %s artifact %s: %v: %w", op, key, err, ErrTransient)
}
