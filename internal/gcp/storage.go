package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ErrAlreadyExists is returned by WriteIfAbsent when the object exists.
var ErrAlreadyExists = errors.New("object already exists")

// WriteIfAbsent writes content to a GCS object only if it doesn't already exist.
// An existing object yields ErrAlreadyExists so callers can treat the write
// as idempotent.
func WriteIfAbsent(ctx context.Context, bucket *storage.BucketHandle, objectName string, content []byte) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		if IsPreconditionFailed(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if IsPreconditionFailed(err) {
			return ErrAlreadyExists
		}
		slog.Error("Failed to close GCS writer", "gcsObject", objectName, "error", err)
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

// IsPreconditionFailed reports a 412 from a conditional GCS request.
func IsPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// GCSURI formats a gs:// URI.
func GCSURI(bucket, object string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, object)
}

// ParseGCSURI splits a gs:// URI into bucket and object.
func ParseGCSURI(uri string) (string, string, error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// URI: %q", uri)
	}
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed gs:// URI: %q", uri)
	}
	return bucket, object, nil
}

// ReadObject downloads a whole object into memory. Page PDFs are small.
func ReadObject(ctx context.Context, client *storage.Client, uri string) ([]byte, error) {
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for %s: %w", uri, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	return data, nil
}
