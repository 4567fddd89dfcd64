// Package gcs provides a Google Cloud Storage implementation of the storage
// adapter interface.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	storageAdapter "github.com/quayside/groupage/pkg/importer/adapter/storage"
	"github.com/quayside/groupage/pkg/importer/support/util/logger"
)

// gcsAdapter implements storage.Connection on one GCS bucket.
type gcsAdapter struct {
	client *storage.Client
	bucket string
}

var _ storageAdapter.Connection = (*gcsAdapter)(nil)

// NewGCSAdapter creates a client with application-default credentials.
func NewGCSAdapter(ctx context.Context, bucket string, opts ...option.ClientOption) (storageAdapter.Connection, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs storage adapter: bucket must be specified")
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage adapter: failed to create client: %w", err)
	}
	return &gcsAdapter{client: client, bucket: bucket}, nil
}

// Upload writes the data stream to the bucket under the given object name.
func (a *gcsAdapter) Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error {
	w := a.client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("failed to upload object '%s' to bucket '%s': %w", objectName, a.bucket, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize object '%s' in bucket '%s': %w", objectName, a.bucket, err)
	}
	logger.Debugf("Uploaded object '%s' to bucket '%s'.", objectName, a.bucket)
	return nil
}

// Download opens the named object for reading.
func (a *gcsAdapter) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	r, err := a.client.Bucket(a.bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open object '%s' in bucket '%s': %w", objectName, a.bucket, err)
	}
	return r, nil
}

// Location returns the gs:// URL an object lands at.
func (a *gcsAdapter) Location(objectName string) string {
	return "gs://" + path.Join(a.bucket, objectName)
}

// Close releases the underlying client.
func (a *gcsAdapter) Close() error {
	return a.client.Close()
}
