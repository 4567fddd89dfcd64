// Package storage defines the interface for the report storage backends.
// The failed-rows report is written through this abstraction so runs can place
// it on the local file system or in a GCS bucket without the report writer
// knowing the difference.
package storage

import (
	"context"
	"io"
)

// Connection is one opened storage backend.
type Connection interface {
	// Upload writes the data stream under the given object name.
	Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error

	// Download opens the named object for reading. The returned ReadCloser
	// must be closed by the caller.
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)

	// Location returns a human-readable description of where objects land,
	// used in log lines and the run summary.
	Location(objectName string) string

	// Close releases the backend's resources.
	Close() error
}
