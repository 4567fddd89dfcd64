// Package local provides a local file system implementation of the storage
// adapter interface.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	storageAdapter "github.com/quayside/groupage/pkg/importer/adapter/storage"
	"github.com/quayside/groupage/pkg/importer/support/util/logger"
)

// localAdapter implements storage.Connection on a base directory.
type localAdapter struct {
	baseDir string
}

var _ storageAdapter.Connection = (*localAdapter)(nil)

// NewLocalAdapter creates the adapter, creating the base directory if needed.
func NewLocalAdapter(baseDir string) (storageAdapter.Connection, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("local storage adapter: base directory must be specified")
	}
	info, err := os.Stat(baseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("local storage adapter: failed to stat '%s': %w", baseDir, err)
		}
		if err := os.MkdirAll(baseDir, 0755); err != nil {
			return nil, fmt.Errorf("local storage adapter: failed to create '%s': %w", baseDir, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("local storage adapter: '%s' is not a directory", baseDir)
	}
	return &localAdapter{baseDir: baseDir}, nil
}

// Upload writes the data under baseDir, creating intermediate directories.
// Path traversal outside the base directory is rejected.
func (a *localAdapter) Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error {
	fullPath, err := a.resolvePath(objectName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", objectName, err)
	}

	f, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file '%s': %w", fullPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		return fmt.Errorf("failed to write file '%s': %w", fullPath, err)
	}
	logger.Debugf("Wrote object '%s' to %s.", objectName, fullPath)
	return nil
}

// Download opens the named object for reading.
func (a *localAdapter) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	fullPath, err := a.resolvePath(objectName)
	if err != nil {
		return nil, err
	}
	return os.Open(fullPath)
}

// Location returns the file path an object lands at.
func (a *localAdapter) Location(objectName string) string {
	return filepath.Join(a.baseDir, filepath.FromSlash(objectName))
}

// Close does nothing; the adapter holds no resources.
func (a *localAdapter) Close() error {
	return nil
}

func (a *localAdapter) resolvePath(objectName string) (string, error) {
	fullPath := filepath.Join(a.baseDir, filepath.FromSlash(objectName))
	base, err := filepath.Abs(a.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	abs, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve object path: %w", err)
	}
	if !strings.HasPrefix(abs, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("object name '%s' escapes the base directory", objectName)
	}
	return fullPath, nil
}
