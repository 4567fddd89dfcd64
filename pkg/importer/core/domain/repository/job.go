// Package repository defines the persistence interface for import job records.
package repository

import (
	"context"
	"errors"

	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
	"github.com/quayside/groupage/pkg/importer/support/util/exception"
)

// ErrImportJobNotFound is the error returned when an ImportJob is not found.
var ErrImportJobNotFound = errors.New("import job not found")

// ErrStaleJobVersion is returned by UpdateJob when an optimistic-lock check
// fails because another writer (such as an external cancel request) advanced
// the persisted Version. Callers re-read the record and retry the write.
var ErrStaleJobVersion = errors.New("import job was modified concurrently")

func init() {
	// Register the error types in the registry upon engine startup.
	exception.RegisterErrorType("ErrImportJobNotFound", ErrImportJobNotFound)
	exception.RegisterErrorType("ErrStaleJobVersion", ErrStaleJobVersion)
}

// JobRepository persists and manages import job records.
// The running scheduler is the only writer of progress fields; cancellation is
// requested by a separate process through RequestCancel and observed by the
// scheduler at wave boundaries.
type JobRepository interface {
	// SaveJob persists a new ImportJob.
	SaveJob(ctx context.Context, job *model.ImportJob) error

	// UpdateJob updates the state of an existing ImportJob.
	UpdateJob(ctx context.Context, job *model.ImportJob) error

	// FindJobByID finds an ImportJob by its ID.
	FindJobByID(ctx context.Context, id string) (*model.ImportJob, error)

	// RequestCancel transitions a running or paused job to CANCELLING.
	// It is a no-op when the job is already in a terminal state.
	RequestCancel(ctx context.Context, id string) error

	// Close releases resources (such as database connections) used by the repository.
	Close() error
}
