// Package inmemory provides an in-memory implementation of the job repository,
// used for local runs and tests. All state is lost on process exit.
package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/fx"

	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
	"github.com/quayside/groupage/pkg/importer/core/domain/repository"
)

// InMemoryJobRepository is an in-memory implementation of repository.JobRepository.
type InMemoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*model.ImportJob
}

var _ repository.JobRepository = (*InMemoryJobRepository)(nil)

// NewInMemoryJobRepository creates a new empty InMemoryJobRepository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{jobs: make(map[string]*model.ImportJob)}
}

// SaveJob persists a new ImportJob.
// It returns an error if a job with the same ID already exists.
func (r *InMemoryJobRepository) SaveJob(ctx context.Context, job *model.ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("ImportJob with ID %s already exists", job.ID)
	}
	cloned := *job
	r.jobs[job.ID] = &cloned
	return nil
}

// UpdateJob updates an existing ImportJob.
// It returns an error if the job with the given ID is not found.
func (r *InMemoryJobRepository) UpdateJob(ctx context.Context, job *model.ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.jobs[job.ID]
	if !exists {
		return fmt.Errorf("ImportJob with ID %s not found for update", job.ID)
	}

	// Cancellation is requested out of band; a progress update from the
	// scheduler must not overwrite CANCELLING with RUNNING.
	if current.Status == model.JobStatusCancelling && job.Status == model.JobStatusRunning {
		job.Status = model.JobStatusCancelling
	}

	cloned := *job
	cloned.Version = current.Version + 1
	job.Version = cloned.Version
	r.jobs[job.ID] = &cloned
	return nil
}

// FindJobByID finds an ImportJob by its ID.
func (r *InMemoryJobRepository) FindJobByID(ctx context.Context, id string) (*model.ImportJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrImportJobNotFound
	}

	// Deep copy to prevent external modification of internal state
	cloned := *job
	return &cloned, nil
}

// RequestCancel transitions a running or paused job to CANCELLING.
// It is a no-op for jobs already in a terminal state.
func (r *InMemoryJobRepository) RequestCancel(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return repository.ErrImportJobNotFound
	}
	if job.Status.IsFinished() {
		return nil
	}
	job.Status = model.JobStatusCancelling
	job.LastUpdated = time.Now()
	job.Version++
	return nil
}

// Close releases nothing; it exists to satisfy the repository contract.
func (r *InMemoryJobRepository) Close() error {
	return nil
}

// Module is an Fx module that provides the in-memory job repository.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewInMemoryJobRepository,
			fx.As(new(repository.JobRepository)),
		),
	),
)
