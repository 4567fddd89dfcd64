// Package sql provides a GORM-backed implementation of the job repository.
// Progress updates use optimistic locking on the Version column so a stale
// writer (for example a scheduler racing an external cancel request) fails
// loudly instead of silently overwriting newer state.
package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/quayside/groupage/pkg/importer/core/config"
	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
	"github.com/quayside/groupage/pkg/importer/core/domain/repository"
	"github.com/quayside/groupage/pkg/importer/support/util/exception"
)

const moduleName = "sql_job_repository"

// SQLJobRepository implements repository.JobRepository on a GORM connection.
type SQLJobRepository struct {
	db *gorm.DB
}

var _ repository.JobRepository = (*SQLJobRepository)(nil)

// NewSQLJobRepository opens the configured database, migrates the job table
// and returns the repository.
func NewSQLJobRepository(cfg config.SQLConfig) (*SQLJobRepository, error) {
	dialector, err := openDialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, exception.NewTransientError(moduleName, fmt.Sprintf("failed to open %s database", cfg.Driver), err)
	}
	if err := db.AutoMigrate(&ImportJobEntity{}); err != nil {
		return nil, exception.NewWriteError(moduleName, "failed to migrate import_jobs table", err)
	}
	return &SQLJobRepository{db: db}, nil
}

// NewSQLJobRepositoryWithDB wraps an already-open GORM connection. The caller
// keeps ownership of migrations and connection lifetime.
func NewSQLJobRepositoryWithDB(db *gorm.DB) *SQLJobRepository {
	return &SQLJobRepository{db: db}
}

func openDialector(cfg config.SQLConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported SQL driver '%s' (expected sqlite, postgres or mysql)", cfg.Driver)
	}
}

// SaveJob persists a new ImportJob.
func (r *SQLJobRepository) SaveJob(ctx context.Context, job *model.ImportJob) error {
	entity := fromDomain(job)
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewWriteError(moduleName, fmt.Sprintf("failed to save ImportJob (ID: %s)", job.ID), err)
	}
	return nil
}

// UpdateJob updates an existing ImportJob with an optimistic version check.
// The job's Version is incremented on success.
func (r *SQLJobRepository) UpdateJob(ctx context.Context, job *model.ImportJob) error {
	originalVersion := job.Version
	job.Version++
	entity := fromDomain(job)

	// Columns are written through an explicit map: a struct update would skip
	// zero-valued fields, and a cleared progress message or zeroed counter must
	// land in the row too.
	res := r.db.WithContext(ctx).
		Model(&ImportJobEntity{}).
		Where("id = ? AND version = ?", entity.ID, originalVersion).
		Updates(map[string]interface{}{
			"job_name":          entity.JobName,
			"entity_kind":       entity.EntityKind,
			"status":            entity.Status,
			"total_count":       entity.TotalCount,
			"processed_count":   entity.ProcessedCount,
			"success_count":     entity.SuccessCount,
			"failed_count":      entity.FailedCount,
			"progress_percent":  entity.ProgressPercent,
			"progress_message":  entity.ProgressMessage,
			"last_heartbeat_at": entity.LastHeartbeatAt,
			"last_updated":      entity.LastUpdated,
			"version":           entity.Version,
		})
	if res.Error != nil {
		job.Version = originalVersion
		return exception.NewWriteError(moduleName, fmt.Sprintf("failed to update ImportJob (ID: %s)", job.ID), res.Error)
	}
	if res.RowsAffected == 0 {
		job.Version = originalVersion
		var count int64
		if err := r.db.WithContext(ctx).Model(&ImportJobEntity{}).Where("id = ?", entity.ID).Count(&count).Error; err == nil && count == 0 {
			return repository.ErrImportJobNotFound
		}
		return repository.ErrStaleJobVersion
	}
	return nil
}

// FindJobByID finds an ImportJob by its ID.
func (r *SQLJobRepository) FindJobByID(ctx context.Context, id string) (*model.ImportJob, error) {
	var entity ImportJobEntity
	err := r.db.WithContext(ctx).First(&entity, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrImportJobNotFound
	}
	if err != nil {
		return nil, exception.NewTransientError(moduleName, fmt.Sprintf("failed to find ImportJob (ID: %s)", id), err)
	}
	return toDomain(&entity), nil
}

// RequestCancel transitions a running or paused job to CANCELLING.
// Terminal jobs are left untouched.
func (r *SQLJobRepository) RequestCancel(ctx context.Context, id string) error {
	job, err := r.FindJobByID(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsFinished() {
		return nil
	}
	job.Status = model.JobStatusCancelling
	job.LastUpdated = time.Now()
	return r.UpdateJob(ctx, job)
}

// Close releases the underlying database connection.
func (r *SQLJobRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
