package sql

import (
	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
)

// fromDomain converts a domain ImportJob to its persistence entity.
func fromDomain(job *model.ImportJob) *ImportJobEntity {
	return &ImportJobEntity{
		ID:              job.ID,
		JobName:         job.JobName,
		EntityKind:      job.EntityKind,
		Status:          job.Status.String(),
		TotalCount:      job.TotalCount,
		ProcessedCount:  job.ProcessedCount,
		SuccessCount:    job.SuccessCount,
		FailedCount:     job.FailedCount,
		ProgressPercent: job.ProgressPercent,
		ProgressMessage: job.ProgressMessage,
		LastHeartbeatAt: job.LastHeartbeatAt,
		CreateTime:      job.CreateTime,
		LastUpdated:     job.LastUpdated,
		Version:         job.Version,
	}
}

// toDomain converts a persistence entity back to the domain ImportJob.
func toDomain(entity *ImportJobEntity) *model.ImportJob {
	return &model.ImportJob{
		ID:              entity.ID,
		JobName:         entity.JobName,
		EntityKind:      entity.EntityKind,
		Status:          model.JobStatus(entity.Status),
		TotalCount:      entity.TotalCount,
		ProcessedCount:  entity.ProcessedCount,
		SuccessCount:    entity.SuccessCount,
		FailedCount:     entity.FailedCount,
		ProgressPercent: entity.ProgressPercent,
		ProgressMessage: entity.ProgressMessage,
		LastHeartbeatAt: entity.LastHeartbeatAt,
		CreateTime:      entity.CreateTime,
		LastUpdated:     entity.LastUpdated,
		Version:         entity.Version,
	}
}
