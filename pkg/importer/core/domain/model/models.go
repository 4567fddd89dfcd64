// Package model holds the core domain types of the groupage import engine:
// the persisted import job record, the aggregated group representation, and
// the per-group write outcome.
package model

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a persisted import job.
type JobStatus string

const (
	JobStatusRunning    JobStatus = "RUNNING"
	JobStatusPaused     JobStatus = "PAUSED"
	JobStatusCancelling JobStatus = "CANCELLING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusCancelled  JobStatus = "CANCELLED"
	JobStatusFailed     JobStatus = "FAILED"
)

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string {
	return string(s)
}

// IsFinished checks if the JobStatus represents a terminal state.
func (s JobStatus) IsFinished() bool {
	switch s {
	case JobStatusCompleted, JobStatusCancelled, JobStatusFailed:
		return true
	default:
		return false
	}
}

// ImportJob is the persisted record of one import run. The scheduler updates it
// after each wave; an external request may flip Status to CANCELLING at any time,
// which the scheduler observes at the next wave boundary.
type ImportJob struct {
	ID              string
	JobName         string
	EntityKind      string
	Status          JobStatus
	TotalCount      int
	ProcessedCount  int
	SuccessCount    int
	FailedCount     int
	ProgressPercent float64
	ProgressMessage string
	LastHeartbeatAt time.Time
	CreateTime      time.Time
	LastUpdated     time.Time
	Version         int
}

// NewImportJob creates a new ImportJob in the RUNNING state.
func NewImportJob(jobName, entityKind string, totalCount int) *ImportJob {
	now := time.Now()
	return &ImportJob{
		ID:              NewID(),
		JobName:         jobName,
		EntityKind:      entityKind,
		Status:          JobStatusRunning,
		TotalCount:      totalCount,
		LastHeartbeatAt: now,
		CreateTime:      now,
		LastUpdated:     now,
	}
}

// MarkProgress updates the running totals and heartbeat after a completed wave.
func (j *ImportJob) MarkProgress(processed, success, failed int, message string) {
	j.ProcessedCount = processed
	j.SuccessCount = success
	j.FailedCount = failed
	j.ProgressMessage = message
	if j.TotalCount > 0 {
		j.ProgressPercent = float64(processed) / float64(j.TotalCount) * 100
	}
	now := time.Now()
	j.LastHeartbeatAt = now
	j.LastUpdated = now
}

// MarkFinished transitions the job into a terminal status.
func (j *ImportJob) MarkFinished(status JobStatus) {
	j.Status = status
	j.LastUpdated = time.Now()
}

// NewID generates a new unique identifier.
func NewID() string {
	return uuid.NewString()
}
