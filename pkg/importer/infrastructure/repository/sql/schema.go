package sql

import (
	"time"
)

// ImportJobEntity is the schema model used for persistence.
type ImportJobEntity struct {
	ID              string `gorm:"primaryKey"`
	JobName         string
	EntityKind      string
	Status          string
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

func (ImportJobEntity) TableName() string {
	return "import_jobs"
}
