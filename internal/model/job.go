package model

import (
	"time"
)

const (
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)

// JobExecution records one scheduled-job run so operators can see run
// history and crashed runs. It is deliberately not a de-duplication key:
// effect de-duplication happens at the credit-transaction level through
// idempotency keys, so re-running a job is always safe.
type JobExecution struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	JobName    string     `gorm:"type:varchar(64);index;not null" json:"job_name"`
	Status     string     `gorm:"type:varchar(20);index;not null" json:"status"`
	StartedAt  time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `gorm:"type:varchar(1024)" json:"error,omitempty"`
}

func (JobExecution) TableName() string {
	return "job_execution"
}
