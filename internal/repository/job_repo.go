package repository

import (
	"context"
	"time"

	"tutorledger/internal/model"

	"gorm.io/gorm"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Start records the beginning of a job run. The row is a run-history
// entry, not a lock: a crashed run stays RUNNING forever and the rerun
// gets its own row.
func (r *JobRepository) Start(ctx context.Context, jobName string, startedAt time.Time) (*model.JobExecution, error) {
	execution := &model.JobExecution{
		JobName:   jobName,
		Status:    model.JobStatusRunning,
		StartedAt: startedAt,
	}
	if err := r.db.WithContext(ctx).Create(execution).Error; err != nil {
		return nil, err
	}
	return execution, nil
}

// Finish closes a run as COMPLETED, or FAILED when errText is non-empty.
func (r *JobRepository) Finish(ctx context.Context, executionID int64, errText string) error {
	status := model.JobStatusCompleted
	if errText != "" {
		status = model.JobStatusFailed
	}
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.JobExecution{}).
		Where("id = ?", executionID).
		Updates(map[string]interface{}{
			"status":      status,
			"finished_at": &now,
			"error":       errText,
		}).Error
}

func (r *JobRepository) ListByJobName(ctx context.Context, jobName string, limit int) ([]*model.JobExecution, error) {
	var executions []*model.JobExecution
	err := r.db.WithContext(ctx).
		Where("job_name = ?", jobName).
		Order("started_at DESC").
		Limit(limit).
		Find(&executions).Error
	return executions, err
}
