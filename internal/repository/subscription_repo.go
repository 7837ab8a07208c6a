package repository

import (
	"context"
	"time"

	"tutorledger/internal/model"

	"gorm.io/gorm"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Create(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(sub).Error
}

// GetActiveByStudentID returns the student's ACTIVE subscription, nil when
// there is none. A student has at most one active plan at a time.
func (r *SubscriptionRepository) GetActiveByStudentID(ctx context.Context, tx *gorm.DB, studentID string) (*model.Subscription, error) {
	if tx == nil {
		tx = r.db
	}
	var sub model.Subscription
	err := tx.WithContext(ctx).
		Where("student_id = ? AND status = ?", studentID, model.SubscriptionStatusActive).
		First(&sub).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// ListActive returns all ACTIVE subscriptions with a positive monthly
// amount, for the allocation job.
func (r *SubscriptionRepository) ListActive(ctx context.Context, tx *gorm.DB) ([]*model.Subscription, error) {
	if tx == nil {
		tx = r.db
	}
	var subs []*model.Subscription
	err := tx.WithContext(ctx).
		Where("status = ? AND credits_per_month > 0", model.SubscriptionStatusActive).
		Order("id ASC").
		Find(&subs).Error
	return subs, err
}

// ActivatePlan switches the student onto the named plan: any currently
// ACTIVE subscription is cancelled and the matching INACTIVE one becomes
// ACTIVE with its start date set. Runs inside the caller's transaction so
// payment completion and activation commit together.
func (r *SubscriptionRepository) ActivatePlan(ctx context.Context, tx *gorm.DB, studentID, planName string, startDate time.Time) error {
	if tx == nil {
		tx = r.db
	}

	err := tx.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("student_id = ? AND status = ?", studentID, model.SubscriptionStatusActive).
		Update("status", model.SubscriptionStatusCancelled).Error
	if err != nil {
		return err
	}

	return tx.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("student_id = ? AND plan_name = ? AND status = ?", studentID, planName, model.SubscriptionStatusInactive).
		Updates(map[string]interface{}{
			"status":     model.SubscriptionStatusActive,
			"start_date": &startDate,
		}).Error
}
