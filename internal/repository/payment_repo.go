package repository

import (
	"context"
	"errors"
	"time"

	"tutorledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentStatusInvalid = errors.New("payment status transition not allowed")
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(payment).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// UpdateStatus moves a payment along its state machine with a compare-and-
// set on the current status. Zero rows affected means a concurrent writer
// got there first (or the transition is stale); the caller decides whether
// that is a replay no-op or an error.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id string, fromStatus, toStatus string) error {
	if !model.PaymentCanTransitionTo(fromStatus, toStatus) {
		return ErrPaymentStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}

	if toStatus == model.PaymentStatusCompleted {
		now := time.Now()
		updates["completed_at"] = &now
	}

	result := tx.WithContext(ctx).
		Model(&model.Payment{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrPaymentStatusInvalid
	}

	return nil
}

// RecordDeliveryKey claims a webhook delivery identifier for the payment.
// Returns false when the (payment, key) pair already exists: the delivery
// is a replay and must produce no further effects. The unique index makes
// the claim race-safe; whoever loses the insert sees zero rows affected.
func (r *PaymentRepository) RecordDeliveryKey(ctx context.Context, tx *gorm.DB, paymentID, deliveryKey string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	row := &model.PaymentWebhookKey{
		PaymentID:   paymentID,
		DeliveryKey: deliveryKey,
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_id"}, {Name: "delivery_key"}},
			DoNothing: true,
		}).
		Create(row)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// HasDeliveryKey reports whether the delivery identifier was already
// processed for this payment.
func (r *PaymentRepository) HasDeliveryKey(ctx context.Context, paymentID, deliveryKey string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.PaymentWebhookKey{}).
		Where("payment_id = ? AND delivery_key = ?", paymentID, deliveryKey).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
