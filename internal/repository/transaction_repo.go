package repository

import (
	"context"
	"time"

	"tutorledger/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.CreditTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

// GetByIdempotencyKey looks up a transaction by its external key, scoped
// to the owning student. Returns nil, nil when absent; existence means
// the keyed operation already applied for that student and must not be
// repeated. Keys are only unique per student, so the owner is part of
// the lookup.
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, studentID, key string) (*model.CreditTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.CreditTransaction
	err := tx.WithContext(ctx).Where("student_id = ? AND idempotency_key = ?", studentID, key).First(&trans).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// GetRefundByBookingID finds the REFUND transaction linked to a booking,
// if any. A booking is refunded at most once.
func (r *TransactionRepository) GetRefundByBookingID(ctx context.Context, tx *gorm.DB, bookingID string) (*model.CreditTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.CreditTransaction
	err := tx.WithContext(ctx).
		Where("booking_id = ? AND reason = ?", bookingID, model.ReasonRefund).
		First(&trans).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// GetExpiredUnswept returns positive credit transactions whose expiry has
// passed and for which no EXPIRATION transaction references them yet. The
// anti-join is the sweep marker: an expired credit is "swept" exactly when
// its negating row exists.
func (r *TransactionRepository) GetExpiredUnswept(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*model.CreditTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var transactions []*model.CreditTransaction
	err := tx.WithContext(ctx).
		Where("amount > 0 AND expires_at IS NOT NULL AND expires_at < ?", now).
		Where("transaction_no NOT IN (?)",
			tx.WithContext(ctx).
				Model(&model.CreditTransaction{}).
				Select("ref_transaction_no").
				Where("reason = ? AND ref_transaction_no IS NOT NULL", model.ReasonExpiration),
		).
		Order("expires_at ASC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}

// GetExpiringInWindow returns positive credit transactions that expire
// within [now, now+window], for the reminder aggregation.
func (r *TransactionRepository) GetExpiringInWindow(ctx context.Context, now time.Time, window time.Duration) ([]*model.CreditTransaction, error) {
	var transactions []*model.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("amount > 0 AND expires_at IS NOT NULL AND expires_at >= ? AND expires_at <= ?", now, now.Add(window)).
		Order("expires_at ASC").
		Find(&transactions).Error
	return transactions, err
}

func (r *TransactionRepository) ListByStudentID(ctx context.Context, studentID string, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	var transactions []*model.CreditTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.CreditTransaction{}).Where("student_id = ?", studentID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}
