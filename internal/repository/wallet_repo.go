package repository

import (
	"context"
	"errors"
	"fmt"

	"tutorledger/internal/model"
	"tutorledger/pkg/sqlguard"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrOptimisticLock      = errors.New("optimistic lock conflict, retry")
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) GetByStudentID(ctx context.Context, studentID string) (*model.Wallet, error) {
	return getWallet(ctx, r.db, studentID)
}

func getWallet(ctx context.Context, db *gorm.DB, studentID string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := db.WithContext(ctx).Where("student_id = ?", studentID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// GetOrCreate returns the student's wallet, creating it with balance 0 on
// first access. Creation races resolve on the unique student_id index:
// the losing insert is a no-op and both callers re-read the same row.
func (r *WalletRepository) GetOrCreate(ctx context.Context, studentID string) (*model.Wallet, error) {
	wallet, err := r.GetByStudentID(ctx, studentID)
	if err == nil {
		return wallet, nil
	}

	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	newWallet := &model.Wallet{
		StudentID: studentID,
		Balance:   0,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "student_id"}},
			DoNothing: true,
		}).
		Create(newWallet).Error

	if err != nil {
		return nil, err
	}

	return r.GetByStudentID(ctx, studentID)
}

// Deduct atomically subtracts amount from the wallet, guarded by both the
// balance floor and the optimistic version. The balance check rides inside
// the UPDATE itself so two racing spends can never both pass on a stale
// read: one of them sees zero rows affected and is classified below.
func (r *WalletRepository) Deduct(ctx context.Context, tx *gorm.DB, studentID string, amount int64, version int) error {
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("student_id = ? AND balance >= ? AND version = ?", studentID, amount, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		// classify on the tx handle: the caller's transaction must see its
		// own state, and a pooled read would block on a pinned connection
		wallet, err := getWallet(ctx, tx, studentID)
		if err != nil {
			return err
		}
		if wallet.Balance < amount {
			return ErrInsufficientCredits
		}
		return ErrOptimisticLock
	}

	return nil
}

// Increase atomically adds amount to the wallet.
func (r *WalletRepository) Increase(ctx context.Context, tx *gorm.DB, studentID string, amount int64) error {
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("student_id = ?", studentID).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrWalletNotFound
	}

	return nil
}

const sumTransactionsSQL = `SELECT COALESCE(SUM(amount), 0) FROM credit_transaction WHERE student_id = ?`

// SumTransactions computes the balance the hard way, from the transaction
// log. Used by the audit check that proves the cached wallet balance never
// drifts from the sum of its transactions.
func (r *WalletRepository) SumTransactions(ctx context.Context, studentID string) (int64, error) {
	if err := sqlguard.Check(sumTransactionsSQL); err != nil {
		return 0, fmt.Errorf("sum transactions: %w", err)
	}
	var sum int64
	err := r.db.WithContext(ctx).Raw(sumTransactionsSQL, studentID).Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	return sum, nil
}
