package repository

import (
	"context"
	"testing"

	"tutorledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestWalletRepository_GetOrCreate(t *testing.T) {
	db := newTestDB(t)
	repo := NewWalletRepository(db)
	ctx := context.Background()

	_, err := repo.GetByStudentID(ctx, "student-1")
	assert.ErrorIs(t, err, ErrWalletNotFound)

	wallet, err := repo.GetOrCreate(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), wallet.Balance)

	// second call returns the same wallet, no duplicate row
	again, err := repo.GetOrCreate(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, wallet.ID, again.ID)

	var count int64
	require.NoError(t, db.Model(&model.Wallet{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestWalletRepository_Deduct(t *testing.T) {
	db := newTestDB(t)
	repo := NewWalletRepository(db)
	ctx := context.Background()

	wallet, err := repo.GetOrCreate(ctx, "student-1")
	require.NoError(t, err)
	require.NoError(t, repo.Increase(ctx, db, "student-1", 10))

	wallet, err = repo.GetByStudentID(ctx, "student-1")
	require.NoError(t, err)

	require.NoError(t, repo.Deduct(ctx, db, "student-1", 4, wallet.Version))

	wallet, err = repo.GetByStudentID(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), wallet.Balance)
}

func TestWalletRepository_DeductInsufficient(t *testing.T) {
	db := newTestDB(t)
	repo := NewWalletRepository(db)
	ctx := context.Background()

	_, err := repo.GetOrCreate(ctx, "student-1")
	require.NoError(t, err)
	require.NoError(t, repo.Increase(ctx, db, "student-1", 3))

	wallet, err := repo.GetByStudentID(ctx, "student-1")
	require.NoError(t, err)

	err = repo.Deduct(ctx, db, "student-1", 5, wallet.Version)
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	// nothing changed
	wallet, err = repo.GetByStudentID(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), wallet.Balance)
}

func TestWalletRepository_DeductClassifiesInsideTransaction(t *testing.T) {
	db := newTestDB(t)
	repo := NewWalletRepository(db)
	ctx := context.Background()

	_, err := repo.GetOrCreate(ctx, "student-1")
	require.NoError(t, err)
	require.NoError(t, repo.Increase(ctx, db, "student-1", 5))

	wallet, err := repo.GetByStudentID(ctx, "student-1")
	require.NoError(t, err)

	// the test DB has one connection: the classification re-read must run
	// on the open transaction or this call never returns
	err = db.Transaction(func(tx *gorm.DB) error {
		return repo.Deduct(ctx, tx, "student-1", 10, wallet.Version)
	})
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	wallet, err = repo.GetByStudentID(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), wallet.Balance)
}

func TestWalletRepository_DeductStaleVersion(t *testing.T) {
	db := newTestDB(t)
	repo := NewWalletRepository(db)
	ctx := context.Background()

	_, err := repo.GetOrCreate(ctx, "student-1")
	require.NoError(t, err)
	require.NoError(t, repo.Increase(ctx, db, "student-1", 10))

	wallet, err := repo.GetByStudentID(ctx, "student-1")
	require.NoError(t, err)

	// another writer bumps the version after our read
	require.NoError(t, repo.Increase(ctx, db, "student-1", 1))

	err = repo.Deduct(ctx, db, "student-1", 4, wallet.Version)
	assert.ErrorIs(t, err, ErrOptimisticLock)
}

func TestWalletRepository_IncreaseWithoutWallet(t *testing.T) {
	db := newTestDB(t)
	repo := NewWalletRepository(db)

	err := repo.Increase(context.Background(), db, "nobody", 5)
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestWalletRepository_SumTransactions(t *testing.T) {
	db := newTestDB(t)
	repo := NewWalletRepository(db)
	transRepo := NewTransactionRepository(db)
	ctx := context.Background()

	sum, err := repo.SumTransactions(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum)

	amounts := []int64{10, -4, 7}
	for i, amount := range amounts {
		require.NoError(t, transRepo.Create(ctx, nil, &model.CreditTransaction{
			TransactionNo: string(rune('A' + i)),
			StudentID:     "student-1",
			Amount:        amount,
			Reason:        model.ReasonCreditAddition,
		}))
	}

	sum, err = repo.SumTransactions(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, int64(13), sum)
}
