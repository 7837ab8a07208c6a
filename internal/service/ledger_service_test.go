package service

import (
	"context"
	"testing"
	"time"

	"tutorledger/internal/model"
	"tutorledger/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestLedgerService_AddAndSpend(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db, newTestConfig())
	ctx := context.Background()

	addResult, err := ledger.AddCredits(ctx, &LedgerEntry{
		StudentID:      "student-1",
		Amount:         10,
		Reason:         model.ReasonCreditAddition,
		IdempotencyKey: "grant-1",
	})
	require.NoError(t, err)
	assert.False(t, addResult.AlreadyApplied)
	assert.Equal(t, int64(10), addResult.Balance)

	spendResult, err := ledger.SpendCredits(ctx, &LedgerEntry{
		StudentID:      "student-1",
		Amount:         4,
		Reason:         model.ReasonUsage,
		IdempotencyKey: "booking-1",
	})
	require.NoError(t, err)
	assert.False(t, spendResult.AlreadyApplied)
	assert.Equal(t, int64(6), spendResult.Balance)

	balance, err := ledger.Balance(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), balance)
}

func TestLedgerService_IdempotentReplay(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db, newTestConfig())
	ctx := context.Background()

	entry := &LedgerEntry{
		StudentID:      "student-1",
		Amount:         10,
		Reason:         model.ReasonCreditAddition,
		IdempotencyKey: "grant-1",
	}

	first, err := ledger.AddCredits(ctx, entry)
	require.NoError(t, err)
	require.False(t, first.AlreadyApplied)

	second, err := ledger.AddCredits(ctx, entry)
	require.NoError(t, err)
	assert.True(t, second.AlreadyApplied)
	assert.Equal(t, first.TransactionNo, second.TransactionNo)
	assert.Equal(t, int64(10), second.Balance)

	var count int64
	require.NoError(t, db.Model(&model.CreditTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestLedgerService_InsufficientCredits(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db, newTestConfig())
	ctx := context.Background()

	_, err := ledger.AddCredits(ctx, &LedgerEntry{
		StudentID:      "student-1",
		Amount:         3,
		Reason:         model.ReasonCreditAddition,
		IdempotencyKey: "grant-1",
	})
	require.NoError(t, err)

	_, err = ledger.SpendCredits(ctx, &LedgerEntry{
		StudentID:      "student-1",
		Amount:         5,
		Reason:         model.ReasonUsage,
		IdempotencyKey: "booking-1",
	})
	assert.ErrorIs(t, err, repository.ErrInsufficientCredits)

	// the failed spend must leave no trace
	balance, err := ledger.Balance(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), balance)

	var count int64
	require.NoError(t, db.Model(&model.CreditTransaction{}).
		Where("reason = ?", model.ReasonUsage).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestLedgerService_KeyScopedPerStudent(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db, newTestConfig())
	ctx := context.Background()

	first, err := ledger.AddCredits(ctx, &LedgerEntry{
		StudentID:      "student-1",
		Amount:         5,
		Reason:         model.ReasonCreditAddition,
		IdempotencyKey: "welcome-grant",
	})
	require.NoError(t, err)
	require.False(t, first.AlreadyApplied)

	// the same key for another student is a fresh operation, not a replay
	// of the first student's transaction
	second, err := ledger.AddCredits(ctx, &LedgerEntry{
		StudentID:      "student-2",
		Amount:         7,
		Reason:         model.ReasonCreditAddition,
		IdempotencyKey: "welcome-grant",
	})
	require.NoError(t, err)
	assert.False(t, second.AlreadyApplied)
	assert.NotEqual(t, first.TransactionNo, second.TransactionNo)
	assert.Equal(t, int64(7), second.Balance)

	// replays stay scoped to their owner
	replay, err := ledger.AddCredits(ctx, &LedgerEntry{
		StudentID:      "student-2",
		Amount:         7,
		Reason:         model.ReasonCreditAddition,
		IdempotencyKey: "welcome-grant",
	})
	require.NoError(t, err)
	assert.True(t, replay.AlreadyApplied)
	assert.Equal(t, second.TransactionNo, replay.TransactionNo)

	balance, err := ledger.Balance(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)
}

func TestLedgerService_BalanceFiguresChain(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db, newTestConfig())
	ctx := context.Background()

	ops := []struct {
		key    string
		amount int64
		spend  bool
	}{
		{"grant-1", 12, false},
		{"booking-1", 5, true},
		{"grant-2", 3, false},
	}
	for _, op := range ops {
		entry := &LedgerEntry{
			StudentID:      "student-1",
			Amount:         op.amount,
			Reason:         model.ReasonCreditAddition,
			IdempotencyKey: op.key,
		}
		var err error
		if op.spend {
			entry.Reason = model.ReasonUsage
			_, err = ledger.SpendCredits(ctx, entry)
		} else {
			_, err = ledger.AddCredits(ctx, entry)
		}
		require.NoError(t, err)
	}

	var rows []*model.CreditTransaction
	require.NoError(t, db.Where("student_id = ?", "student-1").Order("id ASC").Find(&rows).Error)
	require.Len(t, rows, 3)

	// every row's figures come from the post-update balance, so the chain
	// is gap free and ends at the cached balance
	prev := int64(0)
	for _, row := range rows {
		assert.Equal(t, prev, row.BalanceBefore)
		assert.Equal(t, row.BalanceBefore+row.Amount, row.BalanceAfter)
		prev = row.BalanceAfter
	}

	balance, err := ledger.Balance(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, prev, balance)
}

func TestLedgerService_InvalidAmount(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db, newTestConfig())
	ctx := context.Background()

	_, err := ledger.SpendCredits(ctx, &LedgerEntry{StudentID: "student-1", Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ledger.AddCredits(ctx, &LedgerEntry{StudentID: "student-1", Amount: -5})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLedgerService_BalanceWithoutWallet(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db, newTestConfig())

	balance, err := ledger.Balance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestLedgerService_Audit(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db, newTestConfig())
	ctx := context.Background()

	keys := []struct {
		key    string
		amount int64
		spend  bool
	}{
		{"grant-1", 20, false},
		{"booking-1", 7, true},
		{"grant-2", 5, false},
		{"booking-2", 3, true},
	}
	for _, k := range keys {
		entry := &LedgerEntry{
			StudentID:      "student-1",
			Amount:         k.amount,
			Reason:         model.ReasonCreditAddition,
			IdempotencyKey: k.key,
		}
		var err error
		if k.spend {
			entry.Reason = model.ReasonUsage
			_, err = ledger.SpendCredits(ctx, entry)
		} else {
			_, err = ledger.AddCredits(ctx, entry)
		}
		require.NoError(t, err)
	}

	audit, err := ledger.Audit(ctx, "student-1")
	require.NoError(t, err)
	assert.True(t, audit.Consistent)
	assert.Equal(t, int64(15), audit.CachedBalance)
	assert.Equal(t, audit.CachedBalance, audit.TransactionSum)
}

func TestLedgerService_ExpireCreditClampsToBalance(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db, newTestConfig())
	ctx := context.Background()

	expiry := time.Now().Add(-time.Hour)
	addResult, err := ledger.AddCredits(ctx, &LedgerEntry{
		StudentID:      "student-1",
		Amount:         10,
		Reason:         model.ReasonCreditAddition,
		IdempotencyKey: "grant-1",
		ExpiresAt:      &expiry,
	})
	require.NoError(t, err)

	_, err = ledger.SpendCredits(ctx, &LedgerEntry{
		StudentID:      "student-1",
		Amount:         4,
		Reason:         model.ReasonUsage,
		IdempotencyKey: "booking-1",
	})
	require.NoError(t, err)

	var expired model.CreditTransaction
	require.NoError(t, db.Where("transaction_no = ?", addResult.TransactionNo).First(&expired).Error)

	var result *LedgerResult
	err = db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = ledger.ExpireCreditTx(ctx, tx, &expired)
		return txErr
	})
	require.NoError(t, err)
	assert.False(t, result.AlreadyApplied)
	// only the 6 unspent credits expire, never below zero
	assert.Equal(t, int64(0), result.Balance)

	var row model.CreditTransaction
	require.NoError(t, db.Where("reason = ?", model.ReasonExpiration).First(&row).Error)
	assert.Equal(t, int64(-6), row.Amount)
	require.NotNil(t, row.RefTransactionNo)
	assert.Equal(t, addResult.TransactionNo, *row.RefTransactionNo)

	// re-running the sweep finds the key and does nothing
	err = db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = ledger.ExpireCreditTx(ctx, tx, &expired)
		return txErr
	})
	require.NoError(t, err)
	assert.True(t, result.AlreadyApplied)

	audit, err := ledger.Audit(ctx, "student-1")
	require.NoError(t, err)
	assert.True(t, audit.Consistent)
}

func TestLedgerService_ExpireFullySpentCreditWritesZeroRow(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db, newTestConfig())
	ctx := context.Background()

	expiry := time.Now().Add(-time.Hour)
	addResult, err := ledger.AddCredits(ctx, &LedgerEntry{
		StudentID:      "student-1",
		Amount:         10,
		Reason:         model.ReasonCreditAddition,
		IdempotencyKey: "grant-1",
		ExpiresAt:      &expiry,
	})
	require.NoError(t, err)

	_, err = ledger.SpendCredits(ctx, &LedgerEntry{
		StudentID:      "student-1",
		Amount:         10,
		Reason:         model.ReasonUsage,
		IdempotencyKey: "booking-1",
	})
	require.NoError(t, err)

	var expired model.CreditTransaction
	require.NoError(t, db.Where("transaction_no = ?", addResult.TransactionNo).First(&expired).Error)

	err = db.Transaction(func(tx *gorm.DB) error {
		_, txErr := ledger.ExpireCreditTx(ctx, tx, &expired)
		return txErr
	})
	require.NoError(t, err)

	// the zero-amount row marks the credit swept
	var row model.CreditTransaction
	require.NoError(t, db.Where("reason = ?", model.ReasonExpiration).First(&row).Error)
	assert.Equal(t, int64(0), row.Amount)

	balance, err := ledger.Balance(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestLedgerService_EmitsOutboxEvents(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db, newTestConfig())
	ctx := context.Background()

	_, err := ledger.AddCredits(ctx, &LedgerEntry{
		StudentID:      "student-1",
		Amount:         10,
		Reason:         model.ReasonCreditAddition,
		IdempotencyKey: "grant-1",
	})
	require.NoError(t, err)

	var messages []*model.OutboxMessage
	require.NoError(t, db.Find(&messages).Error)
	require.Len(t, messages, 1)
	assert.Equal(t, "ledger.credit-events", messages[0].Topic)
	assert.Equal(t, model.OutboxStatusPending, messages[0].Status)
}

func TestLedgerService_History(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db, newTestConfig())
	ctx := context.Background()

	for i, key := range []string{"grant-1", "grant-2", "grant-3"} {
		_, err := ledger.AddCredits(ctx, &LedgerEntry{
			StudentID:      "student-1",
			Amount:         int64(i + 1),
			Reason:         model.ReasonCreditAddition,
			IdempotencyKey: key,
		})
		require.NoError(t, err)
	}

	transactions, total, err := ledger.History(ctx, "student-1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, transactions, 2)
}
