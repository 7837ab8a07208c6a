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

func newRefundFixture(t *testing.T) (*gorm.DB, *RefundService, *LedgerService) {
	t.Helper()
	db := newTestDB(t)
	cfg := newTestConfig()
	ledger := NewLedgerService(db, cfg)
	return db, NewRefundService(db, cfg, ledger), ledger
}

func TestRefundService_RefundCancelledBooking(t *testing.T) {
	db, svc, ledger := newRefundFixture(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Booking{
		ID:          "booking-1",
		StudentID:   "student-1",
		CoachID:     "coach-1",
		CreditCost:  4,
		Status:      model.BookingStatusCancelled,
		ScheduledAt: time.Now().Add(24 * time.Hour),
	}).Error)

	result, err := svc.RefundBooking(ctx, "booking-1", "coach unavailable")
	require.NoError(t, err)
	assert.False(t, result.AlreadyRefunded)
	assert.Equal(t, int64(4), result.Amount)
	assert.NotEmpty(t, result.TransactionNo)

	balance, err := ledger.Balance(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), balance)

	var trans model.CreditTransaction
	require.NoError(t, db.First(&trans, "reason = ?", model.ReasonRefund).Error)
	require.NotNil(t, trans.BookingID)
	assert.Equal(t, "booking-1", *trans.BookingID)
}

func TestRefundService_DoubleRefund(t *testing.T) {
	db, svc, ledger := newRefundFixture(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Booking{
		ID:          "booking-1",
		StudentID:   "student-1",
		CreditCost:  4,
		Status:      model.BookingStatusCancelled,
		ScheduledAt: time.Now(),
	}).Error)

	first, err := svc.RefundBooking(ctx, "booking-1", "")
	require.NoError(t, err)
	require.False(t, first.AlreadyRefunded)

	second, err := svc.RefundBooking(ctx, "booking-1", "")
	require.NoError(t, err)
	assert.True(t, second.AlreadyRefunded)
	assert.Equal(t, first.TransactionNo, second.TransactionNo)

	// exactly one refund row, exactly one credit
	balance, err := ledger.Balance(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), balance)

	var count int64
	require.NoError(t, db.Model(&model.CreditTransaction{}).
		Where("reason = ?", model.ReasonRefund).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRefundService_BookingNotCancelled(t *testing.T) {
	db, svc, ledger := newRefundFixture(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Booking{
		ID:          "booking-1",
		StudentID:   "student-1",
		CreditCost:  4,
		Status:      model.BookingStatusScheduled,
		ScheduledAt: time.Now(),
	}).Error)

	_, err := svc.RefundBooking(ctx, "booking-1", "")
	assert.ErrorIs(t, err, ErrBookingNotCancelled)

	balance, err := ledger.Balance(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestRefundService_BookingNotFound(t *testing.T) {
	_, svc, _ := newRefundFixture(t)

	_, err := svc.RefundBooking(context.Background(), "no-such-booking", "")
	assert.ErrorIs(t, err, repository.ErrBookingNotFound)
}
