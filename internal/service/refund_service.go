package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"tutorledger/internal/config"
	"tutorledger/internal/model"
	"tutorledger/internal/repository"

	"gorm.io/gorm"
)

// ErrBookingNotCancelled rejects refunds of bookings that are still
// active. This is an expected precondition failure, not a bug: callers
// render it as a specific message.
var ErrBookingNotCancelled = errors.New("booking is not cancelled")

// RefundService reverses the credit debit of a cancelled booking, exactly
// once, even when concurrent refund attempts race on the same booking.
type RefundService struct {
	db              *gorm.DB
	cfg             *config.Config
	bookingRepo     *repository.BookingRepository
	transactionRepo *repository.TransactionRepository
	ledger          *LedgerService
}

func NewRefundService(db *gorm.DB, cfg *config.Config, ledger *LedgerService) *RefundService {
	return &RefundService{
		db:              db,
		cfg:             cfg,
		bookingRepo:     repository.NewBookingRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		ledger:          ledger,
	}
}

type RefundResult struct {
	AlreadyRefunded bool   `json:"already_refunded"`
	TransactionNo   string `json:"transaction_no,omitempty"`
	Amount          int64  `json:"amount"`
}

// RefundBooking credits the booking's original cost back to the owning
// wallet. The booking is re-read inside the atomic unit so a stale status
// cannot slip through; a second call finds the existing REFUND row and
// reports AlreadyRefunded. When the unit aborts on a write-write conflict
// the racing duplicate may have committed the refund, so the conflict
// hook re-queries for the REFUND row instead of failing.
func (s *RefundService) RefundBooking(ctx context.Context, bookingID, reason string) (*RefundResult, error) {
	// pre-read to learn the owner and create the wallet before the
	// transaction opens; the in-transaction re-read below stays the
	// authoritative status check
	owner, err := s.bookingRepo.GetByID(ctx, nil, bookingID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.EnsureWallet(ctx, owner.StudentID); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}

	result := &RefundResult{}

	err = repository.RunInTxWithRetry(ctx, s.db, s.maxRetries(), func(tx *gorm.DB) error {
		booking, err := s.bookingRepo.GetByID(ctx, tx, bookingID)
		if err != nil {
			return err
		}

		if booking.Status != model.BookingStatusCancelled {
			return ErrBookingNotCancelled
		}

		existing, err := s.transactionRepo.GetRefundByBookingID(ctx, tx, bookingID)
		if err != nil {
			return fmt.Errorf("refund lookup: %w", err)
		}
		if existing != nil {
			result.AlreadyRefunded = true
			result.TransactionNo = existing.TransactionNo
			result.Amount = existing.Amount
			return nil
		}

		description := fmt.Sprintf("Refund for cancelled session %s", bookingID)
		if reason != "" {
			description = fmt.Sprintf("%s: %s", description, reason)
		}

		ledgerResult, err := s.ledger.AddCreditsTx(ctx, tx, &LedgerEntry{
			StudentID:      booking.StudentID,
			Amount:         booking.CreditCost,
			Reason:         model.ReasonRefund,
			Description:    description,
			IdempotencyKey: "refund:" + bookingID,
			BookingID:      &booking.ID,
		})
		if err != nil {
			return err
		}

		result.TransactionNo = ledgerResult.TransactionNo
		result.Amount = booking.CreditCost
		return nil
	}, func(ctx context.Context) bool {
		existing, err := s.transactionRepo.GetRefundByBookingID(ctx, nil, bookingID)
		if err != nil || existing == nil {
			return false
		}
		result.AlreadyRefunded = true
		result.TransactionNo = existing.TransactionNo
		result.Amount = existing.Amount
		return true
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyRefunded {
		log.Printf("[Refund] booking %s refunded %d credits (tx %s)", bookingID, result.Amount, result.TransactionNo)
	}
	return result, nil
}

func (s *RefundService) maxRetries() int {
	if s.cfg != nil && s.cfg.Business.TxMaxRetries > 0 {
		return s.cfg.Business.TxMaxRetries
	}
	return 3
}
