package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tutorledger/internal/config"
	"tutorledger/internal/model"
	"tutorledger/internal/repository"

	"gorm.io/gorm"
)

var ErrPaymentNotCompleted = errors.New("payment is not completed")

// InvoiceService issues gap-free, monotonically increasing invoice
// numbers scoped by calendar month, and the invoice records that carry
// them.
type InvoiceService struct {
	db           *gorm.DB
	cfg          *config.Config
	sequenceRepo *repository.SequenceRepository
	paymentRepo  *repository.PaymentRepository
}

func NewInvoiceService(db *gorm.DB, cfg *config.Config) *InvoiceService {
	return &InvoiceService{
		db:           db,
		cfg:          cfg,
		sequenceRepo: repository.NewSequenceRepository(db),
		paymentRepo:  repository.NewPaymentRepository(db),
	}
}

// YearMonth encodes a date as year*100+month, e.g. 202602.
func YearMonth(at time.Time) int {
	return at.Year()*100 + int(at.Month())
}

// FormatYearMonth renders 202602 as "2026-02".
func FormatYearMonth(yearMonth int) string {
	return fmt.Sprintf("%04d-%02d", yearMonth/100, yearMonth%100)
}

// FormatInvoiceNumber renders "202602-0001". Ordinals past 9999 keep
// their full width instead of wrapping or failing.
func FormatInvoiceNumber(yearMonth int, ordinal int64) string {
	return fmt.Sprintf("%06d-%04d", yearMonth, ordinal)
}

// NextInvoiceNumber claims the next number for at's calendar month.
// Concurrent callers get pairwise distinct, dense ordinals starting at 1.
func (s *InvoiceService) NextInvoiceNumber(ctx context.Context, at time.Time) (string, error) {
	yearMonth := YearMonth(at)

	var ordinal int64
	err := repository.RunInTxWithRetry(ctx, s.db, s.maxRetries(), func(tx *gorm.DB) error {
		var err error
		ordinal, err = s.sequenceRepo.Next(ctx, tx, yearMonth)
		return err
	}, nil)
	if err != nil {
		return "", err
	}

	return FormatInvoiceNumber(yearMonth, ordinal), nil
}

// IssueForPayment creates the invoice for a completed payment. Issuing is
// idempotent per payment: a second call returns the existing invoice
// instead of burning another number.
func (s *InvoiceService) IssueForPayment(ctx context.Context, paymentID string, at time.Time) (*model.Invoice, error) {
	payment, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != model.PaymentStatusCompleted {
		return nil, ErrPaymentNotCompleted
	}

	var existing model.Invoice
	err = s.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	invoice := &model.Invoice{
		PaymentID: payment.ID,
		StudentID: payment.StudentID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		IssuedAt:  at,
	}

	err = repository.RunInTxWithRetry(ctx, s.db, s.maxRetries(), func(tx *gorm.DB) error {
		ordinal, err := s.sequenceRepo.Next(ctx, tx, YearMonth(at))
		if err != nil {
			return err
		}
		invoice.Number = FormatInvoiceNumber(YearMonth(at), ordinal)
		return tx.WithContext(ctx).Create(invoice).Error
	}, func(ctx context.Context) bool {
		// a racing issuer for the same payment wins on the unique index
		err := s.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&existing).Error
		if err != nil {
			return false
		}
		*invoice = existing
		return true
	})
	if err != nil {
		return nil, err
	}

	return invoice, nil
}

func (s *InvoiceService) maxRetries() int {
	if s.cfg != nil && s.cfg.Business.TxMaxRetries > 0 {
		return s.cfg.Business.TxMaxRetries
	}
	return 3
}
