package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"tutorledger/internal/config"
	"tutorledger/internal/model"
	"tutorledger/internal/repository"

	"gorm.io/gorm"
)

const (
	WebhookStatusCompleted = "completed"
	WebhookStatusFailed    = "failed"
)

// WebhookPayload is the provider's notification body. TransactionID is the
// delivery identifier used for idempotency; providers that omit it get a
// status-scoped fallback key so replays still collapse.
type WebhookPayload struct {
	PaymentID     string `json:"payment_id" binding:"required"`
	Status        string `json:"status" binding:"required"`
	TransactionID string `json:"transaction_id"`
}

// ReconcileResult reports the outcome the HTTP layer echoes back.
// Idempotent means the delivery had been processed before and nothing was
// changed this time.
type ReconcileResult struct {
	Idempotent bool
}

// WebhookService turns at-least-once, possibly out-of-order provider
// notifications into at-most-one credit allocation per payment.
type WebhookService struct {
	db               *gorm.DB
	cfg              *config.Config
	paymentRepo      *repository.PaymentRepository
	subscriptionRepo *repository.SubscriptionRepository
	ledger           *LedgerService
}

func NewWebhookService(db *gorm.DB, cfg *config.Config, ledger *LedgerService) *WebhookService {
	return &WebhookService{
		db:               db,
		cfg:              cfg,
		paymentRepo:      repository.NewPaymentRepository(db),
		subscriptionRepo: repository.NewSubscriptionRepository(db),
		ledger:           ledger,
	}
}

// VerifySignature checks the provider's HMAC-SHA256 over the raw request
// body against the shared secret. Constant-time compare; runs before any
// state is read or written.
func (s *WebhookService) VerifySignature(rawBody []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.cfg.Webhook.Secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Reconcile advances the payment state machine for one delivery.
//
// Guarantees:
//   - a replayed delivery key is a no-op success with Idempotent=true
//   - out-of-order deliveries against a terminal payment are no-ops
//   - the COMPLETED transition, the delivery-key claim and the credit
//     allocation commit atomically; the allocation itself is keyed by the
//     payment id, so even a bug that re-enters this branch cannot credit
//     twice
//   - unrecognized statuses are accepted and ignored, so new provider
//     statuses do not hard-fail deliveries
func (s *WebhookService) Reconcile(ctx context.Context, payload *WebhookPayload) (*ReconcileResult, error) {
	payment, err := s.paymentRepo.GetByID(ctx, payload.PaymentID)
	if err != nil {
		return nil, err
	}

	deliveryKey := payload.TransactionID
	if deliveryKey == "" {
		deliveryKey = "status:" + payload.Status
	}

	processed, err := s.paymentRepo.HasDeliveryKey(ctx, payment.ID, deliveryKey)
	if err != nil {
		return nil, fmt.Errorf("delivery key lookup: %w", err)
	}
	if processed {
		return &ReconcileResult{Idempotent: true}, nil
	}

	switch payload.Status {
	case WebhookStatusCompleted:
		return s.reconcileCompleted(ctx, payment, deliveryKey)
	case WebhookStatusFailed:
		return s.reconcileFailed(ctx, payment, deliveryKey)
	default:
		// forward compatible: unknown but harmless provider statuses
		log.Printf("[Webhook] ignoring unrecognized status %q for payment %s", payload.Status, payment.ID)
		return &ReconcileResult{}, nil
	}
}

func (s *WebhookService) reconcileCompleted(ctx context.Context, payment *model.Payment, deliveryKey string) (*ReconcileResult, error) {
	// double guard on top of the delivery-key check
	if payment.Status == model.PaymentStatusCompleted {
		return &ReconcileResult{Idempotent: true}, nil
	}

	// wallet creation commits on its own before the transaction opens, so
	// the in-transaction credit only ever touches the caller's connection
	if _, err := s.ledger.EnsureWallet(ctx, payment.StudentID); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}

	result := &ReconcileResult{}
	err := repository.RunInTxWithRetry(ctx, s.db, s.maxRetries(), func(tx *gorm.DB) error {
		claimed, err := s.paymentRepo.RecordDeliveryKey(ctx, tx, payment.ID, deliveryKey)
		if err != nil {
			return fmt.Errorf("claim delivery key: %w", err)
		}
		if !claimed {
			result.Idempotent = true
			return nil
		}

		err = s.paymentRepo.UpdateStatus(ctx, tx, payment.ID, model.PaymentStatusPending, model.PaymentStatusCompleted)
		if err != nil {
			if errors.Is(err, repository.ErrPaymentStatusInvalid) {
				// already terminal: an out-of-order or racing delivery
				// finished first, keep the key claim and stop here
				result.Idempotent = true
				return nil
			}
			return fmt.Errorf("mark payment completed: %w", err)
		}

		return s.allocateCredits(ctx, tx, payment)
	}, func(ctx context.Context) bool {
		processed, err := s.paymentRepo.HasDeliveryKey(ctx, payment.ID, deliveryKey)
		if err != nil || !processed {
			return false
		}
		result.Idempotent = true
		return true
	})
	if err != nil {
		return nil, err
	}

	if !result.Idempotent {
		log.Printf("[Webhook] payment %s completed, credits allocated for student %s", payment.ID, payment.StudentID)
	}
	return result, nil
}

// allocateCredits routes the completed payment into the ledger. The
// caller has already ensured the wallet exists.
func (s *WebhookService) allocateCredits(ctx context.Context, tx *gorm.DB, payment *model.Payment) error {
	entry := &LedgerEntry{
		StudentID:      payment.StudentID,
		Reason:         model.ReasonCreditAddition,
		IdempotencyKey: "payment:" + payment.ID,
		PaymentID:      &payment.ID,
	}

	switch payment.Kind {
	case model.PaymentKindSubscription:
		now := time.Now()
		if err := s.subscriptionRepo.ActivatePlan(ctx, tx, payment.StudentID, payment.PlanName, now); err != nil {
			return fmt.Errorf("activate plan: %w", err)
		}
		sub, err := s.subscriptionRepo.GetActiveByStudentID(ctx, tx, payment.StudentID)
		if err != nil {
			return fmt.Errorf("load active subscription: %w", err)
		}
		if sub == nil || sub.CreditsPerMonth <= 0 {
			return nil
		}
		expiry := now.AddDate(0, s.expiryMonths(), 0)
		entry.Amount = sub.CreditsPerMonth
		entry.ExpiresAt = &expiry
		entry.Description = fmt.Sprintf("Monthly allocation of %d credits (%s)", sub.CreditsPerMonth, sub.PlanName)
	case model.PaymentKindPack:
		if payment.PackCredits <= 0 {
			return nil
		}
		entry.Amount = payment.PackCredits
		entry.Description = fmt.Sprintf("Credit pack of %d credits", payment.PackCredits)
	default:
		return fmt.Errorf("unknown payment kind %q", payment.Kind)
	}

	_, err := s.ledger.AddCreditsTx(ctx, tx, entry)
	return err
}

func (s *WebhookService) reconcileFailed(ctx context.Context, payment *model.Payment, deliveryKey string) (*ReconcileResult, error) {
	if payment.Status == model.PaymentStatusFailed {
		return &ReconcileResult{Idempotent: true}, nil
	}

	result := &ReconcileResult{}
	err := repository.RunInTxWithRetry(ctx, s.db, s.maxRetries(), func(tx *gorm.DB) error {
		claimed, err := s.paymentRepo.RecordDeliveryKey(ctx, tx, payment.ID, deliveryKey)
		if err != nil {
			return fmt.Errorf("claim delivery key: %w", err)
		}
		if !claimed {
			result.Idempotent = true
			return nil
		}

		err = s.paymentRepo.UpdateStatus(ctx, tx, payment.ID, model.PaymentStatusPending, model.PaymentStatusFailed)
		if err != nil {
			if errors.Is(err, repository.ErrPaymentStatusInvalid) {
				result.Idempotent = true
				return nil
			}
			return fmt.Errorf("mark payment failed: %w", err)
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}

	if !result.Idempotent {
		log.Printf("[Webhook] payment %s marked failed", payment.ID)
	}
	return result, nil
}

func (s *WebhookService) maxRetries() int {
	if s.cfg != nil && s.cfg.Business.TxMaxRetries > 0 {
		return s.cfg.Business.TxMaxRetries
	}
	return 3
}

func (s *WebhookService) expiryMonths() int {
	if s.cfg != nil && s.cfg.Business.AllocationExpiryMonths > 0 {
		return s.cfg.Business.AllocationExpiryMonths
	}
	return 2
}
