package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"tutorledger/internal/config"
	"tutorledger/internal/model"
	"tutorledger/internal/repository"
	"tutorledger/pkg/idgen"

	"gorm.io/gorm"
)

var ErrInvalidAmount = errors.New("amount must be greater than zero")

// LedgerService owns the wallet balance and the append-only transaction
// log. Every money-moving operation goes through here, and every one is
// idempotent when the caller supplies an external key: replaying a keyed
// call never moves the balance past its first effective application.
type LedgerService struct {
	db              *gorm.DB
	cfg             *config.Config
	walletRepo      *repository.WalletRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
}

func NewLedgerService(db *gorm.DB, cfg *config.Config) *LedgerService {
	return &LedgerService{
		db:              db,
		cfg:             cfg,
		walletRepo:      repository.NewWalletRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// LedgerEntry describes one requested balance change. Amount is always
// positive; direction comes from the operation (spend vs. credit).
type LedgerEntry struct {
	StudentID      string
	Amount         int64
	Reason         string
	Description    string
	IdempotencyKey string
	ExpiresAt      *time.Time
	BookingID      *string
	PaymentID      *string
}

// LedgerResult reports the balance after the operation and whether the
// call was an idempotent replay (no new row written).
type LedgerResult struct {
	Balance        int64  `json:"balance"`
	AlreadyApplied bool   `json:"already_applied"`
	TransactionNo  string `json:"transaction_no,omitempty"`
}

func (s *LedgerService) EnsureWallet(ctx context.Context, studentID string) (*model.Wallet, error) {
	return s.walletRepo.GetOrCreate(ctx, studentID)
}

// Balance returns the cached wallet balance; a student without a wallet
// simply has zero credits.
func (s *LedgerService) Balance(ctx context.Context, studentID string) (int64, error) {
	wallet, err := s.walletRepo.GetByStudentID(ctx, studentID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return wallet.Balance, nil
}

// SpendCredits debits the wallet. Outcomes:
//   - keyed replay: current balance, AlreadyApplied=true, nothing written
//   - balance < amount: repository.ErrInsufficientCredits, nothing written
//   - conflict with a concurrent duplicate: absorbed by re-checking the key
//   - conflict retries exhausted: repository.ErrConflictRetryExhausted
func (s *LedgerService) SpendCredits(ctx context.Context, entry *LedgerEntry) (*LedgerResult, error) {
	if entry.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if _, err := s.EnsureWallet(ctx, entry.StudentID); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}

	var result LedgerResult
	err := repository.RunInTxWithRetry(ctx, s.db, s.maxRetries(), func(tx *gorm.DB) error {
		return s.applyTx(ctx, tx, entry, -entry.Amount, &result)
	}, s.recheckApplied(entry, &result))
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AddCredits is the symmetric credit operation, same idempotency contract.
func (s *LedgerService) AddCredits(ctx context.Context, entry *LedgerEntry) (*LedgerResult, error) {
	if entry.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if _, err := s.EnsureWallet(ctx, entry.StudentID); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}

	var result LedgerResult
	err := repository.RunInTxWithRetry(ctx, s.db, s.maxRetries(), func(tx *gorm.DB) error {
		return s.applyTx(ctx, tx, entry, entry.Amount, &result)
	}, s.recheckApplied(entry, &result))
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AddCreditsTx applies a credit inside the caller's transaction, for
// operations that must commit together with other state changes (webhook
// reconciliation, refunds). The wallet must already exist. The idempotency
// contract is identical to AddCredits.
func (s *LedgerService) AddCreditsTx(ctx context.Context, tx *gorm.DB, entry *LedgerEntry) (*LedgerResult, error) {
	if entry.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	var result LedgerResult
	if err := s.applyTx(ctx, tx, entry, entry.Amount, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// applyTx runs the shared atomic unit: idempotency check, conditional
// balance update, transaction row, outbox event. delta carries the sign.
func (s *LedgerService) applyTx(ctx context.Context, tx *gorm.DB, entry *LedgerEntry, delta int64, result *LedgerResult) error {
	if entry.IdempotencyKey != "" {
		existing, err := s.transactionRepo.GetByIdempotencyKey(ctx, tx, entry.StudentID, entry.IdempotencyKey)
		if err != nil {
			return fmt.Errorf("idempotency lookup: %w", err)
		}
		if existing != nil {
			wallet, err := s.walletInTx(ctx, tx, entry.StudentID)
			if err != nil {
				return err
			}
			*result = LedgerResult{
				Balance:        wallet.Balance,
				AlreadyApplied: true,
				TransactionNo:  existing.TransactionNo,
			}
			return nil
		}
	}

	wallet, err := s.walletInTx(ctx, tx, entry.StudentID)
	if err != nil {
		return err
	}

	if delta < 0 {
		if err := s.walletRepo.Deduct(ctx, tx, entry.StudentID, -delta, wallet.Version); err != nil {
			return err
		}
	} else {
		if err := s.walletRepo.Increase(ctx, tx, entry.StudentID, delta); err != nil {
			return err
		}
	}

	// read the balance back after the update. Increase is an unconditional
	// atomic add, so the pre-update snapshot can be stale under concurrent
	// credits even though the update itself applied correctly.
	updated, err := s.walletInTx(ctx, tx, entry.StudentID)
	if err != nil {
		return err
	}

	trans := &model.CreditTransaction{
		TransactionNo:  idgen.GenerateTransactionNo(),
		StudentID:      entry.StudentID,
		Amount:         delta,
		Reason:         entry.Reason,
		Description:    entry.Description,
		IdempotencyKey: model.Key(entry.IdempotencyKey),
		ExpiresAt:      entry.ExpiresAt,
		BookingID:      entry.BookingID,
		PaymentID:      entry.PaymentID,
		BalanceBefore:  updated.Balance - delta,
		BalanceAfter:   updated.Balance,
	}
	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}

	if err := s.emitCreditEvent(ctx, tx, trans); err != nil {
		return fmt.Errorf("write outbox event: %w", err)
	}

	*result = LedgerResult{
		Balance:       updated.Balance,
		TransactionNo: trans.TransactionNo,
	}
	return nil
}

// ExpireCreditTx writes the negating EXPIRATION row for an expired credit
// transaction inside the caller's transaction. The expired amount is
// clamped to the wallet's current balance: credits already spent cannot be
// expired again, and the balance never goes negative. A zero-amount row is
// still written so the credit counts as swept. Keyed expire:<no>, so a
// re-run is a no-op.
func (s *LedgerService) ExpireCreditTx(ctx context.Context, tx *gorm.DB, expired *model.CreditTransaction) (*LedgerResult, error) {
	key := "expire:" + expired.TransactionNo

	existing, err := s.transactionRepo.GetByIdempotencyKey(ctx, tx, expired.StudentID, key)
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	wallet, err := s.walletInTx(ctx, tx, expired.StudentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &LedgerResult{
			Balance:        wallet.Balance,
			AlreadyApplied: true,
			TransactionNo:  existing.TransactionNo,
		}, nil
	}

	amount := expired.Amount
	if wallet.Balance < amount {
		amount = wallet.Balance
	}
	if amount < 0 {
		amount = 0
	}

	if amount > 0 {
		if err := s.walletRepo.Deduct(ctx, tx, expired.StudentID, amount, wallet.Version); err != nil {
			return nil, err
		}
	}

	refNo := expired.TransactionNo
	trans := &model.CreditTransaction{
		TransactionNo:    idgen.GenerateTransactionNo(),
		StudentID:        expired.StudentID,
		Amount:           -amount,
		Reason:           model.ReasonExpiration,
		Description:      fmt.Sprintf("Expiration of %d carried-over credits", amount),
		IdempotencyKey:   model.Key(key),
		RefTransactionNo: &refNo,
		BalanceBefore:    wallet.Balance,
		BalanceAfter:     wallet.Balance - amount,
	}
	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		return nil, fmt.Errorf("create expiration transaction: %w", err)
	}

	if err := s.emitCreditEvent(ctx, tx, trans); err != nil {
		return nil, fmt.Errorf("write outbox event: %w", err)
	}

	return &LedgerResult{
		Balance:       wallet.Balance - amount,
		TransactionNo: trans.TransactionNo,
	}, nil
}

func (s *LedgerService) walletInTx(ctx context.Context, tx *gorm.DB, studentID string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := tx.WithContext(ctx).Where("student_id = ?", studentID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// recheckApplied is the conflict-then-recheck hook: when the atomic unit
// aborts on a conflict, the abort may have been caused by this operation's
// own concurrent duplicate. Re-query the key outside the failed unit and,
// when found, report the call as already applied instead of failing.
func (s *LedgerService) recheckApplied(entry *LedgerEntry, result *LedgerResult) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		if entry.IdempotencyKey == "" {
			return false
		}
		existing, err := s.transactionRepo.GetByIdempotencyKey(ctx, nil, entry.StudentID, entry.IdempotencyKey)
		if err != nil || existing == nil {
			return false
		}
		wallet, err := s.walletRepo.GetByStudentID(ctx, entry.StudentID)
		if err != nil {
			return false
		}
		*result = LedgerResult{
			Balance:        wallet.Balance,
			AlreadyApplied: true,
			TransactionNo:  existing.TransactionNo,
		}
		return true
	}
}

func (s *LedgerService) emitCreditEvent(ctx context.Context, tx *gorm.DB, trans *model.CreditTransaction) error {
	payload, err := json.Marshal(map[string]interface{}{
		"transaction_no": trans.TransactionNo,
		"student_id":     trans.StudentID,
		"amount":         trans.Amount,
		"reason":         trans.Reason,
		"balance_after":  trans.BalanceAfter,
		"created_at":     time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	msg := &model.OutboxMessage{
		MessageKey: trans.TransactionNo,
		Topic:      s.cfg.Kafka.Topic.CreditEvents,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	return s.outboxRepo.Create(ctx, tx, msg)
}

// AuditResult compares the cached wallet balance against the transaction
// sum. Consistent is false only if a bug let one side drift.
type AuditResult struct {
	StudentID      string `json:"student_id"`
	CachedBalance  int64  `json:"cached_balance"`
	TransactionSum int64  `json:"transaction_sum"`
	Consistent     bool   `json:"consistent"`
}

func (s *LedgerService) Audit(ctx context.Context, studentID string) (*AuditResult, error) {
	wallet, err := s.walletRepo.GetByStudentID(ctx, studentID)
	if err != nil {
		return nil, err
	}
	sum, err := s.walletRepo.SumTransactions(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if wallet.Balance != sum {
		log.Printf("[Ledger] AUDIT MISMATCH: student=%s cached=%d sum=%d", studentID, wallet.Balance, sum)
	}
	return &AuditResult{
		StudentID:      studentID,
		CachedBalance:  wallet.Balance,
		TransactionSum: sum,
		Consistent:     wallet.Balance == sum,
	}, nil
}

func (s *LedgerService) History(ctx context.Context, studentID string, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	return s.transactionRepo.ListByStudentID(ctx, studentID, page, pageSize)
}

func (s *LedgerService) maxRetries() int {
	if s.cfg != nil && s.cfg.Business.TxMaxRetries > 0 {
		return s.cfg.Business.TxMaxRetries
	}
	return 3
}
