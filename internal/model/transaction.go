package model

import (
	"time"
)

const (
	ReasonUsage          = "USAGE"           // session booking debit
	ReasonCreditAddition = "CREDIT_ADDITION" // pack purchase or subscription allocation
	ReasonRefund         = "REFUND"          // cancelled session reversal
	ReasonExpiration     = "EXPIRATION"      // expiry sweep zeroing
	ReasonCreditRequest  = "CREDIT_REQUEST"  // manually approved credit request
)

// CreditTransaction is the append-only record behind every balance change.
//
// Rules:
//  1. Append only. No update, no delete. Corrections are new rows with the
//     opposite sign (expiration references the expired row instead of
//     editing it).
//  2. IdempotencyKey is unique per student when present; replaying an
//     operation with the same key must not produce a second row for that
//     student.
//  3. Positive amount credits the wallet, negative debits it.
type CreditTransaction struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo  string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	StudentID      string     `gorm:"type:varchar(64);index;uniqueIndex:ux_student_idem,priority:1;not null" json:"student_id"`
	Amount         int64      `gorm:"not null" json:"amount"`
	Reason         string     `gorm:"type:varchar(20);not null" json:"reason"`
	Description    string     `gorm:"type:varchar(256)" json:"description"`
	IdempotencyKey *string    `gorm:"type:varchar(128);uniqueIndex:ux_student_idem,priority:2" json:"idempotency_key,omitempty"`
	ExpiresAt      *time.Time `gorm:"index" json:"expires_at,omitempty"`
	BookingID      *string    `gorm:"type:varchar(64);index" json:"booking_id,omitempty"`
	PaymentID      *string    `gorm:"type:varchar(64);index" json:"payment_id,omitempty"`
	// RefTransactionNo links an EXPIRATION row to the credit row it zeroes.
	RefTransactionNo *string   `gorm:"type:varchar(64);index" json:"ref_transaction_no,omitempty"`
	BalanceBefore    int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter     int64     `gorm:"not null" json:"balance_after"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transaction"
}

// Key wraps an idempotency key for assignment to the nullable column.
// An empty string means "no key" and is stored as NULL so the unique
// index does not collide on keyless transactions.
func Key(k string) *string {
	if k == "" {
		return nil
	}
	return &k
}
