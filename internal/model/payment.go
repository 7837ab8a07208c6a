package model

import (
	"time"
)

const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
)

// ValidPaymentTransitions encodes the payment state machine. COMPLETED and
// FAILED are terminal: once reached, webhook replays must be no-ops.
var ValidPaymentTransitions = map[string][]string{
	PaymentStatusPending: {PaymentStatusCompleted, PaymentStatusFailed},
}

func PaymentCanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidPaymentTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

const (
	PaymentKindSubscription = "SUBSCRIPTION" // activates a plan, credits its monthly amount
	PaymentKindPack         = "PACK"         // one-shot fixed credit pack
)

// Payment is one external payment intent. The ID is the provider-facing
// identifier carried in webhook payloads.
type Payment struct {
	ID          string     `gorm:"type:varchar(64);primaryKey" json:"id"`
	StudentID   string     `gorm:"type:varchar(64);index;not null" json:"student_id"`
	Amount      int64      `gorm:"not null" json:"amount"` // minor currency units
	Currency    string     `gorm:"type:varchar(8);not null;default:TND" json:"currency"`
	Status      string     `gorm:"type:varchar(20);index;not null" json:"status"`
	Kind        string     `gorm:"type:varchar(20);not null" json:"kind"`
	PlanName    string     `gorm:"type:varchar(64)" json:"plan_name"`     // SUBSCRIPTION payments
	PackCredits int64      `gorm:"not null;default:0" json:"pack_credits"` // PACK payments
	Method      string     `gorm:"type:varchar(32)" json:"method"`
	Description string     `gorm:"type:varchar(256)" json:"description"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Payment) TableName() string {
	return "payment"
}

// PaymentWebhookKey is the authoritative store of processed webhook
// delivery identifiers, one row per (payment, delivery). Insertion races
// resolve on the unique index: whoever fails the insert is a replay.
type PaymentWebhookKey struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentID   string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_payment_delivery,priority:1" json:"payment_id"`
	DeliveryKey string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_payment_delivery,priority:2" json:"delivery_key"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (PaymentWebhookKey) TableName() string {
	return "payment_webhook_key"
}
