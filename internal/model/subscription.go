package model

import (
	"time"
)

const (
	SubscriptionStatusInactive  = "INACTIVE"
	SubscriptionStatusActive    = "ACTIVE"
	SubscriptionStatusCancelled = "CANCELLED"
)

// Subscription drives the monthly credit allocation job. The ledger never
// mutates subscriptions itself except for activation when a subscription
// payment completes.
type Subscription struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	StudentID       string     `gorm:"type:varchar(64);index;not null" json:"student_id"`
	PlanName        string     `gorm:"type:varchar(64);not null" json:"plan_name"`
	CreditsPerMonth int64      `gorm:"not null" json:"credits_per_month"`
	Status          string     `gorm:"type:varchar(20);index;not null;default:INACTIVE" json:"status"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}
