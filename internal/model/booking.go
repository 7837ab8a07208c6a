package model

import (
	"time"
)

const (
	BookingStatusScheduled = "SCHEDULED"
	BookingStatusCompleted = "COMPLETED"
	BookingStatusCancelled = "CANCELLED"
)

// Booking is a tutoring session paid for in credits. The booking flow
// itself lives elsewhere; the ledger only reads bookings to debit them
// and to refund cancelled ones.
type Booking struct {
	ID          string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	StudentID   string    `gorm:"type:varchar(64);index;not null" json:"student_id"`
	CoachID     string    `gorm:"type:varchar(64);index" json:"coach_id"`
	CreditCost  int64     `gorm:"not null" json:"credit_cost"`
	Status      string    `gorm:"type:varchar(20);index;not null;default:SCHEDULED" json:"status"`
	ScheduledAt time.Time `gorm:"not null" json:"scheduled_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Booking) TableName() string {
	return "booking"
}
