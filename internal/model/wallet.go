package model

import (
	"time"
)

// Wallet holds the cached spendable-credit balance for one student.
// The balance is derived state: it must always equal the sum of the
// student's credit transactions, and every code path that changes it
// writes the matching transaction row in the same database transaction.
type Wallet struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	StudentID string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"student_id"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	Version   int       `gorm:"not null;default:0" json:"version"` // optimistic lock version
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallet"
}
