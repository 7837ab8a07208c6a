package model

import (
	"time"
)

// InvoiceSequence is the per-calendar-month invoice counter. YearMonth is
// year*100+month (e.g. 202602). LastValue only ever moves forward, via a
// single atomic increment inside a transaction, so concurrently issued
// ordinals are dense and never reused.
type InvoiceSequence struct {
	YearMonth int       `gorm:"primaryKey;autoIncrement:false" json:"year_month"`
	LastValue int64     `gorm:"not null;default:0" json:"last_value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (InvoiceSequence) TableName() string {
	return "invoice_sequence"
}

// Invoice is the issued invoice record. Number format: YYYYMM-NNNN, the
// ordinal zero-padded to four digits and growing past that after 9999.
type Invoice struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Number    string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"number"`
	PaymentID string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"payment_id"`
	StudentID string    `gorm:"type:varchar(64);index;not null" json:"student_id"`
	Amount    int64     `gorm:"not null" json:"amount"`
	Currency  string    `gorm:"type:varchar(8);not null" json:"currency"`
	IssuedAt  time.Time `gorm:"not null" json:"issued_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Invoice) TableName() string {
	return "invoice"
}
