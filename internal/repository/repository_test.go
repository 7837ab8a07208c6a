package repository

import (
	"testing"

	"tutorledger/internal/model"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.Wallet{},
		&model.CreditTransaction{},
		&model.Payment{},
		&model.PaymentWebhookKey{},
		&model.Subscription{},
		&model.Booking{},
		&model.InvoiceSequence{},
		&model.Invoice{},
		&model.JobExecution{},
		&model.OutboxMessage{},
	))
	return db
}
