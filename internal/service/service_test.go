package service

import (
	"testing"

	"tutorledger/internal/config"
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
	// single connection so every session sees the same in-memory database
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

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Business.AllocationExpiryMonths = 2
	cfg.Business.ReminderLookaheadDays = 7
	cfg.Business.TxMaxRetries = 3
	cfg.Business.MaxRetryCount = 5
	cfg.Kafka.Topic.CreditEvents = "ledger.credit-events"
	cfg.Kafka.Topic.ExpiryReminder = "ledger.expiry-reminders"
	cfg.Webhook.Secret = "test-secret"
	cfg.Webhook.SignatureHeader = "X-Webhook-Signature"
	return cfg
}
