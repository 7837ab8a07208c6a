package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"tutorledger/internal/config"
	"tutorledger/internal/model"
	"tutorledger/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const expiryReminderJobName = "expiry-reminder"

// ExpiryReminderJob warns students about credits expiring soon. It is a
// read-only aggregation over the ledger: transactions expiring inside the
// lookahead window are grouped by student, and one notification per
// student (summing all soon-to-expire amounts) goes out through the
// outbox. No ledger state changes.
type ExpiryReminderJob struct {
	db              *gorm.DB
	cfg             *config.Config
	redisClient     *redis.Client
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	jobRepo         *repository.JobRepository
	stopCh          chan struct{}
	interval        time.Duration
}

func NewExpiryReminderJob(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *ExpiryReminderJob {
	return &ExpiryReminderJob{
		db:              db,
		cfg:             cfg,
		redisClient:     redisClient,
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		jobRepo:         repository.NewJobRepository(db),
		stopCh:          make(chan struct{}),
		interval:        24 * time.Hour,
	}
}

func (j *ExpiryReminderJob) Start(ctx context.Context) {
	log.Printf("[ExpiryReminderJob] started, interval=%s", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ExpiryReminderJob] stop signal received, exiting")
			return
		case <-j.stopCh:
			log.Println("[ExpiryReminderJob] stopped")
			return
		case <-ticker.C:
			runWithLock(ctx, j.redisClient, expiryReminderJobName, func() {
				if _, err := j.Run(ctx, time.Now()); err != nil {
					log.Printf("[ExpiryReminderJob] run failed: %v", err)
				}
			})
		}
	}
}

func (j *ExpiryReminderJob) Stop() {
	close(j.stopCh)
}

// Reminder is one per-student notification payload.
type Reminder struct {
	StudentID    string    `json:"student_id"`
	TotalCredits int64     `json:"total_credits"`
	ExpiresAt    time.Time `json:"expires_at"` // earliest expiry in the window
}

// Run emits one reminder per student with credits expiring inside the
// lookahead window and returns the reminders sent.
func (j *ExpiryReminderJob) Run(ctx context.Context, now time.Time) ([]Reminder, error) {
	execution, err := j.jobRepo.Start(ctx, expiryReminderJobName, now)
	if err != nil {
		return nil, fmt.Errorf("record job start: %w", err)
	}

	reminders, err := j.remind(ctx, now)
	if err != nil {
		if finishErr := j.jobRepo.Finish(ctx, execution.ID, err.Error()); finishErr != nil {
			log.Printf("[ExpiryReminderJob] record job failure: %v", finishErr)
		}
		return nil, err
	}

	if err := j.jobRepo.Finish(ctx, execution.ID, ""); err != nil {
		log.Printf("[ExpiryReminderJob] record job completion: %v", err)
	}

	log.Printf("[ExpiryReminderJob] %d reminders sent", len(reminders))
	return reminders, nil
}

func (j *ExpiryReminderJob) remind(ctx context.Context, now time.Time) ([]Reminder, error) {
	window := time.Duration(j.lookaheadDays()) * 24 * time.Hour
	expiring, err := j.transactionRepo.GetExpiringInWindow(ctx, now, window)
	if err != nil {
		return nil, fmt.Errorf("find expiring credits: %w", err)
	}

	byStudent := make(map[string]*Reminder)
	for _, trans := range expiring {
		reminder, ok := byStudent[trans.StudentID]
		if !ok {
			reminder = &Reminder{
				StudentID: trans.StudentID,
				ExpiresAt: *trans.ExpiresAt,
			}
			byStudent[trans.StudentID] = reminder
		}
		reminder.TotalCredits += trans.Amount
		if trans.ExpiresAt.Before(reminder.ExpiresAt) {
			reminder.ExpiresAt = *trans.ExpiresAt
		}
	}

	studentIDs := make([]string, 0, len(byStudent))
	for id := range byStudent {
		studentIDs = append(studentIDs, id)
	}
	sort.Strings(studentIDs)

	reminders := make([]Reminder, 0, len(byStudent))
	for _, id := range studentIDs {
		reminder := byStudent[id]
		payload, err := json.Marshal(reminder)
		if err != nil {
			return nil, err
		}
		msg := &model.OutboxMessage{
			MessageKey: reminder.StudentID,
			Topic:      j.cfg.Kafka.Topic.ExpiryReminder,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		}
		if err := j.outboxRepo.Create(ctx, nil, msg); err != nil {
			return nil, fmt.Errorf("write reminder for %s: %w", reminder.StudentID, err)
		}
		reminders = append(reminders, *reminder)
	}

	return reminders, nil
}

func (j *ExpiryReminderJob) lookaheadDays() int {
	if j.cfg != nil && j.cfg.Business.ReminderLookaheadDays > 0 {
		return j.cfg.Business.ReminderLookaheadDays
	}
	return 7
}
