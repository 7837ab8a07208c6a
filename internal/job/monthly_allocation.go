package job

import (
	"context"
	"fmt"
	"log"
	"time"

	"tutorledger/internal/config"
	"tutorledger/internal/infrastructure/lock"
	"tutorledger/internal/model"
	"tutorledger/internal/repository"
	"tutorledger/internal/service"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const monthlyAllocationJobName = "monthly-allocation"

// MonthlyAllocationJob credits every ACTIVE subscription's monthly amount
// to its owner's wallet. Intended to run once per calendar month, but a
// scheduler re-trigger or crash-recovery rerun is harmless: each
// allocation carries the idempotency key allocation:<student>:<yearmonth>,
// so the ledger absorbs duplicates. The JobExecution row is history, not
// a guard.
type MonthlyAllocationJob struct {
	db               *gorm.DB
	cfg              *config.Config
	redisClient      *redis.Client
	subscriptionRepo *repository.SubscriptionRepository
	jobRepo          *repository.JobRepository
	ledger           *service.LedgerService
	stopCh           chan struct{}
	interval         time.Duration
}

func NewMonthlyAllocationJob(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, ledger *service.LedgerService) *MonthlyAllocationJob {
	return &MonthlyAllocationJob{
		db:               db,
		cfg:              cfg,
		redisClient:      redisClient,
		subscriptionRepo: repository.NewSubscriptionRepository(db),
		jobRepo:          repository.NewJobRepository(db),
		ledger:           ledger,
		stopCh:           make(chan struct{}),
		interval:         time.Hour,
	}
}

func (j *MonthlyAllocationJob) Start(ctx context.Context) {
	log.Printf("[MonthlyAllocationJob] started, interval=%s", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[MonthlyAllocationJob] stop signal received, exiting")
			return
		case <-j.stopCh:
			log.Println("[MonthlyAllocationJob] stopped")
			return
		case <-ticker.C:
			runWithLock(ctx, j.redisClient, monthlyAllocationJobName, func() {
				if _, err := j.Run(ctx, time.Now()); err != nil {
					log.Printf("[MonthlyAllocationJob] run failed: %v", err)
				}
			})
		}
	}
}

func (j *MonthlyAllocationJob) Stop() {
	close(j.stopCh)
}

// Run performs one allocation pass for the month containing now. All
// allocations commit in one batched transaction; the per-student keys
// make a second run for the same period a sequence of no-ops. Returns the
// total amount of newly allocated credits.
func (j *MonthlyAllocationJob) Run(ctx context.Context, now time.Time) (int64, error) {
	execution, err := j.jobRepo.Start(ctx, monthlyAllocationJobName, now)
	if err != nil {
		return 0, fmt.Errorf("record job start: %w", err)
	}

	total, err := j.allocate(ctx, now)
	if err != nil {
		if finishErr := j.jobRepo.Finish(ctx, execution.ID, err.Error()); finishErr != nil {
			log.Printf("[MonthlyAllocationJob] record job failure: %v", finishErr)
		}
		return 0, err
	}

	if err := j.jobRepo.Finish(ctx, execution.ID, ""); err != nil {
		log.Printf("[MonthlyAllocationJob] record job completion: %v", err)
	}

	log.Printf("[MonthlyAllocationJob] allocated %d credits total", total)
	return total, nil
}

func (j *MonthlyAllocationJob) allocate(ctx context.Context, now time.Time) (int64, error) {
	subs, err := j.subscriptionRepo.ListActive(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("list active subscriptions: %w", err)
	}

	yearMonth := service.YearMonth(now)
	expiry := now.AddDate(0, j.expiryMonths(), 0)

	// wallets are created outside the batch so the batched unit only
	// touches existing rows
	for _, sub := range subs {
		if _, err := j.ledger.EnsureWallet(ctx, sub.StudentID); err != nil {
			return 0, fmt.Errorf("ensure wallet for %s: %w", sub.StudentID, err)
		}
	}

	var total int64
	err = repository.RunInTxWithRetry(ctx, j.db, j.maxRetries(), func(tx *gorm.DB) error {
		total = 0
		for _, sub := range subs {
			result, err := j.ledger.AddCreditsTx(ctx, tx, &service.LedgerEntry{
				StudentID:      sub.StudentID,
				Amount:         sub.CreditsPerMonth,
				Reason:         model.ReasonCreditAddition,
				Description:    fmt.Sprintf("Monthly allocation of %d credits (%s)", sub.CreditsPerMonth, service.FormatYearMonth(yearMonth)),
				IdempotencyKey: fmt.Sprintf("allocation:%s:%d", sub.StudentID, yearMonth),
				ExpiresAt:      &expiry,
			})
			if err != nil {
				return err
			}
			if !result.AlreadyApplied {
				total += sub.CreditsPerMonth
			}
		}
		return nil
	}, nil)
	if err != nil {
		return 0, err
	}

	return total, nil
}

func (j *MonthlyAllocationJob) expiryMonths() int {
	if j.cfg != nil && j.cfg.Business.AllocationExpiryMonths > 0 {
		return j.cfg.Business.AllocationExpiryMonths
	}
	return 2
}

func (j *MonthlyAllocationJob) maxRetries() int {
	if j.cfg != nil && j.cfg.Business.TxMaxRetries > 0 {
		return j.cfg.Business.TxMaxRetries
	}
	return 3
}

// runWithLock guards a job pass with a best-effort Redis lock so periodic
// runs on multiple instances don't pile onto the store at once. Effect
// correctness never depends on the lock; with no Redis configured the
// pass simply runs.
func runWithLock(ctx context.Context, client *redis.Client, jobName string, fn func()) {
	if client == nil {
		fn()
		return
	}

	jobLock := lock.NewJobLock(client, jobName)
	acquired, err := jobLock.TryLock(ctx)
	if err != nil {
		log.Printf("[%s] lock error, running anyway: %v", jobName, err)
		fn()
		return
	}
	if !acquired {
		log.Printf("[%s] another instance holds the lock, skipping tick", jobName)
		return
	}
	defer jobLock.Unlock(ctx)

	fn()
}
