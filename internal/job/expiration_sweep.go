package job

import (
	"context"
	"fmt"
	"log"
	"time"

	"tutorledger/internal/config"
	"tutorledger/internal/repository"
	"tutorledger/internal/service"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const expirationSweepJobName = "expiration-sweep"

// ExpirationSweepJob zeroes out credits whose expiry has passed. Expired
// rows are never edited: each one gets a new negating EXPIRATION
// transaction referencing it, keyed expire:<transactionNo>, so a swept
// credit can never be swept twice and the audit trail stays intact.
type ExpirationSweepJob struct {
	db              *gorm.DB
	cfg             *config.Config
	redisClient     *redis.Client
	transactionRepo *repository.TransactionRepository
	jobRepo         *repository.JobRepository
	ledger          *service.LedgerService
	stopCh          chan struct{}
	interval        time.Duration
	batchSize       int
}

func NewExpirationSweepJob(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, ledger *service.LedgerService) *ExpirationSweepJob {
	return &ExpirationSweepJob{
		db:              db,
		cfg:             cfg,
		redisClient:     redisClient,
		transactionRepo: repository.NewTransactionRepository(db),
		jobRepo:         repository.NewJobRepository(db),
		ledger:          ledger,
		stopCh:          make(chan struct{}),
		interval:        time.Hour,
		batchSize:       500,
	}
}

func (j *ExpirationSweepJob) Start(ctx context.Context) {
	log.Printf("[ExpirationSweepJob] started, interval=%s", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ExpirationSweepJob] stop signal received, exiting")
			return
		case <-j.stopCh:
			log.Println("[ExpirationSweepJob] stopped")
			return
		case <-ticker.C:
			runWithLock(ctx, j.redisClient, expirationSweepJobName, func() {
				if _, err := j.Run(ctx, time.Now()); err != nil {
					log.Printf("[ExpirationSweepJob] run failed: %v", err)
				}
			})
		}
	}
}

func (j *ExpirationSweepJob) Stop() {
	close(j.stopCh)
}

// Run sweeps one batch of expired, not-yet-swept credits and returns the
// total amount expired.
func (j *ExpirationSweepJob) Run(ctx context.Context, now time.Time) (int64, error) {
	execution, err := j.jobRepo.Start(ctx, expirationSweepJobName, now)
	if err != nil {
		return 0, fmt.Errorf("record job start: %w", err)
	}

	total, err := j.sweep(ctx, now)
	if err != nil {
		if finishErr := j.jobRepo.Finish(ctx, execution.ID, err.Error()); finishErr != nil {
			log.Printf("[ExpirationSweepJob] record job failure: %v", finishErr)
		}
		return 0, err
	}

	if err := j.jobRepo.Finish(ctx, execution.ID, ""); err != nil {
		log.Printf("[ExpirationSweepJob] record job completion: %v", err)
	}

	log.Printf("[ExpirationSweepJob] expired %d credits total", total)
	return total, nil
}

func (j *ExpirationSweepJob) sweep(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	err := repository.RunInTxWithRetry(ctx, j.db, j.maxRetries(), func(tx *gorm.DB) error {
		total = 0
		expired, err := j.transactionRepo.GetExpiredUnswept(ctx, tx, now, j.batchSize)
		if err != nil {
			return fmt.Errorf("find expired credits: %w", err)
		}

		for _, trans := range expired {
			result, err := j.ledger.ExpireCreditTx(ctx, tx, trans)
			if err != nil {
				return err
			}
			if !result.AlreadyApplied {
				total += trans.Amount
			}
		}
		return nil
	}, nil)
	if err != nil {
		return 0, err
	}

	return total, nil
}

func (j *ExpirationSweepJob) maxRetries() int {
	if j.cfg != nil && j.cfg.Business.TxMaxRetries > 0 {
		return j.cfg.Business.TxMaxRetries
	}
	return 3
}
