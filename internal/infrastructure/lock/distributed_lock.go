package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var (
	ErrLockFailed  = errors.New("failed to acquire distributed lock")
	ErrLockExpired = errors.New("lock expired")
)

// DistributedLock is a Redis SET NX lock. The value identifies the
// holder so Unlock never deletes a lock taken over by someone else
// after expiry.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock attempts to acquire the lock without blocking.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock acquires the lock, retrying up to maxRetries times.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock releases the lock. The check-and-delete runs as a Lua script
// so a holder whose lock already expired cannot delete a successor's.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewJobLock keys a lock per job name so only one instance runs a given
// periodic job at a time. The generous expiry covers slow sweeps; the
// lock is an efficiency measure, jobs stay correct without it.
func NewJobLock(client *redis.Client, jobName string) *DistributedLock {
	key := fmt.Sprintf("job:lock:%s", jobName)
	value := fmt.Sprintf("%s:%d", jobName, time.Now().UnixNano())
	return NewDistributedLock(client, key, value, 10*time.Minute)
}
