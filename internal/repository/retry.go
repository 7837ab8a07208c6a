package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ErrConflictRetryExhausted is returned when a transaction keeps hitting
// serialization conflicts past the retry bound. It is a transient
// infrastructure failure, distinct from business errors like
// ErrInsufficientCredits: callers must not interpret it as "the operation
// definitely did not happen" without re-checking, because the conflict may
// have been caused by the operation's own concurrent duplicate.
var ErrConflictRetryExhausted = errors.New("transaction conflict retries exhausted")

// IsSerializationConflict reports whether err is a store-detected
// write-write race that aborted the transaction. Covers MySQL deadlock
// (1213) and lock-wait timeout (1205) plus sqlite's busy/locked states
// used by the test databases.
func IsSerializationConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOptimisticLock) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{
		"Error 1213", // MySQL deadlock
		"Error 1205", // MySQL lock wait timeout
		"database is locked",
		"database table is locked",
		"SQLITE_BUSY",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsDuplicateKey reports a unique-index violation. On an idempotency-key
// column this means a concurrent duplicate of the same operation won the
// race and already applied the effect.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Error 1062") || // MySQL duplicate entry
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "UNIQUE constraint failed") // sqlite
}

// RunInTxWithRetry runs fn inside a database transaction, retrying the
// whole unit up to maxRetries times on serialization conflicts. Both the
// ledger and the refund engine funnel their atomic units through here so
// conflict handling lives in one place.
//
// onConflict, when non-nil, runs after every failed attempt (outside the
// aborted transaction). If it returns true the conflict is absorbed: the
// racing duplicate already applied the effect and RunInTxWithRetry returns
// nil. This is the conflict-then-recheck idempotency strategy.
func RunInTxWithRetry(ctx context.Context, db *gorm.DB, maxRetries int, fn func(tx *gorm.DB) error, onConflict func(ctx context.Context) bool) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if !IsSerializationConflict(err) && !IsDuplicateKey(err) {
			return err
		}
		if onConflict != nil && onConflict(ctx) {
			return nil
		}
		if IsDuplicateKey(err) {
			// retrying cannot help: the row the insert collided with
			// is committed and the recheck did not absorb it
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return errors.Join(ErrConflictRetryExhausted, err)
}
