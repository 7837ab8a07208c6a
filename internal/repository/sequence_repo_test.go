package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSequenceRepository_Next(t *testing.T) {
	db := newTestDB(t)
	repo := NewSequenceRepository(db)
	ctx := context.Background()

	// dense ordinals starting at 1
	for want := int64(1); want <= 5; want++ {
		var got int64
		err := db.Transaction(func(tx *gorm.DB) error {
			var err error
			got, err = repo.Next(ctx, tx, 202602)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestSequenceRepository_IndependentMonths(t *testing.T) {
	db := newTestDB(t)
	repo := NewSequenceRepository(db)
	ctx := context.Background()

	next := func(yearMonth int) int64 {
		var got int64
		err := db.Transaction(func(tx *gorm.DB) error {
			var err error
			got, err = repo.Next(ctx, tx, yearMonth)
			return err
		})
		require.NoError(t, err)
		return got
	}

	assert.Equal(t, int64(1), next(202602))
	assert.Equal(t, int64(2), next(202602))
	assert.Equal(t, int64(1), next(202603))
	assert.Equal(t, int64(3), next(202602))
}

func TestSequenceRepository_RolledBackClaimIsReused(t *testing.T) {
	db := newTestDB(t)
	repo := NewSequenceRepository(db)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		ordinal, err := repo.Next(ctx, tx, 202602)
		require.NoError(t, err)
		assert.Equal(t, int64(1), ordinal)
		return assert.AnError
	})
	require.Error(t, err)

	// the rolled-back increment never happened, so the ordinal stays dense
	var got int64
	err = db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		got, txErr = repo.Next(ctx, tx, 202602)
		return txErr
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}
