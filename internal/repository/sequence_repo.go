package repository

import (
	"context"
	"fmt"

	"tutorledger/internal/model"
	"tutorledger/pkg/sqlguard"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SequenceRepository struct {
	db *gorm.DB
}

func NewSequenceRepository(db *gorm.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

const incrementSequenceSQL = `UPDATE invoice_sequence SET last_value = last_value + 1 WHERE year_month = ?`

// Next claims the next ordinal for the given year-month inside the
// caller's transaction. The increment is a single UPDATE, never a
// read-then-write pair: the row lock taken by the UPDATE serializes
// concurrent callers, and the read-back inside the same transaction sees
// the value this caller claimed. A missing counter row is created at 0
// first (insert races fall through to the UPDATE).
func (r *SequenceRepository) Next(ctx context.Context, tx *gorm.DB, yearMonth int) (int64, error) {
	if tx == nil {
		tx = r.db
	}

	if err := sqlguard.Check(incrementSequenceSQL); err != nil {
		return 0, fmt.Errorf("sequence increment: %w", err)
	}

	result := tx.WithContext(ctx).Exec(incrementSequenceSQL, yearMonth)
	if result.Error != nil {
		return 0, result.Error
	}

	if result.RowsAffected == 0 {
		// First invoice of the month. Seed the counter and retry the
		// increment; a concurrent seeder is absorbed by DoNothing.
		seed := &model.InvoiceSequence{YearMonth: yearMonth, LastValue: 0}
		err := tx.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "year_month"}},
				DoNothing: true,
			}).
			Create(seed).Error
		if err != nil {
			return 0, err
		}

		result = tx.WithContext(ctx).Exec(incrementSequenceSQL, yearMonth)
		if result.Error != nil {
			return 0, result.Error
		}
		if result.RowsAffected == 0 {
			return 0, fmt.Errorf("invoice sequence %d: increment affected no rows after seed", yearMonth)
		}
	}

	var seq model.InvoiceSequence
	if err := tx.WithContext(ctx).Where("year_month = ?", yearMonth).First(&seq).Error; err != nil {
		return 0, err
	}
	return seq.LastValue, nil
}
