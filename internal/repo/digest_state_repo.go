// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the schedule-state persistence used by
// the digest scheduler: one row per job recording when it last fired, so a
// process restart neither skips nor double-fires a window.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-collab-backend/internal/domain"
)

// GetDigestState returns the schedule state for job, or ErrNotFound when the
// job has never fired.
func GetDigestState(ctx context.Context, db *gorm.DB, job string) (*domain.DigestState, error) {
	var s domain.DigestState
	err := db.WithContext(ctx).Where("job = ?", job).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// MarkDigestFired records firedAt as the last firing boundary for job,
// inserting the row on first use. The scheduler calls this before running
// the job body, which is what makes delivery at-most-once per boundary.
func MarkDigestFired(ctx context.Context, db *gorm.DB, job string, firedAt time.Time) error {
	s := domain.DigestState{Job: job, LastFiredAt: firedAt.UTC()}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_fired_at", "updated_at"}),
		}).
		Create(&s).Error
}
