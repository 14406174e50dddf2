// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the meeting reads consumed by the
// trigger evaluator (reminders and schedule-conflict detection).
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-collab-backend/internal/domain"
)

// ListMeetingsForUserBetween returns meetings userID attends whose time
// range overlaps [from, to), ordered by start time with a deterministic
// tiebreak. Overlap uses the usual half-open interval test so back-to-back
// meetings do not match each other's window.
func ListMeetingsForUserBetween(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) ([]domain.Meeting, error) {
	var out []domain.Meeting
	err := db.WithContext(ctx).
		Model(&domain.Meeting{}).
		Joins("JOIN meeting_attendees ma ON ma.meeting_id = meetings.id").
		Where("ma.user_id = ? AND meetings.starts_at < ? AND meetings.ends_at > ?", userID, to, from).
		Order("meetings.starts_at ASC, meetings.id ASC").
		Find(&out).Error
	return out, err
}
