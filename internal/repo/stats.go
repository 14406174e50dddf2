// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer. Each function is context-aware and safe to call from services or
// handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-collab-backend/internal/domain"
)

// NotificationsStats returns aggregate metadata for a user's notifications:
// the total row count, the unread count, and the most recent CreatedAt
// timestamp among those rows.
//
// The three values together change whenever the user's notification set
// changes in a way a client could observe (new arrival, read toggle, or
// delete), which makes them a cheap ETag source. When the user has no
// notifications, counts are 0 and latest is nil.
//
// Return values:
//   - total:   total notifications for userID
//   - unread:  unread notifications for userID
//   - latest:  pointer to the greatest CreatedAt, or nil if no rows
//   - err:     database error, if any
func NotificationsStats(ctx context.Context, db *gorm.DB, userID string) (total, unread int64, latest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Notification{}).Where("user_id = ?", userID)

	// Count
	if err = q.Count(&total).Error; err != nil {
		return 0, 0, nil, err
	}
	if total == 0 {
		return 0, 0, nil, nil
	}

	if err = db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&unread).Error; err != nil {
		return 0, 0, nil, err
	}

	// Get latest created_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		CreatedAt time.Time
	}
	if err = db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ?", userID).
		Select("created_at").
		Order("created_at DESC").
		Limit(1).
		Scan(&row).Error; err != nil {
		return 0, 0, nil, err
	}
	return total, unread, &row.CreatedAt, nil
}
