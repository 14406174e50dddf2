// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Notification model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a notification is not found for the requesting owner, functions
//     return gorm.ErrRecordNotFound (also exported here as ErrNotFound).
//     Ownership misses and true misses are indistinguishable on purpose.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Functions:
//
//   - CreateNotification(ctx, db, userID, typ, title, message, data) -> *domain.Notification, error
//     Inserts one row with UUID primary key and UTC timestamp.
//
//   - CreateNotifications(ctx, db, userIDs, typ, title, message, data) -> []domain.Notification, error
//     Inserts one row per recipient in a single batch statement.
//
//   - ListNotificationsPage(ctx, db, userID, offset, limit) -> []domain.Notification, error
//     Returns a paginated slice for a user, newest first.
//
//   - CountNotifications / CountUnreadNotifications(ctx, db, userID) -> (int64, error)
//     Totals used for pagination metadata and the unread badge.
//
//   - GetNotification(ctx, db, id, userID) -> *domain.Notification, error
//     Fetches a single record scoped to its owner, or ErrNotFound.
//
//   - MarkNotificationRead(ctx, db, id, userID) -> *domain.Notification, error
//     Sets read=true, enforcing ownership. Safe to repeat.
//
//   - MarkAllNotificationsRead(ctx, db, userID) -> (int64, error)
//     Marks every unread record read; returns the number updated.
//
//   - DeleteNotification(ctx, db, id, userID) -> error
//     Soft-deletes one record scoped to its owner, or ErrNotFound.
//
// Usage:
//
//	// Within a service layer
//	n, err := repo.CreateNotification(ctx, db, userID, "overdue", title, msg, data)
//	if errors.Is(err, repo.ErrNotFound) {
//	    // handle missing
//	} else if err != nil {
//	    // handle DB failure
//	}
//
// This repository is designed to be wrapped by a higher-level service
// (see services.NotificationService) which decides when to fan out live
// events after persistence succeeds.
package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-collab-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateNotification inserts a single notification row for userID.
// The ID is a randomly generated UUID (string), CreatedAt is set to UTC,
// and the record starts unread. On failure, it returns a DB error.
func CreateNotification(ctx context.Context, db *gorm.DB, userID, typ, title, message string, data json.RawMessage) (*domain.Notification, error) {
	n := &domain.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(n).Error; err != nil {
		return nil, err
	}
	return n, nil
}

// CreateNotifications inserts one notification row per recipient in a single
// batch statement. All rows share the same type/title/message/data and
// timestamp; each gets its own UUID. The returned slice preserves the order
// of userIDs. An empty recipient list returns an empty slice and no error.
func CreateNotifications(ctx context.Context, db *gorm.DB, userIDs []string, typ, title, message string, data json.RawMessage) ([]domain.Notification, error) {
	if len(userIDs) == 0 {
		return []domain.Notification{}, nil
	}
	now := time.Now().UTC()
	rows := make([]domain.Notification, 0, len(userIDs))
	for _, uid := range userIDs {
		rows = append(rows, domain.Notification{
			ID:        uuid.NewString(),
			UserID:    uid,
			Type:      typ,
			Title:     title,
			Message:   message,
			Data:      data,
			CreatedAt: now,
		})
	}
	if err := db.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListNotificationsPage returns a paginated slice of notifications for
// userID, newest first with a deterministic tiebreak. Use
// CountNotifications to obtain the total for pagination metadata.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListNotificationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Notification, error) {
	var out []domain.Notification
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountNotifications returns the total number of notifications owned by userID.
func CountNotifications(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// CountUnreadNotifications returns the number of unread notifications owned
// by userID.
func CountUnreadNotifications(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&total).Error
	return total, err
}

// GetNotification fetches a single notification by its ID and owner
// (userID). If the record does not exist or belongs to someone else, it
// returns ErrNotFound. On other DB errors, the raw error is returned.
func GetNotification(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Notification, error) {
	var n domain.Notification
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&n).Error
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// GetNotificationByID fetches a single notification by its ID without an
// ownership filter. Reserved for trusted internal paths (idempotency replay);
// user-facing reads go through GetNotification.
func GetNotificationByID(ctx context.Context, db *gorm.DB, id string) (*domain.Notification, error) {
	var n domain.Notification
	if err := db.WithContext(ctx).Where("id = ?", id).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkNotificationRead sets read=true on the notification identified by id
// and owned by userID, returning the updated record. Marking an already-read
// record is a no-op that still returns the record, so retries are harmless.
// If the record is missing or owned by someone else, it returns ErrNotFound.
func MarkNotificationRead(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Notification, error) {
	n, err := GetNotification(ctx, db, id, userID)
	if err != nil {
		return nil, err
	}
	if !n.Read {
		res := db.WithContext(ctx).
			Model(&domain.Notification{}).
			Where("id = ? AND user_id = ?", id, userID).
			Update("read", true)
		if res.Error != nil {
			return nil, res.Error
		}
		n.Read = true
	}
	return n, nil
}

// MarkAllNotificationsRead marks every unread notification owned by userID
// as read and returns the number of rows updated. Zero updates is not an
// error.
func MarkAllNotificationsRead(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true)
	return res.RowsAffected, res.Error
}

// DeleteNotification soft-deletes the notification identified by id and
// owned by userID. If no rows are affected (missing or not owned), it
// returns ErrNotFound.
func DeleteNotification(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.Notification{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
