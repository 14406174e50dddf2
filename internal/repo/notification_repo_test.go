package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-collab-backend/internal/domain"
)

func newNotificationRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("notification_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestCreateNotification_Error_NoTable(t *testing.T) {
	db := newNotificationRepoDB(t /* no migrations */)
	n, err := CreateNotification(context.Background(), db, "u1", "overdue", "t", "m", nil)
	if err == nil || n != nil {
		t.Fatalf("expected error creating without table, got n=%v err=%v", n, err)
	}
}

func TestCreateNotification_Success_PersistsAndSetsFields(t *testing.T) {
	db := newNotificationRepoDB(t, &domain.Notification{})

	start := time.Now().UTC().Add(-time.Minute)
	data := json.RawMessage(`{"task_id":"t1"}`)
	n, err := CreateNotification(context.Background(), db, "u1", "overdue", "Task overdue", "Finish the report", data)
	if err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}
	if n.ID == "" || n.UserID != "u1" || n.Type != "overdue" || n.Title != "Task overdue" {
		t.Fatalf("unexpected fields: %+v", n)
	}
	if n.Read {
		t.Fatalf("new notification must start unread")
	}
	if n.CreatedAt.Before(start) {
		t.Fatalf("CreatedAt not set to now-ish UTC: %v", n.CreatedAt)
	}

	var got domain.Notification
	if err := db.First(&got, "id = ?", n.ID).Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if string(got.Data) != `{"task_id":"t1"}` {
		t.Fatalf("data not persisted: %s", got.Data)
	}
}

func TestCreateNotifications_EmptyInput(t *testing.T) {
	db := newNotificationRepoDB(t, &domain.Notification{})
	rows, err := CreateNotifications(context.Background(), db, nil, "x", "t", "m", nil)
	if err != nil {
		t.Fatalf("CreateNotifications(nil): %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty slice, got %d rows", len(rows))
	}
}

func TestCreateNotifications_OneRowPerRecipient(t *testing.T) {
	db := newNotificationRepoDB(t, &domain.Notification{})

	users := []string{"u1", "u2", "u3"}
	rows, err := CreateNotifications(context.Background(), db, users, "comment_added", "New comment", "Alice commented", nil)
	if err != nil {
		t.Fatalf("CreateNotifications: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	seenIDs := map[string]bool{}
	for i, r := range rows {
		if r.UserID != users[i] {
			t.Fatalf("row %d user = %q; want %q", i, r.UserID, users[i])
		}
		if r.ID == "" || seenIDs[r.ID] {
			t.Fatalf("row %d has empty or duplicate id %q", i, r.ID)
		}
		seenIDs[r.ID] = true
	}

	var total int64
	if err := db.Model(&domain.Notification{}).Count(&total).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 persisted rows, got %d", total)
	}
	// No record outside the input set.
	var stray int64
	if err := db.Model(&domain.Notification{}).Where("user_id NOT IN ?", users).Count(&stray).Error; err != nil {
		t.Fatalf("stray count: %v", err)
	}
	if stray != 0 {
		t.Fatalf("expected no rows outside the recipient set, got %d", stray)
	}
}

func TestListNotificationsPage_OrderAndPaging(t *testing.T) {
	db := newNotificationRepoDB(t, &domain.Notification{})
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		n := &domain.Notification{
			ID:        fmt.Sprintf("n%d", i),
			UserID:    "u1",
			Type:      "stale_task",
			Title:     fmt.Sprintf("t%d", i),
			Message:   "m",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.Create(n).Error; err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	// Another user's record must never appear.
	other := &domain.Notification{ID: "other", UserID: "u2", Type: "x", Title: "t", Message: "m", CreatedAt: base}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("seed other: %v", err)
	}

	page, err := ListNotificationsPage(ctx, db, "u1", 0, 3)
	if err != nil {
		t.Fatalf("ListNotificationsPage: %v", err)
	}
	if len(page) != 3 || page[0].ID != "n4" || page[1].ID != "n3" || page[2].ID != "n2" {
		t.Fatalf("unexpected first page: %+v", page)
	}

	page2, err := ListNotificationsPage(ctx, db, "u1", 3, 3)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(page2) != 2 || page2[0].ID != "n1" || page2[1].ID != "n0" {
		t.Fatalf("unexpected second page: %+v", page2)
	}

	total, err := CountNotifications(ctx, db, "u1")
	if err != nil || total != 5 {
		t.Fatalf("CountNotifications = (%d, %v); want (5, nil)", total, err)
	}
}

func TestCountUnreadNotifications(t *testing.T) {
	db := newNotificationRepoDB(t, &domain.Notification{})
	ctx := context.Background()

	now := time.Now().UTC()
	for i, read := range []bool{false, true, false} {
		n := &domain.Notification{ID: fmt.Sprintf("n%d", i), UserID: "u1", Type: "x", Title: "t", Message: "m", Read: read, CreatedAt: now}
		if err := db.Create(n).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	unread, err := CountUnreadNotifications(ctx, db, "u1")
	if err != nil || unread != 2 {
		t.Fatalf("CountUnreadNotifications = (%d, %v); want (2, nil)", unread, err)
	}
}

func TestGetNotification_ScopedToOwner(t *testing.T) {
	db := newNotificationRepoDB(t, &domain.Notification{})
	ctx := context.Background()

	n, err := CreateNotification(ctx, db, "u1", "overdue", "t", "m", nil)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := GetNotification(ctx, db, n.ID, "u1")
	if err != nil || got.ID != n.ID {
		t.Fatalf("owner fetch failed: %+v, %v", got, err)
	}

	// Another user must see NotFound, not the record.
	if _, err := GetNotification(ctx, db, n.ID, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}
}

func TestMarkNotificationRead_IdempotentAndScoped(t *testing.T) {
	db := newNotificationRepoDB(t, &domain.Notification{})
	ctx := context.Background()

	n, err := CreateNotification(ctx, db, "u1", "meeting_reminder", "t", "m", nil)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	first, err := MarkNotificationRead(ctx, db, n.ID, "u1")
	if err != nil || !first.Read {
		t.Fatalf("first MarkNotificationRead = (%+v, %v)", first, err)
	}

	// Second call: still read, still no error.
	second, err := MarkNotificationRead(ctx, db, n.ID, "u1")
	if err != nil || !second.Read {
		t.Fatalf("second MarkNotificationRead = (%+v, %v)", second, err)
	}

	// Foreign owner cannot toggle (and cannot learn the record exists).
	if _, err := MarkNotificationRead(ctx, db, n.ID, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}

	var got domain.Notification
	if err := db.First(&got, "id = ?", n.ID).Error; err != nil || !got.Read {
		t.Fatalf("persisted read flag wrong: %+v, %v", got, err)
	}
}

func TestMarkAllNotificationsRead(t *testing.T) {
	db := newNotificationRepoDB(t, &domain.Notification{})
	ctx := context.Background()

	now := time.Now().UTC()
	for i, read := range []bool{false, false, true} {
		n := &domain.Notification{ID: fmt.Sprintf("n%d", i), UserID: "u1", Type: "x", Title: "t", Message: "m", Read: read, CreatedAt: now}
		if err := db.Create(n).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	updated, err := MarkAllNotificationsRead(ctx, db, "u1")
	if err != nil || updated != 2 {
		t.Fatalf("MarkAllNotificationsRead = (%d, %v); want (2, nil)", updated, err)
	}

	// Second run has nothing left to update.
	updated, err = MarkAllNotificationsRead(ctx, db, "u1")
	if err != nil || updated != 0 {
		t.Fatalf("repeat MarkAllNotificationsRead = (%d, %v); want (0, nil)", updated, err)
	}
}

func TestDeleteNotification_ScopedAndNotFoundOnRepeat(t *testing.T) {
	db := newNotificationRepoDB(t, &domain.Notification{})
	ctx := context.Background()

	n, err := CreateNotification(ctx, db, "u1", "overdue", "t", "m", nil)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Foreign owner cannot delete.
	if err := DeleteNotification(ctx, db, n.ID, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}

	if err := DeleteNotification(ctx, db, n.ID, "u1"); err != nil {
		t.Fatalf("DeleteNotification: %v", err)
	}

	// Gone from list queries.
	rows, err := ListNotificationsPage(ctx, db, "u1", 0, 10)
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected empty list after delete, got %+v, %v", rows, err)
	}

	// Repeat delete reports NotFound.
	if err := DeleteNotification(ctx, db, n.ID, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeat delete, got %v", err)
	}
}
