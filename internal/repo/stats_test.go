package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-collab-backend/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestNotificationsStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	_, _, _, err := NotificationsStats(context.Background(), db, "u1")
	if err == nil {
		t.Fatalf("expected error due to missing notifications table")
	}
}

func TestNotificationsStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.Notification{})
	total, unread, latest, err := NotificationsStats(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("NotificationsStats error: %v", err)
	}
	if total != 0 || unread != 0 || latest != nil {
		t.Fatalf("expected (0, 0, nil), got (%d, %d, %v)", total, unread, latest)
	}
}

func TestNotificationsStats_Success_FilterAndLatest(t *testing.T) {
	db := newTestDB(t, &domain.Notification{})

	// Seed notifications for two users; ensure CreatedAt is exactly what we set.
	t1 := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC) // latest for u1
	t3 := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)   // for other user

	n1 := &domain.Notification{ID: "n1", UserID: "u1", Type: "task_assigned", Title: "a", Message: "m", Read: true, CreatedAt: t1}
	n2 := &domain.Notification{ID: "n2", UserID: "u1", Type: "comment_added", Title: "b", Message: "m", CreatedAt: t2}
	n3 := &domain.Notification{ID: "n3", UserID: "u2", Type: "task_assigned", Title: "x", Message: "m", CreatedAt: t3}

	if err := db.Create(n1).Error; err != nil {
		t.Fatalf("seed n1: %v", err)
	}
	if err := db.Create(n2).Error; err != nil {
		t.Fatalf("seed n2: %v", err)
	}
	if err := db.Create(n3).Error; err != nil {
		t.Fatalf("seed n3: %v", err)
	}

	total, unread, latest, err := NotificationsStats(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("NotificationsStats error: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected total 2, got %d", total)
	}
	if unread != 1 {
		t.Fatalf("expected unread 1, got %d", unread)
	}
	if latest == nil || !latest.Equal(t2) {
		t.Fatalf("expected latest %v, got %v", t2, latest)
	}
}

// Force the follow-up select (SELECT created_at ...) to fail by renaming the column.
func TestNotificationsStats_SelectLatest_ErrorPath(t *testing.T) {
	db := newTestDB(t, &domain.Notification{})

	// Seed at least one row so count > 0
	now := time.Now().UTC()
	if err := db.Create(&domain.Notification{
		ID:        "nx",
		UserID:    "uerr",
		Type:      "task_assigned",
		Title:     "x",
		Message:   "m",
		CreatedAt: now,
	}).Error; err != nil {
		t.Fatalf("seed notification: %v", err)
	}

	// Break the follow-up select by removing/renaming created_at.
	if err := db.Exec(`ALTER TABLE notifications RENAME COLUMN created_at TO created_at_old`).Error; err != nil {
		t.Fatalf("rename column: %v", err)
	}

	_, _, _, err := NotificationsStats(context.Background(), db, "uerr")
	if err == nil {
		t.Fatalf("expected error from latest-created select after column rename")
	}
}
