package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-collab-backend/internal/domain"
	"github.com/tbourn/go-collab-backend/internal/repo"
	"github.com/tbourn/go-collab-backend/internal/services"
)

// ---------- test DB + repo shim ----------

func newNotificationDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:ntf_handlers_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	if err := db.AutoMigrate(
		&domain.User{}, &domain.Project{}, &domain.ProjectMember{},
		&domain.Notification{}, &domain.Idempotency{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Minimal shim implementing services.NotificationRepo using repo package
// (like router.go)
type testNotificationRepo struct{}

func (testNotificationRepo) CreateNotification(ctx context.Context, db *gorm.DB, userID, typ, title, message string, data json.RawMessage) (*domain.Notification, error) {
	return repo.CreateNotification(ctx, db, userID, typ, title, message, data)
}

func (testNotificationRepo) CreateNotifications(ctx context.Context, db *gorm.DB, userIDs []string, typ, title, message string, data json.RawMessage) ([]domain.Notification, error) {
	return repo.CreateNotifications(ctx, db, userIDs, typ, title, message, data)
}

func (testNotificationRepo) ListNotificationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Notification, error) {
	return repo.ListNotificationsPage(ctx, db, userID, offset, limit)
}

func (testNotificationRepo) CountNotifications(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountNotifications(ctx, db, userID)
}

func (testNotificationRepo) CountUnreadNotifications(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountUnreadNotifications(ctx, db, userID)
}

func (testNotificationRepo) MarkNotificationRead(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Notification, error) {
	return repo.MarkNotificationRead(ctx, db, id, userID)
}

func (testNotificationRepo) MarkAllNotificationsRead(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.MarkAllNotificationsRead(ctx, db, userID)
}

func (testNotificationRepo) DeleteNotification(ctx context.Context, db *gorm.DB, id, userID string) error {
	return repo.DeleteNotification(ctx, db, id, userID)
}

func (testNotificationRepo) ListProjectRecipients(ctx context.Context, db *gorm.DB, projectID string) ([]string, error) {
	return repo.ListProjectRecipients(ctx, db, projectID)
}

func newTestHandlers(t *testing.T) (*Handlers, *gorm.DB) {
	t.Helper()
	db := newNotificationDB(t)
	svc := services.NewNotificationService(db, testNotificationRepo{}, nil)
	return New(svc), db
}

func seedNotification(t *testing.T, db *gorm.DB, userID, typ, title string) *domain.Notification {
	t.Helper()
	n, err := repo.CreateNotification(context.Background(), db, userID, typ, title, "body", nil)
	if err != nil {
		t.Fatalf("seed notification: %v", err)
	}
	return n
}

// ---------- flexible service stub ----------

type stubNtfSvc struct {
	list        func(context.Context, string, int, int) ([]domain.Notification, int64, error)
	unreadCount func(context.Context, string) (int64, error)
	markRead    func(context.Context, string, string) (*domain.Notification, error)
	markAllRead func(context.Context, string) (int64, error)
	del         func(context.Context, string, string) error
}

func (s stubNtfSvc) Create(ctx context.Context, userID, typ, title, message string, data json.RawMessage) (*domain.Notification, error) {
	return &domain.Notification{ID: uuid.NewString(), UserID: userID, Type: typ, Title: title, Message: message}, nil
}

func (s stubNtfSvc) CreateBulk(ctx context.Context, userIDs []string, typ, title, message string, data json.RawMessage) ([]domain.Notification, error) {
	return nil, nil
}

func (s stubNtfSvc) CreateForProject(ctx context.Context, projectID, typ, title, message string, data json.RawMessage) ([]domain.Notification, error) {
	return nil, nil
}

func (s stubNtfSvc) List(ctx context.Context, userID string, page, pageSize int) ([]domain.Notification, int64, error) {
	if s.list != nil {
		return s.list(ctx, userID, page, pageSize)
	}
	return nil, 0, nil
}

func (s stubNtfSvc) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if s.unreadCount != nil {
		return s.unreadCount(ctx, userID)
	}
	return 0, nil
}

func (s stubNtfSvc) MarkRead(ctx context.Context, userID, id string) (*domain.Notification, error) {
	if s.markRead != nil {
		return s.markRead(ctx, userID, id)
	}
	return &domain.Notification{ID: id, UserID: userID, Read: true}, nil
}

func (s stubNtfSvc) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if s.markAllRead != nil {
		return s.markAllRead(ctx, userID)
	}
	return 0, nil
}

func (s stubNtfSvc) Delete(ctx context.Context, userID, id string) error {
	if s.del != nil {
		return s.del(ctx, userID, id)
	}
	return nil
}

// ---------- router helper ----------

func notificationRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/notifications", h.ListNotifications)
	r.GET("/notifications/stats", h.NotificationStats)
	r.GET("/notifications/unread-count", h.UnreadCount)
	r.PUT("/notifications/read-all", h.MarkAllRead)
	r.PUT("/notifications/:id/read", h.MarkRead)
	r.DELETE("/notifications/:id", h.DeleteNotification)
	return r
}

// ---------- tests ----------

func TestListNotifications_PaginatesNewestFirst(t *testing.T) {
	h, db := newTestHandlers(t)
	r := notificationRouter(h)

	for i := 0; i < 3; i++ {
		n := seedNotification(t, db, "u1", "overdue", fmt.Sprintf("n-%d", i))
		// Stagger created_at so ordering is deterministic.
		db.Model(&domain.Notification{}).
			Where("id = ?", n.ID).
			Update("created_at", time.Now().Add(time.Duration(i)*time.Second))
	}
	seedNotification(t, db, "someone-else", "overdue", "not-mine")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/notifications?page=1&page_size=2", nil)
	req.Header.Set("X-User-ID", "u1")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp ListNotificationsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Pagination.Total != 3 {
		t.Fatalf("total=%d, want 3 (owner scoping)", resp.Pagination.Total)
	}
	if len(resp.Notifications) != 2 {
		t.Fatalf("page len=%d, want 2", len(resp.Notifications))
	}
	if resp.Notifications[0].Title != "n-2" {
		t.Fatalf("expected newest first, got %q", resp.Notifications[0].Title)
	}
	if !resp.Pagination.HasNext {
		t.Fatalf("expected has_next with 3 rows and page_size 2")
	}
	if w.Header().Get("ETag") == "" {
		t.Fatalf("expected ETag header on list")
	}
}

func TestListNotifications_ETag304(t *testing.T) {
	h, db := newTestHandlers(t)
	r := notificationRouter(h)
	seedNotification(t, db, "u1", "overdue", "n")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	req.Header.Set("X-User-ID", "u1")
	r.ServeHTTP(w, req)
	etag := w.Header().Get("ETag")
	if w.Code != http.StatusOK || etag == "" {
		t.Fatalf("priming request: status=%d etag=%q", w.Code, etag)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/notifications", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("If-None-Match", etag)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304 on matching ETag, got %d", w.Code)
	}
}

func TestNotificationStats_CountsAndETag304(t *testing.T) {
	h, db := newTestHandlers(t)
	r := notificationRouter(h)

	a := seedNotification(t, db, "u1", "overdue", "a")
	seedNotification(t, db, "u1", "overdue", "b")
	seedNotification(t, db, "intruder", "overdue", "x")
	if _, err := repo.MarkNotificationRead(context.Background(), db, a.ID, "u1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/notifications/stats", nil)
	req.Header.Set("X-User-ID", "u1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: status=%d body=%s", w.Code, w.Body.String())
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag header on stats response")
	}
	var stats NotificationStatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 2 || stats.Unread != 1 {
		t.Fatalf("stats = %+v, want total=2 unread=1", stats)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/notifications/stats", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("If-None-Match", etag)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304 on matching ETag, got %d", w.Code)
	}
}

func TestUnreadCount(t *testing.T) {
	h, db := newTestHandlers(t)
	r := notificationRouter(h)

	a := seedNotification(t, db, "u1", "overdue", "a")
	seedNotification(t, db, "u1", "overdue", "b")
	if _, err := repo.MarkNotificationRead(context.Background(), db, a.ID, "u1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/notifications/unread-count", nil)
	req.Header.Set("X-User-ID", "u1")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp UnreadCountResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("count=%d, want 1", resp.Count)
	}
}

func TestMarkRead_IdempotentAndOwnerScoped(t *testing.T) {
	h, db := newTestHandlers(t)
	r := notificationRouter(h)
	n := seedNotification(t, db, "u1", "overdue", "n")

	mark := func(user string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/notifications/"+n.ID+"/read", nil)
		req.Header.Set("X-User-ID", user)
		r.ServeHTTP(w, req)
		return w
	}

	// First mark succeeds.
	w := mark("u1")
	if w.Code != http.StatusOK {
		t.Fatalf("first mark status=%d", w.Code)
	}
	var got domain.Notification
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Read {
		t.Fatalf("expected read=true")
	}

	// Second mark is a harmless no-op.
	w = mark("u1")
	if w.Code != http.StatusOK {
		t.Fatalf("second mark status=%d", w.Code)
	}

	// Someone else's mark is indistinguishable from a missing record.
	w = mark("intruder")
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign mark status=%d, want 404", w.Code)
	}
}

func TestMarkRead_RejectsNonUUID(t *testing.T) {
	h, _ := newTestHandlers(t)
	r := notificationRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/notifications/not-a-uuid/read", nil)
	req.Header.Set("X-User-ID", "u1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", w.Code)
	}
}

func TestMarkAllRead_CountsUpdates(t *testing.T) {
	h, db := newTestHandlers(t)
	r := notificationRouter(h)
	seedNotification(t, db, "u1", "overdue", "a")
	seedNotification(t, db, "u1", "overdue", "b")
	seedNotification(t, db, "other", "overdue", "c")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/notifications/read-all", nil)
	req.Header.Set("X-User-ID", "u1")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp MarkAllReadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Updated != 2 {
		t.Fatalf("updated=%d, want 2", resp.Updated)
	}
}

func TestDeleteNotification_OwnerScoped(t *testing.T) {
	h, db := newTestHandlers(t)
	r := notificationRouter(h)
	n := seedNotification(t, db, "u1", "overdue", "n")

	// Foreign delete → 404, record stays.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/notifications/"+n.ID, nil)
	req.Header.Set("X-User-ID", "intruder")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign delete status=%d, want 404", w.Code)
	}

	// Owner delete → 204.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/notifications/"+n.ID, nil)
	req.Header.Set("X-User-ID", "u1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("owner delete status=%d, want 204", w.Code)
	}

	var count int64
	db.Model(&domain.Notification{}).Where("user_id = ?", "u1").Count(&count)
	if count != 0 {
		t.Fatalf("expected no visible rows after delete, got %d", count)
	}
}

func TestListNotifications_StubServiceError(t *testing.T) {
	h := New(stubNtfSvc{
		list: func(context.Context, string, int, int) ([]domain.Notification, int64, error) {
			return nil, 0, fmt.Errorf("boom")
		},
	})
	r := notificationRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["code"] != ErrCodeListFailed {
		t.Fatalf("code=%v", body["code"])
	}
}
