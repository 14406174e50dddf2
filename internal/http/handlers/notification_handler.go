// Notification HTTP handlers.
//
// This file exposes REST endpoints for the notification query surface:
//   - GET    /notifications                (list, paginated, ETag support)
//   - GET    /notifications/unread-count   (badge count)
//   - PUT    /notifications/{id}/read      (mark one read)
//   - PUT    /notifications/read-all       (mark everything read)
//   - DELETE /notifications/{id}           (user-initiated delete)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
// Every operation is scoped to the authenticated user; a notification owned by
// someone else is indistinguishable from one that does not exist.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-collab-backend/internal/domain"
	"github.com/tbourn/go-collab-backend/internal/repo"
	"github.com/tbourn/go-collab-backend/internal/services"
	"github.com/tbourn/go-collab-backend/internal/utils"
)

//
// Service contract (context-aware)
//

// NotificationService defines the notification operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type NotificationService interface {
	// Create persists one notification for userID and pushes it live.
	Create(ctx context.Context, userID, typ, title, message string, data json.RawMessage) (*domain.Notification, error)
	// CreateBulk persists one notification per distinct recipient.
	CreateBulk(ctx context.Context, userIDs []string, typ, title, message string, data json.RawMessage) ([]domain.Notification, error)
	// CreateForProject fans out to a project's owner and members.
	CreateForProject(ctx context.Context, projectID, typ, title, message string, data json.RawMessage) ([]domain.Notification, error)
	// List returns a page of the user's notifications and the total count.
	List(ctx context.Context, userID string, page, pageSize int) ([]domain.Notification, int64, error)
	// UnreadCount returns the user's unread total.
	UnreadCount(ctx context.Context, userID string) (int64, error)
	// MarkRead marks one notification read, scoped to the owning user.
	MarkRead(ctx context.Context, userID, id string) (*domain.Notification, error)
	// MarkAllRead marks every unread notification owned by userID.
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	// Delete removes one notification, scoped to the owning user.
	Delete(ctx context.Context, userID, id string) error
}

//
// Handler wiring
//

// defaultIdempotencyTTL bounds replay validity when no TTL is configured.
const defaultIdempotencyTTL = 24 * time.Hour

// Handlers groups the HTTP endpoints for the notification surface. It depends
// on an abstract service interface to keep transport concerns separate from
// business logic.
type Handlers struct {
	ntfSvc  NotificationService
	idemTTL time.Duration
}

// New constructs and returns a Handlers instance bound to the given service,
// with the default idempotency-replay window.
func New(ntfSvc NotificationService) *Handlers {
	return NewWithTTL(ntfSvc, defaultIdempotencyTTL)
}

// NewWithTTL constructs a Handlers instance with an explicit idempotency
// replay window (cfg.IdempotencyTTL).
func NewWithTTL(ntfSvc NotificationService, idemTTL time.Duration) *Handlers {
	if idemTTL <= 0 {
		idemTTL = defaultIdempotencyTTL
	}
	return &Handlers{ntfSvc: ntfSvc, idemTTL: idemTTL}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListNotificationsResponse wraps a page of notifications and pagination
// information.
type ListNotificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	Pagination    Pagination            `json:"pagination"`
}

// UnreadCountResponse reports the user's unread badge count.
type UnreadCountResponse struct {
	Count int64 `json:"count" example:"3"`
}

// NotificationStatsResponse summarizes the user's notification totals.
type NotificationStatsResponse struct {
	Total  int64 `json:"total" example:"12"`
	Unread int64 `json:"unread" example:"3"`
}

// MarkAllReadResponse reports how many records a read-all touched.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated" example:"5"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	return utils.ClampPage(page, pageSize, maxPageSize)
}

// serviceDB inspects the concrete NotificationService for its DB handle so
// list endpoints can do a cheap ETag pre-check. Returns nil when the service
// is a stub (tests) or not DB-backed.
func (h *Handlers) serviceDB() *gorm.DB {
	if svc, ok := h.ntfSvc.(*services.NotificationService); ok {
		return svc.DB
	}
	return nil
}

//
// Handlers
//

// ListNotifications godoc
// @ID          listNotifications
// @Summary     List notifications (paginated)
// @Description Returns a page of the user's notifications, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Notifications
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListNotificationsResponse
// @Header      200  {string} ETag           "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /notifications [get]
func (h *Handlers) ListNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if db := h.serviceDB(); db != nil {
		total, unread, latest, err := repo.NotificationsStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if latest != nil {
				ts = latest.Unix()
			}
			etag := fmt.Sprintf(`W/"notifications:%s:%d:%d:%d"`, uid, total, unread, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	// Fetch page.
	items, total, err := h.ntfSvc.List(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	resp := ListNotificationsResponse{
		Notifications: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
	ok(c, http.StatusOK, resp)
}

// NotificationStats godoc
// @ID          notificationStats
// @Summary     Notification totals
// @Description Returns total and unread counts for the current user. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Notifications
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
//
// @Success     200  {object} handlers.NotificationStatsResponse
// @Header      200  {string} ETag           "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /notifications/stats [get]
func (h *Handlers) NotificationStats(c *gin.Context) {
	uid := userID(c)
	db := h.serviceDB()
	if db == nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "stats unavailable")
		return
	}

	total, unread, latest, err := repo.NotificationsStats(c.Request.Context(), db, uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	var ts int64
	if latest != nil {
		ts = latest.Unix()
	}
	etag := fmt.Sprintf(`W/"notifications:%s:%d:%d:%d"`, uid, total, unread, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}
	ok(c, http.StatusOK, NotificationStatsResponse{Total: total, Unread: unread})
}

// UnreadCount godoc
// @ID          unreadCount
// @Summary     Unread notification count
// @Description Returns the number of unread notifications for the current user.
// @Tags        Notifications
// @Produce     json
//
// @Success     200  {object} handlers.UnreadCountResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /notifications/unread-count [get]
func (h *Handlers) UnreadCount(c *gin.Context) {
	count, err := h.ntfSvc.UnreadCount(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, UnreadCountResponse{Count: count})
}

// MarkRead godoc
// @ID          markNotificationRead
// @Summary     Mark one notification read
// @Description Marks a notification owned by the current user as read. Idempotent: re-marking a read notification succeeds.
// @Tags        Notifications
// @Produce     json
//
// @Param       id  path  string  true  "Notification ID (UUID)"  format(uuid) example(141add05-4415-4938-b5a1-17e0d3171aff)
//
// @Success     200  {object} domain.Notification
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Notification not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /notifications/{id}/read [put]
func (h *Handlers) MarkRead(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "notification id must be a UUID")
		return
	}

	n, err := h.ntfSvc.MarkRead(c.Request.Context(), userID(c), id)
	if err != nil {
		// Ownership misses map to 404: existence is not revealed to
		// non-owners.
		if errors.Is(err, services.ErrNotificationNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "notification not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, n)
}

// MarkAllRead godoc
// @ID          markAllNotificationsRead
// @Summary     Mark all notifications read
// @Description Marks every unread notification owned by the current user as read and reports how many were updated.
// @Tags        Notifications
// @Produce     json
//
// @Success     200  {object} handlers.MarkAllReadResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /notifications/read-all [put]
func (h *Handlers) MarkAllRead(c *gin.Context) {
	updated, err := h.ntfSvc.MarkAllRead(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, MarkAllReadResponse{Updated: updated})
}

// DeleteNotification godoc
// @ID          deleteNotification
// @Summary     Delete a notification
// @Description Deletes a notification owned by the current user.
// @Tags        Notifications
//
// @Param       id  path  string  true  "Notification ID (UUID)"  format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Notification not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /notifications/{id} [delete]
func (h *Handlers) DeleteNotification(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "notification id must be a UUID")
		return
	}

	if err := h.ntfSvc.Delete(c.Request.Context(), userID(c), id); err != nil {
		if errors.Is(err, services.ErrNotificationNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "notification not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
