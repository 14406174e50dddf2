// Internal notification producer handlers.
//
// This file exposes the endpoints the CRUD layer calls when a domain action
// should notify someone:
//   - POST /internal/notifications          (one recipient)
//   - POST /internal/notifications/bulk    (explicit recipient list)
//   - POST /internal/projects/{id}/notify  (fan out to a project's members)
//
// These routes sit behind the internal API key gate; they are service-to-
// service surface, not public API. Handlers are transport-thin:
//   - validate & normalize inputs
//   - delegate to NotificationService (persist first, live push second)
//   - implement idempotency semantics for safe retries
//
// Idempotency:
// If the caller supplies an Idempotency-Key header and a previous successful
// result exists for (user, route, key), the handler returns the recorded
// notification and sets `Idempotency-Replayed: true`. For bulk and project
// fan-outs the replay check is keyed on the calling scope alone; the recorded
// notification id anchors the receipt.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-collab-backend/internal/domain"
	"github.com/tbourn/go-collab-backend/internal/http/middleware"
	"github.com/tbourn/go-collab-backend/internal/repo"
	"github.com/tbourn/go-collab-backend/internal/services"
)

//
// DTOs
//

// CreateNotificationRequest is the JSON payload for notifying one recipient.
type CreateNotificationRequest struct {
	// UserID is the recipient.
	UserID string `json:"user_id" binding:"required" example:"8f2b4a0e-07d9-4f3a-9a41-2f4f5f4f4f4f"`
	// Type is the machine-readable notification kind.
	Type string `json:"type" binding:"required" example:"comment_added"`
	// Title is the short, rendered headline.
	Title string `json:"title" binding:"required,max=255" example:"New comment on your task"`
	// Message is the rendered body text.
	Message string `json:"message" example:"Alice commented on \"Ship the report\""`
	// Data optionally carries a JSON payload describing the triggering entity.
	Data json.RawMessage `json:"data,omitempty" swaggertype:"object"`
}

// CreateBulkRequest is the JSON payload for notifying an explicit recipient
// list. The recipient set is exactly this list (deduplicated); the store does
// not widen it.
type CreateBulkRequest struct {
	// UserIDs are the recipients (blank and duplicate entries are dropped).
	UserIDs []string `json:"user_ids" binding:"required,min=1"`
	// Type is the machine-readable notification kind.
	Type string `json:"type" binding:"required" example:"meeting_scheduled"`
	// Title is the short, rendered headline.
	Title string `json:"title" binding:"required,max=255"`
	// Message is the rendered body text.
	Message string `json:"message"`
	// Data optionally carries a JSON payload describing the triggering entity.
	Data json.RawMessage `json:"data,omitempty" swaggertype:"object"`
}

// NotifyProjectRequest is the JSON payload for a project-scoped fan-out. The
// recipient set is resolved server-side from project ownership and membership.
type NotifyProjectRequest struct {
	// Type is the machine-readable notification kind.
	Type string `json:"type" binding:"required" example:"task_updated"`
	// Title is the short, rendered headline.
	Title string `json:"title" binding:"required,max=255"`
	// Message is the rendered body text.
	Message string `json:"message"`
	// Data optionally carries a JSON payload describing the triggering entity.
	Data json.RawMessage `json:"data,omitempty" swaggertype:"object"`
}

// CreateBulkResponse reports the persisted records of a fan-out.
type CreateBulkResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	Created       int                   `json:"created" example:"3"`
}

//
// Helpers
//

// producerScope names the idempotency scope for an internal producer route.
// The full route path keeps single, bulk, and project keys from colliding.
func producerScope(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

// callerID identifies the producing caller for idempotency records. Internal
// callers authenticate with the shared key, not a bearer token, so the
// recipient (or project) anchors the tuple instead.
func callerID(c *gin.Context, anchor string) string {
	if uid := userID(c); uid != "demo-user" {
		return uid
	}
	return anchor
}

// replayNotification serves a previously recorded result for (caller, scope,
// key), when one exists. Returns true when the response has been written.
func (h *Handlers) replayNotification(c *gin.Context, db *gorm.DB, caller, scope, key string) bool {
	if key == "" || db == nil {
		return false
	}
	rec, err := repo.GetIdempotency(c.Request.Context(), db, caller, scope, key, time.Now().UTC())
	if err != nil || rec == nil {
		return false
	}
	prev, err := repo.GetNotificationByID(c.Request.Context(), db, rec.NotificationID)
	if err != nil {
		return false
	}
	c.Header("Idempotency-Replayed", "true")
	ok(c, rec.Status, prev)
	return true
}

// recordIdempotency persists the idempotency receipt after a successful
// create. Best effort: a failed insert only means a retry will re-create.
func (h *Handlers) recordIdempotency(c *gin.Context, db *gorm.DB, caller, scope, key, notificationID string, status int) {
	if key == "" || db == nil {
		return
	}
	_, _ = repo.CreateIdempotency(c.Request.Context(), db, caller, scope, key, notificationID, status, h.idemTTL)
}

//
// Handlers
//

// CreateNotification godoc
// @ID          createNotification
// @Summary     Create a notification (internal)
// @Description Persists one notification and pushes it to the recipient's live connections.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Internal
// @Accept      json
// @Produce     json
//
// @Param       X-Internal-Key   header  string  true  "Internal service key"
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"
// @Param       body             body    handlers.CreateNotificationRequest  true  "Notification payload"
//
// @Success     201  {object}  domain.Notification
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or bad internal key"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /internal/notifications [post]
func (h *Handlers) CreateNotification(c *gin.Context) {
	var req CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id, type and title are required")
		return
	}

	db := h.serviceDB()
	scope := producerScope(c)
	caller := callerID(c, req.UserID)
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if h.replayNotification(c, db, caller, scope, idemKey) {
		return
	}

	n, err := h.ntfSvc.Create(c.Request.Context(), req.UserID, req.Type, req.Title, req.Message, req.Data)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyUserID),
			errors.Is(err, services.ErrEmptyType),
			errors.Is(err, services.ErrEmptyTitle):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeNotifyFailed, err.Error())
		}
		return
	}

	h.recordIdempotency(c, db, caller, scope, idemKey, n.ID, http.StatusCreated)
	ok(c, http.StatusCreated, n)
}

// CreateNotificationsBulk godoc
// @ID          createNotificationsBulk
// @Summary     Create notifications for a recipient list (internal)
// @Description Persists one notification per distinct recipient in a single batch, then pushes to each recipient's live connections.
// @Tags        Internal
// @Accept      json
// @Produce     json
//
// @Param       X-Internal-Key   header  string  true  "Internal service key"
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       body             body    handlers.CreateBulkRequest  true  "Bulk payload"
//
// @Success     201  {object}  handlers.CreateBulkResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or bad internal key"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /internal/notifications/bulk [post]
func (h *Handlers) CreateNotificationsBulk(c *gin.Context) {
	var req CreateBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_ids, type and title are required")
		return
	}

	db := h.serviceDB()
	scope := producerScope(c)
	anchor := ""
	if len(req.UserIDs) > 0 {
		anchor = strings.TrimSpace(req.UserIDs[0])
	}
	caller := callerID(c, anchor)
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if h.replayNotification(c, db, caller, scope, idemKey) {
		return
	}

	rows, err := h.ntfSvc.CreateBulk(c.Request.Context(), req.UserIDs, req.Type, req.Title, req.Message, req.Data)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNoRecipients),
			errors.Is(err, services.ErrEmptyType),
			errors.Is(err, services.ErrEmptyTitle):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeNotifyFailed, err.Error())
		}
		return
	}

	if len(rows) > 0 {
		h.recordIdempotency(c, db, caller, scope, idemKey, rows[0].ID, http.StatusCreated)
	}
	ok(c, http.StatusCreated, CreateBulkResponse{Notifications: rows, Created: len(rows)})
}

// NotifyProject godoc
// @ID          notifyProject
// @Summary     Notify a project's members (internal)
// @Description Resolves the project's owner and members server-side and persists one notification per recipient.
// @Tags        Internal
// @Accept      json
// @Produce     json
//
// @Param       X-Internal-Key   header  string  true  "Internal service key"
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       id               path    string  true  "Project ID (UUID)"  format(uuid)
// @Param       body             body    handlers.NotifyProjectRequest  true  "Fan-out payload"
//
// @Success     201  {object}  handlers.CreateBulkResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or bad internal key"
// @Failure     404  {object}  handlers.ErrorResponse  "Project not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /internal/projects/{id}/notify [post]
func (h *Handlers) NotifyProject(c *gin.Context) {
	projectID := c.Param("id")
	if _, err := uuid.Parse(projectID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "project id must be a UUID")
		return
	}

	var req NotifyProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "type and title are required")
		return
	}

	db := h.serviceDB()
	scope := producerScope(c)
	caller := callerID(c, projectID)
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if h.replayNotification(c, db, caller, scope, idemKey) {
		return
	}

	rows, err := h.ntfSvc.CreateForProject(c.Request.Context(), projectID, req.Type, req.Title, req.Message, req.Data)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrProjectNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "project not found")
		case errors.Is(err, services.ErrNoRecipients),
			errors.Is(err, services.ErrEmptyType),
			errors.Is(err, services.ErrEmptyTitle):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeNotifyFailed, err.Error())
		}
		return
	}

	if len(rows) > 0 {
		h.recordIdempotency(c, db, caller, scope, idemKey, rows[0].ID, http.StatusCreated)
	}
	ok(c, http.StatusCreated, CreateBulkResponse{Notifications: rows, Created: len(rows)})
}
