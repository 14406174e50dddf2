// Package services – NotificationService
//
// This file implements the NotificationService, the write and query surface
// for durable notifications. Every create persists first and pushes to live
// WebSocket connections second: a persistence failure aborts the operation,
// while a failed or impossible live delivery (recipient offline, slow socket)
// is soft. The stored row is the source of truth; the push is an accelerant.
//
// Bulk creates collapse duplicate recipients so each distinct user receives
// exactly one record, and project fan-outs resolve the recipient set (owner
// plus members) through the repository before delegating to the bulk path.
//
// Service-level errors (e.g., ErrNotificationNotFound) are returned for
// predictable cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-collab-backend/internal/domain"
	"github.com/tbourn/go-collab-backend/internal/realtime"
)

// NotificationRepo defines the repository contract required by
// NotificationService. Implementations are responsible for persistence of
// notification records and recipient resolution.
type NotificationRepo interface {
	// CreateNotification inserts a single notification row for userID.
	CreateNotification(ctx context.Context, db *gorm.DB, userID, typ, title, message string, data json.RawMessage) (*domain.Notification, error)

	// CreateNotifications inserts one row per recipient in a single batch.
	CreateNotifications(ctx context.Context, db *gorm.DB, userIDs []string, typ, title, message string, data json.RawMessage) ([]domain.Notification, error)

	// ListNotificationsPage returns a page of the user's notifications, newest first.
	ListNotificationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Notification, error)

	// CountNotifications returns the total number of notifications for pagination.
	CountNotifications(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// CountUnreadNotifications returns the user's unread total (badge count).
	CountUnreadNotifications(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// MarkNotificationRead sets read=true on one record owned by userID.
	MarkNotificationRead(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Notification, error)

	// MarkAllNotificationsRead marks every unread record owned by userID.
	MarkAllNotificationsRead(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// DeleteNotification removes one record owned by userID.
	DeleteNotification(ctx context.Context, db *gorm.DB, id, userID string) error

	// ListProjectRecipients resolves a project's owner and member user ids.
	ListProjectRecipients(ctx context.Context, db *gorm.DB, projectID string) ([]string, error)
}

// NotificationDispatcher pushes events to a user's live connections.
// The returned outcome reports reach; it never carries an error because
// live delivery is best effort by contract.
type NotificationDispatcher interface {
	// DeliverToUser fans ev out to every connection in the user's room.
	DeliverToUser(userID string, ev realtime.Event) realtime.DeliveryOutcome
}

// NotificationService provides notification-level operations: creating
// (single, bulk, per-project), the read/unread lifecycle, and paginated
// queries. All reads and mutations are scoped to the owning user.
type NotificationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the notification repository used by this service.
	Repo NotificationRepo
	// Dispatch pushes persisted records to live connections. May be nil
	// (e.g., in producer-only deployments); creates then persist without a push.
	Dispatch NotificationDispatcher
}

// NewNotificationService constructs a NotificationService bound to the given
// DB handle, repository, and live dispatcher.
func NewNotificationService(db *gorm.DB, r NotificationRepo, d NotificationDispatcher) *NotificationService {
	return &NotificationService{DB: db, Repo: r, Dispatch: d}
}

// Create persists a single notification for userID and then pushes it to the
// user's live connections. A persistence failure aborts the operation and no
// push is attempted. Zero live reach after a successful persist is not an
// error; the record is waiting in the store.
func (s *NotificationService) Create(ctx context.Context, userID, typ, title, message string, data json.RawMessage) (*domain.Notification, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("notification.type", typ),
		))
	defer span.End()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return nil, ErrEmptyType
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}

	n, err := s.Repo.CreateNotification(ctx, s.DB, userID, typ, title, message, data)
	if err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}
	s.push(*n)
	return n, nil
}

// CreateBulk persists one notification per distinct recipient in a single
// batch insert, then pushes to each recipient's live connections. Blank and
// duplicate entries in userIDs are dropped (first occurrence wins); when
// nothing remains it returns ErrNoRecipients. The recipient set is exactly
// the caller's list; no fan-out beyond it.
func (s *NotificationService) CreateBulk(ctx context.Context, userIDs []string, typ, title, message string, data json.RawMessage) ([]domain.Notification, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "CreateBulk",
		trace.WithAttributes(
			attribute.Int("recipients.count", len(userIDs)),
			attribute.String("notification.type", typ),
		))
	defer span.End()

	typ = strings.TrimSpace(typ)
	if typ == "" {
		return nil, ErrEmptyType
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	recipients := dedupeUserIDs(userIDs)
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	rows, err := s.Repo.CreateNotifications(ctx, s.DB, recipients, typ, title, message, data)
	if err != nil {
		return nil, fmt.Errorf("persist notifications: %w", err)
	}
	for i := range rows {
		s.push(rows[i])
	}
	return rows, nil
}

// CreateForProject resolves the project's recipient set (owner plus members,
// deduplicated) and delegates to CreateBulk. An unknown project yields
// ErrProjectNotFound.
func (s *NotificationService) CreateForProject(ctx context.Context, projectID, typ, title, message string, data json.RawMessage) ([]domain.Notification, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "CreateForProject",
		trace.WithAttributes(
			attribute.String("project.id", projectID),
			attribute.String("notification.type", typ),
		))
	defer span.End()

	recipients, err := s.Repo.ListProjectRecipients(ctx, s.DB, projectID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("resolve project recipients: %w", err)
	}
	return s.CreateBulk(ctx, recipients, typ, title, message, data)
}

// List returns a page of the user's notifications (newest first) and the
// total count. It applies defaults for invalid page/pageSize.
func (s *NotificationService) List(ctx context.Context, userID string, page, pageSize int) ([]domain.Notification, int64, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountNotifications(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Notification{}, 0, nil
	}

	items, err := s.Repo.ListNotificationsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// UnreadCount returns the number of unread notifications owned by userID.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.Repo.CountUnreadNotifications(ctx, s.DB, userID)
}

// MarkRead marks one notification read, scoped to the owning user. A miss
// (unknown id or someone else's record) yields ErrNotificationNotFound; an
// already-read record is returned unchanged, so retries are harmless.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) (*domain.Notification, error) {
	n, err := s.Repo.MarkNotificationRead(ctx, s.DB, id, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	return n, nil
}

// MarkAllRead marks every unread notification owned by userID as read and
// returns the number of records updated. Zero updates is not an error.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.Repo.MarkAllNotificationsRead(ctx, s.DB, userID)
}

// Delete removes one notification, scoped to the owning user. A miss yields
// ErrNotificationNotFound.
func (s *NotificationService) Delete(ctx context.Context, userID, id string) error {
	err := s.Repo.DeleteNotification(ctx, s.DB, id, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotificationNotFound
	}
	return err
}

// push fans a persisted record out to the owner's live connections. Best
// effort: encode failures are logged and dropped frames are accounted for by
// the dispatcher. Nothing here can fail the surrounding create.
func (s *NotificationService) push(n domain.Notification) {
	if s.Dispatch == nil {
		return
	}
	ev, err := realtime.NewEvent(realtime.EventNotification, realtime.NotificationPayload{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		UserID:    n.UserID,
		Data:      n.Data,
		Timestamp: n.CreatedAt,
	})
	if err != nil {
		log.Error().Err(err).Str("notification_id", n.ID).Msg("encode notification event")
		return
	}
	s.Dispatch.DeliverToUser(n.UserID, ev)
}

// dedupeUserIDs trims entries and collapses duplicates, preserving first-seen
// order. Blank entries are dropped.
func dedupeUserIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
