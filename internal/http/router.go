// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting, and it is where the
// realtime gateway meets the HTTP edge.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-collab-backend/internal/auth"
	"github.com/tbourn/go-collab-backend/internal/config"
	"github.com/tbourn/go-collab-backend/internal/domain"
	"github.com/tbourn/go-collab-backend/internal/http/handlers"
	"github.com/tbourn/go-collab-backend/internal/http/middleware"
	"github.com/tbourn/go-collab-backend/internal/realtime"
	"github.com/tbourn/go-collab-backend/internal/repo"
	"github.com/tbourn/go-collab-backend/internal/services"
)

// notificationRepoShim adapts the repository free functions to the
// services.NotificationRepo interface expected by the NotificationService.
// This keeps services decoupled from the concrete repo package while reusing
// existing functions.
type notificationRepoShim struct{}

// CreateNotification proxies repo.CreateNotification.
func (notificationRepoShim) CreateNotification(ctx context.Context, db *gorm.DB, userID, typ, title, message string, data json.RawMessage) (*domain.Notification, error) {
	return repo.CreateNotification(ctx, db, userID, typ, title, message, data)
}

// CreateNotifications proxies repo.CreateNotifications (bulk fan-out).
func (notificationRepoShim) CreateNotifications(ctx context.Context, db *gorm.DB, userIDs []string, typ, title, message string, data json.RawMessage) ([]domain.Notification, error) {
	return repo.CreateNotifications(ctx, db, userIDs, typ, title, message, data)
}

// ListNotificationsPage proxies repo.ListNotificationsPage.
func (notificationRepoShim) ListNotificationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Notification, error) {
	return repo.ListNotificationsPage(ctx, db, userID, offset, limit)
}

// CountNotifications proxies repo.CountNotifications (pagination support).
func (notificationRepoShim) CountNotifications(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountNotifications(ctx, db, userID)
}

// CountUnreadNotifications proxies repo.CountUnreadNotifications.
func (notificationRepoShim) CountUnreadNotifications(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountUnreadNotifications(ctx, db, userID)
}

// MarkNotificationRead proxies repo.MarkNotificationRead.
func (notificationRepoShim) MarkNotificationRead(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Notification, error) {
	return repo.MarkNotificationRead(ctx, db, id, userID)
}

// MarkAllNotificationsRead proxies repo.MarkAllNotificationsRead.
func (notificationRepoShim) MarkAllNotificationsRead(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.MarkAllNotificationsRead(ctx, db, userID)
}

// DeleteNotification proxies repo.DeleteNotification.
func (notificationRepoShim) DeleteNotification(ctx context.Context, db *gorm.DB, id, userID string) error {
	return repo.DeleteNotification(ctx, db, id, userID)
}

// ListProjectRecipients proxies repo.ListProjectRecipients.
func (notificationRepoShim) ListProjectRecipients(ctx context.Context, db *gorm.DB, projectID string) ([]string, error) {
	return repo.ListProjectRecipients(ctx, db, projectID)
}

// projectAuthzShim adapts the membership query to the gateway's
// ProjectAuthorizer interface.
type projectAuthzShim struct{ db *gorm.DB }

// IsProjectOwnerOrMember proxies repo.IsProjectOwnerOrMember.
func (s projectAuthzShim) IsProjectOwnerOrMember(ctx context.Context, userID, projectID string) (bool, error) {
	return repo.IsProjectOwnerOrMember(ctx, s.db, userID, projectID)
}

// taskDirShim adapts the task→project lookup to the gateway's TaskDirectory
// interface.
type taskDirShim struct{ db *gorm.DB }

// ProjectOf proxies repo.TaskProject.
func (s taskDirShim) ProjectOf(ctx context.Context, taskID string) (string, error) {
	return repo.TaskProject(ctx, s.db, taskID)
}

// BuildGateway assembles the realtime stack for one process: the in-memory
// connection registry, the fan-out dispatcher on top of it, and the gateway
// that authenticates connections with the configured credential resolver and
// authorizes project rooms against the database.
func BuildGateway(db *gorm.DB, cfg config.Config) (*realtime.Gateway, *realtime.Dispatcher) {
	reg := realtime.NewRegistry()
	disp := realtime.NewDispatcher(reg)
	resolver := auth.NewResolver(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience, cfg.Auth.DevToken)
	gw := realtime.NewGateway(resolver, reg, disp, projectAuthzShim{db: db}, taskDirShim{db: db})
	return gw, disp
}

// NewNotificationService constructs the persist-then-push notification
// service on the shared DB handle. dispatch may be nil for producer-only
// deployments (records persist without a live push).
func NewNotificationService(db *gorm.DB, dispatch *realtime.Dispatcher) *services.NotificationService {
	if dispatch == nil {
		return services.NewNotificationService(db, notificationRepoShim{}, nil)
	}
	return services.NewNotificationService(db, notificationRepoShim{}, dispatch)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the WebSocket endpoint, the versioned public API, and the internal
// producer API.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per user/IP, bypass on replay)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, gw *realtime.Gateway, ntfSvc *services.NotificationService, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			middleware.HeaderInternalKey, // shared producer secret
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 8) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey, middleware.HeaderInternalKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey, middleware.HeaderInternalKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (off by default; enable via SWAGGER_ENABLED)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: handlers ← services ← repo/db
	h := handlers.NewWithTTL(ntfSvc, cfg.IdempotencyTTL)
	resolver := auth.NewResolver(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience, cfg.Auth.DevToken)

	// Live connections: the gateway runs the same resolver during the
	// handshake, so no Authenticate middleware here.
	ws := handlers.NewWS(gw, cfg.CORS.AllowedOrigins)
	r.GET("/ws", ws.Connect)

	// Public API (bearer-authenticated)
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	api.Use(middleware.Authenticate(resolver))
	{
		// Notification query surface
		api.GET("/notifications", h.ListNotifications)
		api.GET("/notifications/stats", h.NotificationStats)
		api.GET("/notifications/unread-count", h.UnreadCount)
		api.PUT("/notifications/read-all", h.MarkAllRead)
		api.PUT("/notifications/:id/read", h.MarkRead)
		api.DELETE("/notifications/:id", h.DeleteNotification)
	}

	// Internal producer API (shared-key gated; CRUD layer → notifications).
	// Shares the API base with the public surface but not its bearer auth.
	internal := groupWithPrefix(r, apiBase).Group("/internal")
	internal.Use(middleware.RequireInternalKey(cfg.InternalAPIKey))
	{
		internal.POST("/notifications", h.CreateNotification)
		internal.POST("/notifications/bulk", h.CreateNotificationsBulk)
		internal.POST("/projects/:id/notify", h.NotifyProject)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
