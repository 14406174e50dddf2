// Command server runs the collaboration backend: the WebSocket gateway for
// live rooms, the notification REST API, the internal producer endpoints,
// and the in-process digest scheduler.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-collab-backend/docs"
	"github.com/tbourn/go-collab-backend/internal/config"
	"github.com/tbourn/go-collab-backend/internal/digest"
	"github.com/tbourn/go-collab-backend/internal/domain"
	httpapi "github.com/tbourn/go-collab-backend/internal/http"
	"github.com/tbourn/go-collab-backend/internal/mail"
	"github.com/tbourn/go-collab-backend/internal/observability"
	"github.com/tbourn/go-collab-backend/internal/repo"
	"github.com/tbourn/go-collab-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// digestScheduleRepo adapts repository free functions to digest.ScheduleRepo.
type digestScheduleRepo struct{}

func (digestScheduleRepo) ListActiveUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	return repo.ListActiveUsers(ctx, db)
}

func (digestScheduleRepo) GetDigestState(ctx context.Context, db *gorm.DB, job string) (*domain.DigestState, error) {
	return repo.GetDigestState(ctx, db, job)
}

func (digestScheduleRepo) MarkDigestFired(ctx context.Context, db *gorm.DB, job string, firedAt time.Time) error {
	return repo.MarkDigestFired(ctx, db, job, firedAt)
}

// digestWorkloadRepo adapts repository free functions to digest.WorkloadRepo.
type digestWorkloadRepo struct{}

func (digestWorkloadRepo) ListOpenTasksForUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Task, error) {
	return repo.ListOpenTasksForUser(ctx, db, userID)
}

func (digestWorkloadRepo) ListMeetingsForUserBetween(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) ([]domain.Meeting, error) {
	return repo.ListMeetingsForUserBetween(ctx, db, userID, from, to)
}

// @title           Collaboration Backend API
// @version         1.0
// @description     Real-time collaboration and notification delivery engine: WebSocket rooms, durable notifications with live push, and scheduled digests.
// @BasePath        /api/v1
//
// @securityDefinitions.apikey BearerAuth
// @in   header
// @name Authorization
// @securityDefinitions.apikey InternalKey
// @in   header
// @name X-Internal-Key
func main() {
	// Optional .env for local development; real deployments use the
	// environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.ConfigureLogging(cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	log.Info().
		Str("version", version).
		Str("env", cfg.AppEnv).
		Str("db_driver", cfg.DBDriver).
		Msg("starting collab backend")

	// Root context canceled on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing first so everything after it is instrumented.
	if cfg.OTEL.Enabled {
		shutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
		if err != nil {
			log.Fatal().Err(err).Msg("otel setup failed")
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				log.Warn().Err(err).Msg("otel shutdown")
			}
		}()
	}

	// Data store.
	db, err := repo.Open(cfg.DBDriver, cfg.DBPath, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Warn().Err(err).Msg("gorm tracing plugin")
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate schema")
	}

	// Realtime stack and the persist-then-push notification service.
	gw, dispatch := httpapi.BuildGateway(db, cfg)
	ntfSvc := httpapi.NewNotificationService(db, dispatch)

	// Digest scheduler: urgent alerts go through the notification service,
	// non-urgent summaries ride the e-mail channel when SMTP is configured.
	var mailer digest.Mailer
	if cfg.SMTP.Host != "" {
		mailer = mail.NewSender(cfg.SMTP)
	}
	gen := digest.NewGenerator(db, digestWorkloadRepo{}, ntfSvc, mailer)
	sched := digest.NewScheduler(db, digestScheduleRepo{}, gen, cfg.Digest)
	go sched.Start(ctx)

	// HTTP edge.
	docs.SwaggerInfo.Version = version
	docs.SwaggerInfo.BasePath = cfg.APIBasePath

	r := gin.New()
	// Compress API responses; the WebSocket upgrade and the Prometheus
	// scrape handler manage their own encoding.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws", "/metrics"})))
	httpapi.RegisterRoutes(r, db, gw, ntfSvc, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	// Grace period for in-flight requests; live connections are closed by
	// their own read loops when the listener goes away.
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
		os.Exit(1)
	}
	log.Info().Msg("bye")
}
