// Package digest – job scheduling
//
// This file implements the Scheduler, which decides when the recurring
// digest jobs fire and drives the per-user fan-out. A one-minute ticker
// checks each job's schedule boundary against the persisted DigestState, so
// a process restart neither skips nor double-fires a window. Firing is
// at-most-once per boundary: the state row is marked before the run starts,
// and a crash mid-run forfeits the remainder of that window instead of
// repeating it on the next tick.
//
// Jobs:
//   - daily_digest: once per day at the configured hour.
//   - hourly_sweep: top of each hour inside the working window.
//
// Each firing enumerates digest-enabled users and runs them through a
// bounded worker pool with a per-user budget. Per-user failures are logged
// and never abort the batch; once the job deadline expires the remaining
// users are skipped until the next firing.
package digest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-collab-backend/internal/config"
	"github.com/tbourn/go-collab-backend/internal/domain"
)

// Job names persisted in digest_state.
const (
	JobDaily       = "daily_digest"
	JobHourlySweep = "hourly_sweep"
)

// tickInterval is how often job due-ness is evaluated.
const tickInterval = time.Minute

// ScheduleRepo defines the reads and writes the scheduler performs.
type ScheduleRepo interface {
	// ListActiveUsers returns every user with notifications enabled.
	ListActiveUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error)

	// GetDigestState returns the job's firing state, or gorm.ErrRecordNotFound.
	GetDigestState(ctx context.Context, db *gorm.DB, job string) (*domain.DigestState, error)

	// MarkDigestFired upserts the job's last-fired boundary.
	MarkDigestFired(ctx context.Context, db *gorm.DB, job string, firedAt time.Time) error
}

// UserRunner executes one user's digest. Implemented by Generator.
type UserRunner interface {
	RunUser(ctx context.Context, user domain.User, now time.Time) error
}

// Scheduler owns the recurring digest jobs for one process.
type Scheduler struct {
	// DB is the GORM handle passed through to repository calls.
	DB *gorm.DB
	// Repo supplies users and firing state.
	Repo ScheduleRepo
	// Runner executes a single user's digest.
	Runner UserRunner
	// Cfg carries the schedule hours, pool size, and budgets.
	Cfg config.DigestConfig

	// now is the clock; replaced in tests.
	now func() time.Time
}

// NewScheduler constructs a Scheduler. A non-positive MaxConcurrency falls
// back to 4 workers.
func NewScheduler(db *gorm.DB, repo ScheduleRepo, runner UserRunner, cfg config.DigestConfig) *Scheduler {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 4
	}
	return &Scheduler{DB: db, Repo: repo, Runner: runner, Cfg: cfg, now: time.Now}
}

// Start runs the scheduling loop until ctx is canceled. Due-ness is checked
// once immediately so a restart inside a window catches up, then on every
// tick. Due jobs run in their own goroutine and may overlap the loop and
// each other.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	log.Info().
		Int("daily_hour", s.Cfg.DailyHour).
		Int("work_start", s.Cfg.WorkStartHour).
		Int("work_end", s.Cfg.WorkEndHour).
		Int("max_concurrency", s.Cfg.MaxConcurrency).
		Msg("digest scheduler started")

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("digest scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires every due job. The state row is marked before the run starts
// so the boundary cannot fire twice; a mark failure skips this tick and the
// job is retried on the next one.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	for _, job := range []string{JobDaily, JobHourlySweep} {
		boundary, due := s.isDue(ctx, job, now)
		if !due {
			continue
		}
		if err := s.Repo.MarkDigestFired(ctx, s.DB, job, boundary); err != nil {
			log.Error().Err(err).Str("job", job).Msg("mark digest fired")
			continue
		}
		jobRuns.WithLabelValues(job).Inc()
		go s.runJob(ctx, job, now)
	}
}

// isDue reports whether job should fire now, returning the schedule
// boundary being claimed. A job is due when a boundary is active and the
// persisted state predates it; a missing state row means the job has never
// fired.
func (s *Scheduler) isDue(ctx context.Context, job string, now time.Time) (time.Time, bool) {
	boundary, ok := s.dueBoundary(job, now)
	if !ok {
		return time.Time{}, false
	}
	st, err := s.Repo.GetDigestState(ctx, s.DB, job)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return boundary, true
		}
		log.Error().Err(err).Str("job", job).Msg("read digest state")
		return time.Time{}, false
	}
	if st.LastFiredAt.Before(boundary) {
		return boundary, true
	}
	return time.Time{}, false
}

// dueBoundary returns the most recent schedule boundary for job at or
// before now. ok is false when no boundary applies: the hourly sweep
// outside its working window. Boundaries are evaluated in now's location.
func (s *Scheduler) dueBoundary(job string, now time.Time) (boundary time.Time, ok bool) {
	switch job {
	case JobDaily:
		b := time.Date(now.Year(), now.Month(), now.Day(), s.Cfg.DailyHour, 0, 0, 0, now.Location())
		if now.Before(b) {
			b = b.AddDate(0, 0, -1)
		}
		return b, true
	case JobHourlySweep:
		b := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
		if b.Hour() < s.Cfg.WorkStartHour || b.Hour() >= s.Cfg.WorkEndHour {
			return time.Time{}, false
		}
		return b, true
	}
	return time.Time{}, false
}

// runJob executes one firing: enumerate digest-enabled users and run each
// through the worker pool. Blocks until every started user finishes.
func (s *Scheduler) runJob(ctx context.Context, job string, now time.Time) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.Cfg.JobTimeout)
	defer cancel()

	users, err := s.Repo.ListActiveUsers(ctx, s.DB)
	if err != nil {
		log.Error().Err(err).Str("job", job).Msg("enumerate digest users")
		return
	}
	if len(users) == 0 {
		log.Debug().Str("job", job).Msg("no digest-enabled users")
		return
	}

	log.Info().Str("job", job).Int("users", len(users)).Msg("digest run started")

	sem := make(chan struct{}, s.Cfg.MaxConcurrency)
	var wg sync.WaitGroup
	var failed atomic.Int64

	for _, u := range users {
		if ctx.Err() != nil {
			log.Warn().Str("job", job).Msg("job deadline reached; remaining users skipped")
			break
		}
		wg.Add(1)
		sem <- struct{}{}

		go func(u domain.User) {
			defer wg.Done()
			defer func() { <-sem }()

			uctx, ucancel := context.WithTimeout(ctx, s.Cfg.UserTimeout)
			defer ucancel()
			if err := s.Runner.RunUser(uctx, u, now); err != nil {
				failed.Add(1)
				userFailures.WithLabelValues(job).Inc()
				log.Error().Err(err).
					Str("job", job).
					Str("user_id", u.ID).
					Msg("digest run failed for user")
			}
		}(u)
	}
	wg.Wait()

	log.Info().
		Str("job", job).
		Int("users", len(users)).
		Int64("failed", failed.Load()).
		Dur("took", time.Since(started)).
		Msg("digest run finished")
}
