// Package digest – per-user digest generation
//
// This file implements the Generator, which executes one user's slice of a
// scheduled firing: gather the user's open tasks and today's meetings, run
// the trigger evaluator, push urgent candidates through the notification
// store (durable record plus live event), and fold everything else into a
// single rendered e-mail. The e-mail leg is skipped, not failed, when no
// mailer is configured or the user has no address; the persisted urgent
// notifications never depend on it.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-collab-backend/internal/domain"
)

// upcomingWindow bounds the "upcoming deadlines" headline count in the
// digest body: deadlines after today but within this horizon.
const upcomingWindow = 7 * 24 * time.Hour

// WorkloadRepo defines the reads a digest run performs.
type WorkloadRepo interface {
	// ListOpenTasksForUser returns the user's not-done tasks.
	ListOpenTasksForUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Task, error)

	// ListMeetingsForUserBetween returns the user's meetings starting in [from, to).
	ListMeetingsForUserBetween(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) ([]domain.Meeting, error)
}

// Notifier persists an urgent candidate and pushes it to the recipient's
// live connections. Implemented by services.NotificationService.
type Notifier interface {
	Create(ctx context.Context, userID, typ, title, message string, data json.RawMessage) (*domain.Notification, error)
}

// Mailer delivers the rendered digest. Implemented by mail.SMTP.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Generator runs one user's digest evaluation and delivery.
type Generator struct {
	// DB is the GORM handle passed through to repository reads.
	DB *gorm.DB
	// Repo supplies the user's workload.
	Repo WorkloadRepo
	// Notify is the store for urgent candidates.
	Notify Notifier
	// Mail sends the non-urgent digest. May be nil; the e-mail leg is then skipped.
	Mail Mailer
}

// NewGenerator constructs a Generator. mailer may be nil when outbound
// e-mail is not configured.
func NewGenerator(db *gorm.DB, repo WorkloadRepo, notify Notifier, mailer Mailer) *Generator {
	return &Generator{DB: db, Repo: repo, Notify: notify, Mail: mailer}
}

// RunUser executes one user's digest at the reference time now. Read
// failures and a failed e-mail send are returned to the caller; a failed
// urgent persist is logged and the remaining candidates still run.
func (g *Generator) RunUser(ctx context.Context, user domain.User, now time.Time) error {
	tr := otel.Tracer("digest/Generator")
	ctx, span := tr.Start(ctx, "RunUser",
		trace.WithAttributes(attribute.String("user.id", user.ID)))
	defer span.End()

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	// The read window extends past midnight by the reminder lookahead so a
	// late sweep still sees a meeting starting early the next day.
	dayEnd := dayStart.AddDate(0, 0, 1).Add(meetingLookahead)

	tasks, err := g.Repo.ListOpenTasksForUser(ctx, g.DB, user.ID)
	if err != nil {
		return fmt.Errorf("read tasks: %w", err)
	}
	meetings, err := g.Repo.ListMeetingsForUserBetween(ctx, g.DB, user.ID, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("read meetings: %w", err)
	}

	candidates := Evaluate(tasks, meetings, now)
	if len(candidates) == 0 {
		return nil
	}

	var rest []Candidate
	for _, c := range candidates {
		if c.Priority != PriorityUrgent {
			rest = append(rest, c)
			continue
		}
		data, merr := json.Marshal(c.Payload)
		if merr != nil {
			data = nil
		}
		if _, cerr := g.Notify.Create(ctx, user.ID, c.Kind, c.Title, c.Message, data); cerr != nil {
			log.Error().Err(cerr).
				Str("user_id", user.ID).
				Str("kind", c.Kind).
				Msg("persist urgent alert")
		}
	}

	if len(rest) == 0 {
		return nil
	}
	if g.Mail == nil || user.Email == "" {
		log.Debug().Str("user_id", user.ID).Int("candidates", len(rest)).
			Msg("digest e-mail skipped: no mailer or address")
		return nil
	}

	subject, body := renderDigest(user, tasks, meetings, rest, now)
	if err := g.Mail.Send(ctx, user.Email, subject, body); err != nil {
		return fmt.Errorf("send digest mail: %w", err)
	}
	mailsSent.Inc()
	return nil
}

// workload aggregates the headline counts shown at the top of a digest.
type workload struct {
	DueToday      int
	MeetingsToday int
	Upcoming      int
	HighPriority  int
}

// summarize computes the digest headline counts from the raw workload.
// Upcoming counts deadlines after today but inside upcomingWindow.
func summarize(tasks []domain.Task, meetings []domain.Meeting, now time.Time) workload {
	var w workload
	for _, t := range tasks {
		if t.Status == domain.TaskStatusDone {
			continue
		}
		if t.Priority == domain.TaskPriorityHigh {
			w.HighPriority++
		}
		if t.Deadline == nil {
			continue
		}
		switch {
		case sameDay(*t.Deadline, now):
			w.DueToday++
		case t.Deadline.After(now) && t.Deadline.Sub(now) <= upcomingWindow:
			w.Upcoming++
		}
	}
	for _, m := range meetings {
		if sameDay(m.StartsAt, now) {
			w.MeetingsToday++
		}
	}
	return w
}

// renderDigest builds the e-mail subject and plain-text body for the
// non-urgent candidates: headline counts first, then candidates grouped by
// kind in first-seen order.
func renderDigest(user domain.User, tasks []domain.Task, meetings []domain.Meeting, rest []Candidate, now time.Time) (subject, body string) {
	w := summarize(tasks, meetings, now)

	if len(rest) == 1 {
		subject = "Your workspace digest: 1 item needs attention"
	} else {
		subject = fmt.Sprintf("Your workspace digest: %d items need attention", len(rest))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", user.Name)
	fmt.Fprintf(&b, "Here is your workload for %s:\n", now.Format("Monday, Jan 2"))
	fmt.Fprintf(&b, "  Tasks due today:        %d\n", w.DueToday)
	fmt.Fprintf(&b, "  Meetings today:         %d\n", w.MeetingsToday)
	fmt.Fprintf(&b, "  Upcoming deadlines:     %d\n", w.Upcoming)
	fmt.Fprintf(&b, "  High-priority open:     %d\n", w.HighPriority)

	for _, kind := range kindOrder(rest) {
		fmt.Fprintf(&b, "\n%s\n", heading(kind))
		for _, c := range rest {
			if c.Kind != kind {
				continue
			}
			fmt.Fprintf(&b, "  - %s\n", c.Message)
		}
	}
	b.WriteString("\nOpen the workspace to catch up.\n")
	return subject, b.String()
}

// kindOrder returns the distinct candidate kinds in first-seen order.
func kindOrder(cs []Candidate) []string {
	seen := make(map[string]struct{}, len(cs))
	var order []string
	for _, c := range cs {
		if _, ok := seen[c.Kind]; ok {
			continue
		}
		seen[c.Kind] = struct{}{}
		order = append(order, c.Kind)
	}
	return order
}

// heading renders a candidate kind as a section heading
// ("meeting_reminder" becomes "Meeting Reminder"). A fresh caser per call:
// cases.Caser is not safe for concurrent use and digests run in a pool.
func heading(kind string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(kind, "_", " "))
}
