// Package digest – trigger evaluation
//
// This file implements the trigger/anomaly evaluator: a pure function that
// turns a user's current tasks and meetings into a prioritized list of
// candidate notifications. Rules are evaluated independently and every match
// is emitted; there is no early exit and no hidden randomness, so the output
// is reproducible for identical inputs and reference time. The scheduler and
// network layers are deliberately absent here.
package digest

import (
	"fmt"
	"time"

	"github.com/tbourn/go-collab-backend/internal/domain"
)

// Candidate priorities in ascending urgency. Urgent candidates are pushed
// through the notification store immediately; the rest ride the e-mail
// digest.
const (
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Candidate kinds, doubling as the persisted notification type.
const (
	KindOverdue          = "overdue"
	KindMeetingReminder  = "meeting_reminder"
	KindStaleTask        = "stale_task"
	KindScheduleConflict = "schedule_conflict"
)

// meetingLookahead is how far ahead of the reference time a meeting start
// produces a reminder. The window is half-open: (now, now+lookahead].
const meetingLookahead = 30 * time.Minute

// Candidate is a potential notification produced by Evaluate before it is
// persisted or dispatched. Payload carries the typed description of the
// triggering entity and is serialized into the notification data blob.
type Candidate struct {
	Kind     string
	Priority string
	Title    string
	Message  string
	Payload  any
}

// OverduePayload describes a task whose deadline has passed.
type OverduePayload struct {
	TaskID    string    `json:"task_id"`
	ProjectID string    `json:"project_id"`
	Deadline  time.Time `json:"deadline"`
}

// MeetingReminderPayload describes a meeting starting inside the lookahead
// window.
type MeetingReminderPayload struct {
	MeetingID string    `json:"meeting_id"`
	StartsAt  time.Time `json:"starts_at"`
}

// StaleTaskPayload describes a task due today with no recorded progress.
type StaleTaskPayload struct {
	TaskID    string    `json:"task_id"`
	ProjectID string    `json:"project_id"`
	Deadline  time.Time `json:"deadline"`
}

// ScheduleConflictPayload describes one overlapping meeting pair.
type ScheduleConflictPayload struct {
	MeetingID      string    `json:"meeting_id"`
	OtherMeetingID string    `json:"other_meeting_id"`
	StartsAt       time.Time `json:"starts_at"`
	OtherStartsAt  time.Time `json:"other_starts_at"`
}

// Evaluate derives candidate notifications from a user's tasks and meetings
// at the reference time now. All matching rules emit; a task due earlier
// today with no progress yields both an overdue and a stale_task candidate.
// Output order is rule order (overdue, meeting reminders, stale tasks,
// schedule conflicts), then input order within each rule.
func Evaluate(tasks []domain.Task, meetings []domain.Meeting, now time.Time) []Candidate {
	var out []Candidate

	// Overdue: past deadline and not done.
	for _, t := range tasks {
		if t.Deadline == nil || t.Status == domain.TaskStatusDone {
			continue
		}
		if t.Deadline.Before(now) {
			out = append(out, Candidate{
				Kind:     KindOverdue,
				Priority: PriorityUrgent,
				Title:    "Task overdue: " + t.Title,
				Message:  fmt.Sprintf("%q was due %s.", t.Title, t.Deadline.Format("Jan 2 at 15:04")),
				Payload:  OverduePayload{TaskID: t.ID, ProjectID: t.ProjectID, Deadline: *t.Deadline},
			})
		}
	}

	// Meeting reminders: start strictly in the future, within the lookahead.
	for _, m := range meetings {
		until := m.StartsAt.Sub(now)
		if until > 0 && until <= meetingLookahead {
			out = append(out, Candidate{
				Kind:     KindMeetingReminder,
				Priority: PriorityHigh,
				Title:    "Meeting soon: " + m.Title,
				Message:  fmt.Sprintf("%q starts at %s.", m.Title, m.StartsAt.Format("15:04")),
				Payload:  MeetingReminderPayload{MeetingID: m.ID, StartsAt: m.StartsAt},
			})
		}
	}

	// Stale tasks: due today and still sitting in the backlog.
	for _, t := range tasks {
		if t.Deadline == nil || t.Status != domain.TaskStatusTodo {
			continue
		}
		if sameDay(*t.Deadline, now) {
			out = append(out, Candidate{
				Kind:     KindStaleTask,
				Priority: PriorityMedium,
				Title:    "Due today: " + t.Title,
				Message:  fmt.Sprintf("%q is due today and has not been started.", t.Title),
				Payload:  StaleTaskPayload{TaskID: t.ID, ProjectID: t.ProjectID, Deadline: *t.Deadline},
			})
		}
	}

	// Schedule conflicts: every overlapping pair, each reported once (i < j).
	for i := 0; i < len(meetings); i++ {
		for j := i + 1; j < len(meetings); j++ {
			a, b := meetings[i], meetings[j]
			if a.StartsAt.Before(b.EndsAt) && b.StartsAt.Before(a.EndsAt) {
				out = append(out, Candidate{
					Kind:     KindScheduleConflict,
					Priority: PriorityHigh,
					Title:    "Schedule conflict",
					Message:  fmt.Sprintf("%q overlaps %q.", a.Title, b.Title),
					Payload: ScheduleConflictPayload{
						MeetingID:      a.ID,
						OtherMeetingID: b.ID,
						StartsAt:       a.StartsAt,
						OtherStartsAt:  b.StartsAt,
					},
				})
			}
		}
	}

	return out
}

// sameDay reports whether a falls on the same calendar day as ref, evaluated
// in ref's location.
func sameDay(a, ref time.Time) bool {
	ay, am, ad := a.In(ref.Location()).Date()
	ry, rm, rd := ref.Date()
	return ay == ry && am == rm && ad == rd
}
