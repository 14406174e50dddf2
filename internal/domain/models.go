// Package domain defines the persistence models for users, projects, tasks,
// meetings, and notifications. These types are mapped with GORM and form the
// core data layer of the collaboration backend.
package domain

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Task lifecycle states, enforced by a DB check constraint.
const (
	TaskStatusTodo       = "todo"
	TaskStatusInProgress = "in_progress"
	TaskStatusDone       = "done"
)

// Task priority levels.
const (
	TaskPriorityLow    = "low"
	TaskPriorityMedium = "medium"
	TaskPriorityHigh   = "high"
)

// User represents an account that can own projects, be assigned tasks, and
// receive notifications. Accounts with NotificationsEnabled are the
// population the scheduled digest jobs iterate over.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Name: display name shown in presence events.
//   - Email: digest delivery address (may be empty; digests are skipped).
//   - NotificationsEnabled: opt-in flag for digests and alert fan-out. The
//     field is a pointer so that an explicit false survives the insert; with
//     a plain bool GORM drops the zero value in favor of the column default.
//     nil means "not set" and the column default (true) applies.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type User struct {
	ID                   string    `json:"id"    gorm:"type:char(36);primaryKey"`
	Name                 string    `json:"name"  gorm:"type:varchar(128);not null"`
	Email                string    `json:"email" gorm:"type:varchar(255);index"`
	NotificationsEnabled *bool     `json:"notifications_enabled" gorm:"not null;default:true;index"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// NotificationsOn reports whether the user receives digests and alert
// fan-out. An unset flag counts as enabled, matching the column default.
func (u User) NotificationsOn() bool {
	return u.NotificationsEnabled == nil || *u.NotificationsEnabled
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Project represents a collaboration space. The owner and every member row
// in project_members are authorized to join the project's broadcast room.
type Project struct {
	ID        string         `json:"id"       gorm:"type:char(36);primaryKey"`
	Name      string         `json:"name"     gorm:"type:varchar(255);not null"`
	OwnerID   string         `json:"owner_id" gorm:"type:char(36);not null;index"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"        gorm:"index"`
}

// TableName returns the database table name for Project.
func (Project) TableName() string { return "projects" }

// ProjectMember links a user to a project. One row per (project, user),
// enforced by a unique index.
type ProjectMember struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	ProjectID string    `json:"project_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_project_user"`
	UserID    string    `json:"user_id"    gorm:"type:char(36);not null;index;uniqueIndex:ux_project_user"`
	CreatedAt time.Time `json:"created_at"`

	// Project association ensures membership rows disappear with the project.
	Project Project `json:"-" gorm:"foreignKey:ProjectID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ProjectMember.
func (ProjectMember) TableName() string { return "project_members" }

// Task represents a unit of work inside a project. The trigger evaluator
// reads the assignee's open tasks to detect overdue and stale work.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ProjectID: owning project (indexed; used to route presence events).
//   - AssigneeID: user responsible for the task (indexed).
//   - Status: todo | in_progress | done (enforced by DB constraint).
//   - Priority: low | medium | high.
//   - Deadline: optional due timestamp; nil means no deadline tracking.
type Task struct {
	ID         string         `json:"id"          gorm:"type:char(36);primaryKey"`
	ProjectID  string         `json:"project_id"  gorm:"type:char(36);not null;index"`
	AssigneeID string         `json:"assignee_id" gorm:"type:char(36);index:idx_assignee_status"`
	Title      string         `json:"title"       gorm:"type:varchar(255);not null"`
	Status     string         `json:"status"      gorm:"type:varchar(16);not null;default:'todo';index:idx_assignee_status;check:status IN ('todo','in_progress','done')"`
	Priority   string         `json:"priority"    gorm:"type:varchar(8);not null;default:'medium';check:priority IN ('low','medium','high')"`
	Deadline   *time.Time     `json:"deadline,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Task.
func (Task) TableName() string { return "tasks" }

// Meeting represents a scheduled event with a concrete time range.
// Overlapping ranges for the same attendee produce schedule-conflict alerts.
type Meeting struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	Title     string    `json:"title"     gorm:"type:varchar(255);not null"`
	StartsAt  time.Time `json:"starts_at" gorm:"not null;index"`
	EndsAt    time.Time `json:"ends_at"   gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Meeting.
func (Meeting) TableName() string { return "meetings" }

// MeetingAttendee links a user to a meeting. One row per (meeting, user).
type MeetingAttendee struct {
	ID        string `json:"id"         gorm:"type:char(36);primaryKey"`
	MeetingID string `json:"meeting_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_meeting_user"`
	UserID    string `json:"user_id"    gorm:"type:char(36);not null;index;uniqueIndex:ux_meeting_user"`

	Meeting Meeting `json:"-" gorm:"foreignKey:MeetingID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for MeetingAttendee.
func (MeetingAttendee) TableName() string { return "meeting_attendees" }

// Notification represents one durable notification record for one recipient.
// Bulk fan-out creates one row per recipient; there is no shared broadcast
// row. Rows are mutated only by read-state toggling and removed only by an
// explicit user delete.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID: recipient (indexed; every query is scoped by it).
//   - Type: machine-readable kind ("overdue", "meeting_reminder", ...).
//   - Title / Message: rendered, human-readable content.
//   - Data: optional JSON payload describing the triggering entity.
//   - Read: read-state flag, false on creation.
//   - CreatedAt: insertion timestamp (newest-first list ordering).
//   - DeletedAt: soft deletion marker (user-initiated delete).
type Notification struct {
	ID        string          `json:"id"      gorm:"type:char(36);primaryKey"`
	UserID    string          `json:"user_id" gorm:"type:char(36);not null;index:idx_user_notifications"`
	Type      string          `json:"type"    gorm:"type:varchar(64);not null"`
	Title     string          `json:"title"   gorm:"type:varchar(255);not null"`
	Message   string          `json:"message" gorm:"type:text;not null"`
	Data      json.RawMessage `json:"data,omitempty" gorm:"type:text"`
	Read      bool            `json:"read"    gorm:"not null;default:false;index"`
	CreatedAt time.Time       `json:"created_at" gorm:"index:idx_user_notifications,sort:desc"`
	DeletedAt gorm.DeletedAt  `json:"-" gorm:"index"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }

// DigestState records when a scheduled digest job last fired. One row per
// job name. The scheduler compares the stored boundary against the current
// one, so a process restart neither skips nor double-fires a window.
type DigestState struct {
	Job         string    `gorm:"type:varchar(64);primaryKey"`
	LastFiredAt time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the database table name for DigestState.
func (DigestState) TableName() string { return "digest_state" }
