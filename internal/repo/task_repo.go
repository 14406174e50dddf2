// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the task reads consumed by the trigger
// evaluator and the presence-event routing in the room gateway.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-collab-backend/internal/domain"
)

// ListOpenTasksForUser returns every task assigned to userID that is not
// done, in deterministic order (CreatedAt ASC, ID ASC) so downstream digest
// output is reproducible.
func ListOpenTasksForUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Task, error) {
	var out []domain.Task
	err := db.WithContext(ctx).
		Where("assignee_id = ? AND status <> ?", userID, domain.TaskStatusDone).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// TaskProject returns the project ID a task belongs to, or ErrNotFound.
// Used to route typing/viewing presence events to the right project room.
func TaskProject(ctx context.Context, db *gorm.DB, taskID string) (string, error) {
	var t domain.Task
	err := db.WithContext(ctx).
		Select("id", "project_id").
		Where("id = ?", taskID).
		First(&t).Error
	if err != nil {
		return "", err
	}
	return t.ProjectID, nil
}
