// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the authorization-side queries for
// projects: ownership/membership checks used by the room gateway, and the
// recipient expansion used for project-wide notification fan-out.
//
// Error semantics:
//   - IsProjectOwnerOrMember reports (false, nil) for unknown projects,
//     deliberately indistinguishable from "not authorized".
//   - ListProjectRecipients returns ErrNotFound for unknown projects since
//     its callers already hold an authorization decision.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-collab-backend/internal/domain"
)

// IsProjectOwnerOrMember reports whether userID owns projectID or appears in
// its membership table. Unknown projects simply report false.
func IsProjectOwnerOrMember(ctx context.Context, db *gorm.DB, userID, projectID string) (bool, error) {
	var owned int64
	err := db.WithContext(ctx).
		Model(&domain.Project{}).
		Where("id = ? AND owner_id = ?", projectID, userID).
		Count(&owned).Error
	if err != nil {
		return false, err
	}
	if owned > 0 {
		return true, nil
	}

	var member int64
	err = db.WithContext(ctx).
		Model(&domain.ProjectMember{}).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Count(&member).Error
	if err != nil {
		return false, err
	}
	return member > 0, nil
}

// ListProjectRecipients returns the owner plus every member of projectID,
// deduplicated with the owner first, member order by insertion time. Returns
// ErrNotFound when the project does not exist.
func ListProjectRecipients(ctx context.Context, db *gorm.DB, projectID string) ([]string, error) {
	var p domain.Project
	err := db.WithContext(ctx).
		Select("id", "owner_id").
		Where("id = ?", projectID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var memberIDs []string
	err = db.WithContext(ctx).
		Model(&domain.ProjectMember{}).
		Where("project_id = ?", projectID).
		Order("created_at ASC, id ASC").
		Pluck("user_id", &memberIDs).Error
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(memberIDs)+1)
	seen := map[string]struct{}{p.OwnerID: {}}
	out = append(out, p.OwnerID)
	for _, id := range memberIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
