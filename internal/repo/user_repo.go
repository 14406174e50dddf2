// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the user enumeration consumed by the
// scheduled digest jobs.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-collab-backend/internal/domain"
)

// ListActiveUsers returns every user with notifications enabled, in
// deterministic order (CreatedAt ASC, ID ASC). This is the population the
// digest jobs iterate over.
func ListActiveUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Where("notifications_enabled = ?", true).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}
