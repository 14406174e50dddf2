// Package services defines the business logic for the notification engine.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Notification-related errors.
var (
	// ErrNotificationNotFound indicates that the requested notification does
	// not exist or is not accessible to the current user.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrProjectNotFound indicates that the project targeted by a fan-out does
	// not exist.
	ErrProjectNotFound = errors.New("project not found")

	// ErrEmptyUserID is returned when a notification is created without a
	// recipient user id.
	ErrEmptyUserID = errors.New("user id is empty")

	// ErrEmptyType is returned when a notification is created without a type.
	ErrEmptyType = errors.New("notification type is empty")

	// ErrEmptyTitle is returned when a notification is created without a title.
	ErrEmptyTitle = errors.New("notification title is empty")

	// ErrNoRecipients is returned when a bulk create resolves to zero distinct
	// recipients after blank and duplicate entries are dropped.
	ErrNoRecipients = errors.New("no recipients")
)
