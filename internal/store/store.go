package store

import (
	"context"

	"github.com/nhle/progresstrack/internal/model"
)

// Store defines the local persistence interface for the notification
// cache. The cache keeps the last known notification state readable
// across restarts and while the backend is unreachable; the backend
// remains the source of truth.
type Store interface {
	// UpsertNotifications inserts or replaces a batch of notifications
	// by id.
	UpsertNotifications(ctx context.Context, items []model.Notification) error

	// GetNotifications retrieves cached notifications ordered by
	// creation time descending. limit <= 0 returns everything.
	GetNotifications(ctx context.Context, limit int) ([]model.Notification, error)

	// GetUnreadCount returns the number of cached unread notifications.
	GetUnreadCount(ctx context.Context) (int, error)

	// MarkNotificationRead marks a single cached notification as read.
	MarkNotificationRead(ctx context.Context, id string) error

	// DeleteNotification removes a cached notification by id.
	DeleteNotification(ctx context.Context, id string) error

	// Clear removes all cached notifications.
	Clear(ctx context.Context) error
}
