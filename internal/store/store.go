package store

import (
	"context"

	"github.com/nhle/heritage-client/internal/model"
)

// NotificationFilter controls filtering and pagination for cached feed
// queries.
type NotificationFilter struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

// Store defines the persistence interface for the cached notification feed.
// The cache holds only what the backend last returned; it is cleared
// whenever the session ends.
type Store interface {
	// ReplaceNotifications discards the cached feed and stores items in
	// the given (newest first) order.
	ReplaceNotifications(ctx context.Context, items []model.Notification) error

	// AppendNotifications adds items after the cached feed. Items already
	// cached are updated in place and keep their position.
	AppendNotifications(ctx context.Context, items []model.Notification) error

	GetNotifications(ctx context.Context, filter NotificationFilter) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
	CountUnread(ctx context.Context) (int, error)
	ClearNotifications(ctx context.Context) error

	Close() error
}
