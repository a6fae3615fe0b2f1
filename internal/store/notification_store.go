package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/heritage-client/internal/model"
)

const notificationColumns = `id, position, message, is_read, item_id, comment_id, thumbnail, type, created_at`

// notificationRow is the cached form of a notification.
type notificationRow struct {
	model.Notification
	Position  int          `db:"position"`
	CreatedAt sql.NullTime `db:"created_at"`
}

func (r notificationRow) toModel() model.Notification {
	n := r.Notification
	if r.CreatedAt.Valid {
		n.CreatedAt = model.Timestamp{Time: r.CreatedAt.Time.UTC()}
	}
	n.Type = n.Type.Normalize()
	return n
}

// ReplaceNotifications discards the cached feed and stores items in order.
func (s *SQLiteStore) ReplaceNotifications(ctx context.Context, items []model.Notification) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM notifications"); err != nil {
		return fmt.Errorf("clearing notifications: %w", err)
	}
	if err := insertNotifications(ctx, tx, items, 0); err != nil {
		return err
	}

	return tx.Commit()
}

// AppendNotifications adds items after the cached feed.
func (s *SQLiteStore) AppendNotifications(ctx context.Context, items []model.Notification) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.GetContext(ctx, &next, "SELECT COALESCE(MAX(position) + 1, 0) FROM notifications"); err != nil {
		return fmt.Errorf("reading feed position: %w", err)
	}
	if err := insertNotifications(ctx, tx, items, next); err != nil {
		return err
	}

	return tx.Commit()
}

func insertNotifications(ctx context.Context, tx *sqlx.Tx, items []model.Notification, start int) error {
	if len(items) == 0 {
		return nil
	}

	// A notification already cached keeps its position; the backend copy
	// wins for everything else.
	const query = `
		INSERT INTO notifications (
			id, position, message, is_read,
			item_id, comment_id, thumbnail, type,
			created_at, fetched_at
		) VALUES (
			?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?
		)
		ON CONFLICT(id) DO UPDATE SET
			message = excluded.message,
			is_read = excluded.is_read,
			item_id = excluded.item_id,
			comment_id = excluded.comment_id,
			thumbnail = excluded.thumbnail,
			type = excluded.type,
			created_at = excluded.created_at,
			fetched_at = excluded.fetched_at`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing notification insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, n := range items {
		var createdAt any
		if !n.CreatedAt.IsZero() {
			createdAt = n.CreatedAt.UTC()
		}
		_, err := stmt.ExecContext(ctx,
			string(n.ID), start+i, n.Message, boolToInt(n.Read),
			string(n.ItemID), string(n.CommentID), n.Thumbnail, string(n.Type.Normalize()),
			createdAt, now,
		)
		if err != nil {
			return fmt.Errorf("caching notification %s: %w", n.ID, err)
		}
	}
	return nil
}

// GetNotifications returns cached notifications in feed order.
func (s *SQLiteStore) GetNotifications(ctx context.Context, filter NotificationFilter) ([]model.Notification, error) {
	query := "SELECT " + notificationColumns + " FROM notifications"
	if filter.UnreadOnly {
		query += " WHERE is_read = 0"
	}
	query += " ORDER BY position ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	} else if filter.Offset > 0 {
		query += fmt.Sprintf(" LIMIT -1 OFFSET %d", filter.Offset)
	}

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}

	out := make([]model.Notification, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// MarkNotificationRead marks a single cached notification as read.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("marking notification %s as read: %w", id, err)
	}
	return nil
}

// MarkAllNotificationsRead marks every cached notification as read.
func (s *SQLiteStore) MarkAllNotificationsRead(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE notifications SET is_read = 1 WHERE is_read = 0"); err != nil {
		return fmt.Errorf("marking all notifications read: %w", err)
	}
	return nil
}

// CountUnread counts cached unread notifications.
func (s *SQLiteStore) CountUnread(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM notifications WHERE is_read = 0"); err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return n, nil
}

// ClearNotifications empties the cache.
func (s *SQLiteStore) ClearNotifications(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM notifications"); err != nil {
		return fmt.Errorf("clearing notifications: %w", err)
	}
	return nil
}
