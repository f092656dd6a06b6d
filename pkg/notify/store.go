package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/rbeam/rbeam/internal/db"
)

// Store provides database operations for notifications and warnings.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a notify Store backed by the given connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const notificationColumns = `title, content, address, timestamp, id, recipient`

func scanNotification(row pgx.Row) (Notification, error) {
	var (
		n  Notification
		ts string
	)
	if err := row.Scan(&n.Title, &n.Content, &n.Address, &ts, &n.ID, &n.Recipient); err != nil {
		return Notification{}, err
	}
	n.Timestamp, _ = strconv.ParseUint(ts, 10, 64)
	return n, nil
}

// GetNotification returns one notification by id.
func (s *Store) GetNotification(ctx context.Context, id string) (Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM xnotifications WHERE id = $1`
	return scanNotification(s.dbtx.QueryRow(ctx, query, id))
}

// InsertNotification persists a notification.
func (s *Store) InsertNotification(ctx context.Context, n Notification) error {
	query := `INSERT INTO xnotifications (` + notificationColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.dbtx.Exec(ctx, query,
		n.Title, n.Content, n.Address, strconv.FormatUint(n.Timestamp, 10), n.ID, n.Recipient)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// DeleteNotification removes one notification.
func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	query := `DELETE FROM xnotifications WHERE id = $1`
	if _, err := s.dbtx.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("deleting notification: %w", err)
	}
	return nil
}

// DeleteNotificationsByRecipient clears a recipient's notifications.
func (s *Store) DeleteNotificationsByRecipient(ctx context.Context, recipient string) error {
	query := `DELETE FROM xnotifications WHERE recipient = $1`
	if _, err := s.dbtx.Exec(ctx, query, recipient); err != nil {
		return fmt.Errorf("deleting notifications: %w", err)
	}
	return nil
}

// ListNotificationsByRecipient returns a recipient's notifications,
// newest first.
func (s *Store) ListNotificationsByRecipient(ctx context.Context, recipient string, limit, offset int) ([]Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM xnotifications
	WHERE recipient = $1 ORDER BY timestamp DESC LIMIT $2 OFFSET $3`
	rows, err := s.dbtx.Query(ctx, query, recipient, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var items []Notification
	for rows.Next() {
		var (
			n  Notification
			ts string
		)
		if err := rows.Scan(&n.Title, &n.Content, &n.Address, &ts, &n.ID, &n.Recipient); err != nil {
			return nil, fmt.Errorf("scanning notification row: %w", err)
		}
		n.Timestamp, _ = strconv.ParseUint(ts, 10, 64)
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notification rows: %w", err)
	}
	return items, nil
}

// CountNotificationsByRecipient counts a recipient's notifications.
func (s *Store) CountNotificationsByRecipient(ctx context.Context, recipient string) (int64, error) {
	query := `SELECT COUNT(*) FROM xnotifications WHERE recipient = $1`
	var n int64
	if err := s.dbtx.QueryRow(ctx, query, recipient).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting notifications: %w", err)
	}
	return n, nil
}

const warningColumns = `id, content, timestamp, recipient, moderator`

// GetWarning returns one warning by id.
func (s *Store) GetWarning(ctx context.Context, id string) (Warning, error) {
	query := `SELECT ` + warningColumns + ` FROM xwarnings WHERE id = $1`
	var (
		w  Warning
		ts string
	)
	if err := s.dbtx.QueryRow(ctx, query, id).Scan(&w.ID, &w.Content, &ts, &w.Recipient, &w.ModeratorID); err != nil {
		return Warning{}, err
	}
	w.Timestamp, _ = strconv.ParseUint(ts, 10, 64)
	return w, nil
}

// InsertWarning persists a warning.
func (s *Store) InsertWarning(ctx context.Context, w Warning) error {
	query := `INSERT INTO xwarnings (` + warningColumns + `) VALUES ($1, $2, $3, $4, $5)`
	_, err := s.dbtx.Exec(ctx, query,
		w.ID, w.Content, strconv.FormatUint(w.Timestamp, 10), w.Recipient, w.ModeratorID)
	if err != nil {
		return fmt.Errorf("inserting warning: %w", err)
	}
	return nil
}

// DeleteWarning removes one warning.
func (s *Store) DeleteWarning(ctx context.Context, id string) error {
	query := `DELETE FROM xwarnings WHERE id = $1`
	if _, err := s.dbtx.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("deleting warning: %w", err)
	}
	return nil
}

// ListWarningsByRecipient returns a recipient's warnings, newest first.
func (s *Store) ListWarningsByRecipient(ctx context.Context, recipient string, limit, offset int) ([]Warning, error) {
	query := `SELECT ` + warningColumns + ` FROM xwarnings
	WHERE recipient = $1 ORDER BY timestamp DESC LIMIT $2 OFFSET $3`
	rows, err := s.dbtx.Query(ctx, query, recipient, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing warnings: %w", err)
	}
	defer rows.Close()

	var items []Warning
	for rows.Next() {
		var (
			w  Warning
			ts string
		)
		if err := rows.Scan(&w.ID, &w.Content, &ts, &w.Recipient, &w.ModeratorID); err != nil {
			return nil, fmt.Errorf("scanning warning row: %w", err)
		}
		w.Timestamp, _ = strconv.ParseUint(ts, 10, 64)
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating warning rows: %w", err)
	}
	return items, nil
}
