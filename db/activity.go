package db

import (
	"context"
	"fmt"
	"time"
)

type ActivityEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	RoomID    string    `json:"roomId"`
	RoomName  string    `json:"roomName"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
}

// InsertActivity stores e and drops everything but the newest keep entries.
// ID and Timestamp are filled in when empty.
func (db *DB) InsertActivity(ctx context.Context, e *ActivityEntry, keep int) error {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO activity (id, room_id, room_name, type, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.RoomID, e.RoomName, e.Type, e.Message, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}

	if keep > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM activity WHERE id NOT IN (
				SELECT id FROM activity ORDER BY id DESC LIMIT ?
			)
		`, keep)
		if err != nil {
			return fmt.Errorf("trim activity: %w", err)
		}
	}
	return tx.Commit()
}

// ListActivity returns up to limit entries, newest first.
func (db *DB) ListActivity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, room_id, room_name, type, message, created_at
		FROM activity ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []ActivityEntry{}
	for rows.Next() {
		var e ActivityEntry
		if err := rows.Scan(&e.ID, &e.RoomID, &e.RoomName, &e.Type, &e.Message, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
