package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyText is returned when a pool message has no text.
var ErrEmptyText = errors.New("text is required")

// Message is one entry of the message pool. Entries are consumed in Position
// order by the pairing rotation and never removed on use.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
}

func (db *DB) CreateMessage(ctx context.Context, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	var next int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), -1) + 1 FROM messages`).Scan(&next); err != nil {
		return nil, err
	}

	m := &Message{ID: newID(), Text: text, Position: next, CreatedAt: time.Now().UTC()}
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, text, position, created_at) VALUES (?, ?, ?, ?)
	`, m.ID, m.Text, m.Position, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

func (db *DB) GetMessage(ctx context.Context, id string) (*Message, error) {
	m := &Message{}
	err := db.QueryRowContext(ctx, `
		SELECT id, text, position, created_at FROM messages WHERE id = ?
	`, id).Scan(&m.ID, &m.Text, &m.Position, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns the pool in rotation order.
func (db *DB) ListMessages(ctx context.Context) ([]Message, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, text, position, created_at FROM messages ORDER BY position, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Text, &m.Position, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (db *DB) UpdateMessage(ctx context.Context, id, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	res, err := db.ExecContext(ctx, `UPDATE messages SET text = ? WHERE id = ?`, text, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return db.GetMessage(ctx, id)
}

func (db *DB) DeleteMessage(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedMessages fills an empty pool with texts. It does nothing when the pool
// already has entries, so operator deletions survive restarts.
func (db *DB) SeedMessages(ctx context.Context, texts []string) (int, error) {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count); err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	for _, t := range texts {
		if _, err := db.CreateMessage(ctx, t); err != nil {
			return 0, err
		}
	}
	return len(texts), nil
}

// DefaultMessages seeds a fresh database.
var DefaultMessages = []string{
	"Hola, buen dia!",
	"Hola! Que tal, como andas?",
	"Todo bien por aca, laburando como siempre",
	"Che, te prendes a hacer algo el finde?",
	"Estaba pensando en ir al cine o a comer algo",
	"Que calor hace hoy dios mio",
	"Viste el partido de anoche? Que locura",
	"Ey como estas? Hace rato no hablamos",
	"Me alegro. Tendriamos que juntarnos un dia de estos",
	"Dale si! Coordino y te aviso",
}
