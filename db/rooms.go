package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	DefaultMinInterval = 5
	DefaultMaxInterval = 15
)

var (
	// ErrInvalidInterval is returned when a room's interval bounds are
	// negative or inverted.
	ErrInvalidInterval = errors.New("minInterval must be between 0 and maxInterval")
	ErrNameRequired    = errors.New("name is required")
)

type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Password    string    `json:"password"`
	MinInterval int       `json:"minInterval"`
	MaxInterval int       `json:"maxInterval"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// HasPassword reports whether joining the room requires a password.
func (r *Room) HasPassword() bool {
	return r.Password != ""
}

func (r *Room) Validate() error {
	if r.Name == "" {
		return ErrNameRequired
	}
	if r.MinInterval < 0 || r.MinInterval > r.MaxInterval {
		return ErrInvalidInterval
	}
	return nil
}

// RoomPatch carries the optional fields of a room update. Nil fields are left
// unchanged.
type RoomPatch struct {
	Name        *string `json:"name"`
	Password    *string `json:"password"`
	MinInterval *int    `json:"minInterval"`
	MaxInterval *int    `json:"maxInterval"`
}

func newID() string {
	return ulid.Make().String()
}

func (db *DB) CreateRoom(ctx context.Context, name, password string, minInterval, maxInterval int) (*Room, error) {
	now := time.Now().UTC()
	r := &Room{
		ID:          newID(),
		Name:        name,
		Password:    password,
		MinInterval: minInterval,
		MaxInterval: maxInterval,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO rooms (id, name, password, min_interval, max_interval, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Name, r.Password, r.MinInterval, r.MaxInterval, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}
	return r, nil
}

func (db *DB) GetRoom(ctx context.Context, id string) (*Room, error) {
	r := &Room{}
	err := db.QueryRowContext(ctx, `
		SELECT id, name, password, min_interval, max_interval, created_at, updated_at
		FROM rooms WHERE id = ?
	`, id).Scan(&r.ID, &r.Name, &r.Password, &r.MinInterval, &r.MaxInterval, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (db *DB) ListRooms(ctx context.Context) ([]Room, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, password, min_interval, max_interval, created_at, updated_at
		FROM rooms ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []Room{}
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Name, &r.Password, &r.MinInterval, &r.MaxInterval, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// UpdateRoom applies patch to the room and returns the stored result.
func (db *DB) UpdateRoom(ctx context.Context, id string, patch RoomPatch) (*Room, error) {
	r, err := db.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		r.Name = *patch.Name
	}
	if patch.Password != nil {
		r.Password = *patch.Password
	}
	if patch.MinInterval != nil {
		r.MinInterval = *patch.MinInterval
	}
	if patch.MaxInterval != nil {
		r.MaxInterval = *patch.MaxInterval
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	r.UpdatedAt = time.Now().UTC()

	_, err = db.ExecContext(ctx, `
		UPDATE rooms SET name = ?, password = ?, min_interval = ?, max_interval = ?, updated_at = ?
		WHERE id = ?
	`, r.Name, r.Password, r.MinInterval, r.MaxInterval, r.UpdatedAt, r.ID)
	if err != nil {
		return nil, fmt.Errorf("update room: %w", err)
	}
	return r, nil
}

func (db *DB) DeleteRoom(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
