// Package activity records what the scheduler does and fans it out to the
// observers watching the admin channel.
package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nicebartender/keepalive-server/db"
	"github.com/nicebartender/keepalive-server/ws"
)

// Kind is the type of an activity entry.
type Kind string

const (
	KindJoin        Kind = "join"
	KindLeave       Kind = "leave"
	KindDisconnect  Kind = "disconnect"
	KindPair        Kind = "pair"
	KindMessage     Kind = "message"
	KindError       Kind = "error"
	KindDone        Kind = "done"
	KindRoomCreated Kind = "room-created"
	KindRoomDeleted Kind = "room-deleted"
)

const (
	// MaxEntries is how many entries the persisted log keeps.
	MaxEntries = 200

	subscriberBufferSize = 64
	persistTimeout       = 5 * time.Second
)

// Store is the persistence the feed writes through to.
type Store interface {
	InsertActivity(ctx context.Context, e *db.ActivityEntry, keep int) error
	ListActivity(ctx context.Context, limit int) ([]db.ActivityEntry, error)
	GetRoom(ctx context.Context, id string) (*db.Room, error)
}

// StatusFunc builds the payload of a status event.
type StatusFunc func(ctx context.Context) any

// Feed persists activity entries and publishes them, together with status
// snapshots, to every subscribed observer. Publishing never blocks: events
// are dropped for subscribers whose buffer is full.
type Feed struct {
	store  Store
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]chan ws.Event
	status      StatusFunc
}

func NewFeed(store Store, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		store:       store,
		logger:      logger.With("component", "activity"),
		subscribers: make(map[string]chan ws.Event),
	}
}

// SetStatusSource installs the function used by PublishStatus and Status.
func (f *Feed) SetStatusSource(fn StatusFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = fn
}

// Record logs an entry for roomID, looking up the room's current name.
func (f *Feed) Record(roomID string, kind Kind, message string) {
	name := ""
	if f.store != nil && roomID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if room, err := f.store.GetRoom(ctx, roomID); err == nil {
			name = room.Name
		}
		cancel()
	}
	f.RecordNamed(roomID, name, kind, message)
}

// RecordNamed logs an entry when the caller already knows the room name, for
// instance because the room has just been deleted.
func (f *Feed) RecordNamed(roomID, roomName string, kind Kind, message string) {
	entry := &db.ActivityEntry{
		Timestamp: time.Now().UTC(),
		RoomID:    roomID,
		RoomName:  roomName,
		Type:      string(kind),
		Message:   message,
	}

	f.logger.Info(message, "type", kind, "room_id", roomID)

	if f.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := f.store.InsertActivity(ctx, entry, MaxEntries); err != nil {
			f.logger.Error("persist activity failed", "err", err)
		}
		cancel()
	}

	f.publish(ws.NewEvent(ws.TypeActivity, entry))
}

// Recent returns up to limit persisted entries, newest first.
func (f *Feed) Recent(ctx context.Context, limit int) ([]db.ActivityEntry, error) {
	if f.store == nil {
		return []db.ActivityEntry{}, nil
	}
	return f.store.ListActivity(ctx, limit)
}

// Status builds the current status event.
func (f *Feed) Status(ctx context.Context) ws.Event {
	f.mu.RLock()
	fn := f.status
	f.mu.RUnlock()

	var data any
	if fn != nil {
		data = fn(ctx)
	}
	return ws.NewEvent(ws.TypeStatus, data)
}

// PublishStatus sends a fresh status snapshot to every observer.
func (f *Feed) PublishStatus() {
	f.mu.RLock()
	n := len(f.subscribers)
	f.mu.RUnlock()
	if n == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	f.publish(f.Status(ctx))
}

// Subscribe registers an observer. The subscription is removed, and the
// channel closed, when ctx is cancelled.
func (f *Feed) Subscribe(ctx context.Context) (<-chan ws.Event, string) {
	id := uuid.NewString()
	ch := make(chan ws.Event, subscriberBufferSize)

	f.mu.Lock()
	f.subscribers[id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.Unsubscribe(id)
	}()
	return ch, id
}

func (f *Feed) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.subscribers[id]; ok {
		delete(f.subscribers, id)
		close(ch)
	}
}

func (f *Feed) publish(event ws.Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for id, ch := range f.subscribers {
		select {
		case ch <- event:
		default:
			f.logger.Debug("dropped event for slow observer", "sub_id", id, "type", event.Type)
		}
	}
}

// Close removes every subscriber.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
}
