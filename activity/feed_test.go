package activity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicebartender/keepalive-server/db"
	"github.com/nicebartender/keepalive-server/ws"
)

func newTestFeed(t *testing.T) (*Feed, *db.DB) {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	feed := NewFeed(database, nil)
	t.Cleanup(feed.Close)
	return feed, database
}

func receive(t *testing.T, ch <-chan ws.Event) ws.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return ws.Event{}
	}
}

func TestRecordPersistsAndPublishes(t *testing.T) {
	feed, database := newTestFeed(t)
	ctx := context.Background()

	room, err := database.CreateRoom(ctx, "Lobby", "", 1, 2)
	require.NoError(t, err)

	events, _ := feed.Subscribe(ctx)
	feed.Record(room.ID, KindJoin, "Agent 5491100000001 joined")

	ev := receive(t, events)
	assert.Equal(t, ws.TypeActivity, ev.Type)
	entry, ok := ev.Data.(*db.ActivityEntry)
	require.True(t, ok)
	assert.Equal(t, "Lobby", entry.RoomName)
	assert.Equal(t, "join", entry.Type)

	recent, err := feed.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "Agent 5491100000001 joined", recent[0].Message)
	assert.Equal(t, room.ID, recent[0].RoomID)
}

func TestRecordNamedKeepsGivenName(t *testing.T) {
	feed, _ := newTestFeed(t)

	feed.RecordNamed("gone", "Old room", KindRoomDeleted, `Room "Old room" deleted`)

	recent, err := feed.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "Old room", recent[0].RoomName)
	assert.Equal(t, "room-deleted", recent[0].Type)
}

func TestPublishStatusUsesSource(t *testing.T) {
	feed, _ := newTestFeed(t)
	feed.SetStatusSource(func(context.Context) any {
		return map[string]any{"rooms": []string{"r1"}}
	})

	events, _ := feed.Subscribe(context.Background())
	feed.PublishStatus()

	ev := receive(t, events)
	assert.Equal(t, ws.TypeStatus, ev.Type)
	assert.Equal(t, map[string]any{"rooms": []string{"r1"}}, ev.Data)
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	feed, _ := newTestFeed(t)
	ctx, cancel := context.WithCancel(context.Background())

	events, _ := feed.Subscribe(ctx)
	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	feed, _ := newTestFeed(t)
	events, _ := feed.Subscribe(context.Background())

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			feed.RecordNamed("r1", "Room", KindMessage, "tick")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, events, subscriberBufferSize)
}
