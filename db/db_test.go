package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestRoomCRUD(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	room, err := database.CreateRoom(ctx, "Lobby", "secret", 5, 15)
	require.NoError(t, err)
	assert.NotEmpty(t, room.ID)
	assert.True(t, room.HasPassword())

	got, err := database.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lobby", got.Name)
	assert.Equal(t, 5, got.MinInterval)
	assert.Equal(t, 15, got.MaxInterval)

	name := "Renamed"
	minInterval := 20
	_, err = database.UpdateRoom(ctx, room.ID, RoomPatch{MinInterval: &minInterval})
	assert.ErrorIs(t, err, ErrInvalidInterval)

	updated, err := database.UpdateRoom(ctx, room.ID, RoomPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, "secret", updated.Password)

	rooms, err := database.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)

	require.NoError(t, database.DeleteRoom(ctx, room.ID))
	_, err = database.GetRoom(ctx, room.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, database.DeleteRoom(ctx, room.ID), ErrNotFound)
}

func TestCreateRoomRejectsInvertedInterval(t *testing.T) {
	database := openTestDB(t)

	_, err := database.CreateRoom(context.Background(), "Bad", "", 10, 5)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = database.CreateRoom(context.Background(), "Negative", "", -1, 5)
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestMessagesKeepInsertionOrder(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := database.CreateMessage(ctx, text)
		require.NoError(t, err)
	}

	msgs, err := database.ListMessages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Text)
	assert.Equal(t, "two", msgs[1].Text)
	assert.Equal(t, "three", msgs[2].Text)

	updated, err := database.UpdateMessage(ctx, msgs[1].ID, "deux")
	require.NoError(t, err)
	assert.Equal(t, "deux", updated.Text)
	assert.Equal(t, msgs[1].Position, updated.Position)

	require.NoError(t, database.DeleteMessage(ctx, msgs[0].ID))
	msgs, err = database.ListMessages(ctx)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	_, err = database.CreateMessage(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyText)
	_, err = database.UpdateMessage(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSeedMessagesOnlyWhenEmpty(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	n, err := database.SeedMessages(ctx, DefaultMessages)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultMessages), n)

	n, err = database.SeedMessages(ctx, DefaultMessages)
	require.NoError(t, err)
	assert.Zero(t, n)

	msgs, err := database.ListMessages(ctx)
	require.NoError(t, err)
	assert.Len(t, msgs, len(DefaultMessages))
}

func TestActivityIsTrimmedNewestFirst(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := database.InsertActivity(ctx, &ActivityEntry{
			RoomID:  "r1",
			Type:    "join",
			Message: fmt.Sprintf("entry %d", i),
		}, 5)
		require.NoError(t, err)
	}

	entries, err := database.ListActivity(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, "entry 9", entries[0].Message)
	assert.Equal(t, "entry 5", entries[4].Message)
	assert.False(t, entries[0].Timestamp.IsZero())
}
