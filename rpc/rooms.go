package rpc

import (
	"context"

	"github.com/nicebartender/keepalive-server/ws"
)

func (r *Router) handleGetRooms(client *ws.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	rooms, err := r.Rooms.ListRooms(ctx)
	if err != nil {
		r.logger.Error("list rooms failed", "err", err)
		client.SendJSON(ws.NewError("Could not load rooms"))
		return
	}
	out := make([]ws.RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, ws.RoomInfo{ID: room.ID, Name: room.Name, HasPassword: room.HasPassword()})
	}
	client.SendJSON(ws.NewEvent(ws.TypeRooms, out))
}

// KickRoom disconnects every agent in a room that is being deleted. It
// returns how many agents were removed.
func (r *Router) KickRoom(roomID string) int {
	r.Engine.Stop(roomID)

	kicked := 0
	for _, a := range r.Registry.InRoom(roomID) {
		if _, ok := r.Registry.UnregisterConn(a.Phone, a.Conn); !ok {
			continue
		}
		a.Conn.SendJSON(ws.NewError("Room has been deleted"))
		a.Conn.Close()
		kicked++
	}
	if kicked > 0 {
		r.logger.Info("kicked agents from deleted room", "room_id", roomID, "count", kicked)
	}
	r.Feed.PublishStatus()
	return kicked
}
