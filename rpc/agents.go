package rpc

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/nicebartender/keepalive-server/activity"
	"github.com/nicebartender/keepalive-server/db"
	"github.com/nicebartender/keepalive-server/metrics"
	"github.com/nicebartender/keepalive-server/ws"
)

var (
	ErrMissingFields = errors.New("phone and roomId are required")
	ErrInvalidPhone  = errors.New("invalid phone number")
	ErrRoomNotFound  = errors.New("room not found")
	ErrBadPassword   = errors.New("invalid password")
)

var phonePattern = regexp.MustCompile(`^\d{7,15}$`)

const lookupTimeout = 5 * time.Second

// validateJoin checks the join request and returns the room it targets.
func (r *Router) validateJoin(ctx context.Context, p ws.JoinParams) (*db.Room, error) {
	if p.Phone == "" || p.RoomID == "" {
		return nil, ErrMissingFields
	}
	if !phonePattern.MatchString(p.Phone) {
		return nil, ErrInvalidPhone
	}
	room, err := r.Rooms.GetRoom(ctx, p.RoomID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", p.RoomID, err)
	}
	if room.HasPassword() && room.Password != p.Password {
		return nil, ErrBadPassword
	}
	return room, nil
}

// rejection maps a join error to its metric label and the text sent back to
// the agent.
func rejection(err error) (reason, message string) {
	switch {
	case errors.Is(err, ErrMissingFields):
		return "missing_fields", "phone and roomId are required"
	case errors.Is(err, ErrInvalidPhone):
		return "invalid_phone", "Invalid phone number"
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found", "Room not found"
	case errors.Is(err, ErrBadPassword):
		return "bad_password", "Invalid password"
	default:
		return "internal", "Internal error"
	}
}

func (r *Router) handleJoin(client *ws.Client, msg ws.Envelope) {
	var params ws.JoinParams
	if err := msg.Decode(&params); err != nil {
		client.SendJSON(ws.NewError("Invalid message format"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	room, err := r.validateJoin(ctx, params)
	cancel()
	if err != nil {
		reason, message := rejection(err)
		metrics.JoinsRejected.WithLabelValues(reason).Inc()
		if reason == "internal" {
			r.logger.Error("join failed", "phone", params.Phone, "room_id", params.RoomID, "err", err)
		} else {
			r.logger.Info("join rejected", "phone", params.Phone, "room_id", params.RoomID, "reason", reason)
		}
		client.SendJSON(ws.NewEvent(ws.TypeJoined, ws.Joined{Success: false, Error: message}))
		return
	}

	// a connection switching identity or room leaves its previous seat first
	if prev := client.Phone(); prev != "" {
		if agent, ok := r.Registry.Get(prev); ok && agent.Conn == client &&
			(prev != params.Phone || agent.RoomID != room.ID) {
			r.release(client, activity.KindLeave)
		}
	}

	prior, hadPrior := r.Registry.Get(params.Phone)
	if hadPrior && prior.Conn == client && prior.RoomID == room.ID {
		// repeated join on the same seat: nothing changes, busy or not
		client.SendJSON(ws.NewEvent(ws.TypeJoined, ws.Joined{
			Success:    true,
			RoomName:   room.Name,
			AgentCount: r.Registry.CountInRoom(room.ID),
		}))
		return
	}
	_, superseded := r.Registry.Register(params.Phone, room.ID, client)
	client.SetPhone(params.Phone)
	metrics.AgentsConnected.Set(float64(r.Registry.Count()))

	if superseded && hadPrior && prior.RoomID != room.ID {
		r.roomChanged(prior.RoomID)
	}

	r.Engine.Start(room.ID)

	client.SendJSON(ws.NewEvent(ws.TypeJoined, ws.Joined{
		Success:    true,
		RoomName:   room.Name,
		AgentCount: r.Registry.CountInRoom(room.ID),
	}))

	r.Feed.RecordNamed(room.ID, room.Name, activity.KindJoin,
		fmt.Sprintf("Agent %s joined room %q", params.Phone, room.Name))
	r.Feed.PublishStatus()
	r.broadcastRoomCount(room.ID)
}

func (r *Router) handleLeave(client *ws.Client) {
	if client.Phone() == "" {
		return
	}
	r.release(client, activity.KindLeave)
	client.SetPhone("")
}

// release removes the agent bound to client, if it still is, and stops the
// room's ticker once nobody is left.
func (r *Router) release(client *ws.Client, kind activity.Kind) {
	phone := client.Phone()
	agent, ok := r.Registry.UnregisterConn(phone, client)
	if !ok {
		return
	}
	metrics.AgentsConnected.Set(float64(r.Registry.Count()))

	verb := "left"
	if kind == activity.KindDisconnect {
		verb = "disconnected"
	}
	r.Feed.Record(agent.RoomID, kind, fmt.Sprintf("Agent %s %s", phone, verb))
	r.roomChanged(agent.RoomID)
}

// roomChanged reacts to an agent leaving roomID.
func (r *Router) roomChanged(roomID string) {
	r.Engine.StopIfEmpty(roomID, func() bool { return r.Registry.CountInRoom(roomID) == 0 })
	r.Feed.PublishStatus()
	r.broadcastRoomCount(roomID)
}

func (r *Router) broadcastRoomCount(roomID string) {
	ev := ws.NewEvent(ws.TypeRoomAgentCount, ws.RoomAgentCount{
		RoomID: roomID,
		Count:  r.Registry.CountInRoom(roomID),
	})
	for _, a := range r.Registry.InRoom(roomID) {
		a.Conn.SendJSON(ev)
	}
}
