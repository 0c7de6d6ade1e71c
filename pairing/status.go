package pairing

import "context"

// AgentStatus is one connected agent as shown to observers.
type AgentStatus struct {
	Phone     string `json:"phone"`
	Available bool   `json:"available"`
}

// RoomStatus is the live occupancy of one room.
type RoomStatus struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	ActiveCount  int           `json:"activeCount"`
	BusyCount    int           `json:"busyCount"`
	ActiveAgents []AgentStatus `json:"activeAgents"`
	ActivePairs  []ActivePair  `json:"activePairs"`
}

// Status is the payload of the observer status event.
type Status struct {
	Rooms []RoomStatus `json:"rooms"`
}

// Snapshot builds the status of every configured room.
func (e *Engine) Snapshot(ctx context.Context) (Status, error) {
	rooms, err := e.rooms.ListRooms(ctx)
	if err != nil {
		return Status{}, err
	}

	out := Status{Rooms: make([]RoomStatus, 0, len(rooms))}
	for _, room := range rooms {
		rs := RoomStatus{
			ID:           room.ID,
			Name:         room.Name,
			ActiveAgents: []AgentStatus{},
			ActivePairs:  e.Pairs(room.ID),
		}
		for _, a := range e.registry.InRoom(room.ID) {
			rs.ActiveAgents = append(rs.ActiveAgents, AgentStatus{Phone: a.Phone, Available: a.Available})
			if !a.Available {
				rs.BusyCount++
			}
		}
		rs.ActiveCount = len(rs.ActiveAgents)
		out.Rooms = append(out.Rooms, rs)
	}
	return out, nil
}

// Status adapts Snapshot to the activity feed's status source. A failed room
// listing yields an empty status rather than none.
func (e *Engine) Status(ctx context.Context) any {
	st, err := e.Snapshot(ctx)
	if err != nil {
		e.logger.Error("build status failed", "err", err)
		return Status{Rooms: []RoomStatus{}}
	}
	return st
}
