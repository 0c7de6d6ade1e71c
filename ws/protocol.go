package ws

import "encoding/json"

// Instruction types exchanged with agents and observers.
const (
	TypeJoin           = "join"
	TypeLeave          = "leave"
	TypeMessageSent    = "message-sent"
	TypePing           = "ping"
	TypeGetRooms       = "get-rooms"
	TypeJoined         = "joined"
	TypeSendMessage    = "send-message"
	TypePong           = "pong"
	TypeRoomAgentCount = "room-agent-count"
	TypeRooms          = "rooms"
	TypeError          = "error"

	TypeAuth     = "auth"
	TypeStatus   = "status"
	TypeActivity = "activity"
)

// Envelope is the type-peek for incoming frames.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the payload into v. An absent payload leaves v untouched.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Event is an outgoing frame.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func NewEvent(typ string, data any) Event {
	return Event{Type: typ, Data: data}
}

func NewError(message string) Event {
	return Event{Type: TypeError, Data: ErrorData{Message: message}}
}

type JoinParams struct {
	Phone    string `json:"phone"`
	RoomID   string `json:"roomId"`
	Password string `json:"password"`
}

type MessageSentParams struct {
	Success bool `json:"success"`
}

type AuthParams struct {
	Token string `json:"token"`
}

type Joined struct {
	Success    bool   `json:"success"`
	RoomName   string `json:"roomName,omitempty"`
	AgentCount int    `json:"agentCount,omitempty"`
	Error      string `json:"error,omitempty"`
}

type SendMessage struct {
	TargetPhone string `json:"targetPhone"`
	Message     string `json:"message"`
}

type RoomAgentCount struct {
	RoomID string `json:"roomId"`
	Count  int    `json:"count"`
}

type RoomInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	HasPassword bool   `json:"hasPassword"`
}

type ErrorData struct {
	Message string `json:"message"`
}
