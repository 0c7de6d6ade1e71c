package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Handler receives decoded frames from both channels.
type Handler interface {
	HandleAgent(client *Client, msg Envelope)
	HandleAgentClose(client *Client)
	HandleObserverAuth(client *Client, token string)
}

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}

	upgrader websocket.Upgrader
	Handler  Handler
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			slog.Info("client connected", "kind", client.kind, "total", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				// the handler touches the store; keep the loop free for new connections
				if client.kind == KindAgent && h.Handler != nil {
					go h.Handler.HandleAgentClose(client)
				}
				slog.Info("client unregistered", "kind", client.kind, "phone", client.Phone())
			}

		case <-h.quit:
			for client := range h.clients {
				client.Close()
			}
			return
		}
	}
}

// Stop ends Run and closes every connected client.
func (h *Hub) Stop() {
	close(h.quit)
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
		client.Close()
	}
}

// ServeAgent upgrades the agent channel.
func (h *Hub) ServeAgent(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, KindAgent)
}

// ServeObserver upgrades the observer channel.
func (h *Hub) ServeObserver(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, KindObserver)
}

func (h *Hub) serve(w http.ResponseWriter, r *http.Request, kind Kind) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrade failed", "kind", kind, "err", err)
		return
	}
	client := NewClient(h, conn, kind)
	h.Register(client)
	go client.WritePump()
	go client.ReadPump()
}

func (h *Hub) handleMessage(client *Client, data []byte) {
	var msg Envelope
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("invalid message", "kind", client.kind, "err", err)
		client.SendJSON(NewError("Invalid message format"))
		return
	}
	if h.Handler == nil {
		return
	}

	switch client.kind {
	case KindAgent:
		h.Handler.HandleAgent(client, msg)

	case KindObserver:
		if msg.Type != TypeAuth {
			slog.Warn("unexpected observer message", "type", msg.Type)
			return
		}
		var params AuthParams
		if err := msg.Decode(&params); err != nil {
			client.SendJSON(NewError("Invalid message format"))
			return
		}
		h.Handler.HandleObserverAuth(client, params.Token)
	}
}
