// Package rpc dispatches the frames arriving on the agent and observer
// channels to the registry, the pairing engine and the activity feed.
package rpc

import (
	"context"
	"log/slog"

	"github.com/nicebartender/keepalive-server/activity"
	"github.com/nicebartender/keepalive-server/db"
	"github.com/nicebartender/keepalive-server/pairing"
	"github.com/nicebartender/keepalive-server/registry"
	"github.com/nicebartender/keepalive-server/ws"
)

// RoomStore is the room lookup the router needs.
type RoomStore interface {
	GetRoom(ctx context.Context, id string) (*db.Room, error)
	ListRooms(ctx context.Context) ([]db.Room, error)
}

// TokenVerifier validates admin tokens presented on the observer channel.
type TokenVerifier interface {
	Verify(token string) (subject string, err error)
}

type Router struct {
	Hub      *ws.Hub
	Rooms    RoomStore
	Registry *registry.Registry
	Engine   *pairing.Engine
	Feed     *activity.Feed
	Tokens   TokenVerifier

	logger *slog.Logger
}

type Config struct {
	Hub      *ws.Hub
	Rooms    RoomStore
	Registry *registry.Registry
	Engine   *pairing.Engine
	Feed     *activity.Feed
	Tokens   TokenVerifier
	Logger   *slog.Logger
}

func NewRouter(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		Hub:      cfg.Hub,
		Rooms:    cfg.Rooms,
		Registry: cfg.Registry,
		Engine:   cfg.Engine,
		Feed:     cfg.Feed,
		Tokens:   cfg.Tokens,
		logger:   logger.With("component", "rpc"),
	}
	if cfg.Hub != nil {
		cfg.Hub.Handler = r
	}
	return r
}

// HandleAgent dispatches one decoded agent frame.
func (r *Router) HandleAgent(client *ws.Client, msg ws.Envelope) {
	r.logger.Debug("agent message", "type", msg.Type, "phone", client.Phone())

	switch msg.Type {
	case ws.TypeJoin:
		r.handleJoin(client, msg)
	case ws.TypeLeave:
		r.handleLeave(client)
	case ws.TypeMessageSent:
		r.handleMessageSent(client, msg)
	case ws.TypePing:
		client.SendJSON(ws.NewEvent(ws.TypePong, nil))
	case ws.TypeGetRooms:
		r.handleGetRooms(client)
	default:
		r.logger.Warn("unknown message type", "type", msg.Type, "phone", client.Phone())
	}
}

// HandleAgentClose runs once the agent's connection is gone.
func (r *Router) HandleAgentClose(client *ws.Client) {
	if client.Phone() == "" {
		return
	}
	r.release(client, activity.KindDisconnect)
}
