package rpc

import (
	"github.com/nicebartender/keepalive-server/ws"
)

// handleMessageSent resolves the confirmation the agent owes for its last
// send. Confirmations nobody waits for are dropped.
func (r *Router) handleMessageSent(client *ws.Client, msg ws.Envelope) {
	phone := client.Phone()
	if phone == "" {
		return
	}
	var params ws.MessageSentParams
	if err := msg.Decode(&params); err != nil {
		client.SendJSON(ws.NewError("Invalid message format"))
		return
	}
	if agent, ok := r.Registry.Get(phone); !ok || agent.Conn != client {
		return
	}
	if !r.Registry.Confirm(phone, params.Success) {
		r.logger.Debug("unexpected confirmation", "phone", phone, "success", params.Success)
	}
}
