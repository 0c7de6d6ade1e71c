package rpc

import (
	"context"
	"errors"

	"github.com/nicebartender/keepalive-server/ws"
)

// HandleObserverAuth authenticates an observer and, on success, streams the
// activity feed to it until the connection closes.
func (r *Router) HandleObserverAuth(client *ws.Client, token string) {
	if client.IsAuthenticated() {
		return
	}
	if r.Tokens == nil {
		client.SendJSON(ws.NewError("Invalid token"))
		client.Close()
		return
	}
	subject, err := r.Tokens.Verify(token)
	if err != nil {
		r.logger.Warn("observer auth rejected", "err", err)
		client.SendJSON(ws.NewError("Invalid token"))
		client.Close()
		return
	}
	client.SetAuthenticated()

	ctx, cancel := context.WithCancel(context.Background())
	events, _ := r.Feed.Subscribe(ctx)
	client.SendJSON(r.Feed.Status(ctx))
	r.logger.Info("observer authenticated", "subject", subject)

	go func() {
		defer cancel()
		for {
			select {
			case <-client.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := client.SendJSON(ev); errors.Is(err, ws.ErrClosed) {
					return
				}
			}
		}
	}()
}
