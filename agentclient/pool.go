package agentclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Pool keeps one joined client per phone.
type Pool struct {
	url    string
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

func NewPool(serverURL string, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		url:     serverURL,
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// Join returns the connected client for phone, dialing and joining roomID if
// there is none yet.
func (p *Pool) Join(ctx context.Context, phone, roomID, password string, deliver DeliverFunc) (*Client, error) {
	p.mu.Lock()
	if c, ok := p.clients[phone]; ok && c.IsConnected() {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c := NewClient(p.url, deliver, p.logger.With("phone", phone))
	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("pool connect: %w", err)
	}
	if _, err := c.Join(ctx, phone, roomID, password); err != nil {
		c.Close()
		return nil, err
	}

	p.mu.Lock()
	if old, ok := p.clients[phone]; ok && old != c {
		go old.Close()
	}
	p.clients[phone] = c
	p.mu.Unlock()

	return c, nil
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func (p *Pool) Close() {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]*Client)
	p.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
