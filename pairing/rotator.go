package pairing

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nicebartender/keepalive-server/db"
)

// ErrPoolEmpty is returned when no messages are configured.
var ErrPoolEmpty = errors.New("message pool is empty")

// MessageStore is the read side of the message pool.
type MessageStore interface {
	ListMessages(ctx context.Context) ([]db.Message, error)
}

// Rotator hands out pool messages round-robin, two per pairing. The index
// advances atomically by two and wraps at the pool size, so concurrent
// pairings never draw the same starting slot within one pass of the pool.
type Rotator struct {
	store MessageStore
	index atomic.Uint64
}

func NewRotator(store MessageStore) *Rotator {
	return &Rotator{store: store}
}

// Next returns the texts for both directions of one exchange.
func (r *Rotator) Next(ctx context.Context) (string, string, error) {
	d, err := r.draw(ctx)
	return d.first, d.second, err
}

// draw is one Next result plus the index move that produced it.
type draw struct {
	first, second string
	from, to      uint64
}

func (r *Rotator) draw(ctx context.Context) (draw, error) {
	msgs, err := r.store.ListMessages(ctx)
	if err != nil {
		return draw{}, fmt.Errorf("list messages: %w", err)
	}
	n := uint64(len(msgs))
	if n == 0 {
		return draw{}, ErrPoolEmpty
	}

	for {
		cur := r.index.Load()
		start := cur % n
		next := (start + 2) % n
		if r.index.CompareAndSwap(cur, next) {
			return draw{
				first:  msgs[start].Text,
				second: msgs[(start+1)%n].Text,
				from:   cur,
				to:     next,
			}, nil
		}
	}
}

// undo hands d's slots back when no other draw has moved the index since.
func (r *Rotator) undo(d draw) bool {
	return r.index.CompareAndSwap(d.to, d.from)
}
