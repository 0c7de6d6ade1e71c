package pairing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nicebartender/keepalive-server/activity"
	"github.com/nicebartender/keepalive-server/db"
	"github.com/nicebartender/keepalive-server/metrics"
	"github.com/nicebartender/keepalive-server/registry"
	"github.com/nicebartender/keepalive-server/ws"
)

const previewLen = 40

// runExchange waits the room's randomized delay, sends one message in each
// direction and releases the pair. Cleanup runs on every path.
func (e *Engine) runExchange(ctx context.Context, room db.Room, pair *ActivePair) {
	defer e.wg.Done()
	defer e.finish(pair)

	delay := pickDelay(room.MinInterval, room.MaxInterval)
	e.logger.Debug("exchange scheduled", "pair_id", pair.ID, "delay", delay)
	if err := sleep(ctx, delay); err != nil {
		return
	}

	if !e.registry.Holds(pair.PhoneA, pair.connA) || !e.registry.Holds(pair.PhoneB, pair.connB) {
		e.reporter.Record(pair.RoomID, activity.KindDisconnect,
			fmt.Sprintf("Exchange between %s and %s interrupted: agent disconnected", pair.PhoneA, pair.PhoneB))
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.direction(ctx, pair, pair.PhoneA, pair.PhoneB, pair.MessageA)
	}()
	go func() {
		defer wg.Done()
		e.direction(ctx, pair, pair.PhoneB, pair.PhoneA, pair.MessageB)
	}()
	wg.Wait()
}

// direction delivers one side of the exchange and reports the outcome.
func (e *Engine) direction(ctx context.Context, pair *ActivePair, from, to, text string) {
	if e.deliver(ctx, pair.conn(from), from, to, text) {
		metrics.Deliveries.WithLabelValues("success").Inc()
		e.reporter.Record(pair.RoomID, activity.KindMessage,
			fmt.Sprintf("%s -> %s: %s", from, to, preview(text)))
		return
	}
	metrics.Deliveries.WithLabelValues("failure").Inc()
	e.reporter.Record(pair.RoomID, activity.KindError,
		fmt.Sprintf("Message send failed from %s to %s", from, to))
}

// deliver makes up to MaxAttempts attempts, waiting RetryBackoff between
// them, as long as the sender stays registered on conn.
func (e *Engine) deliver(ctx context.Context, conn registry.Conn, from, to, text string) bool {
	for attempt := 1; ; attempt++ {
		if e.attempt(ctx, conn, from, to, text) {
			return true
		}
		if attempt >= e.timing.MaxAttempts || !e.registry.Holds(from, conn) {
			return false
		}
		e.logger.Info("retrying send", "from", from, "to", to, "attempt", attempt+1)
		if err := sleep(ctx, e.timing.RetryBackoff); err != nil {
			return false
		}
		if !e.registry.Holds(from, conn) {
			return false
		}
	}
}

// attempt sends one send-message instruction to from and waits for its
// confirmation.
func (e *Engine) attempt(ctx context.Context, conn registry.Conn, from, to, text string) bool {
	if !e.registry.Holds(from, conn) || !conn.IsOpen() {
		metrics.DeliveryAttempts.WithLabelValues("closed").Inc()
		return false
	}

	w, err := e.registry.Await(from, conn)
	if err != nil {
		e.logger.Warn("cannot await confirmation", "phone", from, "err", err)
		return false
	}

	err = conn.SendJSON(ws.NewEvent(ws.TypeSendMessage, ws.SendMessage{
		TargetPhone: to,
		Message:     text,
	}))
	if err != nil {
		e.registry.Cancel(from, w.RequestID)
		metrics.DeliveryAttempts.WithLabelValues("closed").Inc()
		e.logger.Warn("dispatch failed", "phone", from, "err", err)
		return false
	}

	timer := time.NewTimer(e.timing.ConfirmTimeout)
	defer timer.Stop()

	select {
	case ok := <-w.Done():
		if ok {
			metrics.DeliveryAttempts.WithLabelValues("confirmed").Inc()
		} else {
			metrics.DeliveryAttempts.WithLabelValues("rejected").Inc()
		}
		return ok
	case <-timer.C:
		e.registry.Cancel(from, w.RequestID)
		metrics.DeliveryAttempts.WithLabelValues("timeout").Inc()
		e.logger.Warn("confirmation timeout", "from", from, "to", to)
		return false
	case <-ctx.Done():
		e.registry.Cancel(from, w.RequestID)
		return false
	}
}

// finish releases the pair: the agents cool down first so no tick can pick
// them up in between, then become available again if still connected.
func (e *Engine) finish(pair *ActivePair) {
	e.removePair(pair.ID)
	if e.cooldown != nil {
		e.cooldown.Mark(pair.PhoneA, pair.PhoneB)
	}
	e.registry.Release(pair.PhoneA, pair.connA)
	e.registry.Release(pair.PhoneB, pair.connB)

	e.reporter.Record(pair.RoomID, activity.KindDone,
		fmt.Sprintf("Exchange between %s and %s finished", pair.PhoneA, pair.PhoneB))
	e.reporter.PublishStatus()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func preview(text string) string {
	r := []rune(text)
	if len(r) <= previewLen {
		return text
	}
	return string(r[:previewLen]) + "…"
}
