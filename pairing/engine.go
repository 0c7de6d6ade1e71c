// Package pairing runs the per-room scheduler: a periodic scan that pairs
// free agents, and one goroutine per pair that performs the timed exchange.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nicebartender/keepalive-server/activity"
	"github.com/nicebartender/keepalive-server/db"
	"github.com/nicebartender/keepalive-server/metrics"
	"github.com/nicebartender/keepalive-server/registry"
)

// RoomStore is the read side of room configuration.
type RoomStore interface {
	GetRoom(ctx context.Context, id string) (*db.Room, error)
	ListRooms(ctx context.Context) ([]db.Room, error)
}

// Reporter receives activity entries and status change notifications.
type Reporter interface {
	Record(roomID string, kind activity.Kind, message string)
	PublishStatus()
}

// ActivePair is an exchange in flight. It exists for status reporting only.
type ActivePair struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	PhoneA    string    `json:"phoneA"`
	PhoneB    string    `json:"phoneB"`
	MessageA  string    `json:"messageA"`
	MessageB  string    `json:"messageB"`
	StartedAt time.Time `json:"startedAt"`

	connA registry.Conn
	connB registry.Conn
}

// conn returns the connection the pair reserved for phone.
func (p *ActivePair) conn(phone string) registry.Conn {
	if phone == p.PhoneA {
		return p.connA
	}
	return p.connB
}

type Engine struct {
	rooms    RoomStore
	rotator  *Rotator
	registry *registry.Registry
	cooldown *registry.Cooldown
	reporter Reporter
	timing   Timing
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	tickers  map[string]context.CancelFunc
	partners map[string]string
	pairs    map[string]*ActivePair
}

type Config struct {
	Rooms    RoomStore
	Messages MessageStore
	Registry *registry.Registry
	Cooldown *registry.Cooldown
	Reporter Reporter
	Timing   Timing
	Logger   *slog.Logger
}

func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		rooms:    cfg.Rooms,
		rotator:  NewRotator(cfg.Messages),
		registry: cfg.Registry,
		cooldown: cfg.Cooldown,
		reporter: cfg.Reporter,
		timing:   cfg.Timing.withDefaults(),
		logger:   logger.With("component", "pairing"),
		ctx:      ctx,
		cancel:   cancel,
		tickers:  make(map[string]context.CancelFunc),
		partners: make(map[string]string),
		pairs:    make(map[string]*ActivePair),
	}
}

// Start launches the pairing ticker for roomID. It returns false if one is
// already running.
func (e *Engine) Start(roomID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.tickers[roomID]; ok {
		return false
	}
	if e.ctx.Err() != nil {
		return false
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.tickers[roomID] = cancel
	metrics.RoomEngines.Set(float64(len(e.tickers)))

	e.wg.Add(1)
	go e.loop(ctx, roomID)
	e.logger.Info("started pairing engine", "room_id", roomID)
	return true
}

// Stop cancels the pairing ticker for roomID. Exchanges already running are
// not affected.
func (e *Engine) Stop(roomID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	cancel, ok := e.tickers[roomID]
	if !ok {
		return false
	}
	cancel()
	delete(e.tickers, roomID)
	metrics.RoomEngines.Set(float64(len(e.tickers)))
	e.logger.Info("stopped pairing engine", "room_id", roomID)
	return true
}

// StopIfEmpty stops roomID's ticker when empty reports true. The check runs
// under the engine lock, so a join that registers and then calls Start either
// counts here or starts a fresh ticker after the stop.
func (e *Engine) StopIfEmpty(roomID string, empty func() bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	cancel, ok := e.tickers[roomID]
	if !ok || !empty() {
		return false
	}
	cancel()
	delete(e.tickers, roomID)
	metrics.RoomEngines.Set(float64(len(e.tickers)))
	e.logger.Info("stopped pairing engine", "room_id", roomID)
	return true
}

func (e *Engine) Running(roomID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tickers[roomID]
	return ok
}

// Close stops every ticker, cancels in-flight exchanges and waits for them to
// clean up.
func (e *Engine) Close() {
	e.cancel()
	e.mu.Lock()
	for roomID, cancel := range e.tickers {
		cancel()
		delete(e.tickers, roomID)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) loop(ctx context.Context, roomID string) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.timing.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx, roomID)
		}
	}
}

// Tick runs one pairing scan of roomID and returns the number of exchanges
// it launched.
func (e *Engine) Tick(ctx context.Context, roomID string) int {
	if e.ctx.Err() != nil {
		return 0
	}
	room, err := e.rooms.GetRoom(ctx, roomID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			e.logger.Error("load room failed", "room_id", roomID, "err", err)
		}
		return 0
	}

	available := e.registry.ListAvailable(roomID)
	if len(available) < 2 {
		return 0
	}
	rand.Shuffle(len(available), func(i, j int) {
		available[i], available[j] = available[j], available[i]
	})

	formed := 0
	for len(available) >= 2 {
		a := available[0]
		available = available[1:]
		idx := e.pickPartner(a.Phone, available)
		b := available[idx]
		available = slices.Delete(available, idx, idx+1)

		d, err := e.rotator.draw(ctx)
		if err != nil {
			if errors.Is(err, ErrPoolEmpty) {
				metrics.PairingSkipped.WithLabelValues("pool_empty").Inc()
				e.logger.Warn("no messages configured, skipping pairing", "room_id", roomID)
			} else {
				metrics.PairingSkipped.WithLabelValues("pool_error").Inc()
				e.logger.Error("draw messages failed", "room_id", roomID, "err", err)
			}
			return formed
		}

		if !e.registry.Reserve(a, b) {
			// one of them left or was taken since the snapshot
			e.rotator.undo(d)
			continue
		}
		e.setPartners(a.Phone, b.Phone)

		pair := &ActivePair{
			ID:        uuid.NewString(),
			RoomID:    roomID,
			PhoneA:    a.Phone,
			PhoneB:    b.Phone,
			MessageA:  d.first,
			MessageB:  d.second,
			StartedAt: time.Now().UTC(),
			connA:     a.Conn,
			connB:     b.Conn,
		}
		e.addPair(pair)
		metrics.PairsFormed.Inc()

		e.reporter.Record(roomID, activity.KindPair, fmt.Sprintf("Paired %s with %s", a.Phone, b.Phone))
		e.reporter.PublishStatus()

		e.wg.Add(1)
		go e.runExchange(e.ctx, *room, pair)
		formed++
	}
	return formed
}

// pickPartner returns the index of the first candidate that was not phone's
// previous partner, or 0 when every candidate was.
func (e *Engine) pickPartner(phone string, candidates []registry.Agent) int {
	e.mu.Lock()
	last, ok := e.partners[phone]
	e.mu.Unlock()
	if !ok {
		return 0
	}
	for i, c := range candidates {
		if c.Phone != last {
			return i
		}
	}
	return 0
}

func (e *Engine) setPartners(a, b string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.partners[a] = b
	e.partners[b] = a
}

// LastPartner returns the phone most recently paired with phone.
func (e *Engine) LastPartner(phone string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.partners[phone]
	return p, ok
}

func (e *Engine) addPair(p *ActivePair) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pairs[p.ID] = p
	metrics.PairsActive.Set(float64(len(e.pairs)))
}

func (e *Engine) removePair(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pairs, id)
	metrics.PairsActive.Set(float64(len(e.pairs)))
}

// Pairs returns the exchanges in flight in roomID, oldest first.
func (e *Engine) Pairs(roomID string) []ActivePair {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := []ActivePair{}
	for _, p := range e.pairs {
		if p.RoomID == roomID {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b ActivePair) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}
