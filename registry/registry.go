// Package registry tracks the agents currently connected to the server: which
// room each one is in, whether it is free to be paired, and the confirmation
// it is expected to report for an in-flight send.
package registry

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotRegistered indicates the phone has no live agent.
	ErrNotRegistered = errors.New("agent not registered")

	// ErrConfirmPending indicates the agent already has an unresolved send.
	ErrConfirmPending = errors.New("confirmation already pending")
)

// Conn is the outbound side of an agent's connection.
type Conn interface {
	SendJSON(v any) error
	IsOpen() bool
	Close()
}

// Agent is a snapshot of one registered agent.
type Agent struct {
	Phone     string
	RoomID    string
	Conn      Conn
	Available bool
	JoinedAt  time.Time
}

type entry struct {
	Agent
	waiter *Waiter
}

// Waiter is a one-shot confirmation slot for a single dispatched send.
type Waiter struct {
	RequestID string
	result    chan bool
	once      sync.Once
}

func newWaiter() *Waiter {
	return &Waiter{RequestID: uuid.NewString(), result: make(chan bool, 1)}
}

// Done delivers exactly one result: the reported success flag, or false when
// the agent went away first.
func (w *Waiter) Done() <-chan bool {
	return w.result
}

func (w *Waiter) resolve(ok bool) {
	w.once.Do(func() { w.result <- ok })
}

// Registry owns the lifecycle of every connected agent. All state changes go
// through a single mutex, so listings used for pairing are consistent
// snapshots.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]*entry
	cooldown *Cooldown
	logger   *slog.Logger
}

// New creates an empty registry. cooldown may be nil.
func New(cooldown *Cooldown, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		agents:   make(map[string]*entry),
		cooldown: cooldown,
		logger:   logger.With("component", "registry"),
	}
}

// Register adds an available agent for phone. An agent already registered
// under the same phone is superseded: its connection is closed and any
// confirmation it owed is failed. Registering the same phone, room and
// connection again keeps the existing entry, busy state and waiter included.
func (r *Registry) Register(phone, roomID string, conn Conn) (Agent, bool) {
	e := &entry{Agent: Agent{
		Phone:     phone,
		RoomID:    roomID,
		Conn:      conn,
		Available: true,
		JoinedAt:  time.Now(),
	}}

	r.mu.Lock()
	prior, superseded := r.agents[phone]
	if superseded && prior.Conn == conn && prior.RoomID == roomID {
		kept := prior.Agent
		r.mu.Unlock()
		return kept, false
	}
	r.agents[phone] = e
	total := len(r.agents)
	r.mu.Unlock()

	if superseded {
		if prior.waiter != nil {
			prior.waiter.resolve(false)
		}
		if prior.Conn != nil && prior.Conn != conn {
			prior.Conn.Close()
		}
		r.logger.Info("agent superseded", "phone", phone, "previous_room", prior.RoomID)
	}
	r.logger.Info("agent registered", "phone", phone, "room_id", roomID, "total_agents", total)
	return e.Agent, superseded
}

// Unregister removes the agent for phone, failing its pending confirmation.
func (r *Registry) Unregister(phone string) (Agent, bool) {
	return r.remove(phone, nil)
}

// UnregisterConn removes the agent for phone only if it is still bound to
// conn. A connection that was superseded by a newer join therefore cannot
// evict its successor when it finally closes.
func (r *Registry) UnregisterConn(phone string, conn Conn) (Agent, bool) {
	return r.remove(phone, conn)
}

func (r *Registry) remove(phone string, conn Conn) (Agent, bool) {
	r.mu.Lock()
	e, ok := r.agents[phone]
	if !ok || (conn != nil && e.Conn != conn) {
		r.mu.Unlock()
		return Agent{}, false
	}
	delete(r.agents, phone)
	total := len(r.agents)
	w := e.waiter
	e.waiter = nil
	r.mu.Unlock()

	if w != nil {
		w.resolve(false)
	}
	r.logger.Info("agent unregistered", "phone", phone, "room_id", e.RoomID, "total_agents", total)
	return e.Agent, true
}

func (r *Registry) Get(phone string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[phone]
	if !ok {
		return Agent{}, false
	}
	return e.Agent, true
}

func (r *Registry) Has(phone string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[phone]
	return ok
}

// ListAvailable returns the agents in roomID that are free and not cooling
// down, ordered by phone.
func (r *Registry) ListAvailable(roomID string) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Agent
	for _, e := range r.agents {
		if e.RoomID != roomID || !e.Available {
			continue
		}
		if r.cooldown != nil && r.cooldown.Active(e.Phone) {
			continue
		}
		out = append(out, e.Agent)
	}
	sortByPhone(out)
	return out
}

// InRoom returns every agent in roomID, busy or not, ordered by phone.
func (r *Registry) InRoom(roomID string) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Agent
	for _, e := range r.agents {
		if e.RoomID == roomID {
			out = append(out, e.Agent)
		}
	}
	sortByPhone(out)
	return out
}

func (r *Registry) CountInRoom(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.agents {
		if e.RoomID == roomID {
			n++
		}
	}
	return n
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// SetAvailability flips the agent's availability. It returns false when the
// phone is not registered.
func (r *Registry) SetAvailability(phone string, available bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[phone]
	if !ok {
		return false
	}
	e.Available = available
	return true
}

// Reserve marks both agents busy if, and only if, both are still registered
// on the connections seen in the snapshot and currently available. It is the
// point of mutual exclusion for pairing: two concurrent callers can never
// both reserve the same agent.
func (r *Registry) Reserve(a, b Agent) bool {
	if a.Phone == b.Phone {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ea, okA := r.agents[a.Phone]
	eb, okB := r.agents[b.Phone]
	if !okA || !okB || ea.Conn != a.Conn || eb.Conn != b.Conn {
		return false
	}
	if !ea.Available || !eb.Available {
		return false
	}
	ea.Available = false
	eb.Available = false
	return true
}

// Holds reports whether phone is still registered on conn.
func (r *Registry) Holds(phone string, conn Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[phone]
	return ok && e.Conn == conn
}

// Release makes the agent available again, but only while it is still
// registered on conn. A newer connection for the same phone is left alone.
func (r *Registry) Release(phone string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[phone]
	if !ok || e.Conn != conn {
		return false
	}
	e.Available = true
	return true
}

// Await installs the confirmation slot for the next send to phone on conn.
// Only one slot may be outstanding per agent.
func (r *Registry) Await(phone string, conn Conn) (*Waiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.agents[phone]
	if !ok || e.Conn != conn {
		return nil, ErrNotRegistered
	}
	if e.waiter != nil {
		return nil, ErrConfirmPending
	}
	e.waiter = newWaiter()
	return e.waiter, nil
}

// Confirm resolves the pending confirmation for phone. It returns false, and
// changes nothing, when no confirmation is pending.
func (r *Registry) Confirm(phone string, success bool) bool {
	r.mu.Lock()
	e, ok := r.agents[phone]
	if !ok || e.waiter == nil {
		r.mu.Unlock()
		return false
	}
	w := e.waiter
	e.waiter = nil
	r.mu.Unlock()

	w.resolve(success)
	return true
}

// Cancel drops the pending confirmation for phone if it is still the one
// identified by requestID.
func (r *Registry) Cancel(phone, requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.agents[phone]; ok && e.waiter != nil && e.waiter.RequestID == requestID {
		e.waiter = nil
	}
}

func sortByPhone(agents []Agent) {
	sort.Slice(agents, func(i, j int) bool { return agents[i].Phone < agents[j].Phone })
}
