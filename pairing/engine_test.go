package pairing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicebartender/keepalive-server/activity"
	"github.com/nicebartender/keepalive-server/db"
	"github.com/nicebartender/keepalive-server/registry"
	"github.com/nicebartender/keepalive-server/ws"
)

var errConnClosed = errors.New("connection closed")

type recorded struct {
	roomID  string
	kind    activity.Kind
	message string
}

type recorder struct {
	mu       sync.Mutex
	entries  []recorded
	statuses int
}

func (r *recorder) Record(roomID string, kind activity.Kind, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recorded{roomID, kind, message})
}

func (r *recorder) PublishStatus() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses++
}

func (r *recorder) count(kind activity.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.kind == kind {
			n++
		}
	}
	return n
}

// agent is a scripted agent connection. reply decides, per attempt, whether
// the agent confirms and with which result.
type agent struct {
	phone  string
	reg    *registry.Registry
	reply  func(attempt int) (confirm, success bool)
	onSend func(a *agent)
	closed atomic.Bool

	mu     sync.Mutex
	sends  []ws.SendMessage
	sentAt []time.Time
}

func (a *agent) SendJSON(v any) error {
	if a.closed.Load() {
		return errConnClosed
	}
	ev, ok := v.(ws.Event)
	if !ok || ev.Type != ws.TypeSendMessage {
		return nil
	}
	a.mu.Lock()
	a.sends = append(a.sends, ev.Data.(ws.SendMessage))
	a.sentAt = append(a.sentAt, time.Now())
	n := len(a.sends)
	a.mu.Unlock()

	if a.onSend != nil {
		a.onSend(a)
	}
	confirm, success := true, true
	if a.reply != nil {
		confirm, success = a.reply(n)
	}
	if confirm {
		go a.reg.Confirm(a.phone, success)
	}
	return nil
}

func (a *agent) IsOpen() bool { return !a.closed.Load() }
func (a *agent) Close()       { a.closed.Store(true) }

func (a *agent) sent() []ws.SendMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ws.SendMessage(nil), a.sends...)
}

func (a *agent) firstSendAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sentAt) == 0 {
		return time.Time{}
	}
	return a.sentAt[0]
}

// logBuffer collects engine log output.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	engine   *Engine
	registry *registry.Registry
	db       *db.DB
	rec      *recorder
	logs     *logBuffer
}

func testTiming() Timing {
	return Timing{
		TickInterval:   20 * time.Millisecond,
		ConfirmTimeout: 150 * time.Millisecond,
		RetryBackoff:   0,
		MaxAttempts:    2,
	}
}

func newHarness(t *testing.T, messages ...string) *harness {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	ctx := context.Background()
	for _, m := range messages {
		_, err := database.CreateMessage(ctx, m)
		require.NoError(t, err)
	}

	reg := registry.New(nil, nil)
	rec := &recorder{}
	logs := &logBuffer{}
	engine := NewEngine(Config{
		Rooms:    database,
		Messages: database,
		Registry: reg,
		Reporter: rec,
		Timing:   testTiming(),
		Logger:   slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	t.Cleanup(engine.Close)
	return &harness{engine: engine, registry: reg, db: database, rec: rec, logs: logs}
}

func (h *harness) room(t *testing.T, minSec, maxSec int) *db.Room {
	t.Helper()
	room, err := h.db.CreateRoom(context.Background(), "Lobby", "", minSec, maxSec)
	require.NoError(t, err)
	return room
}

func (h *harness) join(phone, roomID string) *agent {
	a := &agent{phone: phone, reg: h.registry}
	h.registry.Register(phone, roomID, a)
	return a
}

func (h *harness) available(roomID string) int {
	return len(h.registry.ListAvailable(roomID))
}

func TestExchangeDeliversBothDirections(t *testing.T) {
	h := newHarness(t, "hi")
	room := h.room(t, 1, 1)
	a := h.join("5491100000001", room.ID)
	b := h.join("5491100000002", room.ID)

	start := time.Now()
	require.Equal(t, 1, h.engine.Tick(context.Background(), room.ID))
	assert.Equal(t, 0, h.available(room.ID))
	assert.Len(t, h.engine.Pairs(room.ID), 1)
	assert.Equal(t, 1, h.rec.count(activity.KindPair))

	require.Eventually(t, func() bool { return h.rec.count(activity.KindDone) == 1 }, 5*time.Second, 10*time.Millisecond)
	for _, ag := range []*agent{a, b} {
		delay := ag.firstSendAt().Sub(start)
		assert.GreaterOrEqual(t, delay, time.Second, "sent before minInterval")
		assert.Less(t, delay, 1500*time.Millisecond, "sent well after maxInterval")
	}

	assert.Equal(t, []ws.SendMessage{{TargetPhone: "5491100000002", Message: "hi"}}, a.sent())
	assert.Equal(t, []ws.SendMessage{{TargetPhone: "5491100000001", Message: "hi"}}, b.sent())
	assert.Equal(t, 2, h.rec.count(activity.KindMessage))
	assert.Equal(t, 0, h.rec.count(activity.KindError))
	assert.Equal(t, 2, h.available(room.ID))
	assert.Empty(t, h.engine.Pairs(room.ID))
}

func TestExchangeSurvivesPeerDrop(t *testing.T) {
	h := newHarness(t, "hola", "que tal")
	room := h.room(t, 0, 0)
	a := h.join("5491100000001", room.ID)
	b := h.join("5491100000002", room.ID)
	b.reply = func(int) (bool, bool) { return false, false }
	b.onSend = func(self *agent) {
		go func() {
			self.Close()
			h.registry.UnregisterConn(self.phone, self)
		}()
	}

	require.Equal(t, 1, h.engine.Tick(context.Background(), room.ID))
	require.Eventually(t, func() bool { return h.rec.count(activity.KindDone) == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Len(t, a.sent(), 1)
	assert.Len(t, b.sent(), 1, "no retry once the agent is gone")
	assert.Equal(t, 1, h.rec.count(activity.KindMessage))
	assert.Equal(t, 1, h.rec.count(activity.KindError))

	got, ok := h.registry.Get("5491100000001")
	require.True(t, ok)
	assert.True(t, got.Available)
	assert.False(t, h.registry.Has("5491100000002"))
}

func TestExchangeAbortsWhenAgentLeftDuringDelay(t *testing.T) {
	h := newHarness(t, "hola")
	room := h.room(t, 1, 1)
	a := h.join("5491100000001", room.ID)
	b := h.join("5491100000002", room.ID)

	require.Equal(t, 1, h.engine.Tick(context.Background(), room.ID))
	h.registry.UnregisterConn(b.phone, b)

	require.Eventually(t, func() bool { return h.rec.count(activity.KindDone) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.rec.count(activity.KindDisconnect))
	assert.Empty(t, a.sent())
	assert.Equal(t, 1, h.available(room.ID))
}

func TestTickPairsOnlyWhatFits(t *testing.T) {
	h := newHarness(t, "hola")
	room := h.room(t, 5, 5)
	h.join("5491100000001", room.ID)
	h.join("5491100000002", room.ID)
	h.join("5491100000003", room.ID)

	assert.Equal(t, 1, h.engine.Tick(context.Background(), room.ID))
	assert.Equal(t, 1, h.available(room.ID))
	assert.Len(t, h.engine.Pairs(room.ID), 1)

	// the leftover agent alone cannot be paired
	assert.Equal(t, 0, h.engine.Tick(context.Background(), room.ID))
}

func TestTickWithEmptyPoolMarksNobodyBusy(t *testing.T) {
	h := newHarness(t)
	room := h.room(t, 0, 0)
	h.join("5491100000001", room.ID)
	h.join("5491100000002", room.ID)

	assert.Equal(t, 0, h.engine.Tick(context.Background(), room.ID))
	assert.Equal(t, 2, h.available(room.ID))
	assert.Empty(t, h.engine.Pairs(room.ID))
	assert.Equal(t, 0, h.rec.count(activity.KindPair))
	_, ok := h.engine.LastPartner("5491100000001")
	assert.False(t, ok)

	logs := h.logs.String()
	assert.Contains(t, logs, "level=WARN")
	assert.Contains(t, logs, "no messages configured, skipping pairing")
}

func TestTickUnknownRoom(t *testing.T) {
	h := newHarness(t, "hola")
	h.join("5491100000001", "missing")
	h.join("5491100000002", "missing")

	assert.Equal(t, 0, h.engine.Tick(context.Background(), "missing"))
	assert.Equal(t, 2, h.available("missing"))
}

func TestTickAvoidsLastPartner(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t, "hola")
		room := h.room(t, 5, 5)
		h.join("5491100000001", room.ID)
		h.join("5491100000002", room.ID)
		h.join("5491100000003", room.ID)
		h.engine.setPartners("5491100000001", "5491100000002")

		require.Equal(t, 1, h.engine.Tick(context.Background(), room.ID))
		pairs := h.engine.Pairs(room.ID)
		require.Len(t, pairs, 1)
		got := map[string]bool{pairs[0].PhoneA: true, pairs[0].PhoneB: true}
		assert.False(t, got["5491100000001"] && got["5491100000002"], "repeated last partners")
		assert.True(t, got["5491100000003"])
	}
}

func TestTickFallsBackToLastPartner(t *testing.T) {
	h := newHarness(t, "hola")
	room := h.room(t, 5, 5)
	h.join("5491100000001", room.ID)
	h.join("5491100000002", room.ID)
	h.engine.setPartners("5491100000001", "5491100000002")

	assert.Equal(t, 1, h.engine.Tick(context.Background(), room.ID))
	p, ok := h.engine.LastPartner("5491100000001")
	require.True(t, ok)
	assert.Equal(t, "5491100000002", p)
}

func TestDeliverRetriesOnce(t *testing.T) {
	h := newHarness(t, "hola")
	room := h.room(t, 0, 0)
	a := h.join("5491100000001", room.ID)
	a.reply = func(n int) (bool, bool) { return true, n > 1 }
	h.join("5491100000002", room.ID)

	require.Equal(t, 1, h.engine.Tick(context.Background(), room.ID))
	require.Eventually(t, func() bool { return h.rec.count(activity.KindDone) == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Len(t, a.sent(), 2)
	assert.Equal(t, 2, h.rec.count(activity.KindMessage))
	assert.Equal(t, 0, h.rec.count(activity.KindError))
}

func TestDeliverGivesUpAfterTimeouts(t *testing.T) {
	h := newHarness(t, "hola")
	room := h.room(t, 0, 0)
	a := h.join("5491100000001", room.ID)
	a.reply = func(int) (bool, bool) { return false, false }
	b := h.join("5491100000002", room.ID)

	require.Equal(t, 1, h.engine.Tick(context.Background(), room.ID))
	require.Eventually(t, func() bool { return h.rec.count(activity.KindDone) == 1 }, 3*time.Second, 10*time.Millisecond)

	assert.Len(t, a.sent(), 2)
	assert.Len(t, b.sent(), 1)
	assert.Equal(t, 1, h.rec.count(activity.KindMessage))
	assert.Equal(t, 1, h.rec.count(activity.KindError))

	// a late confirmation after the timeout changes nothing
	assert.False(t, h.registry.Confirm("5491100000001", true))
	assert.Equal(t, 2, h.available(room.ID))
}

func TestClosedConnectionFailsWithoutSending(t *testing.T) {
	h := newHarness(t, "hola")
	room := h.room(t, 0, 0)
	a := h.join("5491100000001", room.ID)
	a.Close()
	h.join("5491100000002", room.ID)

	require.Equal(t, 1, h.engine.Tick(context.Background(), room.ID))
	require.Eventually(t, func() bool { return h.rec.count(activity.KindDone) == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, a.sent())
	assert.Equal(t, 1, h.rec.count(activity.KindError))
}

func TestCooldownAfterExchange(t *testing.T) {
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	defer database.Close()
	ctx := context.Background()
	_, err = database.CreateMessage(ctx, "hola")
	require.NoError(t, err)
	room, err := database.CreateRoom(ctx, "Lobby", "", 0, 0)
	require.NoError(t, err)

	cd := registry.NewCooldown(300 * time.Millisecond)
	defer cd.Close()
	reg := registry.New(cd, nil)
	rec := &recorder{}
	engine := NewEngine(Config{Rooms: database, Messages: database, Registry: reg, Cooldown: cd, Reporter: rec, Timing: testTiming()})
	defer engine.Close()

	reg.Register("5491100000001", room.ID, &agent{phone: "5491100000001", reg: reg})
	reg.Register("5491100000002", room.ID, &agent{phone: "5491100000002", reg: reg})

	require.Equal(t, 1, engine.Tick(ctx, room.ID))
	require.Eventually(t, func() bool { return rec.count(activity.KindDone) == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, engine.Tick(ctx, room.ID))
	assert.Eventually(t, func() bool { return len(reg.ListAvailable(room.ID)) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, "hola")
	room := h.room(t, 5, 5)
	h.join("5491100000001", room.ID)
	h.join("5491100000002", room.ID)

	assert.True(t, h.engine.Start(room.ID))
	assert.False(t, h.engine.Start(room.ID))
	assert.True(t, h.engine.Running(room.ID))

	require.Eventually(t, func() bool { return h.rec.count(activity.KindPair) == 1 }, time.Second, 10*time.Millisecond)

	assert.True(t, h.engine.Stop(room.ID))
	assert.False(t, h.engine.Stop(room.ID))
	assert.False(t, h.engine.Running(room.ID))

	h.engine.Close()
	assert.False(t, h.engine.Start(room.ID))
	assert.Equal(t, 1, h.rec.count(activity.KindDone), "close cancels exchanges and cleans up")
	assert.Equal(t, 2, h.available(room.ID))
}

func TestStopIfEmpty(t *testing.T) {
	h := newHarness(t, "hola")
	room := h.room(t, 5, 5)

	assert.False(t, h.engine.StopIfEmpty(room.ID, func() bool { return true }), "nothing running")

	require.True(t, h.engine.Start(room.ID))
	assert.False(t, h.engine.StopIfEmpty(room.ID, func() bool { return false }))
	assert.True(t, h.engine.Running(room.ID))

	// a join racing the check blocks in Start until the stop is done, then
	// starts a fresh ticker
	started := make(chan bool, 1)
	stopped := h.engine.StopIfEmpty(room.ID, func() bool {
		go func() { started <- h.engine.Start(room.ID) }()
		time.Sleep(20 * time.Millisecond)
		return true
	})
	assert.True(t, stopped)
	select {
	case ok := <-started:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("concurrent start never ran")
	}
	assert.True(t, h.engine.Running(room.ID))
}

func TestSnapshot(t *testing.T) {
	h := newHarness(t, "hola")
	room := h.room(t, 5, 5)
	h.join("5491100000001", room.ID)
	h.join("5491100000002", room.ID)
	h.join("5491100000003", room.ID)
	require.Equal(t, 1, h.engine.Tick(context.Background(), room.ID))

	st, err := h.engine.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, st.Rooms, 1)
	rs := st.Rooms[0]
	assert.Equal(t, room.ID, rs.ID)
	assert.Equal(t, "Lobby", rs.Name)
	assert.Equal(t, 3, rs.ActiveCount)
	assert.Equal(t, 2, rs.BusyCount)
	assert.Len(t, rs.ActiveAgents, 3)
	require.Len(t, rs.ActivePairs, 1)
	assert.Equal(t, "hola", rs.ActivePairs[0].MessageA)

	assert.IsType(t, Status{}, h.engine.Status(context.Background()))
}
