// Package agentclient is the agent side of the keepalive protocol: it joins a
// room and performs the sends the server asks for.
package agentclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nicebartender/keepalive-server/ws"
)

var (
	ErrNotConnected  = errors.New("not connected")
	ErrJoinRejected  = errors.New("join rejected")
	ErrRequestBusy   = errors.New("request of this type already in flight")
	ErrConnectionEnd = errors.New("connection closed")
)

// DeliverFunc performs one send on behalf of the server. A nil error is
// reported back as a successful send.
type DeliverFunc func(ctx context.Context, targetPhone, message string) error

type Client struct {
	url     string
	deliver DeliverFunc
	logger  *slog.Logger

	conn      *websocket.Conn
	connected bool
	mu        sync.Mutex
	writeMu   sync.Mutex

	// replies waiting for a frame of a given type; the protocol has no
	// request ids, so at most one request per reply type is in flight
	pending   map[string]chan ws.Envelope
	pendingMu sync.Mutex

	counts chan ws.RoomAgentCount
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewClient(serverURL string, deliver DeliverFunc, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:     serverURL,
		deliver: deliver,
		logger:  logger.With("component", "agentclient"),
		pending: make(map[string]chan ws.Envelope),
		counts:  make(chan ws.RoomAgentCount, 16),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AgentURL turns a server address into the agent channel URL. A bare host,
// an http(s) URL or a ws(s) URL are all accepted; the path defaults to
// /ws/ext.
func AgentURL(server string) (string, error) {
	if !strings.Contains(server, "://") {
		server = "ws://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", server)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws/ext"
	}
	return u.String(), nil
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Counts delivers the room occupancy updates pushed by the server. Updates
// are dropped when nobody reads them.
func (c *Client) Counts() <-chan ws.RoomAgentCount { return c.counts }

func (c *Client) Connect(ctx context.Context) error {
	wsURL, err := AgentURL(c.url)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop()

	c.logger.Info("connected", "url", wsURL)
	return nil
}

// Close ends the connection and waits for in-flight deliveries to return.
func (c *Client) Close() {
	c.cancel()
	c.mu.Lock()
	c.connected = false
	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Client) readLoop() {
	defer func() {
		close(c.done)
		c.cancel()
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debug("read loop ended", "err", err)
			return
		}

		var msg ws.Envelope
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Warn("unreadable frame", "err", err)
			continue
		}

		switch msg.Type {
		case ws.TypeSendMessage:
			c.handleSendMessage(msg)
		case ws.TypeRoomAgentCount:
			var count ws.RoomAgentCount
			if msg.Decode(&count) == nil {
				select {
				case c.counts <- count:
				default:
				}
			}
		case ws.TypeError:
			var data ws.ErrorData
			msg.Decode(&data)
			c.logger.Warn("server error", "message", data.Message)
			// a join waiting for its answer gets the error instead
			c.resolve(ws.TypeJoined, msg)
		default:
			if !c.resolve(msg.Type, msg) {
				c.logger.Debug("unsolicited frame", "type", msg.Type)
			}
		}
	}
}

func (c *Client) resolve(replyType string, msg ws.Envelope) bool {
	c.pendingMu.Lock()
	ch, ok := c.pending[replyType]
	if ok {
		delete(c.pending, replyType)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- msg
	}
	return ok
}

func (c *Client) write(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}

// request sends an instruction and waits for the first frame of replyType.
func (c *Client) request(ctx context.Context, typ string, data any, replyType string) (ws.Envelope, error) {
	ch := make(chan ws.Envelope, 1)
	c.pendingMu.Lock()
	if _, busy := c.pending[replyType]; busy {
		c.pendingMu.Unlock()
		return ws.Envelope{}, ErrRequestBusy
	}
	c.pending[replyType] = ch
	c.pendingMu.Unlock()

	drop := func() {
		c.pendingMu.Lock()
		if c.pending[replyType] == ch {
			delete(c.pending, replyType)
		}
		c.pendingMu.Unlock()
	}

	if err := c.write(ws.NewEvent(typ, data)); err != nil {
		drop()
		return ws.Envelope{}, err
	}

	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		drop()
		return ws.Envelope{}, ctx.Err()
	case <-c.done:
		drop()
		return ws.Envelope{}, ErrConnectionEnd
	}
}

// Join enters a room as phone.
func (c *Client) Join(ctx context.Context, phone, roomID, password string) (ws.Joined, error) {
	msg, err := c.request(ctx, ws.TypeJoin, ws.JoinParams{Phone: phone, RoomID: roomID, Password: password}, ws.TypeJoined)
	if err != nil {
		return ws.Joined{}, fmt.Errorf("join: %w", err)
	}
	if msg.Type == ws.TypeError {
		var data ws.ErrorData
		msg.Decode(&data)
		return ws.Joined{}, fmt.Errorf("%w: %s", ErrJoinRejected, data.Message)
	}

	var joined ws.Joined
	if err := msg.Decode(&joined); err != nil {
		return ws.Joined{}, fmt.Errorf("decode joined: %w", err)
	}
	if !joined.Success {
		return joined, fmt.Errorf("%w: %s", ErrJoinRejected, joined.Error)
	}
	return joined, nil
}

// Leave gives up the room seat while keeping the connection open.
func (c *Client) Leave() error {
	return c.write(ws.NewEvent(ws.TypeLeave, nil))
}

func (c *Client) Rooms(ctx context.Context) ([]ws.RoomInfo, error) {
	msg, err := c.request(ctx, ws.TypeGetRooms, nil, ws.TypeRooms)
	if err != nil {
		return nil, fmt.Errorf("get-rooms: %w", err)
	}
	var rooms []ws.RoomInfo
	if err := msg.Decode(&rooms); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return rooms, nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.request(ctx, ws.TypePing, nil, ws.TypePong)
	return err
}

// handleSendMessage runs the delivery off the read loop and reports the
// outcome.
func (c *Client) handleSendMessage(msg ws.Envelope) {
	var req ws.SendMessage
	if err := msg.Decode(&req); err != nil {
		c.logger.Warn("bad send-message", "err", err)
		c.write(ws.NewEvent(ws.TypeMessageSent, ws.MessageSentParams{Success: false}))
		return
	}

	if c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		success := false
		if c.deliver != nil {
			err := c.deliver(c.ctx, req.TargetPhone, req.Message)
			if err != nil {
				c.logger.Warn("delivery failed", "target", req.TargetPhone, "err", err)
			}
			success = err == nil
		}
		if err := c.write(ws.NewEvent(ws.TypeMessageSent, ws.MessageSentParams{Success: success})); err != nil {
			c.logger.Warn("report delivery failed", "err", err)
		}
	}()
}
