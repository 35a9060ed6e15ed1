package jianluochat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/jianluochat/jianluochat-sdk-go/jianluochat/internal"

	"github.com/coder/websocket"
)

// Client owns the single realtime connection to the JianLuoChat backend. It
// reconnects with exponential backoff after abnormal closes, keeps the
// connection alive with periodic pings, and dispatches parsed frames to
// registered handlers.
type Client struct {
	cfg        Config
	logger     Logger
	dispatcher *Dispatcher

	mu                sync.Mutex
	state             ConnectionState
	conn              *internal.Conn
	cancel            context.CancelFunc
	heartbeat         *time.Ticker
	reconnectAttempts int
	onStateChanged    func(StateEvent)

	// serializes frame writes; the websocket allows one writer at a time
	writeMu sync.Mutex

	// afterFunc schedules reconnect attempts; tests replace it to observe delays.
	afterFunc func(time.Duration, func()) *time.Timer
}

// NewClient constructs a transport client with the provided config.
// Use DefaultConfig() as a starting point and modify as needed.
func NewClient(cfg Config) *Client {
	c := &Client{
		cfg:       cfg,
		logger:    noopLogger{},
		state:     StateDisconnected,
		afterFunc: time.AfterFunc,
	}
	c.dispatcher = NewDispatcher(c.logger)
	return c
}

// SetLogger overrides logger (optional).
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
	c.dispatcher.logger = l
}

// OnStateChanged registers a callback for connection state transitions.
func (c *Client) OnStateChanged(fn func(StateEvent)) {
	c.mu.Lock()
	c.onStateChanged = fn
	c.mu.Unlock()
}

// On registers a handler for a logical event. Handlers for the same event
// fire synchronously in registration order.
func (c *Client) On(ev Event, h Handler) Subscription { return c.dispatcher.On(ev, h) }

// Off removes a handler registered with On.
func (c *Client) Off(sub Subscription) { c.dispatcher.Off(sub) }

// OnMessage registers a callback for room chat messages.
func (c *Client) OnMessage(fn func(MessageEvent)) Subscription {
	return c.On(EventMessage, c.messageAdapter(fn))
}

// OnWorldMessage registers a callback for world channel messages.
func (c *Client) OnWorldMessage(fn func(MessageEvent)) Subscription {
	return c.On(EventWorld, c.messageAdapter(fn))
}

// OnTyping registers a callback for typing indicators.
func (c *Client) OnTyping(fn func(TypingEvent)) Subscription {
	return c.On(EventTyping, func(f Frame) {
		if len(f.Data) == 0 {
			return
		}
		var p TypingPayload
		if err := UnmarshalData(f.Data, &p); err != nil {
			c.logger.Warn("malformed typing payload", map[string]any{"error": err.Error()})
			return
		}
		fn(TypingEvent{RoomID: p.RoomID, UserID: p.UserID, IsTyping: p.IsTyping})
	})
}

// OnError registers a callback for ERROR frames reported by the server.
func (c *Client) OnError(fn func(error)) Subscription {
	return c.On(EventError, func(f Frame) {
		fn(NewError(ErrorServer, f.Message))
	})
}

func (c *Client) messageAdapter(fn func(MessageEvent)) Handler {
	return func(f Frame) {
		if len(f.Data) == 0 {
			return
		}
		var p MessagePayload
		if err := UnmarshalData(f.Data, &p); err != nil {
			c.logger.Warn("malformed message payload", map[string]any{"error": err.Error()})
			return
		}
		fn(MessageEvent{
			ID:        p.EventID,
			RoomID:    p.RoomID,
			Sender:    p.Sender,
			Content:   p.Message,
			Timestamp: p.Timestamp,
		})
	}
}

// Connect dials the realtime endpoint and starts the read loop and heartbeat.
// Without a token it logs a warning and stays disconnected; that is a
// recoverable precondition, not an error. Any previous socket is closed
// before the new dial.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.Token == "" {
		c.logger.Warn("cannot connect: no authentication token", nil)
		return nil
	}

	c.teardownConn(websocket.StatusNormalClosure, "reconnecting")
	c.setState(StateConnecting, nil)

	dialCtx := ctx
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}

	ws, _, err := websocket.Dial(dialCtx, WebSocketURL(c.cfg.BaseURL, c.cfg.Token), nil)
	if err != nil {
		cerr := WrapError(ErrorConnection, "dial failed", err)
		c.setState(StateDisconnected, cerr)
		c.scheduleReconnect()
		return cerr
	}

	runCtx, cancel := context.WithCancel(context.Background())
	conn := internal.NewConn(ws, c.cfg.ReadTimeout, c.cfg.WriteTimeout)

	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.reconnectAttempts = 0
	c.mu.Unlock()
	c.setState(StateConnected, nil)
	wsConnected.Set(1)

	go c.readLoop(runCtx, conn)
	c.startHeartbeat(runCtx)
	c.logger.Info("websocket connected", map[string]any{"base_url": c.cfg.BaseURL})
	return nil
}

// Disconnect stops the heartbeat and closes the socket. Idempotent; no
// reconnect is scheduled after an explicit disconnect.
func (c *Client) Disconnect() error {
	c.setState(StateClosed, nil)
	c.teardownConn(websocket.StatusNormalClosure, "client close")
	return nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the socket is open.
func (c *Client) IsConnected() bool { return c.State() == StateConnected }

// Send writes a typed envelope to the socket. If the socket is not open the
// frame is dropped with a logged warning and a not-connected error; frames
// are never queued.
func (c *Client) Send(ctx context.Context, frameType, message string, data any) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateConnected
	c.mu.Unlock()
	if !open || conn == nil {
		c.logger.Warn("websocket not connected, dropping frame", map[string]any{"type": frameType})
		wsFramesDroppedTotal.Inc()
		return NewError(ErrorNotConnected, "websocket not connected")
	}

	f := OutFrame{
		Type:      frameType,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.writeMu.Lock()
	err := conn.Write(ctx, f)
	c.writeMu.Unlock()
	if err != nil {
		return WrapError(ErrorConnection, "write failed", err)
	}
	wsFramesSentTotal.WithLabelValues(frameType).Inc()
	return nil
}

// SendChatMessage publishes a chat message to a room.
func (c *Client) SendChatMessage(ctx context.Context, roomID, content string) error {
	return c.Send(ctx, TypeChatMessage, content, ChatMessagePayload{RoomID: roomID, Content: content})
}

// SendWorldMessage publishes a message to the world channel.
func (c *Client) SendWorldMessage(ctx context.Context, content string) error {
	return c.Send(ctx, TypeWorldMessage, content, WorldMessagePayload{Content: content})
}

// JoinWorld subscribes this connection to the world broadcast channel.
func (c *Client) JoinWorld(ctx context.Context) error {
	return c.Send(ctx, TypeJoinWorld, "join", nil)
}

// SendTypingIndicator signals composing state for a room.
func (c *Client) SendTypingIndicator(ctx context.Context, roomID string, isTyping bool) error {
	msg := "user stopped typing"
	if isTyping {
		msg = "user is typing"
	}
	return c.Send(ctx, TypeTyping, msg, TypingPayload{RoomID: roomID, IsTyping: isTyping})
}

// Ping sends a heartbeat frame.
func (c *Client) Ping(ctx context.Context) error {
	return c.Send(ctx, TypePing, "ping", nil)
}

func (c *Client) readLoop(ctx context.Context, conn *internal.Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if isExpectedDisconnect(ctx, err) {
				return
			}
			c.logger.Warn("read loop exit", map[string]any{"error": err.Error()})
			c.handleDisconnect(WrapError(ErrorConnection, "connection lost", err))
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			// Malformed frame: drop it, keep the connection.
			c.logger.Warn("dropping malformed frame", map[string]any{"error": err.Error()})
			continue
		}
		wsFramesReceivedTotal.WithLabelValues(f.Type).Inc()
		c.dispatcher.Dispatch(f)
	}
}

func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	closed := c.state == StateClosed
	c.mu.Unlock()
	if closed {
		return
	}

	c.teardownConn(websocket.StatusInternalError, "connection lost")
	c.setState(StateDisconnected, err)
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	if c.reconnectAttempts >= c.cfg.MaxReconnectAttempts {
		c.mu.Unlock()
		c.setState(StateExhausted, nil)
		c.logger.Error("max reconnection attempts reached", map[string]any{
			"attempts": c.cfg.MaxReconnectAttempts,
		})
		return
	}
	c.reconnectAttempts++
	attempt := c.reconnectAttempts
	c.mu.Unlock()

	delay := c.backoff(attempt)
	c.setState(StateReconnecting, nil)
	wsReconnectsTotal.Inc()
	c.logger.Info("scheduling reconnect", map[string]any{
		"attempt":  attempt,
		"max":      c.cfg.MaxReconnectAttempts,
		"delay_ms": delay.Milliseconds(),
	})
	c.afterFunc(delay, func() {
		_ = c.Connect(context.Background())
	})
}

// backoff doubles the base delay per attempt: base * 2^(attempt-1).
func (c *Client) backoff(attempt int) time.Duration {
	return c.cfg.ReconnectDelay * time.Duration(1<<uint(attempt-1))
}

func (c *Client) startHeartbeat(ctx context.Context) {
	if c.cfg.HeartbeatInterval <= 0 {
		return
	}
	t := time.NewTicker(c.cfg.HeartbeatInterval)
	c.mu.Lock()
	c.heartbeat = t
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-t.C:
				// Ping only while open. Reconnection is driven solely by the
				// close/error path, never from here.
				if c.IsConnected() {
					_ = c.Ping(ctx)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// teardownConn stops the heartbeat, cancels the loops and closes the socket
// if one is live. Safe to call with no connection.
func (c *Client) teardownConn(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	c.cancel = nil
	hb := c.heartbeat
	c.heartbeat = nil
	c.mu.Unlock()

	if hb != nil {
		hb.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(code, reason)
		wsConnected.Set(0)
	}
}

func (c *Client) setState(newState ConnectionState, err error) {
	c.mu.Lock()
	old := c.state
	c.state = newState
	fn := c.onStateChanged
	c.mu.Unlock()

	if old == newState {
		return
	}
	if fn != nil {
		fn(StateEvent{OldState: old, NewState: newState, Error: err})
	}
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
