package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kindredhq/kindred/pkg/observability"
)

const (
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Outbound frames buffered per connection before Emit starts failing.
	sendBuffer = 256
)

// State is a connection's authorization state. Transitions are
// unauthenticated → challenged → authorized, or → rejected; both end
// states are terminal.
type State int32

const (
	StateUnauthenticated State = iota
	StateChallenged
	StateAuthorized
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateChallenged:
		return "challenged"
	case StateAuthorized:
		return "authorized"
	case StateRejected:
		return "rejected"
	default:
		return "unauthenticated"
	}
}

// envelope is the wire format for every websocket frame.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	ID    int64           `json:"id,omitempty"`
}

// AckFunc replies to the event that carried an ack correlation id. It is a
// no-op for events sent without one.
type AckFunc func(payload interface{})

// EventHandler processes one inbound event.
type EventHandler func(data json.RawMessage, ack AckFunc)

// Transport is the per-connection surface the handshake and registry work
// against. *Conn is the production implementation.
type Transport interface {
	ID() string
	Emit(event string, payload interface{}) error
	On(event string, handler EventHandler)
	OnDisconnect(fn func())
	SetState(s State)
	Close() error
}

// Conn wraps a websocket connection with named-event semantics. Inbound
// events are dispatched sequentially from the read loop, so no two handlers
// for the same connection ever run concurrently.
type Conn struct {
	id           string
	ws           *websocket.Conn
	logger       *observability.Logger
	writeTimeout time.Duration

	state atomic.Int32

	send chan envelope
	done chan struct{}

	mu           sync.RWMutex
	handlers     map[string]EventHandler
	onDisconnect []func()

	closeOnce sync.Once
}

// NewConn wraps an upgraded websocket connection. Run must be called to
// start pumping messages.
func NewConn(ws *websocket.Conn, logger *observability.Logger, writeTimeout time.Duration, maxMessageSize int64) *Conn {
	c := &Conn{
		id:           uuid.NewString(),
		ws:           ws,
		logger:       logger,
		writeTimeout: writeTimeout,
		send:         make(chan envelope, sendBuffer),
		done:         make(chan struct{}),
		handlers:     make(map[string]EventHandler),
	}

	if maxMessageSize > 0 {
		ws.SetReadLimit(maxMessageSize)
	}

	return c
}

// ID returns the transport-assigned connection identifier. IDs are unique
// per connection and never reused.
func (c *Conn) ID() string { return c.id }

// State returns the connection's authorization state.
func (c *Conn) State() State { return State(c.state.Load()) }

// SetState records an authorization state transition.
func (c *Conn) SetState(s State) { c.state.Store(int32(s)) }

// On registers the handler for an inbound event, replacing any previous
// handler for that event.
func (c *Conn) On(event string, handler EventHandler) {
	c.mu.Lock()
	c.handlers[event] = handler
	c.mu.Unlock()
}

// OnDisconnect registers a callback fired exactly once when the connection
// goes away, whether by peer disconnect or a local Close.
func (c *Conn) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.onDisconnect = append(c.onDisconnect, fn)
	c.mu.Unlock()
}

// Emit queues an event for delivery to the peer. It fails when the
// connection is closed or its send buffer is full; a slow or dead peer
// must not block the caller.
func (c *Conn) Emit(event string, payload interface{}) error {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("realtime: failed to marshal %s payload: %w", event, err)
		}
		data = b
	}

	env := envelope{Event: event, Data: data}

	select {
	case <-c.done:
		return fmt.Errorf("realtime: connection %s is closed", c.id)
	case c.send <- env:
		return nil
	default:
		return fmt.Errorf("realtime: send buffer full for connection %s", c.id)
	}
}

// emitAck replies to a client event that carried a correlation id.
func (c *Conn) emitAck(id int64, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: failed to marshal ack payload: %w", err)
	}

	select {
	case <-c.done:
		return fmt.Errorf("realtime: connection %s is closed", c.id)
	case c.send <- envelope{Event: "ack", Data: data, ID: id}:
		return nil
	default:
		return fmt.Errorf("realtime: send buffer full for connection %s", c.id)
	}
}

// Run pumps messages until the peer disconnects or Close is called. It
// blocks the calling goroutine with the read loop and owns the write loop.
func (c *Conn) Run() {
	go c.writePump()
	c.readPump()
}

func (c *Conn) readPump() {
	defer c.teardown()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).WithField("conn_id", c.id).Warn("websocket read error")
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.WithError(err).WithField("conn_id", c.id).Warn("dropping malformed websocket frame")
			continue
		}

		c.dispatch(env)
	}
}

func (c *Conn) dispatch(env envelope) {
	c.mu.RLock()
	handler := c.handlers[env.Event]
	c.mu.RUnlock()

	if handler == nil {
		c.logger.WithFields(map[string]interface{}{
			"conn_id": c.id,
			"event":   env.Event,
			"state":   c.State().String(),
		}).Debug("no handler for inbound event")
		return
	}

	ack := AckFunc(func(interface{}) {})
	if env.ID != 0 {
		id := env.ID
		ack = func(payload interface{}) {
			if err := c.emitAck(id, payload); err != nil {
				c.logger.WithError(err).WithField("conn_id", c.id).Warn("failed to send ack")
			}
		}
	}

	handler(env.Data, ack)
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case env := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteJSON(env); err != nil {
				c.logger.WithError(err).WithField("conn_id", c.id).Warn("websocket write error")
				c.teardown()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.teardown()
				return
			}
		}
	}
}

// Close terminates the transport. Safe to call multiple times and from any
// goroutine; disconnect callbacks fire exactly once.
func (c *Conn) Close() error {
	c.teardown()
	return nil
}

func (c *Conn) teardown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()

		c.mu.RLock()
		callbacks := make([]func(), len(c.onDisconnect))
		copy(callbacks, c.onDisconnect)
		c.mu.RUnlock()

		for _, fn := range callbacks {
			fn()
		}
	})
}
