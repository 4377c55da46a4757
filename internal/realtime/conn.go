// Package realtime implements the persistent duplex channel to the backend.
// It carries push notifications (new messages, presence) and relays call
// signaling. Events are JSON envelopes; handlers are registered per event
// name and registering a handler for an event replaces any existing one.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// Max inbound message size. Pushes are small; images travel over HTTP.
	readLimit = 64 * 1024
)

// ErrClosed is returned by Emit after the connection has been closed.
var ErrClosed = errors.New("realtime: connection closed")

// Envelope is the wire format for both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Conn is a connected duplex channel. All exported methods are safe for
// concurrent use. Inbound events are dispatched in arrival order from a
// single reader goroutine.
type Conn struct {
	ws     *websocket.Conn
	logger *zap.Logger

	hmu      sync.RWMutex
	handlers map[string]func(data json.RawMessage)

	sendCh    chan Envelope
	done      chan struct{}
	closeOnce sync.Once
	connected atomic.Bool
}

// Dial opens the channel. userID is passed as a query parameter so the
// backend can associate the connection with the authenticated user.
func Dial(rawURL, userID string, logger *zap.Logger) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set("userId", userID)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	c := &Conn{
		ws:       ws,
		logger:   logger,
		handlers: make(map[string]func(json.RawMessage)),
		sendCh:   make(chan Envelope, 16),
		done:     make(chan struct{}),
	}
	c.connected.Store(true)

	go c.readLoop()
	go c.writeLoop()

	logger.Info("realtime channel connected", zap.String("user_id", userID))
	return c, nil
}

// On registers the handler for an event, replacing any existing handler.
func (c *Conn) On(event string, fn func(data json.RawMessage)) {
	c.hmu.Lock()
	c.handlers[event] = fn
	c.hmu.Unlock()
}

// Off removes the handler for an event. No-op if none is registered.
func (c *Conn) Off(event string) {
	c.hmu.Lock()
	delete(c.handlers, event)
	c.hmu.Unlock()
}

// Emit queues an outbound event. Returns ErrClosed after Close, or an
// error if the write queue stays full for longer than the write deadline.
func (c *Conn) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	env := Envelope{Event: event, Data: data}

	select {
	case <-c.done:
		return ErrClosed
	case c.sendCh <- env:
		return nil
	case <-time.After(writeWait):
		return fmt.Errorf("emit %s: write queue full", event)
	}
}

// Connected reports whether the channel is still usable.
func (c *Conn) Connected() bool {
	return c.connected.Load()
}

// Close shuts the channel down. Idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
	return nil
}

func (c *Conn) readLoop() {
	defer func() { _ = c.Close() }()

	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
				// Closed locally, expected.
			default:
				c.logger.Warn("realtime read failed", zap.Error(err))
			}
			return
		}

		c.hmu.RLock()
		fn := c.handlers[env.Event]
		c.hmu.RUnlock()

		if fn == nil {
			continue
		}
		fn(env.Data)
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case env := <-c.sendCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(env); err != nil {
				c.logger.Warn("realtime write failed", zap.String("event", env.Event), zap.Error(err))
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
