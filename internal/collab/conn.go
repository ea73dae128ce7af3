package collab

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devroom-ai/devroom/internal/sandbox"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. File trees ride along with
	// chat messages, so this is generous.
	maxMessageSize = 1 << 20

	// Outbound queue depth per connection.
	sendBuffer = 64
)

// Conn is one admitted socket connection: the websocket plus the identity
// and room resolved by the gate, and a buffered outbound queue drained by
// the write pump.
type Conn struct {
	ws       *websocket.Conn
	identity Identity
	roomID   string

	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	// runner is the session's execution supervisor, created on the first
	// run request and torn down with the connection.
	runnerMu sync.Mutex
	runner   *sandbox.Supervisor
}

// NewConn wraps an upgraded websocket with its admitted identity and room.
func NewConn(ws *websocket.Conn, identity Identity, roomID string) *Conn {
	return &Conn{
		ws:       ws,
		identity: identity,
		roomID:   roomID,
		send:     make(chan []byte, sendBuffer),
		closed:   make(chan struct{}),
	}
}

// Identity returns the connection's authenticated identity.
func (c *Conn) Identity() Identity { return c.identity }

// RoomID returns the room the connection was admitted to.
func (c *Conn) RoomID() string { return c.roomID }

// enqueue queues a frame for delivery. Returns false when the outbound
// queue is full or the connection is closed; the caller decides what to
// do with the straggler.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close shuts the connection down once. The write pump notices the closed
// channel and drops out; the websocket close unblocks the read pump.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

// ensureRunner returns the connection's supervisor, creating it with the
// factory on first use. Returns nil when no factory is configured.
func (c *Conn) ensureRunner(factory func() *sandbox.Supervisor) *sandbox.Supervisor {
	if factory == nil {
		return nil
	}
	c.runnerMu.Lock()
	defer c.runnerMu.Unlock()
	if c.runner == nil {
		c.runner = factory()
	}
	return c.runner
}

// currentRunner returns the supervisor if one has been created.
func (c *Conn) currentRunner() *sandbox.Supervisor {
	c.runnerMu.Lock()
	defer c.runnerMu.Unlock()
	return c.runner
}

// Run services the connection: it joins the room, starts the write pump,
// and reads inbound events until the peer disconnects. It blocks until the
// connection is finished and always leaves the registry on the way out.
func (c *Conn) Run(router *Router, registry *Registry) {
	registry.Join(c, c.roomID)
	defer func() {
		registry.Leave(c)
		c.close()
		if runner := c.currentRunner(); runner != nil {
			if err := runner.Teardown(); err != nil {
				log.Printf("[Conn] Sandbox teardown for user %s: %v", c.identity.UserID, err)
			}
		}
	}()

	go c.writePump()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Conn] Read error for user %s: %v", c.identity.UserID, err)
			}
			return
		}
		router.HandleIncoming(c, payload)
	}
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with periodic pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
