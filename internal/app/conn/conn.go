/*
Package conn wraps a server-side WebSocket connection with the read/write pump pair used by
both transport realizations (socket rooms and the relay subscription stream).

A Conn owns a buffered outbound queue drained by WritePump, which also keeps the
connection alive with periodic pings. ReadPump hands every inbound text message to a
callback and returns when the peer goes away. Send never blocks: a full queue drops the
message and reports it, so one slow peer cannot stall a room's event loop.
*/
package conn

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"viewsync/internal/app/event"
	"viewsync/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// MaxMessageSize is the largest frame accepted from a peer.
	MaxMessageSize = event.MaxFrameSize

	// sendQueueSize is the capacity of the outbound queue.
	sendQueueSize = 256
)

// Conn is a single upgraded WebSocket connection.
type Conn struct {
	// ID is a server-generated connection id.
	ID string

	ws *websocket.Conn

	// send queues encoded frames for WritePump.
	send chan []byte

	// mu guards closed against concurrent Send/Close.
	mu     sync.RWMutex
	closed bool

	logger zerolog.Logger
}

// New wraps an upgraded connection.
func New(id string, ws *websocket.Conn, component string) *Conn {
	return &Conn{
		ID:     id,
		ws:     ws,
		send:   make(chan []byte, sendQueueSize),
		logger: logx.Logger().With().Str("component", component).Str("conn_id", id).Logger(),
	}
}

// Logger returns the connection-scoped logger.
func (c *Conn) Logger() *zerolog.Logger {
	return &c.logger
}

// Send queues msg for delivery. It returns false when the queue is full or the connection
// has been closed.
func (c *Conn) Send(msg []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Send queue full, dropping message")
		return false
	}
}

// Close closes the outbound queue; WritePump then sends a close frame and shuts the socket.
// It is safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump reads text messages until the peer disconnects or errors, handing each to
// handle. onClose runs exactly once when the loop ends.
func (c *Conn) ReadPump(handle func([]byte), onClose func()) {
	defer func() {
		onClose()

		if err := c.ws.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in ReadPump")
		}
	}()

	c.ws.SetReadLimit(MaxMessageSize)

	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Connection closed unexpectedly")
			}
			return
		}

		handle(message)
	}
}

// WritePump drains the outbound queue to the socket and sends heartbeat pings.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.ws.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in WritePump")
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedMessage writes one queued message, or a close frame when the queue was closed.
// It returns false when WritePump should stop.
func (c *Conn) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.ws.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Error().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

func (c *Conn) writePingMessage() bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}
