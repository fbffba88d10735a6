package ws

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// client is one connected WebSocket viewer. It implements Transport.
type client struct {
	conn *websocket.Conn
	send chan []byte
	open atomic.Bool

	// closed reports whether send has been closed. Hub goroutine only.
	closed bool
}

func newClient(conn *websocket.Conn, bufSize int) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, bufSize),
	}
	c.open.Store(true)
	return c
}

// Open reports whether the connection can still accept writes.
func (c *client) Open() bool {
	return c.open.Load()
}

// Send queues msg without blocking. It returns false if the buffer is full.
func (c *client) Send(msg []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which sends a close frame and closes the
// connection.
func (c *client) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.open.Store(false)
	close(c.send)
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump(opts Options) {
	ticker := time.NewTicker(opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.open.Store(false)
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection and hands each data frame to
// onMessage. Blocks until the connection closes or stops answering pings.
func (c *client) readPump(opts Options, onMessage func([]byte)) {
	defer c.conn.Close()
	c.conn.SetReadLimit(opts.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		return nil
	})
	for {
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			onMessage(msg)
		}
	}
}
