package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fanstage/fanstage/pkg/protocol"
	"github.com/fanstage/fanstage/viewer/internal/config"
)

const (
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

var (
	// ErrClosed is returned by Chat, Like and RequestCount after Run has returned.
	ErrClosed = errors.New("client: closed")

	// ErrEmptyMessage is returned by Chat for blank text. The hub relays
	// whatever it is sent, so blank chat is filtered here.
	ErrEmptyMessage = errors.New("client: empty chat message")
)

// EventHandler receives every event the hub sends. It is called from the
// client's read goroutine, one event at a time.
type EventHandler func(protocol.Outbound)

// Client keeps one viewer joined to a stream. It dials the hub, sends
// join_stream, forwards hub events to the handler and writes queued chat
// and likes. On connection loss it reconnects with exponential backoff and
// joins again.
type Client struct {
	cfg     config.ViewerConfig
	outbox  chan []byte
	onEvent EventHandler
	dialFn  dialFunc // injectable for tests
	done    chan struct{}

	// pending is a message whose write failed. It is sent right after the
	// next join, ahead of the outbox. Owned by the Run goroutine.
	pending []byte
}

// dialFunc opens a WebSocket connection to url.
type dialFunc func(ctx context.Context, url string) (*websocket.Conn, error)

// New creates a Client. Run must be called to connect.
func New(cfg config.ViewerConfig, onEvent EventHandler) *Client {
	if onEvent == nil {
		onEvent = func(protocol.Outbound) {}
	}
	return &Client{
		cfg:     cfg,
		outbox:  make(chan []byte, cfg.OutboxSize),
		onEvent: onEvent,
		dialFn:  defaultDial,
		done:    make(chan struct{}),
	}
}

// Chat queues a chat message. Blank text is rejected with ErrEmptyMessage.
// Messages reach the hub in the order they were queued, across reconnects,
// unless the outbox overflows.
func (c *Client) Chat(text string) error {
	return c.enqueue(&protocol.ChatMessage{Message: text})
}

// Like queues a stream_like.
func (c *Client) Like() error {
	return c.enqueue(&protocol.StreamLike{})
}

// RequestCount asks the hub for the current viewer count of the joined
// stream. The answer arrives as a ViewerCount event.
func (c *Client) RequestCount() error {
	return c.enqueue(&protocol.ViewerCountRequest{StreamID: c.cfg.StreamID})
}

// Run connects and keeps the viewer joined until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	defer close(c.done)
	bo := newBackoff(c.cfg.Reconnect.Initial, c.cfg.Reconnect.Max)

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dialFn(ctx, c.cfg.ServerURL)
		if err != nil {
			wait := bo.next()
			slog.Error("client: dial failed, will retry",
				"url", c.cfg.ServerURL,
				"err", err,
				"retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}

		slog.Info("client: connected", "url", c.cfg.ServerURL)
		bo.reset()

		err = c.session(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("client: connection lost, will reconnect",
			"url", c.cfg.ServerURL,
			"err", err,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// session joins the stream on conn, then pumps events in and queued
// messages out until the connection fails or ctx is cancelled.
func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	join, err := protocol.EncodeInbound(&protocol.JoinStream{
		UserID:    c.cfg.UserID,
		StreamID:  c.cfg.StreamID,
		IsCreator: c.cfg.IsCreator,
		Token:     c.cfg.Token(),
	})
	if err != nil {
		return err
	}
	if err := write(conn, join); err != nil {
		return fmt.Errorf("send join: %w", err)
	}
	if c.pending != nil {
		if err := write(conn, c.pending); err != nil {
			return fmt.Errorf("resend: %w", err)
		}
		c.pending = nil
	}

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(conn) }()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil

		case err := <-readErr:
			return fmt.Errorf("read: %w", err)

		case msg := <-c.outbox:
			if err := write(conn, msg); err != nil {
				c.pending = msg
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := protocol.DecodeOutbound(data)
		if err != nil {
			slog.Warn("client: ignoring undecodable event", "err", err)
			continue
		}
		c.onEvent(ev)
	}
}

// --- helpers ----------------------------------------------------------------

// enqueue adds msg to the outbox. If the outbox is full the oldest entry is
// evicted so the newest message is kept.
func (c *Client) enqueue(msg protocol.Inbound) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	if chat, ok := msg.(*protocol.ChatMessage); ok && strings.TrimSpace(chat.Message) == "" {
		return ErrEmptyMessage
	}
	data, err := protocol.EncodeInbound(msg)
	if err != nil {
		return err
	}

	select {
	case c.outbox <- data:
	default:
		select {
		case <-c.outbox:
			slog.Warn("client: outbox full, dropped oldest message", "outbox_cap", cap(c.outbox))
		default:
		}
		select {
		case c.outbox <- data:
		default:
		}
	}
	return nil
}

func write(conn *websocket.Conn, msg []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func defaultDial(ctx context.Context, url string) (*websocket.Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := d.DialContext(ctx, url, nil)
	return conn, err
}
