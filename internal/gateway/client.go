package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentwire/internal/session"
	"github.com/nextlevelbuilder/agentwire/pkg/protocol"
)

// maxFrameSize bounds inbound frames (resent full histories included).
const maxFrameSize = 1024 * 1024

const (
	readIdleTimeout = 60 * time.Second
	writeTimeout    = 10 * time.Second
	pingInterval    = 30 * time.Second
)

// Client is one WebSocket connection and its session.
type Client struct {
	id      string
	conn    *websocket.Conn
	server  *Server
	session *session.Session
	send    chan []byte
}

func newClient(conn *websocket.Conn, server *Server, sess *session.Session) *Client {
	return &Client{
		id:      sess.ClientID,
		conn:    conn,
		server:  server,
		session: sess,
		send:    make(chan []byte, 256),
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string { return c.id }

// Session returns the per-connection session state.
func (c *Client) Session() *session.Session { return c.session }

// run starts the write pump and reads until the connection drops.
func (c *Client) run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "client", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readIdleTimeout))

		msg, err := protocol.ParseInbound(data)
		if err != nil {
			c.SendEvent(protocol.NewRunError("", protocol.ErrInvalidRequest+": malformed frame: "+err.Error()))
			continue
		}
		c.server.router.Handle(ctx, c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendEvent queues one protocol event for the peer. A full send buffer
// drops the event with a log line rather than blocking a run loop.
func (c *Client) SendEvent(event protocol.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal event failed", "error", err)
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		slog.Warn("client send buffer full, dropping event", "client", c.id, "type", event.Type)
		return nil
	}
}
