package bridge

import (
	"context"
	"encoding/json"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
)

// Handler consumes messages sent by an application client.
type Handler interface {
	HandleMessage(ctx context.Context, c *Client, env Envelope)
}

// Client is one connected application window.
type Client struct {
	hub     *Hub
	conn    *ws.Conn
	handler Handler
	send    chan []byte
}

func NewClient(hub *Hub, conn *ws.Conn, handler Handler) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		handler: handler,
		send:    make(chan []byte, sendBufferSize),
	}
}

// Run registers the client, starts the write pump, and blocks in the read
// pump until the connection closes.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.hub.logger.Warn().Err(err).Msg("malformed bridge message")
			continue
		}
		c.handler.HandleMessage(ctx, c, env)
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// trySend queues data without blocking; a full buffer drops the message.
func (c *Client) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}
