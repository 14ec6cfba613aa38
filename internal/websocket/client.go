package websocket

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// Clients only send control frames.
	maxInboundBytes = 512
)

// ClientOptions tunes one connection. Zero values fall back to defaults.
type ClientOptions struct {
	// SendBuffer is how many pushes may queue before the hub drops the client.
	SendBuffer int
	PingPeriod time.Duration
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= pongWait {
		o.PingPeriod = (pongWait * 9) / 10
	}
	return o
}

// Client is one open socket of a user. Pushes flow hub -> Send -> socket;
// nothing the browser sends is interpreted.
type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	UserID uuid.UUID
	Send   chan []byte

	pingPeriod time.Duration
}

// Serve registers conn with hub and blocks until the socket closes.
func Serve(hub *Hub, conn *websocket.Conn, userID uuid.UUID, opts ClientOptions) {
	opts = opts.withDefaults()
	client := &Client{
		Hub:        hub,
		Conn:       conn,
		UserID:     userID,
		Send:       make(chan []byte, opts.SendBuffer),
		pingPeriod: opts.PingPeriod,
	}
	if !hub.join(client) {
		conn.Close()
		return
	}

	go client.pushLoop()
	client.watchClose()
}

func (c *Client) watchClose() {
	defer func() {
		c.Hub.leave(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxInboundBytes)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("Hub", "Unexpected websocket close", map[string]interface{}{
					"user_id": c.UserID,
					"error":   err.Error(),
				})
			}
			return
		}
	}
}

// pushLoop writes one JSON text frame per push and keeps the peer alive
// with pings. It exits when the hub closes Send or a write fails.
func (c *Client) pushLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case push, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, push); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
