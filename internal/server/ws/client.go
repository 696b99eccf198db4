package ws

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/TysonTheNugget/sketchyflipback/internal/session"
	logpkg "github.com/TysonTheNugget/sketchyflipback/pkg/log"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 90 * time.Second
	pingPeriod   = 30 * time.Second
	sendBuffer   = 32
)

// client is one websocket connection. All writes go through the send channel
// so the write pump is the connection's only writer.
type client struct {
	wc     *websocket.Conn
	send   chan session.Message
	quit   chan struct{}
	logger logpkg.Logger
}

func newClient(wc *websocket.Conn, logger logpkg.Logger) *client {
	return &client{
		wc:     wc,
		send:   make(chan session.Message, sendBuffer),
		quit:   make(chan struct{}),
		logger: logger,
	}
}

// Send enqueues a message, dropping it if the client's buffer is full.
// Delivery is best-effort; a slow reader loses pushes rather than stalling
// the rest of the relay.
func (c *client) Send(msg session.Message) {
	select {
	case c.send <- msg:
	default:
		c.logger.Debug("send buffer full, message dropped", logpkg.Str("type", msg.Type))
	}
}

// writePump drains the send channel and keeps the connection alive with
// pings. It owns closing the underlying connection.
func (c *client) writePump() {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	defer c.wc.Close()
	for {
		select {
		case <-c.quit:
			c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.wc.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.wc.WriteJSON(msg); err != nil {
				return
			}
		case <-t.C:
			c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.wc.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}
