package broadcast

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// client is one member of the broadcast group. Its lifecycle is owned
// by the server's run loop; the pumps only move bytes.
type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	server *Server
	logger *zap.Logger

	closeOnce sync.Once
}

func newClient(s *Server, conn *websocket.Conn) *client {
	id := uuid.NewString()
	return &client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, s.queueSize),
		server: s,
		logger: s.logger.With(zap.String("client_id", id)),
	}
}

// close shuts the send queue and the socket. Safe to call repeatedly.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

// writePump relays queued chunks to the socket. Transport errors are
// logged per client and never affect other group members.
func (c *client) writePump() {
	defer c.detach()

	for chunk := range c.send {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			c.logger.Debug("Client write failed", zap.Error(err))
			return
		}
	}
}

// readPump discards inbound traffic and detects disconnects.
func (c *client) readPump() {
	defer c.detach()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("Client read error", zap.Error(err))
			}
			return
		}
	}
}

// detach hands the client back to the run loop for removal.
func (c *client) detach() {
	select {
	case c.server.unregister <- c:
	case <-c.server.doneCh():
		c.close()
	}
}
