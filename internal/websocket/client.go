package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one websocket connection. ID identifies the connection;
// ClientID is the session identity it draws as, which may be shared by
// several connections.
type Client struct {
	ID       string
	BoardID  string
	ClientID string
	JoinedAt time.Time
	Conn     *websocket.Conn
	Manager  *Manager
	Send     chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(id, boardID, clientID string, conn *websocket.Conn, manager *Manager) *Client {
	return &Client{
		ID:       id,
		BoardID:  boardID,
		ClientID: clientID,
		JoinedAt: time.Now().UTC(),
		Conn:     conn,
		Manager:  manager,
		Send:     make(chan []byte, 256),
		done:     make(chan struct{}),
	}
}

// Done is closed once the client has been unregistered or rejected.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		close(c.Send)
	})
}

// Disconnect drops the underlying connection; ReadPump then unregisters.
func (c *Client) Disconnect() {
	if c.Conn != nil {
		c.Conn.Close()
	}
}

func (c *Client) ReadPump() {
	ctx := context.Background()
	defer func() {
		c.Manager.Unregister(ctx, c)
		c.Conn.Close()
	}()

	if c.Manager.opts.MaxMessageSize > 0 {
		c.Conn.SetReadLimit(c.Manager.opts.MaxMessageSize)
	}
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.opts.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.opts.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Manager.log.Warn(ctx, "websocket read failed", "conn_id", c.ID, "error", err)
			}
			break
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.opts.PongWait))
		c.Manager.dispatch(c, message)
	}
}

// WritePump delivers queued messages. Messages queued together are
// written in one frame separated by newlines.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.Manager.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.opts.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.opts.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
