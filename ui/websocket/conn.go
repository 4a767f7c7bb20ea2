package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/AzielCF/az-crm/session/domain/event"
	"github.com/gofiber/websocket/v2"
)

const writeWait = 10 * time.Second

// fiberConn serialises writes; the underlying connection supports one
// concurrent writer only.
type fiberConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newFiberConn(conn *websocket.Conn) *fiberConn {
	return &fiberConn{conn: conn}
}

func (c *fiberConn) Send(evt event.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *fiberConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *fiberConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}
