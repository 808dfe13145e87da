package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection serializes writes to a gorilla connection; gorilla allows one concurrent writer.
type Connection struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
}

func NewConnection(conn *websocket.Conn, writeTimeout time.Duration) *Connection {
	return &Connection{conn: conn, writeTimeout: writeTimeout}
}

func (c *Connection) Send(message []byte) error {
	return c.write(websocket.TextMessage, message)
}

func (c *Connection) Ping() error {
	return c.write(websocket.PingMessage, nil)
}

func (c *Connection) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(messageType, data)
}

// Close does not take writeMu: gorilla allows WriteControl and Close alongside a
// pending write, and closing the socket unblocks that write.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}
