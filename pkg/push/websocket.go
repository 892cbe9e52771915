package push

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WSConn adapts a gorilla websocket to Conn. gorilla allows one concurrent
// writer, so writes are serialized.
type WSConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
	done   chan struct{}
	once   sync.Once
}

func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn, done: make(chan struct{})}
}

func (c *WSConn) Send(msg []byte) error {
	return c.write(websocket.TextMessage, msg)
}

func (c *WSConn) Closed() bool {
	return c.closed.Load()
}

func (c *WSConn) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the connection ends.
func (c *WSConn) Done() <-chan struct{} {
	return c.done
}

// Serve keeps the connection alive until the peer goes away: it answers
// pongs, discards inbound messages and pings on an interval. It returns once
// the connection is closed.
func (c *WSConn) Serve() {
	go c.pingLoop()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	_ = c.Close()
}

func (c *WSConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

func (c *WSConn) write(messageType int, data []byte) error {
	if c.Closed() {
		return websocket.ErrCloseSent
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.closed.Store(true)
		return err
	}
	return nil
}
