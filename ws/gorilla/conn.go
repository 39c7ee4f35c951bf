// Package gorilla carries kpeer sessions over WebSocket connections using
// github.com/gorilla/websocket.
package gorilla

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn adapts a *websocket.Conn to net.Conn. Every Write is sent as one
// message; Read returns the payload of incoming messages back to back.
//
// gorilla connections cannot recover from a read error, so an expired read
// deadline is reported as a timeout once and fails every later Read.
type Conn struct {
	ws          *websocket.Conn
	messageType int
	r           io.Reader
	readErr     error

	wmu sync.Mutex
}

var _ net.Conn = (*Conn)(nil)

func NewConn(conn *websocket.Conn, messageType int) *Conn {
	return &Conn{ws: conn, messageType: messageType}
}

func (c *Conn) Read(p []byte) (int, error) {
	if c.readErr != nil {
		return 0, c.readErr
	}

	for {
		if c.r == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, c.fail(err)
			}
			c.r = r
		}

		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			err = nil
		}
		if err != nil {
			return n, c.fail(err)
		}
		if n > 0 {
			return n, nil
		}
	}
}

func (c *Conn) fail(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.readErr = io.EOF
		return io.EOF
	}
	c.readErr = fmt.Errorf("gorilla: connection failed: %w", err)
	return err
}

func (c *Conn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.ws.WriteMessage(c.messageType, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Conn) Close() error {
	c.wmu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.ws.Close()
}

func (c *Conn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}
