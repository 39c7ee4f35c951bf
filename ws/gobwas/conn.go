// Package gobwas carries kpeer sessions over WebSocket connections using
// github.com/gobwas/ws.
package gobwas

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn is a net.Conn that sends every Write as one WebSocket message and
// reads the payload of incoming data messages back to back.
type Conn struct {
	net.Conn
	state   ws.State
	op      ws.OpCode
	r       *wsutil.Reader
	control wsutil.FrameHandlerFunc
	reading bool

	wmu sync.Mutex
}

// Server wraps the server side of an upgraded connection.
func Server(conn net.Conn, op ws.OpCode) *Conn {
	return newConn(conn, conn, ws.StateServerSide, op)
}

// Client wraps the client side of a dialed connection. br holds bytes the
// dialer read past the handshake and may be nil. Its buffered bytes are
// copied out and br goes back to the ws reader pool.
func Client(conn net.Conn, br *bufio.Reader, op ws.OpCode) *Conn {
	src := io.Reader(conn)
	if br != nil {
		if n := br.Buffered(); n > 0 {
			head, _ := br.Peek(n)
			src = io.MultiReader(bytes.NewReader(append([]byte(nil), head...)), conn)
		}
		ws.PutReader(br)
	}
	return newConn(conn, src, ws.StateClientSide, op)
}

func newConn(conn net.Conn, src io.Reader, state ws.State, op ws.OpCode) *Conn {
	c := &Conn{
		Conn:  conn,
		state: state,
		op:    op,
	}
	// pongs and close replies share the write lock with Write
	c.control = wsutil.ControlFrameHandler(lockedWriter{c}, state)
	c.r = &wsutil.Reader{
		Source:         src,
		State:          state,
		CheckUTF8:      op == ws.OpText,
		OnIntermediate: c.control,
	}
	return c
}

func (c *Conn) Read(p []byte) (int, error) {
	for {
		if !c.reading {
			hdr, err := c.r.NextFrame()
			if err != nil {
				return 0, err
			}
			if hdr.OpCode.IsControl() {
				if err = c.control(hdr, c.r); err != nil {
					if _, closed := err.(wsutil.ClosedError); closed {
						return 0, io.EOF
					}
					return 0, err
				}
				continue
			}
			if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
				if err = c.r.Discard(); err != nil {
					return 0, err
				}
				continue
			}
			c.reading = true
		}

		n, err := c.r.Read(p)
		if err == io.EOF {
			c.reading = false
			err = nil
		}
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func (c *Conn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := wsutil.WriteMessage(c.Conn, c.state, c.op, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

type lockedWriter struct {
	c *Conn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.wmu.Lock()
	defer w.c.wmu.Unlock()
	return w.c.Conn.Write(p)
}
