package kpeer

import (
	"net"
	"sync/atomic"
	"time"
)

// Conn applies per-operation deadlines to a net.Conn and counts the bytes it
// moves.
type Conn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
	bytesIn      uint64
	bytesOut     uint64
}

func (c *Conn) SetTimeout(d time.Duration) {
	_ = c.SetReadTimeout(d)
	_ = c.SetWriteTimeout(d)
}

func (c *Conn) SetReadTimeout(d time.Duration) (err error) {
	c.readTimeout = d

	if d == 0 {
		err = c.Conn.SetReadDeadline(time.Time{})
	}
	return
}

func (c *Conn) SetWriteTimeout(d time.Duration) (err error) {
	c.writeTimeout = d

	if d == 0 {
		err = c.Conn.SetWriteDeadline(time.Time{})
	}
	return
}

func (c *Conn) Read(b []byte) (n int, err error) {
	if c.readTimeout > 0 {
		if err = c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return
		}
	}
	n, err = c.Conn.Read(b)
	atomic.AddUint64(&c.bytesIn, uint64(n))
	return
}

func (c *Conn) Write(b []byte) (n int, err error) {
	if c.writeTimeout > 0 {
		if err = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return
		}
	}
	n, err = c.Conn.Write(b)
	atomic.AddUint64(&c.bytesOut, uint64(n))
	return
}

func (c *Conn) GetReadBytes() uint64 {
	return atomic.LoadUint64(&c.bytesIn)
}

func (c *Conn) GetWriteBytes() uint64 {
	return atomic.LoadUint64(&c.bytesOut)
}
