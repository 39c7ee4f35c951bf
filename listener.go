package kpeer

import (
	"net"
	"runtime/debug"
	"time"

	"golang.org/x/net/netutil"
)

const tcpKeepAlivePeriod = 3 * time.Minute

// TCPListener enables keep-alive on every accepted connection.
type TCPListener struct {
	*net.TCPListener
}

func (ln *TCPListener) Accept() (net.Conn, error) {
	conn, err := ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	_ = conn.SetKeepAlive(true)
	_ = conn.SetKeepAlivePeriod(tcpKeepAlivePeriod)
	return conn, nil
}

// LimitListener accepts at most n simultaneous connections from ln.
func LimitListener(ln net.Listener, n int) net.Listener {
	return netutil.LimitListener(ln, n)
}

func getPanicStack() string {
	return string(debug.Stack())
}
