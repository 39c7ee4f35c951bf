package gobwas

import (
	"context"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/pion/logging"

	"github.com/stn81/kpeer"
)

const DefaultHandshakeTimeout = 10 * time.Second

// Listener upgrades accepted connections to WebSocket before handing them
// out.
type Listener struct {
	net.Listener
	Upgrader         ws.Upgrader
	OpCode           ws.OpCode
	HandshakeTimeout time.Duration

	log logging.LeveledLogger
}

var _ kpeer.ListenFunc = Listen

// Listen listens on the TCP network address addr.
func Listen(addr string) (net.Listener, error) {
	ln, err := kpeer.TCPListen(addr)
	if err != nil {
		return nil, err
	}
	return NewListener(ln, nil), nil
}

func NewListener(ln net.Listener, loggerFactory logging.LoggerFactory) *Listener {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Listener{
		Listener:         ln,
		OpCode:           ws.OpBinary,
		HandshakeTimeout: DefaultHandshakeTimeout,
		log:              loggerFactory.NewLogger("kpeer-gobwas"),
	}
}

// Accept returns the next connection whose handshake succeeded. Failed
// handshakes are logged and skipped.
func (l *Listener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		if err = l.upgrade(conn); err != nil {
			l.log.Warnf("websocket handshake with %v failed: %v", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}
		return Server(conn, l.OpCode), nil
	}
}

func (l *Listener) upgrade(conn net.Conn) (err error) {
	if l.HandshakeTimeout > 0 {
		if err = conn.SetDeadline(time.Now().Add(l.HandshakeTimeout)); err != nil {
			return
		}
		defer func() {
			if err == nil {
				err = conn.SetDeadline(time.Time{})
			}
		}()
	}
	_, err = l.Upgrader.Upgrade(conn)
	return
}

// DialFunc dials ws:// or wss:// URLs.
func DialFunc(timeout time.Duration) kpeer.DialFunc {
	return func(addr string) (net.Conn, error) {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		conn, br, _, err := ws.Dial(ctx, addr)
		if err != nil {
			return nil, err
		}
		return Client(conn, br, ws.OpBinary), nil
	}
}
