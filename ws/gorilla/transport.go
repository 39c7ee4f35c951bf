package gorilla

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/stn81/kpeer"
)

var ErrListenerClosed = errors.New("gorilla: listener closed")

// Listener is an http.Handler that upgrades requests to WebSocket and a
// net.Listener that hands the upgraded connections to a kpeer server.
type Listener struct {
	Upgrader    websocket.Upgrader
	MessageType int

	addr      net.Addr
	conns     chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
	httpSrv   *http.Server
	log       logging.LeveledLogger
}

var (
	_ http.Handler     = (*Listener)(nil)
	_ net.Listener     = (*Listener)(nil)
	_ kpeer.ListenFunc = Listen
)

// NewListener returns a Listener reporting addr. Mount it on an existing
// http server.
func NewListener(addr net.Addr, loggerFactory logging.LoggerFactory) *Listener {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Listener{
		MessageType: websocket.BinaryMessage,
		addr:        addr,
		conns:       make(chan net.Conn),
		closed:      make(chan struct{}),
		log:         loggerFactory.NewLogger("kpeer-gorilla"),
	}
}

// Listen serves WebSocket upgrades on the TCP network address addr.
func Listen(addr string) (net.Listener, error) {
	ln, err := kpeer.TCPListen(addr)
	if err != nil {
		return nil, err
	}

	l := NewListener(ln.Addr(), nil)
	l.httpSrv = &http.Server{Handler: l}
	go func() {
		if err := l.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			l.log.Errorf("http server on %v: %v", ln.Addr(), err)
		}
	}()
	return l, nil
}

func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := l.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Warnf("websocket upgrade error from %s: %v", r.RemoteAddr, err)
		return
	}

	select {
	case l.conns <- NewConn(conn, l.MessageType):
	case <-l.closed:
		conn.Close()
	}
}

func (l *Listener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, ErrListenerClosed
	}
}

func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		if l.httpSrv != nil {
			err = l.httpSrv.Close()
		}
	})
	return err
}

func (l *Listener) Addr() net.Addr {
	return l.addr
}

// DialFunc dials ws:// or wss:// URLs.
func DialFunc(timeout time.Duration) kpeer.DialFunc {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	return func(addr string) (net.Conn, error) {
		conn, _, err := dialer.Dial(addr, nil)
		if err != nil {
			return nil, err
		}
		return NewConn(conn, websocket.BinaryMessage), nil
	}
}
