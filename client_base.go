package kpeer

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
)

var (
	ErrClientClosed       = errors.New("client closed")
	ErrClientDisconnected = errors.New("client disconnected")
)

type DialFunc func(addr string) (net.Conn, error)

type ClientConfig struct {
	Io            IoConfig `toml:"io"`
	AutoReconnect bool     `toml:"auto_reconnect"`
	// LoggerFactory is the factory for creating loggers.
	// If nil, the package default is used.
	LoggerFactory logging.LoggerFactory `toml:"-"`
}

func NewClientConfig() *ClientConfig {
	return &ClientConfig{Io: defaultIoConfig()}
}

// ClientBase keeps one client-role Session to a remote address and redials
// it on demand when AutoReconnect is set.
type ClientBase struct {
	*IoServiceBase
	sync.Mutex
	remoteAddr   string
	conf         *ClientConfig
	handler      SessionHandler
	dial         DialFunc
	session      *Session
	sessionError error
	closed       bool
	log          logging.LeveledLogger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewClientBase(ctx context.Context, dial DialFunc, conf *ClientConfig) *ClientBase {
	var (
		newctx, cancel = context.WithCancel(ctx)
		ioConf         = &IoConfig{}
	)

	*ioConf = conf.Io

	c := &ClientBase{
		IoServiceBase: NewIoServiceBase(ioConf),
		conf:          conf,
		dial:          dial,
		ctx:           newctx,
		cancel:        cancel,
	}
	c.IoServiceBase.SetSessionHandler(c)
	if conf.LoggerFactory != nil {
		c.SetLoggerFactory(conf.LoggerFactory)
	}
	c.log = c.LoggerFactory().NewLogger("kpeer-client")

	return c
}

func (c *ClientBase) SetSessionHandler(h SessionHandler) {
	c.handler = h
}

func (c *ClientBase) Dial(addr string) (err error) {
	if c.dial == nil {
		panic("not dail func defined")
	}

	c.Lock()
	c.remoteAddr = addr
	c.Unlock()
	return c.ensureConnected(true)
}

func (c *ClientBase) Close() {
	c.closeOnce.Do(func() {
		c.Lock()
		c.closed = true
		c.Unlock()

		session := c.GetSession()
		if session != nil {
			session.Close()
		}

		c.cancel()
	})
}

func (c *ClientBase) Send(ctx context.Context, msg Payload) error {
	return c.SendWithTimeout(ctx, msg, 0)
}

func (c *ClientBase) SendWithTimeout(ctx context.Context, msg Payload, timeout time.Duration) (err error) {
	if c.IsClosed() {
		return ErrClientClosed
	}

	if err = c.ensureConnected(false); err != nil {
		return
	}

	return c.GetSession().SendWithTimeout(ctx, msg, timeout)
}

func (c *ClientBase) Call(ctx context.Context, req Payload) (*IncomingMessage, error) {
	return c.CallWithTimeout(ctx, req, 0)
}

func (c *ClientBase) CallWithTimeout(ctx context.Context, req Payload, timeout time.Duration) (resp *IncomingMessage, err error) {
	if c.IsClosed() {
		return nil, ErrClientClosed
	}

	if err = c.ensureConnected(false); err != nil {
		return
	}

	resp, err = c.GetSession().Call(ctx, req, timeout)
	if errors.Is(err, ErrSessionClosed) && c.IsClosed() {
		err = ErrClientClosed
	}
	return
}

func (c *ClientBase) GetSession() (session *Session) {
	c.Lock()
	session = c.session
	c.Unlock()
	return
}

func (c *ClientBase) Disconnect() {
	session := c.GetSession()
	if session == nil {
		return
	}
	c.OnError(session, ErrClientDisconnected)
	session.Close()
}

func (c *ClientBase) IsConnected() bool {
	session := c.GetSession()
	return session != nil && session.IsConnected()
}

func (c *ClientBase) IsClosed() (closed bool) {
	c.Lock()
	closed = c.closed
	c.Unlock()
	return
}

func (c *ClientBase) OnConnected(session *Session) error {
	c.Lock()
	c.session = session
	c.sessionError = nil
	c.Unlock()

	if h := c.handler; h != nil {
		return h.OnConnected(session)
	}
	return nil
}

func (c *ClientBase) OnDisconnected(session *Session) {
	c.Lock()
	err := c.sessionError
	c.Unlock()
	if err != nil {
		c.log.Infof("session %d disconnected: %v", session.Id(), err)
	}

	if c.IsClosed() {
		return
	}

	if h := c.handler; h != nil {
		h.OnDisconnected(session)
	}
}

func (c *ClientBase) OnIdle(session *Session) error {
	if h := c.handler; h != nil {
		return h.OnIdle(session)
	}
	return nil
}

func (c *ClientBase) OnError(session *Session, err error) {

	c.Lock()
	c.sessionError = err
	c.Unlock()

	if h := c.handler; h != nil {
		h.OnError(session, err)
	}
}

func (c *ClientBase) OnUnhandled(session *Session, msg *IncomingMessage) {
	if h := c.handler; h != nil {
		h.OnUnhandled(session, msg)
	}
}

func (c *ClientBase) ensureConnected(force bool) (err error) {
	var (
		conn    net.Conn
		session *Session
	)

	if c.IsConnected() {
		return
	}

	if !force {
		if !c.conf.AutoReconnect {
			return ErrClientDisconnected
		}
	}

	c.Lock()
	addr := c.remoteAddr
	c.Unlock()

	if conn, err = c.dial(addr); err != nil {
		return
	}

	session = NewClientSession(c.ctx, c, conn)
	session.Open()
	return
}
