package kpeer

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
)

var ErrServerClosed = errors.New("server closed")

type ListenFunc func(addr string) (net.Listener, error)

type ServerConfig struct {
	Io            IoConfig `toml:"io"`
	MaxConnection int      `toml:"max_connection"`
	// LoggerFactory is the factory for creating loggers.
	// If nil, the package default is used.
	LoggerFactory logging.LoggerFactory `toml:"-"`
}

func NewServerConfig() *ServerConfig {
	return &ServerConfig{Io: defaultIoConfig()}
}

// ServerBase accepts connections and runs a server-role Session for each.
type ServerBase struct {
	*IoServiceBase
	listen   ListenFunc
	conf     *ServerConfig
	requests RequestHandler
	log      logging.LeveledLogger

	sessionsLock sync.Mutex
	sessions     map[uint64]*Session

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewServerBase(ctx context.Context, listen ListenFunc, conf *ServerConfig) *ServerBase {
	var (
		newctx, cancel = context.WithCancel(ctx)
		ioConf         = &IoConfig{}
	)

	*ioConf = conf.Io

	srv := &ServerBase{
		IoServiceBase: NewIoServiceBase(ioConf),
		listen:        listen,
		conf:          conf,
		sessions:      make(map[uint64]*Session),
		ctx:           newctx,
		cancel:        cancel,
	}
	if conf.LoggerFactory != nil {
		srv.SetLoggerFactory(conf.LoggerFactory)
	}
	srv.log = srv.LoggerFactory().NewLogger("kpeer-server")
	return srv
}

// SetRequestHandler sets how sessions answer peer requests. It must be set
// before Serve.
func (srv *ServerBase) SetRequestHandler(h RequestHandler) {
	srv.requests = h
}

func (srv *ServerBase) ListenAndServe(addr string) error {
	if srv.listen == nil {
		panic("no listen func defined")
	}

	ln, err := srv.listen(addr)
	if err != nil {
		return err
	}
	return srv.Serve(ln)
}

func (srv *ServerBase) Serve(l net.Listener) error {
	defer l.Close()

	if srv.requests == nil {
		return ErrNoRequestHandler
	}

	if srv.conf.MaxConnection > 0 {
		l = LimitListener(l, srv.conf.MaxConnection)
	}

	go func() {
		<-srv.ctx.Done()
		l.Close()
	}()

	srv.log.Infof("serving on %v", l.Addr())

	var (
		tempDelay time.Duration
		conn      net.Conn
		err       error
	)

	for {
		if conn, err = l.Accept(); err != nil {

			select {
			case <-srv.ctx.Done():
				return ErrServerClosed
			default:
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				srv.log.Warnf("accept error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}

			return err
		}

		tempDelay = 0
		session, err := NewServerSession(srv.ctx, srv, conn, srv.requests)
		if err != nil {
			conn.Close()
			return err
		}
		srv.wg.Add(1)
		go srv.serve(session)
	}
}

func (srv *ServerBase) Close() {
	srv.closeOnce.Do(func() {
		srv.cancel()
		srv.wg.Wait()
	})
}

func (srv *ServerBase) AddRef() {
	srv.wg.Add(1)
}

func (srv *ServerBase) DecRef() {
	srv.wg.Done()
}

// Sessions returns the sessions currently open.
func (srv *ServerBase) Sessions() []*Session {
	srv.sessionsLock.Lock()
	defer srv.sessionsLock.Unlock()
	sessions := make([]*Session, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (srv *ServerBase) SessionCount() int {
	srv.sessionsLock.Lock()
	defer srv.sessionsLock.Unlock()
	return len(srv.sessions)
}

func (srv *ServerBase) serve(session *Session) {
	defer func() {
		if r := recover(); r != nil {
			srv.log.Errorf("got panic in serve session: error=%v, stack=%v", r, getPanicStack())
			session.Close()
		}
		srv.wg.Done()
	}()

	srv.sessionsLock.Lock()
	srv.sessions[session.Id()] = session
	srv.sessionsLock.Unlock()

	session.Open()

	go func() {
		<-session.Done()
		srv.sessionsLock.Lock()
		delete(srv.sessions, session.Id())
		srv.sessionsLock.Unlock()
	}()
}
