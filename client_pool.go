package kpeer

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrClientPoolClosed = errors.New("client manager closed")

type ClientPoolConfig struct {
	IdleMin int `json:"idle_min" toml:"idle_min"`
	IdleMax int `json:"idle_max" toml:"idle_max"`
	Max     int `json:"max" toml:"max"`
}

type ClientFactory interface {
	NewClient() (Client, error)
}

type ClientFactoryFunc func() (Client, error)

func (f ClientFactoryFunc) NewClient() (Client, error) {
	return f()
}

// ClientPool shares up to Max clients, each owning one peer session. Clients
// that lost their session are closed instead of being returned to the pool.
type ClientPool struct {
	sync.Mutex
	conf     ClientPoolConfig
	factory  ClientFactory
	num      int
	freeList chan Client
	closed   bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewClientPool(ctx context.Context, factory ClientFactory, conf ClientPoolConfig) *ClientPool {
	newctx, cancel := context.WithCancel(ctx)

	if conf.IdleMax < conf.Max {
		conf.IdleMax = conf.Max
	}

	if conf.IdleMin > conf.IdleMax {
		conf.IdleMin = conf.IdleMax
	}

	return &ClientPool{
		conf:     conf,
		factory:  factory,
		freeList: make(chan Client, conf.IdleMax),
		ctx:      newctx,
		cancel:   cancel,
	}
}

// Open pre-creates IdleMin clients.
func (p *ClientPool) Open() error {
	if p.factory == nil {
		panic("client factory not defined")
	}

	for i := 0; i < p.conf.IdleMin; i++ {
		client, err := p.factory.NewClient()
		if err != nil {
			return err
		}

		p.Lock()
		p.num++
		p.Unlock()
		p.freeList <- client
	}

	return nil
}

func (p *ClientPool) Close() {
	p.closeOnce.Do(func() {
		p.Lock()
		p.closed = true
		p.Unlock()

		p.cancel()

		close(p.freeList)

		for c := range p.freeList {
			c.Close()
		}
	})
}

// Get returns a client that goes back to the pool on Close. Errors are
// deferred to the first call on the returned client.
func (p *ClientPool) Get() Client {
	return p.GetContext(context.Background())
}

// GetContext is Get but stops waiting for a free client when ctx ends.
func (p *ClientPool) GetContext(ctx context.Context) Client {
	c, err := p.get(ctx)
	if err != nil {
		return &errClient{err}
	}

	return &pooledClient{
		p:      p,
		Client: c,
	}
}

// Size returns the number of clients created by the pool and not yet
// discarded.
func (p *ClientPool) Size() int {
	p.Lock()
	defer p.Unlock()
	return p.num
}

func (p *ClientPool) Idle() int {
	return len(p.freeList)
}

func (p *ClientPool) get(ctx context.Context) (c Client, err error) {
	if p.isClosed() {
		return nil, ErrClientPoolClosed
	}

	select {
	case c = <-p.freeList:
		return p.checkOut(c)
	default:
	}

	if p.isMaxReached() {
		select {
		case <-p.ctx.Done():
			return nil, ErrClientPoolClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		case c = <-p.freeList:
		}
		return p.checkOut(c)
	}

	if c, err = p.factory.NewClient(); err != nil {
		return
	}

	p.Lock()
	p.num++
	p.Unlock()
	return
}

// checkOut rejects a client received from a freeList closed by Close.
func (p *ClientPool) checkOut(c Client) (Client, error) {
	if c == nil {
		return nil, ErrClientPoolClosed
	}
	return c, nil
}

func (p *ClientPool) put(c Client) {
	if p.isClosed() {
		c.Close()
		return
	}

	if c.IsConnected() {
		select {
		case p.freeList <- c:
			return
		default:
		}
	}

	p.Lock()
	p.num--
	p.Unlock()

	c.Close()
}

func (p *ClientPool) isClosed() (closed bool) {
	p.Lock()
	closed = p.closed
	p.Unlock()
	return
}

func (p *ClientPool) isMaxReached() (reached bool) {
	p.Lock()
	if p.conf.Max > 0 && p.num >= p.conf.Max {
		reached = true
	}
	p.Unlock()
	return
}

type pooledClient struct {
	p *ClientPool
	Client
}

func (pc *pooledClient) Close() {
	c := pc.Client
	if _, ok := c.(*errClient); ok {
		return
	}

	pc.Client = &errClient{ErrClientClosed}
	pc.p.put(c)
}

type errClient struct {
	err error
}

func (c *errClient) Dial(addr string) error                                  { return c.err }
func (c *errClient) Close()                                                  {}
func (c *errClient) Disconnect()                                             {}
func (c *errClient) SetProtocol(Protocol)                                    {}
func (c *errClient) SetSessionHandler(SessionHandler)                        {}
func (c *errClient) Register(MessageHandler) error                           { return c.err }
func (c *errClient) Call(context.Context, Payload) (*IncomingMessage, error) { return nil, c.err }
func (c *errClient) CallWithTimeout(context.Context, Payload, time.Duration) (*IncomingMessage, error) {
	return nil, c.err
}
func (c *errClient) Send(context.Context, Payload) error { return c.err }
func (c *errClient) SendWithTimeout(context.Context, Payload, time.Duration) error {
	return c.err
}
func (c *errClient) GetSession() *Session { return nil }
func (c *errClient) IsClosed() bool       { return true }
func (c *errClient) IsConnected() bool    { return false }
