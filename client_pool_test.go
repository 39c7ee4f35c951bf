package kpeer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClient is a Client without a connection.
type fakeClient struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	callErr   error
	calls     int
}

func newFakeClient() *fakeClient {
	return &fakeClient{connected: true}
}

func (c *fakeClient) Dial(addr string) error { return nil }

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.connected = false
}

func (c *fakeClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeClient) SetProtocol(Protocol)                {}
func (c *fakeClient) SetSessionHandler(SessionHandler)    {}
func (c *fakeClient) Register(MessageHandler) error       { return nil }
func (c *fakeClient) GetSession() *Session                { return nil }
func (c *fakeClient) Send(context.Context, Payload) error { return nil }

func (c *fakeClient) SendWithTimeout(context.Context, Payload, time.Duration) error {
	return nil
}

func (c *fakeClient) Call(ctx context.Context, req Payload) (*IncomingMessage, error) {
	return c.CallWithTimeout(ctx, req, 0)
}

func (c *fakeClient) CallWithTimeout(ctx context.Context, req Payload, timeout time.Duration) (*IncomingMessage, error) {
	c.mu.Lock()
	c.calls++
	err := c.callErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return NewIncomingMessage(req, MessageParameters{Kind: KindResponse})
}

func (c *fakeClient) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func newFakePool(conf ClientPoolConfig) (*ClientPool, *[]*fakeClient) {
	var (
		mu      sync.Mutex
		created []*fakeClient
	)
	factory := ClientFactoryFunc(func() (Client, error) {
		c := newFakeClient()
		mu.Lock()
		created = append(created, c)
		mu.Unlock()
		return c, nil
	})
	return NewClientPool(context.Background(), factory, conf), &created
}

func TestClientPoolOpen(t *testing.T) {
	p, created := newFakePool(ClientPoolConfig{IdleMin: 2, IdleMax: 4, Max: 4})
	defer p.Close()

	if err := p.Open(); err != nil {
		t.Fatal(err)
	}
	if p.Size() != 2 || p.Idle() != 2 || len(*created) != 2 {
		t.Fatalf("Size() = %d, Idle() = %d, created = %d; want 2, 2, 2", p.Size(), p.Idle(), len(*created))
	}
}

func TestClientPoolReusesClients(t *testing.T) {
	p, created := newFakePool(ClientPoolConfig{IdleMax: 2, Max: 2})
	defer p.Close()

	c := p.Get()
	if _, err := c.Call(context.Background(), "ping"); err != nil {
		t.Fatal(err)
	}
	c.Close()

	if _, err := c.Call(context.Background(), "ping"); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("call on returned client: err = %v, want ErrClientClosed", err)
	}

	c = p.Get()
	defer c.Close()
	if len(*created) != 1 {
		t.Fatalf("created %d clients, want 1", len(*created))
	}
	if p.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", p.Size())
	}
}

func TestClientPoolDiscardsDisconnected(t *testing.T) {
	p, created := newFakePool(ClientPoolConfig{IdleMax: 2, Max: 2})
	defer p.Close()

	c := p.Get()
	c.Disconnect()
	c.Close()

	if p.Size() != 0 || p.Idle() != 0 {
		t.Fatalf("Size() = %d, Idle() = %d; want 0, 0", p.Size(), p.Idle())
	}
	if !(*created)[0].IsClosed() {
		t.Fatal("disconnected client not closed")
	}
}

func TestClientPoolMaxReached(t *testing.T) {
	p, _ := newFakePool(ClientPoolConfig{Max: 1})
	defer p.Close()

	held := p.Get()
	defer held.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	c := p.GetContext(ctx)
	if _, err := c.Call(context.Background(), "ping"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestClientPoolWaitsForFreeClient(t *testing.T) {
	p, created := newFakePool(ClientPoolConfig{Max: 1})
	defer p.Close()

	held := p.Get()
	go func() {
		time.Sleep(10 * time.Millisecond)
		held.Close()
	}()

	c := p.GetContext(context.Background())
	defer c.Close()
	if _, err := c.Call(context.Background(), "ping"); err != nil {
		t.Fatal(err)
	}
	if len(*created) != 1 {
		t.Fatalf("created %d clients, want 1", len(*created))
	}
}

func TestClientPoolClosed(t *testing.T) {
	p, created := newFakePool(ClientPoolConfig{IdleMin: 1, IdleMax: 1, Max: 1})
	if err := p.Open(); err != nil {
		t.Fatal(err)
	}
	p.Close()

	if !(*created)[0].IsClosed() {
		t.Fatal("idle client not closed with the pool")
	}
	if _, err := p.Get().Call(context.Background(), "ping"); !errors.Is(err, ErrClientPoolClosed) {
		t.Fatalf("err = %v, want ErrClientPoolClosed", err)
	}
}
