package kpeer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
)

type State int32

const (
	// StateConnected sessions receive messages and dispatch them.
	StateConnected State = iota
	// StateDisconnecting sessions accept no new messages; the dispatch in
	// progress runs to completion.
	StateDisconnecting
	StateDisconnected
)

func (st State) String() string {
	switch st {
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int32(st))
	}
}

type outgoing struct {
	payload Payload
	params  MessageParameters
	raw     []byte
}

// Session is the per-connection actor. It decodes messages from its
// connection, correlates responses with pending requests and dispatches
// everything else through its handler chain, one message at a time.
type Session struct {
	id        uint64
	role      Role
	srv       IoService
	conf      *IoConfig
	handler   SessionHandler
	requests  RequestHandler
	policy    FailurePolicy
	protocol  Protocol
	chain     HandlerChain
	mctx      MessageContext
	pending   *pendingRegistry
	conn      *Conn
	log       logging.LeveledLogger
	attrs     map[interface{}]interface{}
	attrsLock sync.RWMutex
	sendQ     chan outgoing
	recvQ     chan *IncomingMessage

	nextCorrelationId uint64
	idleCount         uint32
	readMsgCount      uint32
	writeMsgCount     uint32
	unhandledCount    uint32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// lifeLock orders Open against the state change in Close.
	lifeLock sync.Mutex
	state    int32
	opened   uint32
	done     chan struct{}
}

var (
	_ ConnectionDetails  = (*Session)(nil)
	_ ConnectionService  = (*Session)(nil)
	_ PayloadSendService = (*Session)(nil)
	_ RequestSendService = (*Session)(nil)
	_ RouteBackService   = (*Session)(nil)
	_ BytesWriter        = (*Session)(nil)
)

// NewClientSession creates a session for a connection this side initiated.
// Requests from the peer go through the handler chain.
func NewClientSession(ctx context.Context, srv IoService, conn net.Conn) *Session {
	s := newSession(ctx, srv, conn, RoleClient, chainRequests{})
	s.mctx, _ = NewMessageContext(s, s, s)
	return s
}

// NewServerSession creates a session for an accepted connection. Servers
// answer requests instead of issuing them, so requests is required and the
// message context refuses outbound requests.
func NewServerSession(ctx context.Context, srv IoService, conn net.Conn, requests RequestHandler) (*Session, error) {
	if requests == nil {
		return nil, ErrNoRequestHandler
	}
	s := newSession(ctx, srv, conn, RoleServer, requests)
	s.mctx, _ = NewMessageContext(s, s, restrictedRequestService{})
	return s, nil
}

func newSession(ctx context.Context, srv IoService, conn net.Conn, role Role, requests RequestHandler) *Session {
	var (
		id             = srv.NextSessionId()
		conf           = srv.IoConfig()
		newctx, cancel = context.WithCancel(ctx)
	)

	s := &Session{
		id:       id,
		role:     role,
		srv:      srv,
		conf:     conf,
		handler:  srv.SessionHandler(),
		requests: requests,
		policy:   srv.FailurePolicy(),
		protocol: srv.Protocol(),
		pending:  newPendingRegistry(conf.PendingLimit, conf.PendingDiscard),
		conn:     &Conn{Conn: conn},
		log:      srv.LoggerFactory().NewLogger("kpeer"),
		attrs:    make(map[interface{}]interface{}),
		ctx:      newctx,
		cancel:   cancel,
		sendQ:    make(chan outgoing, conf.SendQueueSize),
		recvQ:    make(chan *IncomingMessage, conf.RecvQueueSize),
		state:    int32(StateConnected),
		done:     make(chan struct{}),
	}

	if s.handler == nil {
		s.handler = &SessionHandlerAdapter{}
	}
	if s.policy == nil {
		s.policy = IsConnectionFatal
	}
	if subs := srv.Subscriptions(); subs != nil {
		s.chain = HandlerChain(subs.Handlers())
	}

	_ = s.conn.SetReadTimeout(conf.ReadTimeout)
	_ = s.conn.SetWriteTimeout(conf.WriteTimeout)

	return s
}

func (s *Session) Id() uint64 {
	return s.id
}

func (s *Session) Role() Role {
	return s.role
}

func (s *Session) State() State {
	return State(atomic.LoadInt32(&s.state))
}

func (s *Session) IoService() IoService {
	return s.srv
}

func (s *Session) Context() context.Context {
	return s.ctx
}

// MessageContext returns the capabilities handed to handlers of this session.
func (s *Session) MessageContext() MessageContext {
	return s.mctx
}

// Handlers returns the dispatch chain of this session.
func (s *Session) Handlers() HandlerChain {
	return s.chain
}

func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *Session) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *Session) GetAttr(key interface{}) (v interface{}) {
	s.attrsLock.RLock()
	v = s.attrs[key]
	s.attrsLock.RUnlock()
	return
}

func (s *Session) SetAttr(key, value interface{}) {
	s.attrsLock.Lock()
	s.attrs[key] = value
	s.attrsLock.Unlock()
}

func (s *Session) RemoveAttr(key interface{}) {
	s.attrsLock.Lock()
	delete(s.attrs, key)
	s.attrsLock.Unlock()
}

// Open starts the session loops. It is a no-op once the session was opened
// or closed.
func (s *Session) Open() {
	s.lifeLock.Lock()
	if s.State() != StateConnected || !atomic.CompareAndSwapUint32(&s.opened, 0, 1) {
		s.lifeLock.Unlock()
		return
	}
	s.srv.AddRef()
	s.wg.Add(3)
	go s.handleLoop()
	go s.readLoop()
	go s.writeLoop()
	s.lifeLock.Unlock()

	if err := s.handler.OnConnected(s); err != nil {
		s.log.Warnf("session %d: rejected on connect: %v", s.id, err)
		s.Close()
	}
}

// Close moves the session to StateDisconnecting. Pending requests fail with
// ErrSessionClosed right away; OnDisconnected fires once every loop exited.
func (s *Session) Close() {
	s.lifeLock.Lock()
	closing := atomic.CompareAndSwapInt32(&s.state, int32(StateConnected), int32(StateDisconnecting))
	s.lifeLock.Unlock()
	if !closing {
		return
	}

	s.cancel()
	s.conn.Close()
	if n := s.pending.cancelAll(ErrSessionClosed); n > 0 {
		s.log.Debugf("session %d: cancelled %d pending requests", s.id, n)
	}

	go func() {
		s.wg.Wait()

		atomic.StoreInt32(&s.state, int32(StateDisconnected))
		s.handler.OnDisconnected(s)
		if atomic.LoadUint32(&s.opened) == 1 {
			s.srv.DecRef()
		}
		close(s.done)
	}()
}

// Disconnect implements ConnectionService.
func (s *Session) Disconnect() {
	s.Close()
}

// Done is closed once the session reached StateDisconnected.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

func (s *Session) IsClosed() bool {
	return s.State() != StateConnected
}

// Send queues payload as an event.
func (s *Session) Send(ctx context.Context, payload Payload) error {
	return s.SendWithTimeout(ctx, payload, 0)
}

func (s *Session) SendWithTimeout(ctx context.Context, payload Payload, timeout time.Duration) error {
	if payload == nil {
		return ErrNilPayload
	}
	return s.enqueue(ctx, outgoing{payload: payload, params: MessageParameters{Kind: KindEvent}}, timeout)
}

// SendMessage implements PayloadSendService.
func (s *Session) SendMessage(ctx context.Context, payload Payload) error {
	return s.Send(ctx, payload)
}

// WriteBytes queues b to be written as is, bypassing the protocol encoder.
func (s *Session) WriteBytes(ctx context.Context, b []byte) error {
	raw := make([]byte, len(b))
	copy(raw, b)
	return s.enqueue(ctx, outgoing{raw: raw}, 0)
}

// SendRequest queues payload as a request and registers a pending record for
// its response. Only client sessions issue requests.
func (s *Session) SendRequest(ctx context.Context, payload Payload) (*PendingRequest, error) {
	if s.role != RoleClient {
		return nil, ErrRequestNotSupported
	}
	if payload == nil {
		return nil, ErrNilPayload
	}

	id := atomic.AddUint64(&s.nextCorrelationId, 1)
	p, err := s.pending.add(id)
	if err != nil {
		return nil, err
	}

	params := MessageParameters{Kind: KindRequest, CorrelationID: id, Reliable: true}
	if err = s.enqueue(ctx, outgoing{payload: payload, params: params}, 0); err != nil {
		s.pending.cancel(id, err)
		return nil, err
	}
	return p, nil
}

// Call sends a request and waits for its response. A zero timeout waits until
// ctx ends.
func (s *Session) Call(ctx context.Context, payload Payload, timeout time.Duration) (*IncomingMessage, error) {
	p, err := s.SendRequest(ctx, payload)
	if err != nil {
		return nil, err
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := p.Wait(waitCtx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = ErrTimeout
	}
	return resp, err
}

// RouteBack sends payload as the response to req.
func (s *Session) RouteBack(ctx context.Context, req *IncomingMessage, payload Payload) error {
	if req == nil {
		return ErrNilMessage
	}
	if payload == nil {
		return ErrNilPayload
	}
	reqParams := req.Parameters()
	if reqParams.Kind != KindRequest {
		return ErrNotRequest
	}

	params := MessageParameters{
		Kind:          KindResponse,
		CorrelationID: reqParams.CorrelationID,
		Reliable:      reqParams.Reliable,
		Channel:       reqParams.Channel,
	}
	return s.enqueue(ctx, outgoing{payload: payload, params: params}, 0)
}

// PendingRequests returns the number of requests awaiting a response.
func (s *Session) PendingRequests() int {
	return s.pending.size()
}

func (s *Session) enqueue(ctx context.Context, out outgoing, timeout time.Duration) error {
	if s.IsClosed() {
		return ErrSessionClosed
	}

	if timeout == 0 {
		select {
		case <-s.ctx.Done():
			return ErrSessionClosed
		case <-ctx.Done():
			return ctx.Err()
		case s.sendQ <- out:
		}
	} else {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-s.ctx.Done():
			return ErrSessionClosed
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrTimeout
		case s.sendQ <- out:
		}
	}

	return nil
}

// OnReceive dispatches msg through the handler chain and reports whether a
// handler consumed it. A message nobody consumes is reported to
// SessionHandler.OnUnhandled and is not an error. Sessions that are not
// connected refuse new messages with ErrSessionClosed.
func (s *Session) OnReceive(ctx context.Context, msg *IncomingMessage) (bool, error) {
	if msg == nil {
		return false, ErrNilMessage
	}
	if s.State() != StateConnected {
		return false, ErrSessionClosed
	}
	return s.dispatch(ctx, msg)
}

func (s *Session) dispatch(ctx context.Context, msg *IncomingMessage) (bool, error) {
	consumed, err := s.chain.Dispatch(ctx, s.mctx, msg)
	if err != nil {
		return consumed, err
	}

	if !consumed {
		atomic.AddUint32(&s.unhandledCount, 1)
		s.log.Warnf("session %d: unhandled %v", s.id, msg)
		s.handler.OnUnhandled(s, msg)
	}
	return consumed, nil
}

// OnReceiveRequest hands a peer request to the session's RequestHandler.
func (s *Session) OnReceiveRequest(ctx context.Context, req *IncomingMessage) error {
	if req == nil {
		return ErrNilMessage
	}
	if s.State() != StateConnected {
		return ErrSessionClosed
	}
	return s.requests.OnReceiveRequest(ctx, s, req)
}

// receive processes one message taken off recvQ and reports only
// connection-fatal errors. A message already taken is dispatched even when
// Close ran meanwhile.
func (s *Session) receive(m *IncomingMessage) error {
	ctx := context.WithoutCancel(s.ctx)

	var err error
	if m.Parameters().Kind == KindRequest {
		err = s.requests.OnReceiveRequest(ctx, s, m)
	} else {
		_, err = s.dispatch(ctx, m)
	}
	if err == nil {
		return nil
	}

	s.log.Errorf("session %d: %v failed: %v", s.id, m, err)
	s.handler.OnError(s, err)

	if s.policy(err) {
		return err
	}
	return nil
}

func (s *Session) correlate(m *IncomingMessage) {
	id := m.Parameters().CorrelationID
	if !s.pending.resolve(id, m) {
		s.log.Debugf("session %d: dropping stale response, correlation_id=%d", s.id, id)
	}
}

func (s *Session) GetIdleCount() uint32 {
	return atomic.LoadUint32(&s.idleCount)
}

func (s *Session) GetUnhandledCount() uint32 {
	return atomic.LoadUint32(&s.unhandledCount)
}

func (s *Session) String() string {
	return fmt.Sprintf("%s session %d (%s), Read Byte Count: %d, Write Byte Count: %d, Read Msg Count: %d, Write Msg Count: %d",
		s.role,
		s.id,
		s.State(),
		s.conn.GetReadBytes(),
		s.conn.GetWriteBytes(),
		atomic.LoadUint32(&s.readMsgCount),
		atomic.LoadUint32(&s.writeMsgCount),
	)
}

func (s *Session) handleLoop() {
	var (
		m   *IncomingMessage
		err error
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("got panic in handle loop: error=%v, stack=%v", r, getPanicStack())
			s.handler.OnError(s, err)
		}

		s.wg.Done()
		s.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			return

		case m = <-s.recvQ:
			if err = s.receive(m); err != nil {
				return
			}
		}
	}
}

func (s *Session) readLoop() {
	var (
		m   *IncomingMessage
		err error
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("got panic in read loop: error=%v, stack=%v", r, getPanicStack())
		}

		if !s.IsClosed() && err != nil && err != io.EOF {
			s.handler.OnError(s, err)
		}

		s.wg.Done()
		s.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			return

		default:
		}

		if m, err = s.protocol.Decode(s, s.conn); err != nil {
			if e, ok := err.(net.Error); ok && e.Timeout() {
				atomic.AddUint32(&s.idleCount, 1)

				if err = s.handler.OnIdle(s); err != nil {
					return
				}

				continue
			}
			return
		}

		if m == nil {
			continue
		}

		atomic.StoreUint32(&s.idleCount, 0)
		atomic.AddUint32(&s.readMsgCount, 1)

		if m.Parameters().Kind == KindResponse {
			s.correlate(m)
			continue
		}

		select {
		case <-s.ctx.Done():
		case s.recvQ <- m:
		}
	}
}

func (s *Session) writeLoop() {
	var (
		out  outgoing
		data []byte
		err  error
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("got panic in write loop: error=%v, stack=%v", r, getPanicStack())
		}

		if !s.IsClosed() && err != nil {
			s.handler.OnError(s, err)
		}

		s.wg.Done()
		s.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case out = <-s.sendQ:
			if data = out.raw; data == nil {
				if data, err = s.protocol.Encode(s, out.payload, out.params); err != nil {
					return
				}
			}

			if _, err = s.conn.Write(data); err != nil {
				return
			}
			atomic.AddUint32(&s.writeMsgCount, 1)
		}
	}
}
