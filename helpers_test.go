package kpeer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
)

type pingMsg struct {
	Seq int `json:"seq"`
}

type pongMsg struct {
	Seq int `json:"seq"`
}

type testEnvelope struct {
	Kind uint8           `json:"kind"`
	ID   uint64          `json:"id"`
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

type testDecoderKey struct{}

// testProtocol frames one JSON envelope per message.
type testProtocol struct{}

func (p *testProtocol) Decode(s *Session, r io.Reader) (*IncomingMessage, error) {
	dec, ok := s.GetAttr(testDecoderKey{}).(*json.Decoder)
	if !ok {
		dec = json.NewDecoder(r)
		s.SetAttr(testDecoderKey{}, dec)
	}

	var env testEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}

	var payload Payload
	switch env.Type {
	case "str":
		var v string
		if err := json.Unmarshal(env.Body, &v); err != nil {
			return nil, err
		}
		payload = v
	case "int":
		var v int
		if err := json.Unmarshal(env.Body, &v); err != nil {
			return nil, err
		}
		payload = v
	case "ping":
		var v pingMsg
		if err := json.Unmarshal(env.Body, &v); err != nil {
			return nil, err
		}
		payload = v
	case "pong":
		var v pongMsg
		if err := json.Unmarshal(env.Body, &v); err != nil {
			return nil, err
		}
		payload = v
	default:
		return nil, fmt.Errorf("unknown payload type %q", env.Type)
	}

	return NewIncomingMessage(payload, MessageParameters{
		Kind:          MessageKind(env.Kind),
		CorrelationID: env.ID,
	})
}

func (p *testProtocol) Encode(s *Session, payload Payload, params MessageParameters) ([]byte, error) {
	var typ string
	switch payload.(type) {
	case string:
		typ = "str"
	case int:
		typ = "int"
	case pingMsg:
		typ = "ping"
	case pongMsg:
		typ = "pong"
	default:
		return nil, fmt.Errorf("cannot encode %T", payload)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(testEnvelope{
		Kind: uint8(params.Kind),
		ID:   params.CorrelationID,
		Type: typ,
		Body: body,
	})
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

var errListenerClosed = errors.New("pipe listener closed")

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }

// pipeListener hands out in-memory connections created by Dial.
type pipeListener struct {
	conns     chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

func newPipeListener() *pipeListener {
	return &pipeListener{
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
	}
}

func (l *pipeListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, errListenerClosed
	}
}

func (l *pipeListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *pipeListener) Addr() net.Addr {
	return pipeAddr{}
}

func (l *pipeListener) Dial(string) (net.Conn, error) {
	c1, c2 := net.Pipe()
	select {
	case l.conns <- c2:
		return c1, nil
	case <-l.closed:
		return nil, errListenerClosed
	}
}

// recordingHandler records session events.
type recordingHandler struct {
	SessionHandlerAdapter

	mu           sync.Mutex
	unhandled    []*IncomingMessage
	errs         []error
	disconnected chan *Session
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{disconnected: make(chan *Session, 8)}
}

func (h *recordingHandler) OnUnhandled(s *Session, msg *IncomingMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unhandled = append(h.unhandled, msg)
}

func (h *recordingHandler) OnError(s *Session, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) OnDisconnected(s *Session) {
	h.disconnected <- s
}

func (h *recordingHandler) Unhandled() []*IncomingMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*IncomingMessage(nil), h.unhandled...)
}

func (h *recordingHandler) Errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

func testLoggerFactory() logging.LoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = logging.LogLevelDisabled
	return f
}

// newTestService returns an IoService whose sessions use testProtocol.
func newTestService(handler SessionHandler, handlers ...MessageHandler) *IoServiceBase {
	conf := defaultIoConfig()
	srv := NewIoServiceBase(&conf)
	srv.SetProtocol(&testProtocol{})
	srv.SetSessionHandler(handler)
	srv.SetLoggerFactory(testLoggerFactory())
	for _, h := range handlers {
		_ = srv.Register(h)
	}
	return srv
}

func mustMessage(t *testing.T, payload Payload, params MessageParameters) *IncomingMessage {
	t.Helper()
	msg, err := NewIncomingMessage(payload, params)
	if err != nil {
		t.Fatalf("NewIncomingMessage: %v", err)
	}
	return msg
}

func waitDisconnected(t *testing.T, h *recordingHandler, timeout time.Duration) *Session {
	t.Helper()
	select {
	case s := <-h.disconnected:
		return s
	case <-time.After(timeout):
		t.Fatalf("session not disconnected after %v", timeout)
		return nil
	}
}

type fakeConnService struct {
	disconnects int
}

func (f *fakeConnService) IsConnected() bool { return f.disconnects == 0 }
func (f *fakeConnService) Disconnect()       { f.disconnects++ }

type fakeSender struct {
	mu   sync.Mutex
	sent []Payload
}

func (f *fakeSender) SendMessage(ctx context.Context, payload Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return nil
}

func newFakeContext(t *testing.T) MessageContext {
	t.Helper()
	mctx, err := NewMessageContext(&fakeConnService{}, &fakeSender{}, restrictedRequestService{})
	if err != nil {
		t.Fatalf("NewMessageContext: %v", err)
	}
	return mctx
}
