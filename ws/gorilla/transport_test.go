package gorilla

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"

	"github.com/stn81/kpeer"
	"github.com/stn81/kpeer/codec/jsonl"
)

type ping struct {
	Seq int `json:"seq"`
}

type pong struct {
	Seq int `json:"seq"`
}

type greeting struct {
	Text string `json:"text"`
}

func quietLoggerFactory() logging.LoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = logging.LogLevelDisabled
	return f
}

func startListener(t *testing.T) (*Listener, string) {
	t.Helper()
	hs := httptest.NewUnstartedServer(nil)
	l := NewListener(hs.Listener.Addr(), quietLoggerFactory())
	hs.Config.Handler = l
	hs.Start()
	t.Cleanup(hs.Close)
	return l, "ws" + strings.TrimPrefix(hs.URL, "http")
}

func TestSessionOverWebSocket(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()

	codec := jsonl.New()
	codec.MustRegister("ping", ping{})
	codec.MustRegister("pong", pong{})
	codec.MustRegister("greeting", greeting{})

	l, url := startListener(t)

	greeted := make(chan string, 1)
	sconf := kpeer.NewServerConfig()
	sconf.LoggerFactory = quietLoggerFactory()
	srv := kpeer.NewServerBase(context.Background(), nil, sconf)
	srv.SetProtocol(codec)
	srv.SetRequestHandler(kpeer.Reply(func(ctx context.Context, s *kpeer.Session, req *kpeer.IncomingMessage) (kpeer.Payload, error) {
		return pong{Seq: req.Payload().(ping).Seq}, nil
	}))
	if err := kpeer.Subscribe(srv.Registry(), func(ctx context.Context, mctx kpeer.MessageContext, g greeting) error {
		greeted <- g.Text
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(l) }()
	defer func() {
		srv.Close()
		if err := <-served; !errors.Is(err, kpeer.ErrServerClosed) {
			t.Errorf("Serve() = %v, want ErrServerClosed", err)
		}
	}()

	cconf := kpeer.NewClientConfig()
	cconf.LoggerFactory = quietLoggerFactory()
	client := kpeer.NewClientBase(context.Background(), DialFunc(time.Second), cconf)
	client.SetProtocol(codec)
	defer client.Close()

	if err := client.Dial(url); err != nil {
		t.Fatal(err)
	}

	if err := client.Send(context.Background(), greeting{Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	if got := <-greeted; got != "hello" {
		t.Fatalf("server got %q", got)
	}

	for seq := 1; seq <= 3; seq++ {
		resp, err := client.CallWithTimeout(context.Background(), ping{Seq: seq}, time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if got := resp.Payload().(pong); got.Seq != seq {
			t.Fatalf("got pong %d, want %d", got.Seq, seq)
		}
	}
}

func TestListenerClose(t *testing.T) {
	l := NewListener(nil, quietLoggerFactory())
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Accept(); !errors.Is(err, ErrListenerClosed) {
		t.Fatalf("err = %v, want ErrListenerClosed", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestDialRefused(t *testing.T) {
	_, url := startListener(t)
	dial := DialFunc(time.Second)

	// the dialer only takes ws and wss URLs
	if _, err := dial(strings.Replace(url, "ws", "http", 1)); err == nil {
		t.Fatal("dialing an http URL succeeded")
	}
}
