package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/stn81/kpeer"
	"github.com/stn81/kpeer/ws/gobwas"
	"github.com/stn81/kpeer/ws/gorilla"
)

func listenFunc(transport string) (kpeer.ListenFunc, error) {
	switch transport {
	case transportTCP:
		return kpeer.TCPListen, nil
	case transportWS:
		return gobwas.Listen, nil
	case transportGorilla:
		return gorilla.Listen, nil
	}
	return nil, fmt.Errorf("unsupported transport %q", transport)
}

func dialFunc(transport string, timeout time.Duration) (kpeer.DialFunc, error) {
	switch transport {
	case transportTCP:
		return kpeer.TCPDialFunc(timeout), nil
	case transportWS:
		return gobwas.DialFunc(timeout), nil
	case transportGorilla:
		return gorilla.DialFunc(timeout), nil
	}
	return nil, fmt.Errorf("unsupported transport %q", transport)
}

// dialTarget turns host:port into a ws:// URL for the WebSocket transports.
func dialTarget(transport, addr string) string {
	if transport == transportTCP || strings.Contains(addr, "://") {
		return addr
	}
	return "ws://" + addr + "/"
}

// connLogger logs session lifecycle events.
type connLogger struct {
	kpeer.SessionHandlerAdapter
	log logging.LeveledLogger
}

func (h *connLogger) OnConnected(s *kpeer.Session) error {
	h.log.Infof("peer connected: session=%d remote=%v", s.Id(), s.RemoteAddr())
	return nil
}

func (h *connLogger) OnDisconnected(s *kpeer.Session) {
	h.log.Infof("peer disconnected: session=%d", s.Id())
}

func (h *connLogger) OnError(s *kpeer.Session, err error) {
	h.log.Warnf("session=%d: %v", s.Id(), err)
}

func (h *connLogger) OnUnhandled(s *kpeer.Session, msg *kpeer.IncomingMessage) {
	h.log.Warnf("session=%d: unhandled %T", s.Id(), msg.Payload())
}

func answerPing(ctx context.Context, s *kpeer.Session, req *kpeer.IncomingMessage) (kpeer.Payload, error) {
	ping, ok := req.Payload().(Ping)
	if !ok {
		return nil, fmt.Errorf("unsupported request %T", req.Payload())
	}
	return Pong{Seq: ping.Seq, SentAt: ping.SentAt}, nil
}

func newServer(ctx context.Context, conf peerConfig, lf logging.LoggerFactory) (*kpeer.ServerBase, error) {
	listen, err := listenFunc(conf.Transport)
	if err != nil {
		return nil, err
	}

	sconf := conf.Server
	sconf.LoggerFactory = lf
	srv := kpeer.NewServerBase(ctx, listen, &sconf)
	srv.SetProtocol(newCodec())
	srv.SetSessionHandler(&connLogger{log: lf.NewLogger("kpeerd")})
	srv.SetRequestHandler(kpeer.Reply(answerPing))

	noticeLog := lf.NewLogger("kpeerd-notice")
	if err = kpeer.Subscribe(srv.Registry(), func(ctx context.Context, mctx kpeer.MessageContext, n Notice) error {
		noticeLog.Infof("notice: %s", n.Text)
		return nil
	}); err != nil {
		return nil, err
	}
	return srv, nil
}

type pingOptions struct {
	Addr     string
	Count    int
	Parallel int
	Notice   string
}

// runPing sends opts.Count pings spread over opts.Parallel pooled clients and
// returns the round trip times in completion order.
func runPing(ctx context.Context, conf peerConfig, opts pingOptions, lf logging.LoggerFactory) ([]time.Duration, error) {
	dial, err := dialFunc(conf.Transport, conf.Client.DialTimeout)
	if err != nil {
		return nil, err
	}
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}

	var (
		target = dialTarget(conf.Transport, opts.Addr)
		codec  = newCodec()
		log    = lf.NewLogger("kpeerd")
	)

	factory := kpeer.ClientFactoryFunc(func() (kpeer.Client, error) {
		cconf := conf.Client.ClientConfig
		cconf.LoggerFactory = lf
		c := kpeer.NewClientBase(ctx, dial, &cconf)
		c.SetProtocol(codec)
		if err := c.Dial(target); err != nil {
			c.Close()
			return nil, err
		}
		if conf.BreakerFailures == 0 {
			return c, nil
		}
		breaker := gobreaker.NewCircuitBreaker(kpeer.DefaultBreakerSettings(target, conf.BreakerFailures))
		return kpeer.NewCircuitBreakerClient(c, breaker), nil
	})

	pool := kpeer.NewClientPool(ctx, factory, kpeer.ClientPoolConfig{Max: opts.Parallel})
	defer pool.Close()

	var (
		seq  int64
		mu   sync.Mutex
		rtts = make([]time.Duration, 0, opts.Count)
	)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < opts.Parallel; w++ {
		g.Go(func() error {
			c := pool.GetContext(gctx)
			defer c.Close()

			if opts.Notice != "" {
				if err := c.SendWithTimeout(gctx, Notice{Text: opts.Notice}, conf.CallTimeout); err != nil {
					return fmt.Errorf("notice: %w", err)
				}
			}

			for {
				n := int(atomic.AddInt64(&seq, 1))
				if n > opts.Count {
					return nil
				}

				start := time.Now()
				resp, err := c.CallWithTimeout(gctx, Ping{Seq: n, SentAt: start}, conf.CallTimeout)
				if err != nil {
					return fmt.Errorf("ping %d: %w", n, err)
				}
				pong, ok := resp.Payload().(Pong)
				if !ok || pong.Seq != n {
					return fmt.Errorf("ping %d: unexpected reply %v", n, resp.Payload())
				}

				rtt := time.Since(start)
				log.Debugf("pong %d from %s: %v", n, target, rtt)

				mu.Lock()
				rtts = append(rtts, rtt)
				mu.Unlock()
			}
		})
	}

	err = g.Wait()
	return rtts, err
}
