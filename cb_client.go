package kpeer

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerClient fails fast while the breaker is open. Calls whose
// response arrived count as successes even if the peer reported a failure in
// the payload.
type CircuitBreakerClient struct {
	breaker *gobreaker.CircuitBreaker
	Client
}

func NewCircuitBreakerClient(client Client, breaker *gobreaker.CircuitBreaker) *CircuitBreakerClient {
	return &CircuitBreakerClient{
		Client:  client,
		breaker: breaker,
	}
}

// DefaultBreakerSettings trips after consecutive failures of name's calls.
func DefaultBreakerSettings(name string, consecutiveFailures uint32) gobreaker.Settings {
	return gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
	}
}

func (c *CircuitBreakerClient) State() gobreaker.State {
	return c.breaker.State()
}

func (c *CircuitBreakerClient) Dial(addr string) (err error) {
	_, err = c.breaker.Execute(func() (interface{}, error) { return nil, c.Client.Dial(addr) })
	return
}

func (c *CircuitBreakerClient) Call(ctx context.Context, req Payload) (resp *IncomingMessage, err error) {
	var reply interface{}

	reply, err = c.breaker.Execute(func() (interface{}, error) { return c.Client.Call(ctx, req) })
	if err == nil {
		resp = reply.(*IncomingMessage)
	}
	return
}

func (c *CircuitBreakerClient) CallWithTimeout(ctx context.Context, req Payload, timeout time.Duration) (resp *IncomingMessage, err error) {
	var reply interface{}

	reply, err = c.breaker.Execute(func() (interface{}, error) { return c.Client.CallWithTimeout(ctx, req, timeout) })
	if err == nil {
		resp = reply.(*IncomingMessage)
	}
	return
}

func (c *CircuitBreakerClient) Send(ctx context.Context, msg Payload) (err error) {
	_, err = c.breaker.Execute(func() (interface{}, error) { return nil, c.Client.Send(ctx, msg) })
	return
}

func (c *CircuitBreakerClient) SendWithTimeout(ctx context.Context, msg Payload, timeout time.Duration) (err error) {
	_, err = c.breaker.Execute(func() (interface{}, error) { return nil, c.Client.SendWithTimeout(ctx, msg, timeout) })
	return
}
