package kpeer

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
)

func TestCircuitBreakerClientTrips(t *testing.T) {
	errDown := errors.New("peer down")
	inner := newFakeClient()
	inner.callErr = errDown

	c := NewCircuitBreakerClient(inner, gobreaker.NewCircuitBreaker(DefaultBreakerSettings("peer", 2)))

	for i := 0; i < 2; i++ {
		if _, err := c.Call(context.Background(), "ping"); !errors.Is(err, errDown) {
			t.Fatalf("call %d: err = %v, want errDown", i, err)
		}
	}
	if c.State() != gobreaker.StateOpen {
		t.Fatalf("State() = %v, want open", c.State())
	}

	if _, err := c.Call(context.Background(), "ping"); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err = %v, want ErrOpenState", err)
	}
	if inner.calls != 2 {
		t.Fatalf("inner client called %d times, want 2", inner.calls)
	}
}

func TestCircuitBreakerClientPassesResponses(t *testing.T) {
	c := NewCircuitBreakerClient(newFakeClient(), gobreaker.NewCircuitBreaker(DefaultBreakerSettings("peer", 1)))

	resp, err := c.CallWithTimeout(context.Background(), "ping", 0)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Payload() != "ping" {
		t.Fatalf("resp = %v, want ping", resp.Payload())
	}
	if c.State() != gobreaker.StateClosed {
		t.Fatalf("State() = %v, want closed", c.State())
	}
}
