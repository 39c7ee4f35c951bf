package kpeer

import (
	"context"
	"net"
)

// BytesWriter writes raw bytes to the peer. No framing is applied.
type BytesWriter interface {
	WriteBytes(ctx context.Context, b []byte) error
}

// ConnectionDetails identifies a connection and reports its liveness.
type ConnectionDetails interface {
	Id() uint64
	RemoteAddr() net.Addr
	LocalAddr() net.Addr
	IsConnected() bool
}

// ConnectionService inspects a connection and requests its teardown.
type ConnectionService interface {
	IsConnected() bool
	Disconnect()
}

// PayloadSendService queues a payload for the peer. It does not wait for
// the peer to acknowledge it.
type PayloadSendService interface {
	SendMessage(ctx context.Context, payload Payload) error
}

// RequestSendService sends a request and returns a handle resolved by the
// correlated response.
type RequestSendService interface {
	SendRequest(ctx context.Context, payload Payload) (*PendingRequest, error)
}

// RouteBackService replies to a request received from the peer.
type RouteBackService interface {
	RouteBack(ctx context.Context, req *IncomingMessage, payload Payload) error
}

// SubscriptionService supplies the ordered handler chain of a session.
type SubscriptionService interface {
	Handlers() []MessageHandler
}
