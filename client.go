package kpeer

import (
	"context"
	"time"
)

type Client interface {
	Dial(addr string) error
	Close()
	Disconnect()
	SetProtocol(Protocol)
	SetSessionHandler(h SessionHandler)
	Register(h MessageHandler) error
	Call(ctx context.Context, req Payload) (*IncomingMessage, error)
	CallWithTimeout(ctx context.Context, req Payload, timeout time.Duration) (*IncomingMessage, error)
	Send(ctx context.Context, msg Payload) error
	SendWithTimeout(ctx context.Context, msg Payload, timeout time.Duration) error
	GetSession() *Session
	IsClosed() bool
	IsConnected() bool
}
