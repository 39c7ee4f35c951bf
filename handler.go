package kpeer

import (
	"context"
	"fmt"
)

// PayloadHandler processes payloads of exactly one type.
type PayloadHandler[T any] interface {
	HandleMessage(ctx context.Context, mctx MessageContext, payload T) error
}

type PayloadHandlerFunc[T any] func(ctx context.Context, mctx MessageContext, payload T) error

func (f PayloadHandlerFunc[T]) HandleMessage(ctx context.Context, mctx MessageContext, payload T) error {
	return f(ctx, mctx, payload)
}

// MessageHandler is the uniform handler shape of a dispatch chain.
type MessageHandler interface {
	// CanHandle reports whether the handler would consume msg. It has no
	// side effects and is false for a nil message.
	CanHandle(msg *IncomingMessage) bool

	// TryHandleMessage processes msg if the handler can consume it and
	// reports whether it did. A consumed message may still return an error
	// when the handler failed.
	TryHandleMessage(ctx context.Context, mctx MessageContext, msg *IncomingMessage) (bool, error)
}

// TypedHandler adapts a PayloadHandler[T] to a MessageHandler. A message is
// consumed iff its payload is a T, whatever the wrapped handler does with it.
type TypedHandler[T any] struct {
	inner PayloadHandler[T]
}

var _ MessageHandler = (*TypedHandler[struct{}])(nil)

func NewTypedHandler[T any](inner PayloadHandler[T]) *TypedHandler[T] {
	if inner == nil {
		panic("kpeer: nil payload handler")
	}
	return &TypedHandler[T]{inner: inner}
}

// Handle wraps fn as a TypedHandler.
func Handle[T any](fn func(ctx context.Context, mctx MessageContext, payload T) error) *TypedHandler[T] {
	if fn == nil {
		panic("kpeer: nil payload handler func")
	}
	return NewTypedHandler[T](PayloadHandlerFunc[T](fn))
}

func (h *TypedHandler[T]) CanHandle(msg *IncomingMessage) bool {
	_, ok := msg.Payload().(T)
	return ok
}

func (h *TypedHandler[T]) TryHandleMessage(ctx context.Context, mctx MessageContext, msg *IncomingMessage) (bool, error) {
	if mctx == nil {
		return false, ErrNilMessageContext
	}
	if msg == nil {
		return false, ErrNilMessage
	}

	payload, ok := msg.Payload().(T)
	if !ok {
		return false, nil
	}

	if err := h.inner.HandleMessage(ctx, mctx, payload); err != nil {
		return true, &HandlerError{Handler: h.String(), Err: err}
	}
	return true, nil
}

func (h *TypedHandler[T]) String() string {
	if s, ok := h.inner.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", h.inner)
}
