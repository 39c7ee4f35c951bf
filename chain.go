package kpeer

import (
	"context"
	"sync"
)

// HandlerChain is an ordered list of handlers tried until one consumes a
// message.
type HandlerChain []MessageHandler

// Dispatch offers msg to each handler in order and stops at the first one
// that consumes it.
func (c HandlerChain) Dispatch(ctx context.Context, mctx MessageContext, msg *IncomingMessage) (consumed bool, err error) {
	if mctx == nil {
		return false, ErrNilMessageContext
	}
	if msg == nil {
		return false, ErrNilMessage
	}

	for _, h := range c {
		if consumed, err = h.TryHandleMessage(ctx, mctx, msg); consumed || err != nil {
			return
		}
	}
	return false, nil
}

// HandlerRegistry collects handlers during setup. The first call to Handlers
// seals it; later registrations fail with ErrRegistrySealed.
type HandlerRegistry struct {
	mu       sync.Mutex
	handlers []MessageHandler
	sealed   bool
}

var _ SubscriptionService = (*HandlerRegistry)(nil)

func NewHandlerRegistry(handlers ...MessageHandler) *HandlerRegistry {
	r := &HandlerRegistry{}
	for _, h := range handlers {
		if h != nil {
			r.handlers = append(r.handlers, h)
		}
	}
	return r
}

func (r *HandlerRegistry) Register(h MessageHandler) error {
	if h == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	r.handlers = append(r.handlers, h)
	return nil
}

func (r *HandlerRegistry) Handlers() []MessageHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	handlers := make([]MessageHandler, len(r.handlers))
	copy(handlers, r.handlers)
	return handlers
}

func (r *HandlerRegistry) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// Subscribe registers fn for payloads of type T.
func Subscribe[T any](r *HandlerRegistry, fn func(ctx context.Context, mctx MessageContext, payload T) error) error {
	if fn == nil {
		return ErrNilHandler
	}
	return r.Register(Handle[T](fn))
}
