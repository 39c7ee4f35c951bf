package kpeer

// SessionHandler receives the lifecycle events of a session.
type SessionHandler interface {
	OnConnected(*Session) error
	OnDisconnected(*Session)
	OnIdle(*Session) error
	OnError(*Session, error)
	// OnUnhandled is called once for each message no handler consumed.
	OnUnhandled(*Session, *IncomingMessage)
}

type SessionHandlerAdapter struct {
}

func (h *SessionHandlerAdapter) OnConnected(*Session) error {
	return nil
}

func (h *SessionHandlerAdapter) OnDisconnected(*Session) {
}

func (h *SessionHandlerAdapter) OnIdle(*Session) error {
	return nil
}

func (h *SessionHandlerAdapter) OnError(*Session, error) {
}

func (h *SessionHandlerAdapter) OnUnhandled(*Session, *IncomingMessage) {
}
