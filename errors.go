package kpeer

import (
	"errors"
	"fmt"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrPeerDead      = errors.New("peer dead")
	ErrTimeout       = errors.New("timeout")

	ErrNilPayload        = errors.New("kpeer: nil payload")
	ErrNilMessage        = errors.New("kpeer: nil message")
	ErrNilMessageContext = errors.New("kpeer: nil message context")
	ErrNilHandler        = errors.New("kpeer: nil handler")
	ErrMissingService    = errors.New("kpeer: missing message context service")
	ErrRegistrySealed    = errors.New("kpeer: handler registry is sealed")

	ErrNoRequestHandler    = errors.New("kpeer: server session requires a request handler")
	ErrRequestNotSupported = errors.New("kpeer: sending requests is not supported by this session")
	ErrNotRequest          = errors.New("kpeer: message is not a request")
	ErrPendingEvicted      = errors.New("kpeer: pending request evicted")
	ErrRequestCancelled    = errors.New("kpeer: request cancelled")

	// ErrConnectionFatal marks handler failures that must tear the session down.
	ErrConnectionFatal = errors.New("kpeer: connection fatal")
)

// HandlerError is a failure raised by a payload handler while processing a
// message it consumed.
type HandlerError struct {
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s: %v", e.Handler, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// IsConnectionFatal reports whether err should disconnect the peer.
func IsConnectionFatal(err error) bool {
	return errors.Is(err, ErrConnectionFatal)
}

// FailurePolicy decides whether a per-message failure is connection-fatal.
type FailurePolicy func(err error) bool
