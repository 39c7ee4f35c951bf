package kpeer

import "fmt"

// Payload is the business data of a message, without transport framing.
type Payload interface{}

type MessageKind uint8

const (
	// KindEvent is a one-way message.
	KindEvent MessageKind = iota
	// KindRequest expects a correlated KindResponse.
	KindRequest
	KindResponse
)

func (k MessageKind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MessageParameters is the delivery metadata a message was sent with.
type MessageParameters struct {
	Kind          MessageKind
	CorrelationID uint64
	Reliable      bool
	Channel       uint8
}

// IncomingMessage is a decoded payload plus the parameters it was delivered
// with. It is immutable once constructed.
type IncomingMessage struct {
	payload Payload
	params  MessageParameters
}

func NewIncomingMessage(payload Payload, params MessageParameters) (*IncomingMessage, error) {
	if payload == nil {
		return nil, ErrNilPayload
	}
	return &IncomingMessage{payload: payload, params: params}, nil
}

func (m *IncomingMessage) Payload() Payload {
	if m == nil {
		return nil
	}
	return m.payload
}

func (m *IncomingMessage) Parameters() MessageParameters {
	if m == nil {
		return MessageParameters{}
	}
	return m.params
}

func (m *IncomingMessage) String() string {
	if m == nil {
		return "<nil message>"
	}
	return fmt.Sprintf("%s %T (correlation_id=%d)", m.params.Kind, m.payload, m.params.CorrelationID)
}
