package kpeer

import "context"

// MessageContext is the set of capabilities a handler gets for the message
// it processes.
type MessageContext interface {
	ConnectionService() ConnectionService
	PayloadSendService() PayloadSendService
	// RequestSendService is only usable on client sessions. Server sessions
	// hand out a service that refuses every request.
	RequestSendService() RequestSendService
}

type peerMessageContext struct {
	conn     ConnectionService
	send     PayloadSendService
	requests RequestSendService
}

func NewMessageContext(conn ConnectionService, send PayloadSendService, requests RequestSendService) (MessageContext, error) {
	if conn == nil || send == nil || requests == nil {
		return nil, ErrMissingService
	}
	return &peerMessageContext{
		conn:     conn,
		send:     send,
		requests: requests,
	}, nil
}

func (c *peerMessageContext) ConnectionService() ConnectionService {
	return c.conn
}

func (c *peerMessageContext) PayloadSendService() PayloadSendService {
	return c.send
}

func (c *peerMessageContext) RequestSendService() RequestSendService {
	return c.requests
}

type restrictedRequestService struct{}

func (restrictedRequestService) SendRequest(context.Context, Payload) (*PendingRequest, error) {
	return nil, ErrRequestNotSupported
}
