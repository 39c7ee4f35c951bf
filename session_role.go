package kpeer

import "context"

type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// RequestHandler decides how a session reacts to a request sent by its peer.
type RequestHandler interface {
	OnReceiveRequest(ctx context.Context, s *Session, req *IncomingMessage) error
}

type RequestHandlerFunc func(ctx context.Context, s *Session, req *IncomingMessage) error

func (f RequestHandlerFunc) OnReceiveRequest(ctx context.Context, s *Session, req *IncomingMessage) error {
	return f(ctx, s, req)
}

// chainRequests is the client default: a request is just another message for
// the dispatch chain.
type chainRequests struct{}

func (chainRequests) OnReceiveRequest(ctx context.Context, s *Session, req *IncomingMessage) error {
	_, err := s.dispatch(ctx, req)
	return err
}

// ReplyFunc builds the response payload for a request.
type ReplyFunc func(ctx context.Context, s *Session, req *IncomingMessage) (Payload, error)

// Reply returns a RequestHandler that routes the payload built by fn back to
// the requesting peer. A nil payload sends nothing.
func Reply(fn ReplyFunc) RequestHandler {
	return RequestHandlerFunc(func(ctx context.Context, s *Session, req *IncomingMessage) error {
		resp, err := fn(ctx, s, req)
		if err != nil {
			return err
		}
		if resp == nil {
			return nil
		}
		return s.RouteBack(ctx, req, resp)
	})
}
