package kpeer

import "net"

type Server interface {
	ListenAndServe(addr string) error
	Serve(ln net.Listener) error
	SetProtocol(Protocol)
	SetSessionHandler(SessionHandler)
	SetRequestHandler(RequestHandler)
	Register(MessageHandler) error
	Close()
}
