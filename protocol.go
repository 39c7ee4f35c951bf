package kpeer

import "io"

type ProtocolDecoder interface {
	// if not full message is read, should return (nil, nil)
	Decode(*Session, io.Reader) (*IncomingMessage, error)
}

type ProtocolEncoder interface {
	Encode(*Session, Payload, MessageParameters) ([]byte, error)
}

type Protocol interface {
	ProtocolEncoder
	ProtocolDecoder
}
