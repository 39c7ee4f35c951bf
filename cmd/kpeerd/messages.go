package main

import (
	"time"

	"github.com/stn81/kpeer/codec/jsonl"
)

// Ping asks the peer to answer with a Pong carrying the same Seq.
type Ping struct {
	Seq    int       `json:"seq"`
	SentAt time.Time `json:"sent_at"`
}

type Pong struct {
	Seq    int       `json:"seq"`
	SentAt time.Time `json:"sent_at"`
}

// Notice is a one-way text message.
type Notice struct {
	Text string `json:"text"`
}

func newCodec() *jsonl.Codec {
	codec := jsonl.New()
	codec.MustRegister("ping", Ping{})
	codec.MustRegister("pong", Pong{})
	codec.MustRegister("notice", Notice{})
	return codec
}
