package kpeer

import (
	"context"
	"net"
	"time"
)

type TCPClientConfig struct {
	ClientConfig
	DialTimeout time.Duration `toml:"dial_timeout"`
}

func NewTCPClientConfig() *TCPClientConfig {
	return &TCPClientConfig{
		ClientConfig: *NewClientConfig(),
		DialTimeout:  30 * time.Second,
	}
}

type TCPClient struct {
	*ClientBase
}

func TCPDialFunc(timeout time.Duration) DialFunc {
	return func(addr string) (conn net.Conn, err error) {
		if timeout > 0 {
			return net.DialTimeout("tcp", addr, timeout)
		}
		return net.Dial("tcp", addr)
	}
}

func NewTCPClient(ctx context.Context, conf *TCPClientConfig) *TCPClient {
	clientConf := conf.ClientConfig

	c := &TCPClient{
		ClientBase: NewClientBase(ctx, TCPDialFunc(conf.DialTimeout), &clientConf),
	}
	return c
}
