package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/stn81/kpeer"
)

const (
	transportTCP     = "tcp"
	transportWS      = "ws"
	transportGorilla = "gorilla"
)

// kpeerd config.toml key mapping to server and client settings.
type fileConfig struct {
	Addr            string `toml:"addr"`
	Transport       string `toml:"transport"`
	MaxConnection   int    `toml:"max_connection"`
	SendQueueSize   int    `toml:"send_queue_size"`
	RecvQueueSize   int    `toml:"recv_queue_size"`
	ReadTimeout     string `toml:"read_timeout"`
	WriteTimeout    string `toml:"write_timeout"`
	PendingLimit    int    `toml:"pending_limit"`
	PendingDiscard  int    `toml:"pending_discard"`
	DialTimeout     string `toml:"dial_timeout"`
	CallTimeout     string `toml:"call_timeout"`
	AutoReconnect   bool   `toml:"auto_reconnect"`
	BreakerFailures uint32 `toml:"breaker_failures"`
}

type peerConfig struct {
	Addr            string
	Transport       string
	Server          kpeer.ServerConfig
	Client          kpeer.TCPClientConfig
	CallTimeout     time.Duration
	BreakerFailures uint32
}

func defaultPeerConfig() peerConfig {
	return peerConfig{
		Addr:            "127.0.0.1:7070",
		Transport:       transportTCP,
		Server:          *kpeer.NewServerConfig(),
		Client:          *kpeer.NewTCPClientConfig(),
		CallTimeout:     5 * time.Second,
		BreakerFailures: 5,
	}
}

// loadPeerConfig overlays the keys defined in path on the defaults.
func loadPeerConfig(path string) (peerConfig, error) {
	cfg := defaultPeerConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return peerConfig{}, fmt.Errorf("load kpeerd config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return peerConfig{}, fmt.Errorf("load kpeerd config: unknown keys %v", undecoded)
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.TrimSpace(raw.Transport)
	}
	if meta.IsDefined("max_connection") {
		cfg.Server.MaxConnection = raw.MaxConnection
	}
	if meta.IsDefined("send_queue_size") {
		cfg.Server.Io.SendQueueSize = raw.SendQueueSize
		cfg.Client.Io.SendQueueSize = raw.SendQueueSize
	}
	if meta.IsDefined("recv_queue_size") {
		cfg.Server.Io.RecvQueueSize = raw.RecvQueueSize
		cfg.Client.Io.RecvQueueSize = raw.RecvQueueSize
	}
	if meta.IsDefined("pending_limit") {
		cfg.Client.Io.PendingLimit = raw.PendingLimit
	}
	if meta.IsDefined("pending_discard") {
		cfg.Client.Io.PendingDiscard = raw.PendingDiscard
	}
	if meta.IsDefined("auto_reconnect") {
		cfg.Client.AutoReconnect = raw.AutoReconnect
	}
	if meta.IsDefined("breaker_failures") {
		cfg.BreakerFailures = raw.BreakerFailures
	}

	durations := []struct {
		key string
		raw string
		dst []*time.Duration
	}{
		{"read_timeout", raw.ReadTimeout, []*time.Duration{&cfg.Server.Io.ReadTimeout, &cfg.Client.Io.ReadTimeout}},
		{"write_timeout", raw.WriteTimeout, []*time.Duration{&cfg.Server.Io.WriteTimeout, &cfg.Client.Io.WriteTimeout}},
		{"dial_timeout", raw.DialTimeout, []*time.Duration{&cfg.Client.DialTimeout}},
		{"call_timeout", raw.CallTimeout, []*time.Duration{&cfg.CallTimeout}},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return peerConfig{}, fmt.Errorf("load kpeerd config: %s: %w", d.key, err)
		}
		for _, dst := range d.dst {
			*dst = v
		}
	}

	if err = cfg.validate(); err != nil {
		return peerConfig{}, fmt.Errorf("load kpeerd config: %w", err)
	}
	return cfg, nil
}

func (cfg peerConfig) validate() error {
	switch cfg.Transport {
	case transportTCP, transportWS, transportGorilla:
	default:
		return fmt.Errorf("unsupported transport %q (expected tcp, ws or gorilla)", cfg.Transport)
	}
	if cfg.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if cfg.Server.Io.SendQueueSize <= 0 || cfg.Server.Io.RecvQueueSize <= 0 {
		return fmt.Errorf("queue sizes must be positive")
	}
	return nil
}
