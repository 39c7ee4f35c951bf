package kpeer

import "time"

type IoConfig struct {
	SendQueueSize int           `toml:"send_queue_size"`
	RecvQueueSize int           `toml:"recv_queue_size"`
	ReadTimeout   time.Duration `toml:"read_timeout"`
	WriteTimeout  time.Duration `toml:"write_timeout"`
	// PendingLimit bounds outstanding requests per session, 0 means no bound.
	PendingLimit int `toml:"pending_limit"`
	// PendingDiscard is how many of the oldest requests are evicted once
	// PendingLimit is reached.
	PendingDiscard int `toml:"pending_discard"`
}

func defaultIoConfig() IoConfig {
	return IoConfig{
		SendQueueSize:  16,
		RecvQueueSize:  16,
		PendingLimit:   1024,
		PendingDiscard: 16,
	}
}
