package kpeer

import "github.com/pion/logging"

var defaultLoggerFactory logging.LoggerFactory = logging.NewDefaultLoggerFactory()

// SetLoggerFactory overrides the factory used by services configured without
// one.
func SetLoggerFactory(f logging.LoggerFactory) {
	if f == nil {
		f = logging.NewDefaultLoggerFactory()
	}
	defaultLoggerFactory = f
}
