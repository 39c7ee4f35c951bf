package kpeer

import "github.com/pion/logging"

type IoService interface {
	Protocol() Protocol
	SessionHandler() SessionHandler
	IoConfig() *IoConfig
	Subscriptions() SubscriptionService
	FailurePolicy() FailurePolicy
	LoggerFactory() logging.LoggerFactory
	AddRef()
	DecRef()
	NextSessionId() uint64
}
