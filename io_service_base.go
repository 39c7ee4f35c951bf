package kpeer

import (
	"sync/atomic"

	"github.com/pion/logging"
)

type IoServiceBase struct {
	nextSessionId uint64
	conf          *IoConfig
	protocol      Protocol
	handler       SessionHandler
	registry      *HandlerRegistry
	policy        FailurePolicy
	loggerFactory logging.LoggerFactory
}

func NewIoServiceBase(conf *IoConfig) *IoServiceBase {
	return &IoServiceBase{
		conf:     conf,
		registry: NewHandlerRegistry(),
		policy:   IsConnectionFatal,
	}
}

func (srv *IoServiceBase) SetSessionHandler(h SessionHandler) {
	srv.handler = h
}

func (srv *IoServiceBase) Protocol() Protocol {
	return srv.protocol
}

func (srv *IoServiceBase) SetProtocol(p Protocol) {
	srv.protocol = p
}

func (srv *IoServiceBase) SessionHandler() SessionHandler {
	return srv.handler
}

func (srv *IoServiceBase) IoConfig() *IoConfig {
	return srv.conf
}

// Register appends h to the dispatch chain of sessions created afterwards.
// It fails once the first session has been created.
func (srv *IoServiceBase) Register(h MessageHandler) error {
	return srv.registry.Register(h)
}

func (srv *IoServiceBase) Registry() *HandlerRegistry {
	return srv.registry
}

func (srv *IoServiceBase) Subscriptions() SubscriptionService {
	return srv.registry
}

func (srv *IoServiceBase) SetFailurePolicy(p FailurePolicy) {
	if p == nil {
		p = IsConnectionFatal
	}
	srv.policy = p
}

func (srv *IoServiceBase) FailurePolicy() FailurePolicy {
	return srv.policy
}

func (srv *IoServiceBase) SetLoggerFactory(f logging.LoggerFactory) {
	srv.loggerFactory = f
}

func (srv *IoServiceBase) LoggerFactory() logging.LoggerFactory {
	if srv.loggerFactory == nil {
		return defaultLoggerFactory
	}
	return srv.loggerFactory
}

func (srv *IoServiceBase) AddRef() {
}

func (srv *IoServiceBase) DecRef() {
}

func (srv *IoServiceBase) NextSessionId() uint64 {
	return atomic.AddUint64(&srv.nextSessionId, 1)
}
